package tui

import (
	"math"
	"strings"
)

type canvas struct {
	w, h  int
	cells [][]rune
}

func newCanvas(w, h int) *canvas {
	c := &canvas{w: w, h: h, cells: make([][]rune, h)}
	for i := range c.cells {
		c.cells[i] = make([]rune, w)
	}
	c.clear()
	return c
}

func (c *canvas) clear() {
	for y := range c.cells {
		for x := range c.cells[y] {
			c.cells[y][x] = ' '
		}
	}
}

func (c *canvas) set(x, y int, r rune) {
	if x >= 0 && x < c.w && y >= 0 && y < c.h {
		c.cells[y][x] = r
	}
}

func (c *canvas) line(x1, y1, x2, y2 int, r rune) {
	dx := abs(x2 - x1)
	dy := abs(y2 - y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	err := dx - dy
	for {
		c.set(x1, y1, r)
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

// drawPendulum draws the cart and both links of x = [pos, θ1, θ2, ...],
// angles measured from upright.
func (c *canvas) drawPendulum(x []float64, l1, l2 float64) {
	if len(x) < 3 {
		return
	}
	gy := c.h - 3
	for i := 2; i < c.w-2; i++ {
		c.set(i, gy+1, '=')
	}

	scale := float64(c.h-5) / (l1 + l2)
	cx := c.w/2 + int(math.Round(x[0]*scale*2))
	for dx := -3; dx <= 3; dx++ {
		c.set(cx+dx, gy, '#')
	}

	// terminal cells are about twice as tall as wide
	jx := cx + int(math.Round(2*l1*scale*math.Sin(x[1])))
	jy := gy - 1 - int(math.Round(l1*scale*math.Cos(x[1])))
	tx := jx + int(math.Round(2*l2*scale*math.Sin(x[2])))
	ty := jy - int(math.Round(l2*scale*math.Cos(x[2])))

	c.line(cx, gy-1, jx, jy, '|')
	c.set(jx, jy, 'o')
	c.line(jx, jy, tx, ty, '|')
	c.set(tx, ty, 'O')
}

func (c *canvas) String() string {
	var b strings.Builder
	for _, row := range c.cells {
		b.WriteString(string(row))
		b.WriteByte('\n')
	}
	return b.String()
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
