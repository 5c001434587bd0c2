package orchestrator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/san-kum/dipsim/internal/dynamo"
)

// zeroPlant never moves.
type zeroPlant struct{ dim int }

func (p zeroPlant) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	return make(dynamo.State, len(x))
}
func (p zeroPlant) StateDim() int   { return p.dim }
func (p zeroPlant) ControlDim() int { return 1 }

// nanPlant returns NaN derivatives once t passes after.
type nanPlant struct {
	zeroPlant
	after float64
}

func (p nanPlant) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	dx := make(dynamo.State, len(x))
	if t >= p.after {
		dx[0] = math.NaN()
	}
	return dx
}

type panicPlant struct {
	zeroPlant
	after float64
}

func (p panicPlant) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	if t >= p.after {
		panic("plant blew up")
	}
	return make(dynamo.State, len(x))
}

// growth is dx/dt = x + u on every component.
type growth struct{ dim int }

func (p growth) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	dx := make(dynamo.State, len(x))
	for i := range x {
		dx[i] = x[i]
		if len(u) > 0 {
			dx[i] += u[0]
		}
	}
	return dx
}
func (p growth) StateDim() int   { return p.dim }
func (p growth) ControlDim() int { return 1 }

// counter is a stateful controller whose internal variable counts calls.
type counter struct {
	inits int
}

func (c *counter) InitializeState() any {
	c.inits++
	return 0
}

func (c *counter) InitializeHistory() any { return []float64{} }

func (c *counter) ComputeControl(x dynamo.State, internal, history any) (dynamo.Control, any, any, error) {
	n := internal.(int) + 1
	h := append(history.([]float64), float64(n))
	return dynamo.Control{float64(n)}, n, h, nil
}

type saturated struct {
	out, limit float64
	fallback   dynamo.Controller
}

func (s saturated) Compute(x dynamo.State, t float64) dynamo.Control { return dynamo.Control{s.out} }
func (s saturated) MaxForce() float64                                { return s.limit }
func (s saturated) Fallback() dynamo.Controller                      { return s.fallback }

func zeros(n int) []dynamo.Control {
	us := make([]dynamo.Control, n)
	for i := range us {
		us[i] = dynamo.Control{0}
	}
	return us
}

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(0, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept += d
	return ctx.Err()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
