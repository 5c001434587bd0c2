package analysis

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/result"
)

func build(dt float64, n int, f func(t float64) dynamo.State) *result.Trajectory {
	tr := result.New(f(0), dt, n)
	for i := 1; i <= n; i++ {
		tr.Append(dynamo.Control{0}, f(float64(i)*dt), result.StepMeta{})
	}
	tr.Complete(result.ReasonHorizon)
	return tr
}

func TestDominantFrequency(t *testing.T) {
	tr := build(0.01, 199, func(t float64) dynamo.State {
		return dynamo.State{1 + math.Sin(2*math.Pi*5*t), 0}
	})

	f, err := DominantFrequency(tr, 0)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, f, 1e-9)

	freqs, amps, err := PowerSpectrum(tr, 0)
	require.NoError(t, err)
	assert.Len(t, freqs, 100)
	assert.InDelta(t, 0, amps[0], 1e-9)
	assert.InDelta(t, 0.5, amps[10], 1e-9)
}

func TestPowerSpectrumErrors(t *testing.T) {
	tr := build(0.1, 1, func(float64) dynamo.State { return dynamo.State{0} })
	_, _, err := PowerSpectrum(tr, 0)
	assert.ErrorIs(t, err, ErrTooShort)

	_, _, err = PowerSpectrum(tr, 3)
	assert.Error(t, err)
}

func TestDivergence(t *testing.T) {
	a := build(0.01, 100, func(float64) dynamo.State { return dynamo.State{0, 0} })
	b := build(0.01, 100, func(t float64) dynamo.State { return dynamo.State{1e-3 * math.Exp(2*t), 0} })
	c := build(0.01, 100, func(t float64) dynamo.State { return dynamo.State{0, 1e-3 * math.Exp(-t)} })

	rate, err := Divergence(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, rate, 1e-9)

	rates := DivergenceSpread(a, []*result.Trajectory{b, c, a})
	assert.InDelta(t, 2.0, rates[0], 1e-9)
	assert.InDelta(t, -1.0, rates[1], 1e-9)
	assert.True(t, math.IsNaN(rates[2]))
}

func TestPhasePortrait(t *testing.T) {
	tr := build(0.01, 628, func(t float64) dynamo.State {
		return dynamo.State{math.Cos(t), math.Sin(t)}
	})

	p := PhasePortrait(tr, 0, 1)
	require.NotNil(t, p)
	assert.Len(t, p.Points, 629)
	assert.Nil(t, PhasePortrait(tr, 0, 2))

	art := PhasePortraitToASCII(p, 20, 10)
	assert.Len(t, strings.Split(strings.TrimSuffix(art, "\n"), "\n"), 10)
	assert.Contains(t, art, "•")
}

func TestPoincareSection(t *testing.T) {
	// sin crosses zero upward at t = 0, 2π, 4π
	tr := build(0.01, 1300, func(t float64) dynamo.State {
		return dynamo.State{math.Sin(t), math.Cos(t)}
	})

	s := GeneratePoincareSection(tr, 0, 0, 0, 1)
	require.NotNil(t, s)
	require.Len(t, s.Points, 2)
	for _, p := range s.Points {
		assert.InDelta(t, 0, p.X, 1e-12)
		assert.InDelta(t, 1, p.Y, 1e-3)
	}

	assert.Nil(t, GeneratePoincareSection(tr, 5, 0, 0, 1))
	assert.Equal(t, "No crossings detected", PoincareSectionToASCII(&PoincareSection{}, 10, 5))
}
