package metrics

import (
	"math"

	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/result"
)

// Evaluate resets each metric, replays tr through it and returns the values
// by name. Each control is observed with the state it was applied from.
func Evaluate(tr *result.Trajectory, ms ...dynamo.Metric) map[string]float64 {
	for _, m := range ms {
		m.Reset()
	}
	states := tr.States()
	controls := tr.Controls()
	times := tr.Times()
	for i, x := range states {
		var u dynamo.Control
		if i < len(controls) {
			u = controls[i]
		}
		for _, m := range ms {
			m.Observe(x, u, times[i])
		}
	}

	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out
}

// ControlEffort is the mean absolute control per step.
type ControlEffort struct {
	sum     float64
	samples int
}

func NewControlEffort() *ControlEffort { return &ControlEffort{} }

func (c *ControlEffort) Name() string { return "control_effort" }

func (c *ControlEffort) Observe(x dynamo.State, u dynamo.Control, t float64) {
	if u == nil {
		return
	}
	for _, val := range u {
		c.sum += math.Abs(val)
	}
	c.samples++
}

func (c *ControlEffort) OnStep(x dynamo.State, u dynamo.Control, t float64) { c.Observe(x, u, t) }

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *ControlEffort) Reset() {
	c.sum = 0
	c.samples = 0
}

// EnergyDrift is the largest relative departure from the first observed
// energy.
type EnergyDrift struct {
	energy        dynamo.Hamiltonian
	initialEnergy float64
	maxDrift      float64
	samples       int
}

func NewEnergyDrift(h dynamo.Hamiltonian) *EnergyDrift {
	return &EnergyDrift{energy: h}
}

func (e *EnergyDrift) Name() string { return "energy_drift" }

func (e *EnergyDrift) Observe(x dynamo.State, u dynamo.Control, t float64) {
	if e.energy == nil {
		return
	}
	energy := e.energy.Energy(x)

	if e.samples == 0 {
		e.initialEnergy = energy
	}
	e.samples++

	if e.initialEnergy != 0 {
		drift := math.Abs(energy-e.initialEnergy) / math.Abs(e.initialEnergy)
		e.maxDrift = math.Max(e.maxDrift, drift)
	}
}

func (e *EnergyDrift) OnStep(x dynamo.State, u dynamo.Control, t float64) { e.Observe(x, u, t) }

func (e *EnergyDrift) Value() float64 { return e.maxDrift }

func (e *EnergyDrift) Reset() {
	e.initialEnergy = 0
	e.maxDrift = 0
	e.samples = 0
}

// Stability is the fraction of samples whose watched components all stay
// within threshold. No indices means every component is watched.
type Stability struct {
	threshold  float64
	indices    []int
	violations int
	samples    int
}

func NewStability(threshold float64, indices ...int) *Stability {
	return &Stability{threshold: threshold, indices: indices}
}

func (s *Stability) Name() string { return "stability" }

func (s *Stability) Observe(x dynamo.State, u dynamo.Control, t float64) {
	s.samples++
	if len(s.indices) == 0 {
		for _, val := range x {
			if math.Abs(val) > s.threshold {
				s.violations++
				return
			}
		}
		return
	}
	for _, i := range s.indices {
		if i < len(x) && math.Abs(x[i]) > s.threshold {
			s.violations++
			return
		}
	}
}

func (s *Stability) OnStep(x dynamo.State, u dynamo.Control, t float64) { s.Observe(x, u, t) }

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}

// ISE integrates the weighted squared state error Σ q_i x_i² plus r u²
// over time with the rectangle rule.
type ISE struct {
	Q   []float64
	R   float64
	sum float64

	lastT  float64
	lastC  float64
	primed bool
}

func NewISE(q []float64, r float64) *ISE {
	return &ISE{Q: q, R: r}
}

func (c *ISE) Name() string { return "ise" }

func (c *ISE) Observe(x dynamo.State, u dynamo.Control, t float64) {
	if c.primed {
		c.sum += c.lastC * (t - c.lastT)
	}
	cost := 0.0
	for i, val := range x {
		w := 1.0
		if i < len(c.Q) {
			w = c.Q[i]
		}
		cost += w * val * val
	}
	for _, val := range u {
		cost += c.R * val * val
	}
	c.lastT, c.lastC, c.primed = t, cost, true
}

func (c *ISE) OnStep(x dynamo.State, u dynamo.Control, t float64) { c.Observe(x, u, t) }

func (c *ISE) Value() float64 { return c.sum }

func (c *ISE) Reset() {
	c.sum = 0
	c.lastT, c.lastC, c.primed = 0, 0, false
}
