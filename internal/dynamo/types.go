package dynamo

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

// Equal reports whether both states hold bit-identical values.
func (s State) Equal(other State) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if math.Float64bits(s[i]) != math.Float64bits(other[i]) {
			return false
		}
	}
	return true
}

type Control []float64

func (u Control) Clone() Control {
	c := make(Control, len(u))
	copy(c, u)
	return c
}

// Deriver is the one capability an integrator needs from a plant.
// Derive must be a pure function of its arguments.
type Deriver interface {
	Derive(x State, u Control, t float64) State
}

// DerivFunc adapts a plain function to Deriver.
type DerivFunc func(x State, u Control, t float64) State

func (f DerivFunc) Derive(x State, u Control, t float64) State { return f(x, u, t) }

type System interface {
	Deriver
	StateDim() int
	ControlDim() int
}

type Hamiltonian interface {
	Energy(x State) float64
}

// PhysicsModel exposes the mass, Coriolis and gravity terms of a mechanical
// plant written as M(q) q'' + C(q, q') q' + G(q) = H u.
type PhysicsModel interface {
	PhysicsMatrices(x State) (M, C *mat.Dense, G *mat.VecDense)
}

// LinearSystem is implemented by plants whose dynamics are exactly
// dX/dt = A X + B u. The returned matrices must not be modified.
type LinearSystem interface {
	StateSpace() (A, B *mat.Dense)
}

type Controller interface {
	Compute(x State, t float64) Control
}

// ControlFunc adapts a plain function of (t, x) to Controller.
type ControlFunc func(t float64, x State) Control

func (f ControlFunc) Compute(x State, t float64) Control { return f(t, x) }

// StatefulController threads its own internal variables and history through
// successive calls instead of keeping them on the receiver.
type StatefulController interface {
	ComputeControl(x State, internal any, history any) (u Control, nextInternal any, nextHistory any, err error)
}

type StateInitializer interface {
	InitializeState() any
}

type HistoryInitializer interface {
	InitializeHistory() any
}

// Saturator reports the magnitude limit a controller expects its output to
// be clipped to.
type Saturator interface {
	MaxForce() float64
}

// FallbackProvider names a simpler controller to switch to when a real-time
// deadline is missed.
type FallbackProvider interface {
	Fallback() Controller
}

type Metric interface {
	Name() string
	Observe(x State, u Control, t float64)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(x State, u Control, t float64)
}
