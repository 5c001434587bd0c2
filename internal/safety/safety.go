package safety

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/dipsim/internal/dynamo"
)

var ErrInvalidBounds = errors.New("safety: invalid bounds")

type Kind int

const (
	KindFinite Kind = iota + 1
	KindEnergy
	KindBounds
	KindPlantFailure
	KindControllerFailure
	KindDivergence
)

func (k Kind) String() string {
	switch k {
	case KindFinite:
		return "finite"
	case KindEnergy:
		return "energy"
	case KindBounds:
		return "bounds"
	case KindPlantFailure:
		return "plant_failure"
	case KindControllerFailure:
		return "controller_failure"
	case KindDivergence:
		return "divergence"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Range bounds a single state component.
type Range struct {
	Index int     `yaml:"index" json:"index"`
	Min   float64 `yaml:"min" json:"min"`
	Max   float64 `yaml:"max" json:"max"`
}

// Bounds is read-only for the duration of a run. A non-positive MaxEnergy
// disables the energy check.
type Bounds struct {
	MaxEnergy  float64 `yaml:"max_energy" json:"max_energy"`
	Components []Range `yaml:"components" json:"components"`
}

// Validate checks the bounds against a state dimension.
func (b Bounds) Validate(dim int) error {
	for _, r := range b.Components {
		if r.Index < 0 || r.Index >= dim {
			return fmt.Errorf("%w: component index %d outside state of dimension %d", ErrInvalidBounds, r.Index, dim)
		}
		if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Min > r.Max {
			return fmt.Errorf("%w: component %d has range [%g, %g]", ErrInvalidBounds, r.Index, r.Min, r.Max)
		}
	}
	if math.IsNaN(b.MaxEnergy) {
		return fmt.Errorf("%w: max_energy is NaN", ErrInvalidBounds)
	}
	return nil
}

type EnergyFunc func(x dynamo.State) float64

// Violation describes why a candidate state was refused.
type Violation struct {
	Kind Kind
	// Index is the offending component, or -1.
	Index int
	Value float64
	Limit float64
	Min   float64
	Max   float64
	// Err is the underlying failure for plant, controller and divergence kinds.
	Err error
}

func (v *Violation) Error() string {
	switch v.Kind {
	case KindFinite:
		return fmt.Sprintf("safety: component %d is not finite (%g)", v.Index, v.Value)
	case KindEnergy:
		return fmt.Sprintf("safety: energy %g exceeds limit %g", v.Value, v.Limit)
	case KindBounds:
		return fmt.Sprintf("safety: component %d = %g outside [%g, %g]", v.Index, v.Value, v.Min, v.Max)
	}
	if v.Err != nil {
		return fmt.Sprintf("safety: %s: %v", v.Kind, v.Err)
	}
	return fmt.Sprintf("safety: %s", v.Kind)
}

func (v *Violation) Unwrap() error { return v.Err }

// Failure builds a violation for a failure detected outside the guard.
func Failure(kind Kind, err error) *Violation {
	return &Violation{Kind: kind, Index: -1, Err: err}
}

func CheckFinite(x dynamo.State) *Violation {
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &Violation{Kind: KindFinite, Index: i, Value: v}
		}
	}
	return nil
}

// CheckEnergy passes when energy is nil or maxEnergy is non-positive.
func CheckEnergy(x dynamo.State, energy EnergyFunc, maxEnergy float64) *Violation {
	if energy == nil || maxEnergy <= 0 {
		return nil
	}
	e := energy(x)
	if math.IsNaN(e) || e > maxEnergy {
		return &Violation{Kind: KindEnergy, Index: -1, Value: e, Limit: maxEnergy}
	}
	return nil
}

func CheckBounds(x dynamo.State, ranges []Range) *Violation {
	for _, r := range ranges {
		if r.Index < 0 || r.Index >= len(x) {
			continue
		}
		v := x[r.Index]
		if v < r.Min || v > r.Max {
			return &Violation{Kind: KindBounds, Index: r.Index, Value: v, Min: r.Min, Max: r.Max}
		}
	}
	return nil
}

// Guard bundles the configured bounds with the plant's energy functional.
type Guard struct {
	Bounds Bounds
	Energy EnergyFunc
}

// NewGuard picks up the plant energy when the plant is Hamiltonian.
func NewGuard(bounds Bounds, plant any) Guard {
	g := Guard{Bounds: bounds}
	if h, ok := plant.(dynamo.Hamiltonian); ok {
		g.Energy = h.Energy
	}
	return g
}

// Inspect runs the three checks in order and returns the first violation.
func (g Guard) Inspect(x dynamo.State) *Violation {
	if v := CheckFinite(x); v != nil {
		return v
	}
	if v := CheckEnergy(x, g.Energy, g.Bounds.MaxEnergy); v != nil {
		return v
	}
	return CheckBounds(x, g.Bounds.Components)
}

// Check is Inspect returning a plain error.
func (g Guard) Check(x dynamo.State) error {
	if v := g.Inspect(x); v != nil {
		return v
	}
	return nil
}
