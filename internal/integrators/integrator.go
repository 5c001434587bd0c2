// Package integrators implements the numerical methods that advance a plant
// state across one output timestep.
//
// Fixed-step methods (euler, midpoint, rk4, rk38, verlet, leapfrog) apply a
// single formula per call. backward_euler solves the implicit update with a
// bounded Newton iteration. rk45 covers each output step with as many
// error-controlled Dormand-Prince sub-steps as it needs. zoh discretizes
// linear plants exactly and falls back to RK4 otherwise.
//
// Methods carrying scratch buffers or step-size state implement [Forker];
// callers obtain a private copy per trajectory with [ForTrajectory].
package integrators

import (
	"errors"
	"fmt"

	"github.com/san-kum/dipsim/internal/dynamo"
)

var (
	// ErrStepRejected is returned by adaptive methods when the step size
	// controller rejects more attempts in a row than it is allowed to.
	ErrStepRejected = errors.New("integrators: step rejected beyond retry bound")

	// ErrInvalidParams indicates a constructor parameter outside its valid range.
	ErrInvalidParams = errors.New("integrators: invalid parameters")

	ErrUnknownIntegrator = errors.New("integrators: unknown integrator")
)

// StepInfo describes the work done by one Step call.
type StepInfo struct {
	// Evals counts derivative evaluations.
	Evals int
	// Accepted is false only when an adaptive method gave up on the step.
	Accepted bool
	// Rejected counts rejected adaptive attempts inside this step.
	Rejected int
	// Substeps counts accepted adaptive sub-steps.
	Substeps int
	// ErrorEstimate is the scaled local error of the last accepted sub-step.
	ErrorEstimate float64
	// NextStep is the sub-step size the adaptive controller will try next.
	NextStep float64
	// Degraded is set when an implicit solve did not converge and an
	// explicit step was taken instead.
	Degraded bool
}

type Integrator interface {
	// Step advances x from t to t+dt. The returned state is freshly
	// allocated; x is never modified.
	Step(dyn dynamo.Deriver, x dynamo.State, u dynamo.Control, t, dt float64) (dynamo.State, StepInfo, error)
	Name() string
	Order() int
	Adaptive() bool
}

// Forker is implemented by integrators that hold per-trajectory state.
// Fork returns an independent instance with the same parameters and
// freshly reset state.
type Forker interface {
	Fork() Integrator
}

// ForTrajectory returns an instance of in that is safe to dedicate to a
// single trajectory.
func ForTrajectory(in Integrator) Integrator {
	if f, ok := in.(Forker); ok {
		return f.Fork()
	}
	return in
}

func derive(dyn dynamo.Deriver, x dynamo.State, u dynamo.Control, t float64) (dynamo.State, error) {
	dx := dyn.Derive(x, u, t)
	if len(dx) != len(x) {
		return nil, fmt.Errorf("%w: derivative has %d components, state has %d", dynamo.ErrDimensionMismatch, len(dx), len(x))
	}
	return dx, nil
}
