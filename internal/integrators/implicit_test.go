package integrators

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/dipsim/internal/dynamo"
)

func TestBackwardEuler_MatchesClosedForm(t *testing.T) {
	be, err := NewBackwardEuler(DefaultNewtonIterations, DefaultNewtonTolerance)
	if err != nil {
		t.Fatal(err)
	}

	dt := 0.1
	x, info, err := be.Step(decay{rate: 1}, dynamo.State{1}, nil, 0, dt)
	if err != nil {
		t.Fatal(err)
	}
	if info.Degraded {
		t.Fatal("linear problem should converge")
	}
	if want := 1 / (1 + dt); math.Abs(x[0]-want) > 1e-9 {
		t.Errorf("got %.12f, want %.12f", x[0], want)
	}
}

func TestBackwardEuler_StiffStable(t *testing.T) {
	be, _ := NewBackwardEuler(DefaultNewtonIterations, DefaultNewtonTolerance)
	x, err := integrate(be, decay{rate: 1000}, dynamo.State{1}, 0.1, 50)
	if err != nil {
		t.Fatal(err)
	}
	if !x.IsValid() || math.Abs(x[0]) > 1e-10 {
		t.Errorf("stiff decay not damped: %v", x)
	}

	xe, _ := integrate(NewEuler(), decay{rate: 1000}, dynamo.State{1}, 0.1, 50)
	if xe.IsValid() && math.Abs(xe[0]) < 1 {
		t.Errorf("forward euler unexpectedly stable: %v", xe)
	}
}

func TestBackwardEuler_DegradesOnNonConvergence(t *testing.T) {
	be, _ := NewBackwardEuler(1, 1e-14)
	dt := 0.1
	x, info, err := be.Step(decay{rate: 1}, dynamo.State{1}, nil, 0, dt)
	if err != nil {
		t.Fatal(err)
	}
	if !info.Degraded {
		t.Fatal("expected degraded step")
	}
	if want := 1 - dt; math.Abs(x[0]-want) > 1e-15 {
		t.Errorf("fallback = %v, want forward euler %v", x[0], want)
	}
}

func TestBackwardEuler_InvalidParams(t *testing.T) {
	if _, err := NewBackwardEuler(0, 1e-9); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("max_iter 0: got %v", err)
	}
	if _, err := NewBackwardEuler(10, 0); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("tol 0: got %v", err)
	}
}
