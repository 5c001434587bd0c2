package integrators

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/dipsim/internal/dynamo"
)

func newTestRK45(t *testing.T, dt float64) *RK45 {
	t.Helper()
	r, err := NewRK45(DefaultRK45Params(dt))
	if err != nil {
		t.Fatalf("NewRK45: %v", err)
	}
	return r
}

func TestRK45_Step(t *testing.T) {
	dt := 0.1
	integrator := newTestRK45(t, dt)
	dyn := &harmonicOscillator{}

	x, err := integrate(integrator, dyn, dynamo.State{1, 0}, dt, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !x.IsValid() {
		t.Fatal("RK45 produced invalid state")
	}

	if d := math.Abs(x[0] - math.Cos(10)); d > 1e-5 {
		t.Errorf("position error %e", d)
	}

	st := integrator.State()
	if st.Accepted < 100 {
		t.Errorf("expected at least one accepted sub-step per output step, got %d", st.Accepted)
	}
	if st.MeanStepSize <= 0 || st.MeanStepSize > dt {
		t.Errorf("mean step size %g outside (0, dt]", st.MeanStepSize)
	}
}

func TestRK45_EnergyConservation(t *testing.T) {
	dt := 0.01
	integrator := newTestRK45(t, dt)
	dyn := &harmonicOscillator{}

	x, err := integrate(integrator, dyn, dynamo.State{1, 0}, dt, 10000)
	if err != nil {
		t.Fatal(err)
	}

	drift := math.Abs(dyn.Energy(x)-0.5) / 0.5
	if drift > 1e-5 {
		t.Errorf("RK45 energy drift too high: %e", drift)
	}
}

func TestRK45_StepInfo(t *testing.T) {
	integrator := newTestRK45(t, 0.1)
	_, info, err := integrator.Step(&harmonicOscillator{}, dynamo.State{1, 0}, nil, 0, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if !info.Accepted || info.Substeps < 1 {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Evals != 7*(info.Substeps+info.Rejected) {
		t.Errorf("evals = %d, want 7 per attempt (%d substeps, %d rejected)", info.Evals, info.Substeps, info.Rejected)
	}
	if info.ErrorEstimate >= 1 {
		t.Errorf("accepted step with error estimate %g", info.ErrorEstimate)
	}
}

func TestRK45_TryStepRejects(t *testing.T) {
	integrator := newTestRK45(t, 1)
	x := dynamo.State{1}

	xNew, errNorm, hNext, accepted, evals, err := integrator.TryStep(decay{rate: 1000}, x, nil, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if accepted || xNew != nil {
		t.Fatal("expected rejection on a stiff problem with a huge step")
	}
	if errNorm < 1 {
		t.Errorf("rejected with error %g < 1", errNorm)
	}
	if hNext >= 1 {
		t.Errorf("step size did not shrink: %g", hNext)
	}
	if evals != 7 {
		t.Errorf("evals = %d, want 7", evals)
	}
	if x[0] != 1 {
		t.Error("rejected attempt modified the state")
	}
}

func TestRK45_RetryBound(t *testing.T) {
	p := DefaultRK45Params(1)
	p.MinStep = 1
	p.MaxStep = 1
	p.MaxRejects = 1
	integrator, err := NewRK45(p)
	if err != nil {
		t.Fatal(err)
	}

	_, info, err := integrator.Step(decay{rate: 1e4}, dynamo.State{1}, nil, 0, 1)
	if !errors.Is(err, ErrStepRejected) {
		t.Fatalf("expected ErrStepRejected, got %v", err)
	}
	if info.Rejected != 2 {
		t.Errorf("rejected = %d, want 2", info.Rejected)
	}
}

func TestRK45_ForkResetsState(t *testing.T) {
	integrator := newTestRK45(t, 0.1)
	if _, err := integrate(integrator, &harmonicOscillator{}, dynamo.State{1, 0}, 0.1, 10); err != nil {
		t.Fatal(err)
	}
	if integrator.State().Accepted == 0 {
		t.Fatal("no accepted steps recorded")
	}

	fork := ForTrajectory(integrator).(*RK45)
	if fork == integrator {
		t.Fatal("ForTrajectory returned the shared instance")
	}
	if fork.State() != (IntegratorState{}) {
		t.Errorf("fork carries state %+v", fork.State())
	}
	if fork.Params() != integrator.Params() {
		t.Error("fork lost its parameters")
	}
}

func TestRK45_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RK45Params)
	}{
		{"rtol", func(p *RK45Params) { p.RTol = 0 }},
		{"atol", func(p *RK45Params) { p.ATol = -1 }},
		{"safety", func(p *RK45Params) { p.Safety = 1.5 }},
		{"min above max", func(p *RK45Params) { p.MinStep = 1 }},
		{"max rejects", func(p *RK45Params) { p.MaxRejects = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultRK45Params(0.01)
			tt.mutate(&p)
			if _, err := NewRK45(p); !errors.Is(err, ErrInvalidParams) {
				t.Errorf("expected ErrInvalidParams, got %v", err)
			}
		})
	}
}
