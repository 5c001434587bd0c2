package integrators

import (
	"fmt"
	"math"

	"github.com/san-kum/dipsim/internal/dynamo"
)

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

// RK45Params configures the Dormand-Prince step size controller.
type RK45Params struct {
	RTol       float64
	ATol       float64
	Safety     float64
	MinStep    float64
	MaxStep    float64
	MaxRejects int
}

func DefaultRK45Params(dt float64) RK45Params {
	return RK45Params{
		RTol:       1e-6,
		ATol:       1e-9,
		Safety:     0.9,
		MinStep:    1e-10,
		MaxStep:    dt,
		MaxRejects: 50,
	}
}

func (p RK45Params) Validate() error {
	switch {
	case !(p.RTol > 0):
		return fmt.Errorf("%w: rtol must be positive, got %g", ErrInvalidParams, p.RTol)
	case !(p.ATol > 0):
		return fmt.Errorf("%w: atol must be positive, got %g", ErrInvalidParams, p.ATol)
	case !(p.Safety > 0 && p.Safety <= 1):
		return fmt.Errorf("%w: safety must be in (0, 1], got %g", ErrInvalidParams, p.Safety)
	case !(p.MinStep > 0 && p.MinStep <= p.MaxStep):
		return fmt.Errorf("%w: need 0 < min_step <= max_step, got %g and %g", ErrInvalidParams, p.MinStep, p.MaxStep)
	case p.MaxRejects < 1:
		return fmt.Errorf("%w: max_rejects must be >= 1, got %d", ErrInvalidParams, p.MaxRejects)
	}
	return nil
}

// IntegratorState is the step size controller state of an adaptive method.
type IntegratorState struct {
	StepSize     float64
	Accepted     int
	Rejected     int
	MeanStepSize float64
}

type RK45 struct {
	params   RK45Params
	minScale float64
	maxScale float64

	state   IntegratorState
	stepSum float64
}

func NewRK45(p RK45Params) (*RK45, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &RK45{
		params:   p,
		minScale: 0.2,
		maxScale: 10.0,
	}, nil
}

func (r *RK45) Name() string   { return "rk45" }
func (r *RK45) Order() int     { return 5 }
func (r *RK45) Adaptive() bool { return true }

func (r *RK45) Params() RK45Params { return r.params }

func (r *RK45) State() IntegratorState { return r.state }

func (r *RK45) Fork() Integrator {
	return &RK45{params: r.params, minScale: r.minScale, maxScale: r.maxScale}
}

// Step covers [t, t+dt] with accepted Dormand-Prince sub-steps. The sub-step
// size carries over between calls.
func (r *RK45) Step(dyn dynamo.Deriver, x dynamo.State, u dynamo.Control, t, dt float64) (dynamo.State, StepInfo, error) {
	info := StepInfo{}
	tEnd := t + dt
	eps := 1e-12 * dt

	h := r.state.StepSize
	if h <= 0 {
		h = math.Min(dt, r.params.MaxStep)
	}

	cur := x
	tc := t
	consecutive := 0

	for tEnd-tc > eps {
		hTry := math.Min(h, tEnd-tc)

		xNew, errNorm, hNext, accepted, evals, err := r.TryStep(dyn, cur, u, tc, hTry)
		info.Evals += evals
		if err != nil {
			return nil, info, err
		}

		if !accepted {
			consecutive++
			info.Rejected++
			r.state.Rejected++
			if consecutive > r.params.MaxRejects {
				r.state.StepSize = hNext
				info.NextStep = hNext
				return nil, info, fmt.Errorf("%w: %d consecutive rejections at t=%g (h=%g, err=%g)",
					ErrStepRejected, consecutive, tc, hTry, errNorm)
			}
			h = hNext
			continue
		}

		consecutive = 0
		cur = xNew
		tc += hTry
		r.state.Accepted++
		r.stepSum += hTry
		r.state.MeanStepSize = r.stepSum / float64(r.state.Accepted)
		info.Substeps++
		info.ErrorEstimate = errNorm
		if hTry < h {
			// clipped to the output grid; don't let that shrink the controller
			h = math.Max(h, hNext)
		} else {
			h = hNext
		}
	}

	r.state.StepSize = h
	info.NextStep = h
	info.Accepted = true

	if info.Substeps == 0 {
		return x.Clone(), info, nil
	}
	return cur, info, nil
}

// TryStep makes a single Dormand-Prince attempt of size h. The attempt is
// accepted when the scaled error ||x5 - x4|| / (atol + rtol*||x||) is below
// one. hNext is the proposed size for the next attempt in either case.
func (r *RK45) TryStep(dyn dynamo.Deriver, x dynamo.State, u dynamo.Control, t, h float64) (xNew dynamo.State, errNorm, hNext float64, accepted bool, evals int, err error) {
	n := len(x)

	stage := func(s dynamo.State, ts float64) dynamo.State {
		if err != nil {
			return nil
		}
		var k dynamo.State
		k, err = derive(dyn, s, u, ts)
		evals++
		return k
	}

	k1 := stage(x, t)
	if err != nil {
		return nil, 0, h, false, evals, err
	}

	x2 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x2[i] = x[i] + h*b21*k1[i]
	}
	k2 := stage(x2, t+a2*h)
	if err != nil {
		return nil, 0, h, false, evals, err
	}

	x3 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x3[i] = x[i] + h*(b31*k1[i]+b32*k2[i])
	}
	k3 := stage(x3, t+a3*h)
	if err != nil {
		return nil, 0, h, false, evals, err
	}

	x4 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x4[i] = x[i] + h*(b41*k1[i]+b42*k2[i]+b43*k3[i])
	}
	k4 := stage(x4, t+a4*h)
	if err != nil {
		return nil, 0, h, false, evals, err
	}

	x5 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x5[i] = x[i] + h*(b51*k1[i]+b52*k2[i]+b53*k3[i]+b54*k4[i])
	}
	k5 := stage(x5, t+a5*h)
	if err != nil {
		return nil, 0, h, false, evals, err
	}

	x6 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x6[i] = x[i] + h*(b61*k1[i]+b62*k2[i]+b63*k3[i]+b64*k4[i]+b65*k5[i])
	}
	k6 := stage(x6, t+h)
	if err != nil {
		return nil, 0, h, false, evals, err
	}

	xNew = make(dynamo.State, n)
	for i := 0; i < n; i++ {
		xNew[i] = x[i] + h*(c1*k1[i]+c3*k3[i]+c4*k4[i]+c5*k5[i]+c6*k6[i])
	}

	k7 := stage(xNew, t+h)
	if err != nil {
		return nil, 0, h, false, evals, err
	}

	errSq := 0.0
	for i := 0; i < n; i++ {
		e := h * (dc1*k1[i] + dc3*k3[i] + dc4*k4[i] + dc5*k5[i] + dc6*k6[i] + dc7*k7[i])
		errSq += e * e
	}
	errNorm = math.Sqrt(errSq) / (r.params.ATol + r.params.RTol*x.Norm())
	if math.IsNaN(errNorm) {
		errNorm = math.Inf(1)
	}

	hNext = r.nextStep(h, errNorm)
	if errNorm >= 1 {
		return nil, errNorm, hNext, false, evals, nil
	}
	return xNew, errNorm, hNext, true, evals, nil
}

func (r *RK45) nextStep(h, errNorm float64) float64 {
	var scale float64
	switch {
	case errNorm == 0:
		scale = r.maxScale
	case math.IsInf(errNorm, 1):
		scale = r.minScale
	default:
		scale = r.params.Safety * math.Pow(errNorm, -0.2)
		scale = math.Max(r.minScale, math.Min(r.maxScale, scale))
	}
	return math.Max(r.params.MinStep, math.Min(r.params.MaxStep, h*scale))
}
