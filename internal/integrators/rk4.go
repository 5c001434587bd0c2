package integrators

import "github.com/san-kum/dipsim/internal/dynamo"

// RK4 is the classical fourth-order Runge-Kutta method. Set ThreeEighths
// for Kutta's 3/8-rule variant.
type RK4 struct {
	ThreeEighths bool

	k1, k2, k3, k4 dynamo.State
	scratch        dynamo.State
}

func NewRK4() *RK4 {
	return &RK4{}
}

func NewRK38() *RK4 {
	return &RK4{ThreeEighths: true}
}

func (r *RK4) Name() string {
	if r.ThreeEighths {
		return "rk38"
	}
	return "rk4"
}

func (r *RK4) Order() int     { return 4 }
func (r *RK4) Adaptive() bool { return false }

func (r *RK4) Fork() Integrator {
	return &RK4{ThreeEighths: r.ThreeEighths}
}

func (r *RK4) ensureScratch(n int) {
	if len(r.k1) != n {
		r.k1 = make(dynamo.State, n)
		r.k2 = make(dynamo.State, n)
		r.k3 = make(dynamo.State, n)
		r.k4 = make(dynamo.State, n)
		r.scratch = make(dynamo.State, n)
	}
}

func (r *RK4) Step(dyn dynamo.Deriver, x dynamo.State, u dynamo.Control, t, dt float64) (dynamo.State, StepInfo, error) {
	if r.ThreeEighths {
		return r.step38(dyn, x, u, t, dt)
	}

	info := StepInfo{Accepted: true}
	n := len(x)
	r.ensureScratch(n)

	if err := r.stage(dyn, r.k1, x, u, t, &info); err != nil {
		return nil, info, err
	}

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*0.5*r.k1[i]
	}
	if err := r.stage(dyn, r.k2, r.scratch, u, t+dt*0.5, &info); err != nil {
		return nil, info, err
	}

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*0.5*r.k2[i]
	}
	if err := r.stage(dyn, r.k3, r.scratch, u, t+dt*0.5, &info); err != nil {
		return nil, info, err
	}

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*r.k3[i]
	}
	if err := r.stage(dyn, r.k4, r.scratch, u, t+dt, &info); err != nil {
		return nil, info, err
	}

	result := make(dynamo.State, n)
	dt6 := dt / 6.0
	for i := 0; i < n; i++ {
		result[i] = x[i] + dt6*(r.k1[i]+2*r.k2[i]+2*r.k3[i]+r.k4[i])
	}

	return result, info, nil
}

func (r *RK4) step38(dyn dynamo.Deriver, x dynamo.State, u dynamo.Control, t, dt float64) (dynamo.State, StepInfo, error) {
	info := StepInfo{Accepted: true}
	n := len(x)
	r.ensureScratch(n)

	if err := r.stage(dyn, r.k1, x, u, t, &info); err != nil {
		return nil, info, err
	}

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*r.k1[i]/3
	}
	if err := r.stage(dyn, r.k2, r.scratch, u, t+dt/3, &info); err != nil {
		return nil, info, err
	}

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*(r.k2[i]-r.k1[i]/3)
	}
	if err := r.stage(dyn, r.k3, r.scratch, u, t+2*dt/3, &info); err != nil {
		return nil, info, err
	}

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*(r.k1[i]-r.k2[i]+r.k3[i])
	}
	if err := r.stage(dyn, r.k4, r.scratch, u, t+dt, &info); err != nil {
		return nil, info, err
	}

	result := make(dynamo.State, n)
	dt8 := dt / 8.0
	for i := 0; i < n; i++ {
		result[i] = x[i] + dt8*(r.k1[i]+3*r.k2[i]+3*r.k3[i]+r.k4[i])
	}

	return result, info, nil
}

func (r *RK4) stage(dyn dynamo.Deriver, dst, x dynamo.State, u dynamo.Control, t float64, info *StepInfo) error {
	k, err := derive(dyn, x, u, t)
	info.Evals++
	if err != nil {
		return err
	}
	copy(dst, k)
	return nil
}
