package integrators

import "github.com/san-kum/dipsim/internal/dynamo"

// Verlet is velocity Verlet for mechanical states laid out as
// [positions..., velocities...], where the second half of the derivative
// holds the accelerations.
type Verlet struct {
	scratch dynamo.State
}

func NewVerlet() *Verlet {
	return &Verlet{}
}

func (v *Verlet) Name() string   { return "verlet" }
func (v *Verlet) Order() int     { return 2 }
func (v *Verlet) Adaptive() bool { return false }

func (v *Verlet) Fork() Integrator { return NewVerlet() }

func (v *Verlet) Step(dyn dynamo.Deriver, x dynamo.State, u dynamo.Control, t, dt float64) (dynamo.State, StepInfo, error) {
	info := StepInfo{Accepted: true}
	n := len(x)
	half := n / 2
	if len(v.scratch) != n {
		v.scratch = make(dynamo.State, n)
	}

	result := make(dynamo.State, n)
	dx, err := derive(dyn, x, u, t)
	info.Evals++
	if err != nil {
		return nil, info, err
	}
	dt2 := dt * dt

	for i := 0; i < half; i++ {
		result[i] = x[i] + x[half+i]*dt + 0.5*dx[half+i]*dt2
	}

	for i := 0; i < half; i++ {
		v.scratch[i] = result[i]
		v.scratch[half+i] = x[half+i]
	}

	dxNew, err := derive(dyn, v.scratch, u, t+dt)
	info.Evals++
	if err != nil {
		return nil, info, err
	}

	halfDt := 0.5 * dt
	for i := 0; i < half; i++ {
		result[half+i] = x[half+i] + (dx[half+i]+dxNew[half+i])*halfDt
	}

	return result, info, nil
}

type Leapfrog struct {
	scratch dynamo.State
}

func NewLeapfrog() *Leapfrog {
	return &Leapfrog{}
}

func (l *Leapfrog) Name() string   { return "leapfrog" }
func (l *Leapfrog) Order() int     { return 2 }
func (l *Leapfrog) Adaptive() bool { return false }

func (l *Leapfrog) Fork() Integrator { return NewLeapfrog() }

func (l *Leapfrog) Step(dyn dynamo.Deriver, x dynamo.State, u dynamo.Control, t, dt float64) (dynamo.State, StepInfo, error) {
	info := StepInfo{Accepted: true}
	n := len(x)
	half := n / 2

	if len(l.scratch) != n {
		l.scratch = make(dynamo.State, n)
	}

	result := make(dynamo.State, n)
	dx, err := derive(dyn, x, u, t)
	info.Evals++
	if err != nil {
		return nil, info, err
	}
	halfDt := dt * 0.5

	for i := 0; i < half; i++ {
		l.scratch[half+i] = x[half+i] + dx[half+i]*halfDt
	}

	for i := 0; i < half; i++ {
		result[i] = x[i] + l.scratch[half+i]*dt
		l.scratch[i] = result[i]
	}

	dxNew, err := derive(dyn, l.scratch, u, t+dt)
	info.Evals++
	if err != nil {
		return nil, info, err
	}

	for i := 0; i < half; i++ {
		result[half+i] = l.scratch[half+i] + dxNew[half+i]*halfDt
	}

	return result, info, nil
}
