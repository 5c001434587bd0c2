package integrators

import "github.com/san-kum/dipsim/internal/dynamo"

type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Name() string   { return "euler" }
func (e *Euler) Order() int     { return 1 }
func (e *Euler) Adaptive() bool { return false }

func (e *Euler) Step(dyn dynamo.Deriver, x dynamo.State, u dynamo.Control, t, dt float64) (dynamo.State, StepInfo, error) {
	info := StepInfo{Evals: 1, Accepted: true}
	dx, err := derive(dyn, x, u, t)
	if err != nil {
		return nil, info, err
	}
	return eulerUpdate(x, dx, dt), info, nil
}

func eulerUpdate(x, dx dynamo.State, dt float64) dynamo.State {
	result := make(dynamo.State, len(x))
	for i := range x {
		result[i] = x[i] + dt*dx[i]
	}
	return result
}

// Midpoint is the explicit midpoint rule (RK2).
type Midpoint struct{}

func NewMidpoint() *Midpoint {
	return &Midpoint{}
}

func (m *Midpoint) Name() string   { return "midpoint" }
func (m *Midpoint) Order() int     { return 2 }
func (m *Midpoint) Adaptive() bool { return false }

func (m *Midpoint) Step(dyn dynamo.Deriver, x dynamo.State, u dynamo.Control, t, dt float64) (dynamo.State, StepInfo, error) {
	info := StepInfo{Accepted: true}
	k1, err := derive(dyn, x, u, t)
	info.Evals++
	if err != nil {
		return nil, info, err
	}

	mid := make(dynamo.State, len(x))
	for i := range x {
		mid[i] = x[i] + 0.5*dt*k1[i]
	}
	k2, err := derive(dyn, mid, u, t+0.5*dt)
	info.Evals++
	if err != nil {
		return nil, info, err
	}

	return eulerUpdate(x, k2, dt), info, nil
}
