package integrators

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dipsim/internal/dynamo"
)

type harmonicOscillator struct{}

func (h *harmonicOscillator) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	return dynamo.State{x[1], -x[0]}
}

func (h *harmonicOscillator) Energy(x dynamo.State) float64 {
	return 0.5 * (x[0]*x[0] + x[1]*x[1])
}

type decay struct{ rate float64 }

func (d decay) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	dx := make(dynamo.State, len(x))
	for i := range x {
		dx[i] = -d.rate * x[i]
	}
	return dx
}

type linearPlant struct {
	a, b *mat.Dense
}

func (l *linearPlant) StateSpace() (*mat.Dense, *mat.Dense) { return l.a, l.b }

func (l *linearPlant) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	n, _ := l.a.Dims()
	var out mat.VecDense
	out.MulVec(l.a, mat.NewVecDense(n, x.Clone()))
	if len(u) > 0 {
		_, m := l.b.Dims()
		var bu mat.VecDense
		bu.MulVec(l.b, mat.NewVecDense(m, u.Clone()))
		out.AddVec(&out, &bu)
	}
	dx := make(dynamo.State, n)
	for i := range dx {
		dx[i] = out.AtVec(i)
	}
	return dx
}

func doubleIntegrator() *linearPlant {
	return &linearPlant{
		a: mat.NewDense(2, 2, []float64{0, 1, 0, 0}),
		b: mat.NewDense(2, 1, []float64{0, 1}),
	}
}

func integrate(in Integrator, dyn dynamo.Deriver, x0 dynamo.State, dt float64, steps int) (dynamo.State, error) {
	x := x0.Clone()
	for i := 0; i < steps; i++ {
		next, _, err := in.Step(dyn, x, nil, float64(i)*dt, dt)
		if err != nil {
			return nil, err
		}
		x = next
	}
	return x, nil
}
