package integrators

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dipsim/internal/dynamo"
)

const (
	DefaultNewtonIterations = 20
	DefaultNewtonTolerance  = 1e-10
)

// BackwardEuler solves x+ = x + dt*f(x+, u, t+dt) with Newton's method on a
// finite-difference Jacobian. When the iteration does not converge within
// MaxIter it returns the Forward Euler step and marks the step degraded.
type BackwardEuler struct {
	MaxIter int
	Tol     float64
}

func NewBackwardEuler(maxIter int, tol float64) (*BackwardEuler, error) {
	if maxIter < 1 {
		return nil, fmt.Errorf("%w: max_iter must be >= 1, got %d", ErrInvalidParams, maxIter)
	}
	if !(tol > 0) {
		return nil, fmt.Errorf("%w: tol must be positive, got %g", ErrInvalidParams, tol)
	}
	return &BackwardEuler{MaxIter: maxIter, Tol: tol}, nil
}

func (b *BackwardEuler) Name() string   { return "backward_euler" }
func (b *BackwardEuler) Order() int     { return 1 }
func (b *BackwardEuler) Adaptive() bool { return false }

func (b *BackwardEuler) Step(dyn dynamo.Deriver, x dynamo.State, u dynamo.Control, t, dt float64) (dynamo.State, StepInfo, error) {
	info := StepInfo{Accepted: true}
	n := len(x)
	tNext := t + dt

	f0, err := derive(dyn, x, u, t)
	info.Evals++
	if err != nil {
		return nil, info, err
	}
	explicit := eulerUpdate(x, f0, dt)

	y := explicit.Clone()
	jac := mat.NewDense(n, n, nil)
	residual := mat.NewVecDense(n, nil)
	var delta mat.VecDense

	for iter := 0; iter < b.MaxIter; iter++ {
		fy, err := derive(dyn, y, u, tNext)
		info.Evals++
		if err != nil {
			return nil, info, err
		}

		rNorm, yNorm := 0.0, 0.0
		for i := 0; i < n; i++ {
			r := y[i] - x[i] - dt*fy[i]
			residual.SetVec(i, -r)
			rNorm = math.Max(rNorm, math.Abs(r))
			yNorm = math.Max(yNorm, math.Abs(y[i]))
		}
		if math.IsNaN(rNorm) || math.IsInf(rNorm, 0) {
			break
		}
		if rNorm <= b.Tol*(1+yNorm) {
			return y, info, nil
		}

		evals, err := b.jacobian(jac, dyn, y, fy, u, tNext, dt)
		info.Evals += evals
		if err != nil {
			return nil, info, err
		}
		if err := delta.SolveVec(jac, residual); err != nil {
			break
		}
		for i := 0; i < n; i++ {
			y[i] += delta.AtVec(i)
		}
	}

	info.Degraded = true
	return explicit, info, nil
}

// jacobian fills jac with I - dt*df/dy using forward differences.
func (b *BackwardEuler) jacobian(jac *mat.Dense, dyn dynamo.Deriver, y, fy dynamo.State, u dynamo.Control, t, dt float64) (int, error) {
	n := len(y)
	probe := y.Clone()
	sqrtEps := math.Sqrt(2.220446049250313e-16)

	for j := 0; j < n; j++ {
		h := sqrtEps * math.Max(math.Abs(y[j]), 1)
		probe[j] = y[j] + h
		fp, err := derive(dyn, probe, u, t)
		if err != nil {
			return j + 1, err
		}
		probe[j] = y[j]

		for i := 0; i < n; i++ {
			v := -dt * (fp[i] - fy[i]) / h
			if i == j {
				v += 1
			}
			jac.Set(i, j, v)
		}
	}
	return n, nil
}
