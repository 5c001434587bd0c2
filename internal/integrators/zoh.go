package integrators

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dipsim/internal/dynamo"
)

// ZOH holds the control constant over each step. For plants implementing
// dynamo.LinearSystem it applies the exact discretization
// x+ = Ad x + Bd u, computed once per (A, B, dt). Other plants are
// advanced with an RK4 step.
type ZOH struct {
	fallback *RK4

	srcA, srcB *mat.Dense
	cachedDt   float64
	ad, bd     *mat.Dense
}

func NewZOH() *ZOH {
	return &ZOH{fallback: NewRK4()}
}

func (z *ZOH) Name() string   { return "zoh" }
func (z *ZOH) Order() int     { return 4 }
func (z *ZOH) Adaptive() bool { return false }

func (z *ZOH) Fork() Integrator {
	return NewZOH()
}

func (z *ZOH) Step(dyn dynamo.Deriver, x dynamo.State, u dynamo.Control, t, dt float64) (dynamo.State, StepInfo, error) {
	lin, ok := dyn.(dynamo.LinearSystem)
	if !ok {
		return z.fallback.Step(dyn, x, u, t, dt)
	}

	A, B := lin.StateSpace()
	if A != z.srcA || B != z.srcB || dt != z.cachedDt || z.ad == nil {
		ad, bd, err := Discretize(A, B, dt)
		if err != nil {
			return nil, StepInfo{}, err
		}
		z.srcA, z.srcB, z.cachedDt = A, B, dt
		z.ad, z.bd = ad, bd
	}

	n, _ := z.ad.Dims()
	if len(x) != n {
		return nil, StepInfo{}, fmt.Errorf("%w: state has %d components, A is %dx%d", dynamo.ErrDimensionMismatch, len(x), n, n)
	}

	xv := mat.NewVecDense(n, x.Clone())
	var next mat.VecDense
	next.MulVec(z.ad, xv)

	if z.bd != nil && len(u) > 0 {
		_, m := z.bd.Dims()
		if len(u) != m {
			return nil, StepInfo{}, fmt.Errorf("%w: control has %d components, B has %d columns", dynamo.ErrDimensionMismatch, len(u), m)
		}
		var forced mat.VecDense
		forced.MulVec(z.bd, mat.NewVecDense(m, u.Clone()))
		next.AddVec(&next, &forced)
	}

	result := make(dynamo.State, n)
	for i := range result {
		result[i] = next.AtVec(i)
	}
	return result, StepInfo{Accepted: true}, nil
}

// Discretize returns the zero-order-hold discretization of dx/dt = A x + B u
// over dt, read off the exponential of the augmented matrix [[A B]; [0 0]]*dt.
// B may be nil for an unforced system.
func Discretize(A, B *mat.Dense, dt float64) (Ad, Bd *mat.Dense, err error) {
	if A == nil {
		return nil, nil, fmt.Errorf("%w: nil state matrix", ErrInvalidParams)
	}
	n, c := A.Dims()
	if n != c {
		return nil, nil, fmt.Errorf("%w: A must be square, got %dx%d", dynamo.ErrDimensionMismatch, n, c)
	}

	m := 0
	if B != nil {
		var br int
		br, m = B.Dims()
		if br != n {
			return nil, nil, fmt.Errorf("%w: B has %d rows, A has %d", dynamo.ErrDimensionMismatch, br, n)
		}
	}

	aug := mat.NewDense(n+m, n+m, nil)
	aug.Slice(0, n, 0, n).(*mat.Dense).Scale(dt, A)
	if m > 0 {
		aug.Slice(0, n, n, n+m).(*mat.Dense).Scale(dt, B)
	}

	var e mat.Dense
	e.Exp(aug)

	Ad = mat.DenseCopyOf(e.Slice(0, n, 0, n))
	if m > 0 {
		Bd = mat.DenseCopyOf(e.Slice(0, n, n, n+m))
	}
	return Ad, Bd, nil
}
