package physics

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dipsim/internal/dynamo"
)

// Linear is the plant ẋ = A x + B u.
type Linear struct {
	A *mat.Dense
	B *mat.Dense
}

func NewLinear(A, B *mat.Dense) (*Linear, error) {
	n, c := A.Dims()
	if n != c {
		return nil, fmt.Errorf("%w: A is %dx%d", dynamo.ErrDimensionMismatch, n, c)
	}
	if br, _ := B.Dims(); br != n {
		return nil, fmt.Errorf("%w: B has %d rows, A has %d", dynamo.ErrDimensionMismatch, br, n)
	}
	return &Linear{A: A, B: B}, nil
}

func (l *Linear) StateDim() int {
	n, _ := l.A.Dims()
	return n
}

func (l *Linear) ControlDim() int {
	_, m := l.B.Dims()
	return m
}

func (l *Linear) StateSpace() (A, B *mat.Dense) { return l.A, l.B }

func (l *Linear) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	n := l.StateDim()
	if len(x) != n {
		panic(fmt.Errorf("%w: linear plant has %d states, got %d", dynamo.ErrDimensionMismatch, n, len(x)))
	}
	out := make(dynamo.State, n)
	dx := mat.NewVecDense(n, out)
	dx.MulVec(l.A, mat.NewVecDense(n, x.Clone()))

	m := l.ControlDim()
	if len(u) != 0 && len(u) != m {
		panic(fmt.Errorf("%w: linear plant has %d inputs, got %d", dynamo.ErrDimensionMismatch, m, len(u)))
	}
	if len(u) == m && m > 0 {
		var bu mat.VecDense
		bu.MulVec(l.B, mat.NewVecDense(m, u.Clone()))
		dx.AddVec(dx, &bu)
	}
	return out
}
