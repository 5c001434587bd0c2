package control

import "github.com/san-kum/dipsim/internal/dynamo"

type Zero struct {
	dim int
}

func NewZero(dim int) *Zero {
	return &Zero{dim: dim}
}

func (z *Zero) Compute(x dynamo.State, t float64) dynamo.Control {
	return make(dynamo.Control, z.dim)
}
