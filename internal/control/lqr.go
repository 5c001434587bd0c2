package control

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/integrators"
	"github.com/san-kum/dipsim/internal/physics"
)

var ErrNoConvergence = errors.New("control: riccati iteration did not converge")

// LQR applies u = -K (x - Target).
type LQR struct {
	K      [][]float64
	Target dynamo.State
	// Limit is reported through MaxForce; zero means unlimited.
	Limit float64
	// Backup is the controller a real-time run fails over to.
	Backup dynamo.Controller
}

func NewLQR(k [][]float64, target dynamo.State) *LQR {
	return &LQR{K: k, Target: target}
}

func (l *LQR) Compute(x dynamo.State, t float64) dynamo.Control {
	u := make(dynamo.Control, len(l.K))
	for i := range u {
		for j := range x {
			target := 0.0
			if j < len(l.Target) {
				target = l.Target[j]
			}
			if j < len(l.K[i]) {
				u[i] -= l.K[i][j] * (x[j] - target)
			}
		}
	}
	return u
}

func (l *LQR) MaxForce() float64 { return l.Limit }

func (l *LQR) Fallback() dynamo.Controller { return l.Backup }

// Scaled returns a copy with every gain multiplied by factor.
func (l *LQR) Scaled(factor float64) *LQR {
	k := make([][]float64, len(l.K))
	for i, row := range l.K {
		k[i] = make([]float64, len(row))
		for j, v := range row {
			k[i][j] = v * factor
		}
	}
	return &LQR{K: k, Target: l.Target.Clone(), Limit: l.Limit, Backup: l.Backup}
}

// Weights are the diagonal LQR cost weights.
type Weights struct {
	Q []float64 `yaml:"q" json:"q"`
	R []float64 `yaml:"r" json:"r"`
}

// DefaultWeights favors keeping both links upright over cart position.
func DefaultWeights() Weights {
	return Weights{
		Q: []float64{10, 100, 100, 1, 1, 1},
		R: []float64{1},
	}
}

// DesignLQR computes the discrete-time LQR gain for ẋ = A x + B u sampled
// with a zero-order hold at dt, by iterating the discrete Riccati equation
//
//	P = Q + AdᵀP Ad − AdᵀP Bd (R + BdᵀP Bd)⁻¹ BdᵀP Ad
//
// until P settles. The gain is K = (R + BdᵀP Bd)⁻¹ BdᵀP Ad.
func DesignLQR(A, B, Q, R *mat.Dense, dt float64) (*mat.Dense, error) {
	Ad, Bd, err := integrators.Discretize(A, B, dt)
	if err != nil {
		return nil, err
	}
	n, _ := Ad.Dims()
	_, m := Bd.Dims()
	if qr, qc := Q.Dims(); qr != n || qc != n {
		return nil, fmt.Errorf("%w: Q is %dx%d, want %dx%d", dynamo.ErrDimensionMismatch, qr, qc, n, n)
	}
	if rr, rc := R.Dims(); rr != m || rc != m {
		return nil, fmt.Errorf("%w: R is %dx%d, want %dx%d", dynamo.ErrDimensionMismatch, rr, rc, m, m)
	}

	const (
		maxIter = 100000
		tol     = 1e-10
	)

	P := mat.DenseCopyOf(Q)
	var K mat.Dense
	for iter := 0; iter < maxIter; iter++ {
		gain, err := riccatiGain(P, Ad, Bd, R)
		if err != nil {
			return nil, err
		}

		// P' = Q + Adᵀ P (Ad − Bd K)
		var closed, bk, pc, next mat.Dense
		bk.Mul(Bd, gain)
		closed.Sub(Ad, &bk)
		pc.Mul(P, &closed)
		next.Mul(Ad.T(), &pc)
		next.Add(&next, Q)

		var diff mat.Dense
		diff.Sub(&next, P)
		delta := mat.Norm(&diff, math.Inf(1))
		scale := math.Max(1, mat.Norm(&next, math.Inf(1)))
		P = &next
		K.CloneFrom(gain)

		if math.IsNaN(delta) {
			break
		}
		if delta <= tol*scale {
			return &K, nil
		}
	}
	return nil, ErrNoConvergence
}

func riccatiGain(P, Ad, Bd, R *mat.Dense) (*mat.Dense, error) {
	var pb, s, pa, rhs, gain mat.Dense
	pb.Mul(P, Bd)
	s.Mul(Bd.T(), &pb)
	s.Add(&s, R)
	pa.Mul(P, Ad)
	rhs.Mul(Bd.T(), &pa)
	if err := gain.Solve(&s, &rhs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoConvergence, err)
	}
	return &gain, nil
}

// NewDIPLQR linearizes the pendulum about upright and designs its gain.
func NewDIPLQR(dip *physics.DoubleInvertedPendulum, dt float64, w Weights) (*LQR, error) {
	lin := dip.Linearize()
	A, B := lin.StateSpace()
	n, _ := A.Dims()
	_, m := B.Dims()
	if len(w.Q) != n || len(w.R) != m {
		return nil, fmt.Errorf("%w: weights need %d state and %d input entries, got %d and %d",
			dynamo.ErrDimensionMismatch, n, m, len(w.Q), len(w.R))
	}

	K, err := DesignLQR(A, B, diag(w.Q), diag(w.R), dt)
	if err != nil {
		return nil, err
	}
	rows, cols := K.Dims()
	k := make([][]float64, rows)
	for i := range k {
		k[i] = make([]float64, cols)
		for j := range k[i] {
			k[i][j] = K.At(i, j)
		}
	}
	return NewLQR(k, make(dynamo.State, n)), nil
}

func diag(v []float64) *mat.Dense {
	d := mat.NewDense(len(v), len(v), nil)
	for i, x := range v {
		d.Set(i, i, x)
	}
	return d
}
