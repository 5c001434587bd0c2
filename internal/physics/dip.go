package physics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dipsim/internal/dynamo"
)

// DoubleInvertedPendulum is a cart on a rail carrying two uniform links in
// series. Angles are measured from the upright vertical, so the unstable
// equilibrium is the origin.
//
// State: [x, θ1, θ2, ẋ, θ̇1, θ̇2]. Control: [horizontal force on the cart].
type DoubleInvertedPendulum struct {
	CartMass float64 `yaml:"cart_mass" json:"cart_mass"`
	Mass1    float64 `yaml:"mass1" json:"mass1"`
	Mass2    float64 `yaml:"mass2" json:"mass2"`
	Length1  float64 `yaml:"length1" json:"length1"`
	Length2  float64 `yaml:"length2" json:"length2"`
	Gravity  float64 `yaml:"gravity" json:"gravity"`
	// CartFriction is a viscous coefficient on the cart velocity.
	CartFriction float64 `yaml:"cart_friction" json:"cart_friction"`
}

func NewDoubleInvertedPendulum() *DoubleInvertedPendulum {
	return &DoubleInvertedPendulum{
		CartMass: 1.0,
		Mass1:    0.1,
		Mass2:    0.1,
		Length1:  0.5,
		Length2:  0.5,
		Gravity:  9.81,
	}
}

func (d *DoubleInvertedPendulum) StateDim() int   { return 6 }
func (d *DoubleInvertedPendulum) ControlDim() int { return 1 }

func (d *DoubleInvertedPendulum) Validate() error {
	for name, v := range map[string]float64{
		"cart_mass": d.CartMass, "mass1": d.Mass1, "mass2": d.Mass2,
		"length1": d.Length1, "length2": d.Length2,
	} {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be positive, got %g", dynamo.ErrInvalidConfig, name, v)
		}
	}
	if math.IsNaN(d.Gravity) || d.CartFriction < 0 {
		return fmt.Errorf("%w: gravity %g, cart_friction %g", dynamo.ErrInvalidConfig, d.Gravity, d.CartFriction)
	}
	return nil
}

// coefficients of the Lagrangian, in the usual d1..d6, f1, f2 naming
type dipCoeffs struct {
	d1, d2, d3, d4, d5, d6 float64
	f1, f2                 float64
}

func (d *DoubleInvertedPendulum) coeffs() dipCoeffs {
	m0, m1, m2 := d.CartMass, d.Mass1, d.Mass2
	L1, L2 := d.Length1, d.Length2
	l1, l2 := L1/2, L2/2
	i1, i2 := m1*L1*L1/12, m2*L2*L2/12

	return dipCoeffs{
		d1: m0 + m1 + m2,
		d2: m1*l1 + m2*L1,
		d3: m2 * l2,
		d4: m1*l1*l1 + m2*L1*L1 + i1,
		d5: m2 * L1 * l2,
		d6: m2*l2*l2 + i2,
		f1: (m1*l1 + m2*L1) * d.Gravity,
		f2: m2 * l2 * d.Gravity,
	}
}

// PhysicsMatrices returns M(q), C(q, q̇) and G(q) of
// M q̈ + C q̇ + G = H u, with H = [1 0 0]ᵀ.
func (d *DoubleInvertedPendulum) PhysicsMatrices(x dynamo.State) (M, C *mat.Dense, G *mat.VecDense) {
	d.checkDim(x)
	k := d.coeffs()
	th1, th2 := x[1], x[2]
	w1, w2 := x[4], x[5]
	c1, c2 := math.Cos(th1), math.Cos(th2)
	s1, s2 := math.Sin(th1), math.Sin(th2)
	c12, s12 := math.Cos(th1-th2), math.Sin(th1-th2)

	M = mat.NewDense(3, 3, []float64{
		k.d1, k.d2 * c1, k.d3 * c2,
		k.d2 * c1, k.d4, k.d5 * c12,
		k.d3 * c2, k.d5 * c12, k.d6,
	})
	C = mat.NewDense(3, 3, []float64{
		d.CartFriction, -k.d2 * s1 * w1, -k.d3 * s2 * w2,
		0, 0, k.d5 * s12 * w2,
		0, -k.d5 * s12 * w1, 0,
	})
	G = mat.NewVecDense(3, []float64{0, -k.f1 * s1, -k.f2 * s2})
	return M, C, G
}

// Derive solves M q̈ = H u − C q̇ − G for the accelerations.
func (d *DoubleInvertedPendulum) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	M, C, G := d.PhysicsMatrices(x)

	force := 0.0
	if len(u) > 0 {
		force = u[0]
	}

	qd := mat.NewVecDense(3, []float64{x[3], x[4], x[5]})
	rhs := mat.NewVecDense(3, []float64{force, 0, 0})
	var cqd mat.VecDense
	cqd.MulVec(C, qd)
	rhs.SubVec(rhs, &cqd)
	rhs.SubVec(rhs, G)

	var qdd mat.VecDense
	if err := qdd.SolveVec(M, rhs); err != nil {
		nan := math.NaN()
		return dynamo.State{x[3], x[4], x[5], nan, nan, nan}
	}

	return dynamo.State{x[3], x[4], x[5], qdd.AtVec(0), qdd.AtVec(1), qdd.AtVec(2)}
}

// Energy is the total mechanical energy ½ q̇ᵀ M q̇ + V(q), with the cart
// rail as the potential reference.
func (d *DoubleInvertedPendulum) Energy(x dynamo.State) float64 {
	M, _, _ := d.PhysicsMatrices(x)
	k := d.coeffs()
	qd := mat.NewVecDense(3, []float64{x[3], x[4], x[5]})
	kinetic := 0.5 * mat.Inner(qd, M, qd)
	potential := k.f1*math.Cos(x[1]) + k.f2*math.Cos(x[2])
	return kinetic + potential
}

// Linearize returns the linear model about the upright equilibrium.
func (d *DoubleInvertedPendulum) Linearize() *Linear {
	k := d.coeffs()
	M, _, _ := d.PhysicsMatrices(make(dynamo.State, 6))

	var Minv mat.Dense
	if err := Minv.Inverse(M); err != nil {
		panic(fmt.Sprintf("physics: mass matrix at the origin is singular: %v", err))
	}

	// ∂(−G)/∂q at the origin
	gq := mat.NewDense(3, 3, []float64{
		0, 0, 0,
		0, k.f1, 0,
		0, 0, k.f2,
	})
	damp := mat.NewDense(3, 3, []float64{
		-d.CartFriction, 0, 0,
		0, 0, 0,
		0, 0, 0,
	})
	h := mat.NewDense(3, 1, []float64{1, 0, 0})

	var a21, a22, b2 mat.Dense
	a21.Mul(&Minv, gq)
	a22.Mul(&Minv, damp)
	b2.Mul(&Minv, h)

	A := mat.NewDense(6, 6, nil)
	for i := 0; i < 3; i++ {
		A.Set(i, 3+i, 1)
		for j := 0; j < 3; j++ {
			A.Set(3+i, j, a21.At(i, j))
			A.Set(3+i, 3+j, a22.At(i, j))
		}
	}
	B := mat.NewDense(6, 1, nil)
	for i := 0; i < 3; i++ {
		B.Set(3+i, 0, b2.At(i, 0))
	}
	return &Linear{A: A, B: B}
}

func (d *DoubleInvertedPendulum) checkDim(x dynamo.State) {
	if len(x) != 6 {
		panic(fmt.Errorf("%w: double inverted pendulum needs 6 states, got %d", dynamo.ErrDimensionMismatch, len(x)))
	}
}
