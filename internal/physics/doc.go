// Package physics provides the plants driven by the orchestrators.
//
//   - [DoubleInvertedPendulum]: cart with two uniform links, solved through
//     its mass matrix at every evaluation
//   - [Linear]: ẋ = A x + B u, exact under the zero-order-hold integrator
//
// Both implement [dynamo.System]. The pendulum also implements
// [dynamo.Hamiltonian] and [dynamo.PhysicsModel], and [Linear] implements
// [dynamo.LinearSystem].
//
//	dip := physics.NewDoubleInvertedPendulum()
//	lin := dip.Linearize() // about the upright equilibrium
package physics
