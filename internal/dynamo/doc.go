// Package dynamo provides the core simulation primitives shared by the
// integrators, the safety guards and the orchestrators.
//
// The package defines the fundamental interfaces and types:
//
//   - [State]: vector representing plant state
//   - [System]: interface for plants (dX/dt = f(X, u, t))
//   - [Deriver]: the minimal derivative capability an integrator needs
//   - [Controller], [StatefulController]: the two controller call shapes
//   - [LinearSystem], [PhysicsModel], [Hamiltonian]: optional plant capabilities
//
// # Example
//
//	plant := physics.NewDoubleInvertedPendulum()
//	integ, _ := integrators.Create("rk4", 0.01, nil)
//	seq := orchestrator.NewSequential(plant, integ, cfg)
//	traj, _ := seq.Execute(ctx, x0, orchestrator.FromController(ctrl))
//
// # Thread Safety
//
// States are values: every integration step produces a fresh State and
// nothing in this module mutates a State it did not allocate. Plants and
// controllers are not assumed to be thread-safe; the parallel orchestrator
// builds one plant per worker.
package dynamo
