// Package orchestrator drives a plant forward in time under a control
// source and an integrator, checking every candidate state against the
// safety guard.
//
// Four strategies share one step routine:
//
//   - Sequential runs a single trajectory on the caller goroutine.
//   - Batch advances many members in lockstep, each truncated independently.
//   - Parallel spreads independent jobs over a fixed worker pool.
//   - RealTime paces a sequential loop against the wall clock and fails
//     over to a fallback controller on deadline misses.
//
// A safety violation, a plant or controller failure, or an adaptive step
// that cannot converge ends the trajectory early. The result is always a
// well-formed prefix and is not reported as an error.
package orchestrator
