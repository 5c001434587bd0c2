// Package analysis inspects finished trajectories.
//
//   - [PowerSpectrum] and [DominantFrequency]: spectrum of one state component
//   - [Divergence]: separation rate of two nearby trajectories
//   - [PhasePortrait] and [GeneratePoincareSection]: projections of state space
//
// A positive divergence between the nominal run and a perturbed batch member
// means the closed loop is not holding the pendulum:
//
//	rate, err := analysis.Divergence(nominal, perturbed)
package analysis
