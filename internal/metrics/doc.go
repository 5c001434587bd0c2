// Package metrics scores trajectories. Every metric implements
// [dynamo.Metric] and [dynamo.Observer], so it can either watch a run live
// through orchestrator.WithObserver or replay a finished trajectory with
// [Evaluate].
package metrics
