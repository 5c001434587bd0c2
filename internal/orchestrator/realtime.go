package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/integrators"
	"github.com/san-kum/dipsim/internal/result"
)

// Clock is the time source of a real-time run.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WallClock is the Clock backed by the time package.
func WallClock() Clock { return wallClock{} }

type RealTimeConfig struct {
	// Factor scales simulated time to wall time: each step gets dt/Factor.
	Factor float64
	// Tolerance is how far past its deadline a step may run before it
	// counts as a miss.
	Tolerance time.Duration
}

// Deadline is the wall-clock budget of one step.
func (c RealTimeConfig) Deadline(dt float64) time.Duration {
	return time.Duration(dt / c.Factor * float64(time.Second))
}

// RealTimeReport is the trajectory of a real-time run plus its timing.
type RealTimeReport struct {
	Trajectory *result.Trajectory
	Deadline   time.Duration
	Misses     int
	// MissedSteps lists the indices of the steps that missed.
	MissedSteps  []int
	MeanStep     time.Duration
	WorstStep    time.Duration
	FailedOver   bool
	FailoverStep int
}

// StepObserver is notified after every real-time step.
type StepObserver interface {
	OnRealTimeStep(i int, x dynamo.State, u dynamo.Control, elapsed time.Duration, missed bool)
}

// RealTime paces a sequential loop against the wall clock.
type RealTime struct {
	plant  dynamo.Deriver
	integ  integrators.Integrator
	config Config
	rt     RealTimeConfig
	clock  Clock
	opts   options
	live   []StepObserver
}

func NewRealTime(plant dynamo.Deriver, integ integrators.Integrator, cfg Config, rt RealTimeConfig, clock Clock, opts ...Option) *RealTime {
	if clock == nil {
		clock = WallClock()
	}
	return &RealTime{plant: plant, integ: integ, config: cfg, rt: rt, clock: clock, opts: buildOptions(opts)}
}

func (r *RealTime) AddStepObserver(o StepObserver) { r.live = append(r.live, o) }

// Execute runs the loop, sleeping out the remainder of each step's deadline.
// A step whose control and integration overrun the deadline by more than
// the tolerance is a miss; the first miss switches to the fallback
// controller when one is configured.
func (r *RealTime) Execute(ctx context.Context, x0 dynamo.State, src ControlSource) (*RealTimeReport, error) {
	if !(r.rt.Factor > 0) || math.IsInf(r.rt.Factor, 1) {
		return nil, fmt.Errorf("%w: real-time factor must be positive, got %g", dynamo.ErrInvalidConfig, r.rt.Factor)
	}
	if r.rt.Tolerance < 0 {
		return nil, fmt.Errorf("%w: negative deadline tolerance %s", dynamo.ErrInvalidConfig, r.rt.Tolerance)
	}
	if src == nil {
		return nil, fmt.Errorf("%w: nil control source", dynamo.ErrInvalidConfig)
	}
	if err := r.config.validate(x0, r.plant); err != nil {
		return nil, err
	}
	horizon := r.config.Steps()

	pol, err := src.bind(horizon)
	if err != nil {
		return nil, err
	}
	e, err := newEngine("realtime", r.plant, r.integ, r.config, r.opts)
	if err != nil {
		return nil, err
	}

	report := &RealTimeReport{
		Deadline:     r.rt.Deadline(r.config.Dt),
		FailoverStep: -1,
	}
	tr := e.begin(x0, horizon)
	report.Trajectory = tr
	x := x0.Clone()

	var total time.Duration
	steps := 0
	finish := func() {
		if steps > 0 {
			report.MeanStep = total / time.Duration(steps)
		}
	}

	for i := 0; i < horizon; i++ {
		if stop, err := e.halt(ctx, tr, i, x); stop {
			finish()
			return report, err
		}

		start := r.clock.Now()
		u, next, meta, v := e.advance(i, x, pol)
		elapsed := r.clock.Now().Sub(start)

		steps++
		total += elapsed
		if elapsed > report.WorstStep {
			report.WorstStep = elapsed
		}
		e.metrics.stepDuration(elapsed)

		missed := elapsed > report.Deadline+r.rt.Tolerance
		meta.WallTime = elapsed
		meta.DeadlineMiss = missed
		if missed {
			report.Misses++
			report.MissedSteps = append(report.MissedSteps, i)
			e.metrics.missed()
			e.log.Warn("deadline missed",
				zap.Int("step", i),
				zap.Duration("elapsed", elapsed),
				zap.Duration("deadline", report.Deadline))
		}

		if !e.commit(tr, i, u, next, meta, v) {
			finish()
			return report, nil
		}
		x = next
		for _, o := range r.live {
			o.OnRealTimeStep(i, x, u, elapsed, missed)
		}

		if missed && !report.FailedOver && pol.fallback != nil {
			e.log.Warn("failing over to fallback controller",
				zap.Int("step", i),
				zap.String("from", pol.name),
				zap.String("to", pol.fallback.name))
			pol = pol.fallback
			report.FailedOver = true
			report.FailoverStep = i
			e.metrics.failedOver()
		}

		if remaining := report.Deadline - elapsed; remaining > 0 {
			if err := r.clock.Sleep(ctx, remaining); err != nil {
				tr.Truncate(i+1, result.ReasonCanceled, nil)
				finish()
				return report, err
			}
		}
	}

	tr.Complete(result.ReasonHorizon)
	finish()
	return report, nil
}
