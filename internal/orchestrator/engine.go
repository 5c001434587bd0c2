package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/integrators"
	"github.com/san-kum/dipsim/internal/result"
	"github.com/san-kum/dipsim/internal/safety"
)

// engine holds everything one trajectory needs to advance. Its integrator is
// a private fork, so an engine must not be shared between trajectories.
type engine struct {
	mode       string
	plant      dynamo.Deriver
	integ      integrators.Integrator
	guard      safety.Guard
	dt         float64
	uMax       *float64
	stop       StopFunc
	controlDim int

	log       *zap.Logger
	metrics   *Metrics
	observers []dynamo.Observer
}

func newEngine(mode string, plant dynamo.Deriver, integ integrators.Integrator, cfg Config, o options) (*engine, error) {
	if integ == nil {
		return nil, fmt.Errorf("%w: nil integrator", dynamo.ErrInvalidConfig)
	}
	e := &engine{
		mode:       mode,
		plant:      plant,
		integ:      integrators.ForTrajectory(integ),
		guard:      safety.NewGuard(cfg.Bounds, plant),
		dt:         cfg.Dt,
		uMax:       cfg.UMax,
		stop:       cfg.Stop,
		controlDim: -1,
		log:        o.logger,
		metrics:    o.metrics,
		observers:  o.observers,
	}
	if sys, ok := plant.(dynamo.System); ok {
		e.controlDim = sys.ControlDim()
	}
	return e, nil
}

func (e *engine) fork() *engine {
	c := *e
	c.integ = integrators.ForTrajectory(e.integ)
	return &c
}

func (e *engine) begin(x0 dynamo.State, horizon int) *result.Trajectory {
	tr := result.New(x0, e.dt, horizon)
	tr.Integrator = e.integ.Name()
	tr.Start()
	return tr
}

// halt reports whether the run must end before step i. It records the
// outcome on tr and returns the context error on cancellation.
func (e *engine) halt(ctx context.Context, tr *result.Trajectory, i int, x dynamo.State) (bool, error) {
	if err := ctx.Err(); err != nil {
		tr.Truncate(i, result.ReasonCanceled, nil)
		e.log.Info("trajectory canceled", zap.String("mode", e.mode), zap.Int("step", i))
		return true, err
	}
	if e.stop != nil && e.stop(x, float64(i)*e.dt) {
		tr.Complete(result.ReasonStopFn)
		e.log.Debug("stop condition met", zap.String("mode", e.mode), zap.Int("step", i))
		return true, nil
	}
	return false, nil
}

// advance computes step i from x: control, saturation, integration and the
// guard. On failure it returns the violation and no state.
func (e *engine) advance(i int, x dynamo.State, pol *policy) (dynamo.Control, dynamo.State, result.StepMeta, *safety.Violation) {
	t := float64(i) * e.dt
	meta := result.StepMeta{}

	u, v := e.control(i, t, x, pol)
	if v != nil {
		return nil, nil, meta, v
	}
	u, meta.Saturated = e.saturate(u, pol)

	for _, obs := range e.observers {
		obs.OnStep(x, u, t)
	}

	next, info, v := e.integrate(i, x, u, t)
	meta.Evals = info.Evals
	meta.Rejected = info.Rejected
	meta.Substeps = info.Substeps
	meta.ErrorEstimate = info.ErrorEstimate
	meta.Degraded = info.Degraded
	if v != nil {
		return u, nil, meta, v
	}

	if v := e.guard.Inspect(next); v != nil {
		return u, nil, meta, v
	}
	return u, next, meta, nil
}

// commit appends a successful step or truncates the trajectory at step i.
// It reports whether the run may continue.
func (e *engine) commit(tr *result.Trajectory, i int, u dynamo.Control, next dynamo.State, meta result.StepMeta, v *safety.Violation) bool {
	if v != nil {
		tr.Truncate(i, result.ReasonViolation, v)
		e.metrics.truncated(e.mode, v.Kind)
		e.log.Info("trajectory truncated",
			zap.String("mode", e.mode),
			zap.Int("step", i),
			zap.Float64("t", float64(i)*e.dt),
			zap.Stringer("kind", v.Kind),
			zap.Error(v))
		return false
	}
	tr.Append(u, next, meta)
	e.metrics.step(e.mode)
	return true
}

func (e *engine) control(i int, t float64, x dynamo.State, pol *policy) (u dynamo.Control, v *safety.Violation) {
	defer func() {
		if r := recover(); r != nil {
			u = nil
			v = safety.Failure(safety.KindControllerFailure,
				&dynamo.SimulationError{Step: i, Time: t, Wrapped: fmt.Errorf("%w: panic: %v", dynamo.ErrControllerFailure, r)})
		}
	}()

	u, err := pol.next(i, t, x)
	if err != nil {
		return nil, safety.Failure(safety.KindControllerFailure,
			&dynamo.SimulationError{Step: i, Time: t, Wrapped: fmt.Errorf("%w: %w", dynamo.ErrControllerFailure, err)})
	}
	for k, val := range u {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, safety.Failure(safety.KindControllerFailure,
				&dynamo.SimulationError{Step: i, Time: t, Wrapped: fmt.Errorf("%w: control component %d is %g", dynamo.ErrControllerFailure, k, val)})
		}
	}
	if e.controlDim >= 0 && len(u) != e.controlDim {
		return nil, safety.Failure(safety.KindControllerFailure,
			&dynamo.SimulationError{Step: i, Time: t, Wrapped: fmt.Errorf("%w: %w: control has %d components, plant expects %d",
				dynamo.ErrControllerFailure, dynamo.ErrDimensionMismatch, len(u), e.controlDim)})
	}
	return u, nil
}

// saturate clips u to the configured limit, falling back to the limit the
// controller reports. It never modifies u in place.
func (e *engine) saturate(u dynamo.Control, pol *policy) (dynamo.Control, bool) {
	var limit float64
	switch {
	case e.uMax != nil:
		limit = *e.uMax
	default:
		l, ok := pol.limit()
		if !ok {
			return u, false
		}
		limit = l
	}

	var out dynamo.Control
	for k, val := range u {
		clipped := math.Max(-limit, math.Min(limit, val))
		if clipped == val {
			continue
		}
		if out == nil {
			out = u.Clone()
		}
		out[k] = clipped
	}
	if out == nil {
		return u, false
	}
	return out, true
}

func (e *engine) integrate(i int, x dynamo.State, u dynamo.Control, t float64) (next dynamo.State, info integrators.StepInfo, v *safety.Violation) {
	defer func() {
		if r := recover(); r != nil {
			next = nil
			v = safety.Failure(safety.KindPlantFailure,
				&dynamo.SimulationError{Step: i, Time: t, Wrapped: fmt.Errorf("%w: panic: %v", dynamo.ErrPlantFailure, r)})
		}
	}()

	next, info, err := e.integ.Step(e.plant, x, u, t, e.dt)
	switch {
	case errors.Is(err, integrators.ErrStepRejected):
		return nil, info, safety.Failure(safety.KindDivergence, &dynamo.SimulationError{Step: i, Time: t, Wrapped: err})
	case err != nil:
		return nil, info, safety.Failure(safety.KindPlantFailure,
			&dynamo.SimulationError{Step: i, Time: t, Wrapped: fmt.Errorf("%w: %w", dynamo.ErrPlantFailure, err)})
	case len(next) != len(x):
		return nil, info, safety.Failure(safety.KindPlantFailure,
			&dynamo.SimulationError{Step: i, Time: t, Wrapped: fmt.Errorf("%w: %w: step returned %d components",
				dynamo.ErrPlantFailure, dynamo.ErrDimensionMismatch, len(next))})
	}
	return next, info, nil
}
