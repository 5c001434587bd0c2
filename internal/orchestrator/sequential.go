package orchestrator

import (
	"context"
	"fmt"

	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/integrators"
	"github.com/san-kum/dipsim/internal/result"
)

// Sequential runs one trajectory on the caller goroutine.
type Sequential struct {
	plant  dynamo.Deriver
	integ  integrators.Integrator
	config Config
	opts   options
}

func NewSequential(plant dynamo.Deriver, integ integrators.Integrator, cfg Config, opts ...Option) *Sequential {
	return &Sequential{plant: plant, integ: integ, config: cfg, opts: buildOptions(opts)}
}

func (s *Sequential) Config() Config { return s.config }

// Execute integrates from x0 for the configured horizon. A truncated run is
// returned with a nil error; only invalid configuration and cancellation are
// errors, and on cancellation the prefix computed so far is returned too.
func (s *Sequential) Execute(ctx context.Context, x0 dynamo.State, src ControlSource) (*result.Trajectory, error) {
	return s.executeMode(ctx, "sequential", x0, src)
}

func (s *Sequential) executeMode(ctx context.Context, mode string, x0 dynamo.State, src ControlSource) (*result.Trajectory, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil control source", dynamo.ErrInvalidConfig)
	}
	if err := s.config.validate(x0, s.plant); err != nil {
		return nil, err
	}
	horizon := s.config.Steps()

	pol, err := src.bind(horizon)
	if err != nil {
		return nil, err
	}
	e, err := newEngine(mode, s.plant, s.integ, s.config, s.opts)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, x0, horizon, pol)
}

func (e *engine) run(ctx context.Context, x0 dynamo.State, horizon int, pol *policy) (*result.Trajectory, error) {
	tr := e.begin(x0, horizon)
	x := x0.Clone()

	for i := 0; i < horizon; i++ {
		if stop, err := e.halt(ctx, tr, i, x); stop {
			return tr, err
		}
		u, next, meta, v := e.advance(i, x, pol)
		if !e.commit(tr, i, u, next, meta, v) {
			return tr, nil
		}
		x = next
	}

	tr.Complete(result.ReasonHorizon)
	return tr, nil
}
