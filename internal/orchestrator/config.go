package orchestrator

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/safety"
)

// StopFunc ends a run early, without error, when it returns true for the
// state about to be advanced.
type StopFunc func(x dynamo.State, t float64) bool

type Config struct {
	Dt float64
	// Horizon is the number of steps. When zero, SimTime/Dt rounded is used.
	Horizon int
	SimTime float64
	// UMax overrides any limit reported by the controller.
	UMax   *float64
	Bounds safety.Bounds
	Stop   StopFunc
}

// Steps resolves the number of steps to run.
func (c Config) Steps() int {
	if c.Horizon != 0 || c.SimTime <= 0 || c.Dt <= 0 {
		return c.Horizon
	}
	return int(math.Round(c.SimTime / c.Dt))
}

func (c Config) validate(x0 dynamo.State, plant dynamo.Deriver) error {
	if len(x0) == 0 {
		return fmt.Errorf("%w: empty initial state", dynamo.ErrInvalidConfig)
	}
	if !(c.Dt > 0) || math.IsInf(c.Dt, 1) {
		return fmt.Errorf("%w: dt must be positive and finite, got %g", dynamo.ErrInvalidConfig, c.Dt)
	}
	if c.Steps() < 0 {
		return fmt.Errorf("%w: horizon must be >= 0, got %d", dynamo.ErrInvalidConfig, c.Steps())
	}
	if math.IsNaN(c.SimTime) || c.SimTime < 0 {
		return fmt.Errorf("%w: sim_time must be >= 0, got %g", dynamo.ErrInvalidConfig, c.SimTime)
	}
	if c.UMax != nil && (math.IsNaN(*c.UMax) || *c.UMax < 0) {
		return fmt.Errorf("%w: u_max must be >= 0, got %g", dynamo.ErrInvalidConfig, *c.UMax)
	}
	if !x0.IsValid() {
		return fmt.Errorf("%w: %w", dynamo.ErrInvalidConfig, dynamo.ErrInvalidState)
	}
	if plant == nil {
		return fmt.Errorf("%w: nil plant", dynamo.ErrInvalidConfig)
	}
	if sys, ok := plant.(dynamo.System); ok && sys.StateDim() != len(x0) {
		return fmt.Errorf("%w: %w: initial state has %d components, plant expects %d",
			dynamo.ErrInvalidConfig, dynamo.ErrDimensionMismatch, len(x0), sys.StateDim())
	}
	if err := c.Bounds.Validate(len(x0)); err != nil {
		return fmt.Errorf("%w: %w", dynamo.ErrInvalidConfig, err)
	}
	return nil
}

// Option configures the ambient collaborators of an orchestrator.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	metrics   *Metrics
	observers []dynamo.Observer
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithObserver adds an observer called with every state, applied control
// and time before the state is advanced.
func WithObserver(obs dynamo.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
