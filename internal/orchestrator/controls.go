package orchestrator

import (
	"fmt"

	"github.com/san-kum/dipsim/internal/dynamo"
)

// ControlSource supplies the control applied at each step. The concrete
// sources are Sequence, Func, FromController, FromStateful and WithFallback;
// each is bound once per run into a policy the step loop calls without
// further type inspection.
type ControlSource interface {
	bind(horizon int) (*policy, error)
}

type policy struct {
	name     string
	next     func(step int, t float64, x dynamo.State) (dynamo.Control, error)
	maxForce float64
	fallback *policy
}

func (p *policy) limit() (float64, bool) {
	if p.maxForce > 0 {
		return p.maxForce, true
	}
	return 0, false
}

type sourceFunc func(horizon int) (*policy, error)

func (f sourceFunc) bind(horizon int) (*policy, error) { return f(horizon) }

// Sequence replays precomputed controls. It must cover the horizon.
func Sequence(us []dynamo.Control) ControlSource {
	return sourceFunc(func(horizon int) (*policy, error) {
		if len(us) < horizon {
			return nil, fmt.Errorf("%w: control sequence has %d entries, horizon is %d",
				dynamo.ErrInvalidConfig, len(us), horizon)
		}
		return &policy{
			name: "sequence",
			next: func(step int, _ float64, _ dynamo.State) (dynamo.Control, error) {
				return us[step], nil
			},
		}, nil
	})
}

// Constant applies the same control at every step.
func Constant(u dynamo.Control) ControlSource {
	return sourceFunc(func(int) (*policy, error) {
		return &policy{
			name: "constant",
			next: func(int, float64, dynamo.State) (dynamo.Control, error) { return u, nil },
		}, nil
	})
}

// Func evaluates a pure control law of (t, x).
func Func(f dynamo.ControlFunc) ControlSource {
	return sourceFunc(func(int) (*policy, error) {
		if f == nil {
			return nil, fmt.Errorf("%w: nil control function", dynamo.ErrInvalidConfig)
		}
		return &policy{
			name: "func",
			next: func(_ int, t float64, x dynamo.State) (dynamo.Control, error) {
				return f(t, x), nil
			},
		}, nil
	})
}

// FromController wraps a stateless controller. Its MaxForce and Fallback
// are honored when implemented.
func FromController(c dynamo.Controller) ControlSource {
	return sourceFunc(func(horizon int) (*policy, error) {
		if c == nil {
			return nil, fmt.Errorf("%w: nil controller", dynamo.ErrInvalidConfig)
		}
		p := &policy{
			name: fmt.Sprintf("%T", c),
			next: func(_ int, t float64, x dynamo.State) (dynamo.Control, error) {
				return c.Compute(x, t), nil
			},
		}
		return decorate(p, c, horizon)
	})
}

// FromStateful wraps a controller that threads internal variables and
// history between calls. Both are initialized once per run.
func FromStateful(c dynamo.StatefulController) ControlSource {
	return sourceFunc(func(horizon int) (*policy, error) {
		if c == nil {
			return nil, fmt.Errorf("%w: nil controller", dynamo.ErrInvalidConfig)
		}
		var internal, history any
		if si, ok := c.(dynamo.StateInitializer); ok {
			internal = si.InitializeState()
		}
		if hi, ok := c.(dynamo.HistoryInitializer); ok {
			history = hi.InitializeHistory()
		}
		p := &policy{
			name: fmt.Sprintf("%T", c),
			next: func(_ int, _ float64, x dynamo.State) (dynamo.Control, error) {
				u, nextInternal, nextHistory, err := c.ComputeControl(x, internal, history)
				if err != nil {
					return nil, err
				}
				internal, history = nextInternal, nextHistory
				return u, nil
			},
		}
		return decorate(p, c, horizon)
	})
}

// WithFallback pairs a primary source with the one RealTime switches to
// after a deadline miss.
func WithFallback(primary, fallback ControlSource) ControlSource {
	return sourceFunc(func(horizon int) (*policy, error) {
		p, err := primary.bind(horizon)
		if err != nil {
			return nil, err
		}
		fb, err := fallback.bind(horizon)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		p.fallback = fb
		return p, nil
	})
}

func decorate(p *policy, c any, horizon int) (*policy, error) {
	if s, ok := c.(dynamo.Saturator); ok {
		p.maxForce = s.MaxForce()
	}
	if fp, ok := c.(dynamo.FallbackProvider); ok {
		if fb := fp.Fallback(); fb != nil {
			bound, err := FromController(fb).bind(horizon)
			if err != nil {
				return nil, fmt.Errorf("fallback: %w", err)
			}
			p.fallback = bound
		}
	}
	return p, nil
}
