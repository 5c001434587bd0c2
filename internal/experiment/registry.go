package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/dipsim/internal/config"
	"github.com/san-kum/dipsim/internal/control"
	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/metrics"
	"github.com/san-kum/dipsim/internal/orchestrator"
	"github.com/san-kum/dipsim/internal/physics"
)

// Env is what a controller builder may depend on besides its own config.
type Env struct {
	Pendulum *physics.DoubleInvertedPendulum
	Dt       float64
	// GainScale multiplies feedback gains; sweeps vary it. Zero disables
	// feedback, so callers wanting nominal gains pass 1.
	GainScale float64
}

// ControllerBuilder returns a fresh control source for one run.
type ControllerBuilder func(cc config.ControllerConfig, env Env) (orchestrator.ControlSource, error)

type Registry struct {
	controllers map[string]ControllerBuilder
}

func NewRegistry() *Registry {
	r := &Registry{controllers: make(map[string]ControllerBuilder)}

	r.controllers[config.ControllerZero] = func(config.ControllerConfig, Env) (orchestrator.ControlSource, error) {
		return orchestrator.FromController(control.NewZero(1)), nil
	}
	r.controllers[config.ControllerLQR] = func(cc config.ControllerConfig, env Env) (orchestrator.ControlSource, error) {
		lqr, err := buildLQR(cc, env)
		if err != nil {
			return nil, err
		}
		return orchestrator.FromController(lqr), nil
	}
	r.controllers[config.ControllerPID] = func(cc config.ControllerConfig, env Env) (orchestrator.ControlSource, error) {
		scale := env.GainScale
		pid := control.NewPID(cc.Kp*scale, cc.Ki*scale, cc.Kd*scale, cc.Target, cc.Index, env.Dt)
		pid.Limit = cc.MaxForce
		return orchestrator.FromStateful(pid), nil
	}

	return r
}

func buildLQR(cc config.ControllerConfig, env Env) (*control.LQR, error) {
	var lqr *control.LQR
	if cc.Gains != nil {
		lqr = control.NewLQR(cc.Gains, make(dynamo.State, 6))
	} else {
		var err error
		lqr, err = control.NewDIPLQR(env.Pendulum, env.Dt, control.Weights{Q: cc.Q, R: cc.R})
		if err != nil {
			return nil, fmt.Errorf("design lqr: %w", err)
		}
	}
	if env.GainScale != 1 {
		lqr = lqr.Scaled(env.GainScale)
	}
	lqr.Limit = cc.MaxForce
	return lqr, nil
}

// Register adds or replaces a controller.
func (r *Registry) Register(name string, b ControllerBuilder) {
	r.controllers[name] = b
}

// Controls builds the configured controller, paired with its fallback when
// one is named.
func (r *Registry) Controls(cc config.ControllerConfig, env Env) (orchestrator.ControlSource, error) {
	primary, err := r.build(cc.Type, cc, env)
	if err != nil {
		return nil, err
	}
	if cc.Fallback == "" || cc.Fallback == cc.Type {
		return primary, nil
	}
	// the fallback runs unscaled
	env.GainScale = 1
	fb, err := r.build(cc.Fallback, cc, env)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	return orchestrator.WithFallback(primary, fb), nil
}

func (r *Registry) build(name string, cc config.ControllerConfig, env Env) (orchestrator.ControlSource, error) {
	b, ok := r.controllers[name]
	if !ok {
		return nil, fmt.Errorf("unknown controller: %s", name)
	}
	return b(cc, env)
}

func (r *Registry) ListControllers() []string {
	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultMetrics are the summary figures reported for every run.
func DefaultMetrics(cfg *config.Config, plant dynamo.Deriver) []dynamo.Metric {
	r := 1.0
	if len(cfg.Controller.R) > 0 {
		r = cfg.Controller.R[0]
	}
	ms := []dynamo.Metric{
		metrics.NewControlEffort(),
		metrics.NewStability(0.5, 1, 2),
		metrics.NewISE(cfg.Controller.Q, r),
	}
	if h, ok := plant.(dynamo.Hamiltonian); ok {
		ms = append(ms, metrics.NewEnergyDrift(h))
	}
	return ms
}
