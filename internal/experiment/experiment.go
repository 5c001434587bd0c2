// Package experiment turns a run description into plants, integrators,
// control sources and orchestrators, and runs them.
package experiment

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/san-kum/dipsim/internal/config"
	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/integrators"
	"github.com/san-kum/dipsim/internal/metrics"
	"github.com/san-kum/dipsim/internal/orchestrator"
	"github.com/san-kum/dipsim/internal/physics"
	"github.com/san-kum/dipsim/internal/result"
)

type Experiment struct {
	cfg        *config.Config
	registry   *Registry
	log        *zap.Logger
	metrics    *orchestrator.Metrics
	randSource *rand.Rand
}

type Option func(*Experiment)

func WithLogger(l *zap.Logger) Option {
	return func(e *Experiment) {
		if l != nil {
			e.log = l
		}
	}
}

func WithMetrics(m *orchestrator.Metrics) Option {
	return func(e *Experiment) { e.metrics = m }
}

func WithRegistry(r *Registry) Option {
	return func(e *Experiment) {
		if r != nil {
			e.registry = r
		}
	}
}

// New validates cfg and keeps a private copy of it.
func New(cfg *config.Config, opts ...Option) (*Experiment, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", config.ErrInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Experiment{
		cfg:        cfg.Clone(),
		registry:   NewRegistry(),
		log:        zap.NewNop(),
		randSource: rand.New(rand.NewSource(cfg.Simulation.Seed)),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *Experiment) Config() *config.Config { return e.cfg }

func (e *Experiment) pendulum() *physics.DoubleInvertedPendulum {
	p := e.cfg.Plant.Params
	return &p
}

// Plant builds a new plant instance.
func (e *Experiment) Plant() (dynamo.Deriver, error) {
	switch e.cfg.Plant.Type {
	case config.PlantDIP:
		return e.pendulum(), nil
	case config.PlantLinear:
		return e.pendulum().Linearize(), nil
	default:
		return nil, fmt.Errorf("unknown plant: %s", e.cfg.Plant.Type)
	}
}

func (e *Experiment) Integrator() (integrators.Integrator, error) {
	return integrators.Create(e.cfg.Integrator.Type, e.cfg.Simulation.Dt, e.cfg.Integrator.Params)
}

// Controls builds a fresh control source with its gains scaled by gainScale.
func (e *Experiment) Controls(gainScale float64) (orchestrator.ControlSource, error) {
	return e.registry.Controls(e.cfg.Controller, Env{
		Pendulum:  e.pendulum(),
		Dt:        e.cfg.Simulation.Dt,
		GainScale: gainScale,
	})
}

func (e *Experiment) SimConfig() orchestrator.Config {
	sim := e.cfg.Simulation
	return orchestrator.Config{
		Dt:      sim.Dt,
		Horizon: sim.Horizon,
		SimTime: sim.SimTime,
		UMax:    sim.UMax,
		Bounds:  e.cfg.Safety,
	}
}

func (e *Experiment) InitialState() dynamo.State {
	return dynamo.State(e.cfg.Plant.InitialState).Clone()
}

func (e *Experiment) options(extra ...orchestrator.Option) []orchestrator.Option {
	opts := []orchestrator.Option{
		orchestrator.WithLogger(e.log),
		orchestrator.WithMetrics(e.metrics),
	}
	return append(opts, extra...)
}

// Outcome is a finished run with its summary metrics.
type Outcome struct {
	Trajectory *result.Trajectory
	Metrics    map[string]float64
}

func (e *Experiment) evaluate(tr *result.Trajectory, plant dynamo.Deriver) map[string]float64 {
	return metrics.Evaluate(tr, DefaultMetrics(e.cfg, plant)...)
}

// Run executes one sequential run. Observers see every committed step.
func (e *Experiment) Run(ctx context.Context, observers ...dynamo.Observer) (*Outcome, error) {
	plant, integ, src, err := e.parts(1)
	if err != nil {
		return nil, err
	}
	opts := e.options()
	for _, o := range observers {
		opts = append(opts, orchestrator.WithObserver(o))
	}

	e.log.Info("starting run",
		zap.String("plant", e.cfg.Plant.Type),
		zap.String("integrator", integ.Name()),
		zap.String("controller", e.cfg.Controller.Type),
		zap.Int("horizon", e.cfg.Horizon()))

	tr, err := orchestrator.NewSequential(plant, integ, e.SimConfig(), opts...).Execute(ctx, e.InitialState(), src)
	if tr == nil {
		return nil, err
	}
	out := &Outcome{Trajectory: tr, Metrics: e.evaluate(tr, plant)}
	e.log.Info("run finished",
		zap.Stringer("status", tr.Status),
		zap.String("reason", tr.StopReason),
		zap.Int("steps", tr.Steps()))
	return out, err
}

func (e *Experiment) parts(gainScale float64) (dynamo.Deriver, integrators.Integrator, orchestrator.ControlSource, error) {
	plant, err := e.Plant()
	if err != nil {
		return nil, nil, nil, err
	}
	integ, err := e.Integrator()
	if err != nil {
		return nil, nil, nil, err
	}
	src, err := e.Controls(gainScale)
	if err != nil {
		return nil, nil, nil, err
	}
	return plant, integ, src, nil
}

// Perturbations draws n initial states around the configured one. Only the
// cart position and link angles are perturbed.
func (e *Experiment) Perturbations(n int) []dynamo.State {
	x0s := make([]dynamo.State, n)
	for i := range x0s {
		x := e.InitialState()
		for j := 0; j < 3 && j < len(x); j++ {
			x[j] += e.randSource.NormFloat64() * e.cfg.Simulation.Perturbation
		}
		x0s[i] = x
	}
	return x0s
}

// RunBatch replays the nominal closed-loop control sequence open-loop from
// n perturbed initial states. The nominal sequence is zero-padded when the
// nominal run was truncated.
func (e *Experiment) RunBatch(ctx context.Context, n int, workers int) (*result.BatchSet, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: batch size must be >= 1, got %d", config.ErrInvalid, n)
	}
	nominal, err := e.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("nominal run: %w", err)
	}
	us := nominal.Trajectory.Controls()
	for len(us) < e.cfg.Horizon() {
		us = append(us, dynamo.Control{0})
	}

	plant, err := e.Plant()
	if err != nil {
		return nil, err
	}
	integ, err := e.Integrator()
	if err != nil {
		return nil, err
	}
	b := orchestrator.NewBatch(plant, integ, e.SimConfig(), e.options()...)
	b.Workers = workers
	return b.Execute(ctx, e.Perturbations(n), us)
}

// RunRealTime paces a run against clock.
func (e *Experiment) RunRealTime(ctx context.Context, clock orchestrator.Clock, observers ...orchestrator.StepObserver) (*orchestrator.RealTimeReport, error) {
	plant, integ, src, err := e.parts(1)
	if err != nil {
		return nil, err
	}
	rt := orchestrator.RealTimeConfig{
		Factor:    e.cfg.RealTime.Factor,
		Tolerance: e.cfg.RealTime.Tolerance,
	}
	r := orchestrator.NewRealTime(plant, integ, e.SimConfig(), rt, clock, e.options()...)
	for _, o := range observers {
		r.AddStepObserver(o)
	}
	return r.Execute(ctx, e.InitialState(), src)
}

// Jobs describes one parallel job per gain scale. Sources are bound per
// run, so each job may share the one built here.
func (e *Experiment) Jobs(scales []float64) ([]orchestrator.Job, error) {
	jobs := make([]orchestrator.Job, len(scales))
	for i, scale := range scales {
		src, err := e.Controls(scale)
		if err != nil {
			return nil, fmt.Errorf("scale %g: %w", scale, err)
		}
		jobs[i] = orchestrator.Job{
			ID:         fmt.Sprintf("scale=%g", scale),
			Plant:      e.Plant,
			X0:         e.InitialState(),
			Config:     e.SimConfig(),
			Integrator: e.cfg.Integrator.Type,
			Params:     e.cfg.Integrator.Params,
			Controls:   func() orchestrator.ControlSource { return src },
		}
	}
	return jobs, nil
}

// SweepPoint is one gain scale of a sweep.
type SweepPoint struct {
	Scale   float64
	Result  orchestrator.JobResult
	Metrics map[string]float64
}

// Sweep runs the configured controller at each gain scale in parallel.
func (e *Experiment) Sweep(ctx context.Context, scales []float64) ([]SweepPoint, error) {
	jobs, err := e.Jobs(scales)
	if err != nil {
		return nil, err
	}
	plant, err := e.Plant()
	if err != nil {
		return nil, err
	}
	p := orchestrator.NewParallel(e.cfg.Parallel.Workers, integrators.Default, e.options()...)
	results := p.Run(ctx, jobs)

	points := make([]SweepPoint, len(results))
	for i, res := range results {
		points[i] = SweepPoint{Scale: scales[res.Index], Result: res}
		if res.Trajectory != nil {
			points[i].Metrics = e.evaluate(res.Trajectory, plant)
		}
	}
	return points, ctx.Err()
}
