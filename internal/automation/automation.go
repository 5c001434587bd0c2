// Package automation scripts multi-run studies: YAML scenarios and
// closed-loop Monte Carlo trials.
package automation

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/dipsim/internal/config"
	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/experiment"
	"github.com/san-kum/dipsim/internal/integrators"
	"github.com/san-kum/dipsim/internal/orchestrator"
	"github.com/san-kum/dipsim/internal/result"
	"github.com/san-kum/dipsim/internal/storage"
)

// Scenario defines a scripted simulation sequence
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []ScenarioStep `yaml:"steps"`
}

// ScenarioStep starts from a preset (upright when empty) and overrides the
// fields it sets.
type ScenarioStep struct {
	Name         string    `yaml:"name"`
	Preset       string    `yaml:"preset"`
	Integrator   string    `yaml:"integrator"`
	Controller   string    `yaml:"controller"`
	SimTime      float64   `yaml:"sim_time"`
	Dt           float64   `yaml:"dt"`
	UMax         *float64  `yaml:"u_max"`
	InitialState []float64 `yaml:"initial_state"`
	Save         bool      `yaml:"save"`
}

// Config resolves the step into a full run config.
func (s ScenarioStep) Config() (*config.Config, error) {
	name := s.Preset
	if name == "" {
		name = "upright"
	}
	cfg := config.GetPreset(name)
	if cfg == nil {
		return nil, fmt.Errorf("unknown preset: %s", name)
	}
	if s.Integrator != "" {
		cfg.Integrator = config.IntegratorConfig{Type: s.Integrator}
	}
	if s.Controller != "" {
		cfg.Controller.Type = s.Controller
	}
	if s.Dt > 0 {
		cfg.Simulation.Dt = s.Dt
	}
	if s.SimTime > 0 {
		cfg.Simulation.SimTime = s.SimTime
		cfg.Simulation.Horizon = 0
	}
	if s.UMax != nil {
		u := *s.UMax
		cfg.Simulation.UMax = &u
	}
	if s.InitialState != nil {
		cfg.Plant.InitialState = append([]float64(nil), s.InitialState...)
	}
	return cfg, cfg.Validate()
}

// LoadScenario loads a scenario from a YAML file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("%w: scenario %q has no steps", config.ErrInvalid, scenario.Name)
	}

	return &scenario, nil
}

type StepResult struct {
	Name    string
	RunID   string
	Outcome *experiment.Outcome
}

// Runner executes scenarios. A nil Store skips saving.
type Runner struct {
	Store   *storage.Store
	Log     *zap.Logger
	Metrics *orchestrator.Metrics
}

// RunScenario executes all steps in order and stops at the first error.
func (r *Runner) RunScenario(ctx context.Context, scenario *Scenario) ([]StepResult, error) {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	results := make([]StepResult, 0, len(scenario.Steps))

	for i, step := range scenario.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step-%d", i+1)
		}
		log.Info("scenario step",
			zap.String("scenario", scenario.Name),
			zap.String("step", name),
			zap.Int("index", i+1),
			zap.Int("of", len(scenario.Steps)))

		cfg, err := step.Config()
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}
		exp, err := experiment.New(cfg, experiment.WithLogger(log), experiment.WithMetrics(r.Metrics))
		if err != nil {
			return results, fmt.Errorf("step %d setup: %w", i+1, err)
		}

		out, err := exp.Run(ctx)
		if err != nil {
			return results, fmt.Errorf("step %d run: %w", i+1, err)
		}
		res := StepResult{Name: name, Outcome: out}

		if step.Save && r.Store != nil {
			info := storage.RunInfo{
				Plant:      cfg.Plant.Type,
				Integrator: cfg.Integrator.Type,
				Controller: cfg.Controller.Type,
				Mode:       "scenario",
				Seed:       cfg.Simulation.Seed,
				Dt:         cfg.Simulation.Dt,
				Horizon:    cfg.Horizon(),
				UMax:       cfg.Simulation.UMax,
			}
			if res.RunID, err = r.Store.Save(info, out.Trajectory, out.Metrics); err != nil {
				return results, fmt.Errorf("step %d save: %w", i+1, err)
			}
		}

		results = append(results, res)
	}

	return results, nil
}

// MonteCarloResult is one closed-loop trial from a perturbed start.
type MonteCarloResult struct {
	TrialID    int
	InitState  dynamo.State
	FinalState dynamo.State
	Status     result.Status
	Err        error
	// Stable is true when the trial ran its whole horizon.
	Stable bool
}

// RunMonteCarlo runs n closed-loop trials from the experiment's seeded
// perturbations on a parallel pool.
func RunMonteCarlo(ctx context.Context, exp *experiment.Experiment, n int, opts ...orchestrator.Option) ([]MonteCarloResult, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: trials must be >= 1, got %d", config.ErrInvalid, n)
	}
	template, err := exp.Jobs([]float64{1})
	if err != nil {
		return nil, err
	}

	starts := exp.Perturbations(n)
	jobs := make([]orchestrator.Job, n)
	for i, x0 := range starts {
		job := template[0]
		job.ID = fmt.Sprintf("trial-%d", i)
		job.X0 = x0
		jobs[i] = job
	}

	par := orchestrator.NewParallel(exp.Config().Parallel.Workers, integrators.Default, opts...)
	out := make([]MonteCarloResult, n)
	for _, res := range par.Run(ctx, jobs) {
		mc := MonteCarloResult{
			TrialID:   res.Index,
			InitState: starts[res.Index],
			Status:    res.Status,
			Err:       res.Err,
			Stable:    res.Status == result.StatusCompleted,
		}
		if res.Trajectory != nil {
			mc.FinalState = res.Trajectory.Final()
		}
		out[res.Index] = mc
	}
	return out, ctx.Err()
}

// MonteCarloStats computes summary statistics from Monte Carlo results
func MonteCarloStats(results []MonteCarloResult) (stableCount int, unstableCount int) {
	for _, r := range results {
		if r.Stable {
			stableCount++
		} else {
			unstableCount++
		}
	}
	return
}
