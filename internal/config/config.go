// Package config loads and validates dipsim run descriptions.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/dipsim/internal/integrators"
	"github.com/san-kum/dipsim/internal/logging"
	"github.com/san-kum/dipsim/internal/physics"
	"github.com/san-kum/dipsim/internal/safety"
)

var ErrInvalid = errors.New("config: invalid")

const (
	DefaultDt      = 0.01
	DefaultSimTime = 10.0
	DefaultFactor  = 1.0
)

// Plant types.
const (
	PlantDIP    = "double_inverted_pendulum"
	PlantLinear = "linearized"
)

// Controller types.
const (
	ControllerZero = "zero"
	ControllerLQR  = "lqr"
	ControllerPID  = "pid"
)

type Config struct {
	Plant      PlantConfig      `yaml:"plant"`
	Integrator IntegratorConfig `yaml:"integrator"`
	Controller ControllerConfig `yaml:"controller"`
	Simulation SimulationConfig `yaml:"simulation"`
	Safety     safety.Bounds    `yaml:"safety"`
	RealTime   RealTimeConfig   `yaml:"realtime"`
	Parallel   ParallelConfig   `yaml:"parallel"`
	Logging    logging.Config   `yaml:"logging"`
}

type PlantConfig struct {
	Type         string                         `yaml:"type"`
	Params       physics.DoubleInvertedPendulum `yaml:"params"`
	InitialState []float64                      `yaml:"initial_state"`
}

type IntegratorConfig struct {
	Type   string             `yaml:"type"`
	Params integrators.Params `yaml:"params,omitempty"`
}

type ControllerConfig struct {
	Type string `yaml:"type"`
	// Gains overrides the designed LQR gain when set.
	Gains    [][]float64 `yaml:"gains,omitempty"`
	Q        []float64   `yaml:"q,omitempty"`
	R        []float64   `yaml:"r,omitempty"`
	MaxForce float64     `yaml:"max_force"`
	Kp       float64     `yaml:"kp"`
	Ki       float64     `yaml:"ki"`
	Kd       float64     `yaml:"kd"`
	Target   float64     `yaml:"target"`
	Index    int         `yaml:"index"`
	// Fallback names the controller a real-time run fails over to.
	Fallback string `yaml:"fallback,omitempty"`
}

type SimulationConfig struct {
	Dt      float64  `yaml:"dt"`
	Horizon int      `yaml:"horizon"`
	SimTime float64  `yaml:"sim_time"`
	UMax    *float64 `yaml:"u_max,omitempty"`
	// Seed drives the initial-state perturbations of batch runs.
	Seed int64 `yaml:"seed"`
	// Perturbation is the spread of those perturbations.
	Perturbation float64 `yaml:"perturbation"`
}

type RealTimeConfig struct {
	Factor    float64       `yaml:"factor"`
	Tolerance time.Duration `yaml:"tolerance"`
}

type ParallelConfig struct {
	Workers int `yaml:"workers"`
}

func DefaultConfig() *Config {
	return &Config{
		Plant: PlantConfig{
			Type:         PlantDIP,
			Params:       *physics.NewDoubleInvertedPendulum(),
			InitialState: []float64{0, 0.05, -0.05, 0, 0, 0},
		},
		Integrator: IntegratorConfig{Type: "rk4"},
		Controller: ControllerConfig{
			Type:     ControllerLQR,
			Q:        []float64{10, 100, 100, 1, 1, 1},
			R:        []float64{1},
			MaxForce: 50,
			Kp:       40,
			Kd:       5,
			Index:    1,
			Fallback: ControllerZero,
		},
		Simulation: SimulationConfig{
			Dt:           DefaultDt,
			SimTime:      DefaultSimTime,
			Seed:         1,
			Perturbation: 0.02,
		},
		Safety: safety.Bounds{
			MaxEnergy: 100,
			Components: []safety.Range{
				{Index: 0, Min: -5, Max: 5},
				{Index: 1, Min: -math.Pi / 2, Max: math.Pi / 2},
				{Index: 2, Min: -math.Pi / 2, Max: math.Pi / 2},
			},
		},
		RealTime: RealTimeConfig{Factor: DefaultFactor, Tolerance: 2 * time.Millisecond},
		Parallel: ParallelConfig{Workers: 4},
		Logging:  logging.DefaultConfig(),
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := LoadInto(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadInto decodes the file at path over cfg, so keys the file leaves out
// keep their current values. Naming a different integrator drops the
// parameters of the old one.
func LoadInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var head struct {
		Integrator struct {
			Type string `yaml:"type"`
		} `yaml:"integrator"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if head.Integrator.Type != "" && head.Integrator.Type != cfg.Integrator.Type {
		cfg.Integrator.Params = nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Horizon is the number of steps to run: simulation.horizon when set,
// otherwise sim_time/dt rounded.
func (c *Config) Horizon() int {
	if c.Simulation.Horizon > 0 || c.Simulation.Dt <= 0 {
		return c.Simulation.Horizon
	}
	return int(math.Round(c.Simulation.SimTime / c.Simulation.Dt))
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Plant.InitialState = append([]float64(nil), c.Plant.InitialState...)
	if c.Integrator.Params != nil {
		out.Integrator.Params = make(integrators.Params, len(c.Integrator.Params))
		for k, v := range c.Integrator.Params {
			out.Integrator.Params[k] = v
		}
	}
	out.Controller.Q = append([]float64(nil), c.Controller.Q...)
	out.Controller.R = append([]float64(nil), c.Controller.R...)
	if c.Controller.Gains != nil {
		out.Controller.Gains = make([][]float64, len(c.Controller.Gains))
		for i, row := range c.Controller.Gains {
			out.Controller.Gains[i] = append([]float64(nil), row...)
		}
	}
	if c.Simulation.UMax != nil {
		u := *c.Simulation.UMax
		out.Simulation.UMax = &u
	}
	out.Safety.Components = append([]safety.Range(nil), c.Safety.Components...)
	return &out
}

func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch c.Plant.Type {
	case PlantDIP, PlantLinear:
	default:
		add("unknown plant type %q", c.Plant.Type)
	}
	if err := c.Plant.Params.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: plant: %w", ErrInvalid, err))
	}
	if len(c.Plant.InitialState) != 6 {
		add("initial_state needs 6 components, got %d", len(c.Plant.InitialState))
	}

	if _, err := integrators.Default.Describe(c.Integrator.Type); err != nil {
		errs = append(errs, fmt.Errorf("%w: integrator: %w", ErrInvalid, err))
	}

	switch c.Controller.Type {
	case ControllerZero, ControllerPID:
	case ControllerLQR:
		if c.Controller.Gains == nil && (len(c.Controller.Q) != 6 || len(c.Controller.R) != 1) {
			add("lqr needs 6 q weights and 1 r weight, got %d and %d", len(c.Controller.Q), len(c.Controller.R))
		}
	default:
		add("unknown controller type %q", c.Controller.Type)
	}
	switch c.Controller.Fallback {
	case "", ControllerZero, ControllerLQR, ControllerPID:
	default:
		add("unknown fallback controller %q", c.Controller.Fallback)
	}
	if c.Controller.MaxForce < 0 {
		add("max_force must be >= 0, got %g", c.Controller.MaxForce)
	}

	if !(c.Simulation.Dt > 0) {
		add("dt must be positive, got %g", c.Simulation.Dt)
	}
	if c.Simulation.Horizon < 0 || c.Simulation.SimTime < 0 {
		add("horizon and sim_time must be >= 0")
	}
	if c.Simulation.UMax != nil && *c.Simulation.UMax < 0 {
		add("u_max must be >= 0, got %g", *c.Simulation.UMax)
	}
	if err := c.Safety.Validate(6); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	if !(c.RealTime.Factor > 0) {
		add("realtime factor must be positive, got %g", c.RealTime.Factor)
	}
	if c.Parallel.Workers < 1 {
		add("parallel workers must be >= 1, got %d", c.Parallel.Workers)
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}

	return errors.Join(errs...)
}
