package config

import (
	"math"
	"sort"

	"github.com/san-kum/dipsim/internal/safety"
)

var presets = map[string]func() *Config{
	// LQR holding a small tilt
	"upright": DefaultConfig,

	"perturbed": func() *Config {
		cfg := DefaultConfig()
		cfg.Plant.InitialState = []float64{0, 0.2, -0.15, 0, 0.3, 0}
		u := 30.0
		cfg.Simulation.UMax = &u
		cfg.Simulation.SimTime = 15
		return cfg
	},

	// no control from just below the upright: the links fall and swing
	"falling": func() *Config {
		cfg := DefaultConfig()
		cfg.Controller.Type = ControllerZero
		cfg.Controller.Fallback = ""
		cfg.Integrator = IntegratorConfig{Type: "rk45", Params: map[string]float64{"rtol": 1e-8, "atol": 1e-10}}
		cfg.Plant.InitialState = []float64{0, 0.3, 0.1, 0, 0, 0}
		cfg.Safety.Components = []safety.Range{{Index: 0, Min: -50, Max: 50}}
		cfg.Safety.MaxEnergy = 0
		cfg.Simulation.SimTime = 10
		return cfg
	},

	// heavy cart friction makes the cart mode stiff
	"stiff": func() *Config {
		cfg := DefaultConfig()
		cfg.Plant.Params.CartFriction = 500
		cfg.Integrator = IntegratorConfig{Type: "backward_euler", Params: map[string]float64{"max_iter": 30, "tol": 1e-10}}
		cfg.Simulation.Dt = 0.005
		cfg.Simulation.SimTime = 5
		cfg.Safety.Components[1].Max = math.Pi
		cfg.Safety.Components[1].Min = -math.Pi
		return cfg
	},

	// real-time hardware-in-the-loop pacing at half speed
	"hil": func() *Config {
		cfg := DefaultConfig()
		cfg.Integrator = IntegratorConfig{Type: "zoh"}
		cfg.Plant.Type = PlantLinear
		cfg.RealTime.Factor = 0.5
		cfg.Simulation.SimTime = 2
		return cfg
	},
}

// GetPreset returns a fresh copy of the named preset, or nil.
func GetPreset(name string) *Config {
	build, ok := presets[name]
	if !ok {
		return nil
	}
	return build()
}

func ListPresets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
