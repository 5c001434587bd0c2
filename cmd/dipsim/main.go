package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/san-kum/dipsim/internal/config"
	"github.com/san-kum/dipsim/internal/logging"
	"github.com/san-kum/dipsim/internal/orchestrator"
)

var (
	dataDir     string
	configFile  string
	preset      string
	logLevel    string
	logFormat   string
	metricsAddr string

	dt         float64
	duration   float64
	horizon    int
	uMax       float64
	seed       int64
	integrator string
	controller string
	noSave     bool
)

// app carries what every command needs once flags are parsed.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *orchestrator.Metrics
	stop    func()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "dipsim",
		Short:         "double inverted pendulum simulation core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dataDir, "data", ".dipsim", "data directory")
	pf.StringVar(&configFile, "config", "", "config file path (yaml)")
	pf.StringVar(&preset, "preset", "", "use preset configuration")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "", "log format (console, json)")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")

	simFlags := func(cmd *cobra.Command) {
		f := cmd.Flags()
		f.Float64Var(&dt, "dt", config.DefaultDt, "timestep")
		f.Float64Var(&duration, "time", config.DefaultSimTime, "simulated duration in seconds")
		f.IntVar(&horizon, "steps", 0, "number of steps (overrides --time)")
		f.Float64Var(&uMax, "u-max", 0, "force limit applied to every control")
		f.Int64Var(&seed, "seed", 1, "random seed for perturbations")
		f.StringVar(&integrator, "integrator", "rk4", "integrator")
		f.StringVar(&controller, "controller", config.ControllerLQR, "controller (zero, lqr, pid)")
		f.BoolVar(&noSave, "no-save", false, "do not store the run")
	}

	rootCmd.AddCommand(
		runCommand(simFlags),
		batchCommand(simFlags),
		sweepCommand(simFlags),
		realtimeCommand(simFlags),
		tuneCommand(simFlags),
		monteCarloCommand(simFlags),
		scenarioCommand(),
		integratorsCommand(),
		presetsCommand(),
		listCommand(),
		plotCommand(),
		analyzeCommand(),
		exportCommand(),
	)
	return rootCmd
}

// setup resolves the run config (defaults, then preset, then file, then
// flags), builds the logger and starts the metrics endpoint if asked.
func setup(cmd *cobra.Command) (*app, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %s)", preset, strings.Join(config.ListPresets(), ", "))
		}
	}
	if configFile != "" {
		if err := config.LoadInto(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("dt") {
		cfg.Simulation.Dt = dt
	}
	if flags.Changed("time") {
		cfg.Simulation.SimTime = duration
		cfg.Simulation.Horizon = 0
	}
	if flags.Changed("steps") {
		cfg.Simulation.Horizon = horizon
	}
	if flags.Changed("u-max") {
		u := uMax
		cfg.Simulation.UMax = &u
	}
	if flags.Changed("seed") {
		cfg.Simulation.Seed = seed
	}
	if flags.Changed("integrator") {
		cfg.Integrator.Type = integrator
		cfg.Integrator.Params = nil
	}
	if flags.Changed("controller") {
		cfg.Controller.Type = controller
	}
	if logLevel != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
			return nil, err
		}
		cfg.Logging.Level = lvl
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, stop: func() {}}
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		a.metrics = orchestrator.NewMetrics(reg)
		a.stop = serveMetrics(metricsAddr, reg, log)
	}
	return a, nil
}

func (a *app) close() {
	a.stop()
	_ = logging.Sync(a.log)
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
