package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/dipsim/internal/analysis"
	"github.com/san-kum/dipsim/internal/automation"
	"github.com/san-kum/dipsim/internal/config"
	"github.com/san-kum/dipsim/internal/experiment"
	"github.com/san-kum/dipsim/internal/integrators"
	"github.com/san-kum/dipsim/internal/optim"
	"github.com/san-kum/dipsim/internal/orchestrator"
	"github.com/san-kum/dipsim/internal/result"
	"github.com/san-kum/dipsim/internal/storage"
	"github.com/san-kum/dipsim/internal/tui"
)

var captions = []string{"cart position", "link 1 angle", "link 2 angle", "cart velocity", "link 1 rate", "link 2 rate"}

func newExperiment(a *app) (*experiment.Experiment, error) {
	return experiment.New(a.cfg, experiment.WithLogger(a.log), experiment.WithMetrics(a.metrics))
}

func runInfo(cfg *config.Config, mode string) storage.RunInfo {
	return storage.RunInfo{
		Plant:      cfg.Plant.Type,
		Integrator: cfg.Integrator.Type,
		Controller: cfg.Controller.Type,
		Mode:       mode,
		Seed:       cfg.Simulation.Seed,
		Dt:         cfg.Simulation.Dt,
		Horizon:    cfg.Horizon(),
		UMax:       cfg.Simulation.UMax,
	}
}

func save(a *app, mode string, tr *result.Trajectory, metrics map[string]float64) error {
	if noSave {
		return nil
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	id, err := st.Save(runInfo(a.cfg, mode), tr, metrics)
	if err != nil {
		return err
	}
	fmt.Printf("saved: %s\n", id)
	return nil
}

func printSummary(tr *result.Trajectory, metrics map[string]float64) {
	fmt.Printf("status: %s (%s)\n", tr.Status, tr.StopReason)
	fmt.Printf("steps: %d  t=%.3fs  evals: %d\n", tr.Steps(), tr.FinalTime(), tr.Evals())
	if tr.Violation != nil {
		fmt.Printf("violation: %v\n", tr.Violation)
	}
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-15s %.6g\n", name, metrics[name])
	}
}

func runCommand(simFlags func(*cobra.Command)) *cobra.Command {
	var exportPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run one closed-loop simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			exp, err := newExperiment(a)
			if err != nil {
				return err
			}
			out, err := exp.Run(cmd.Context())
			if out != nil {
				printSummary(out.Trajectory, out.Metrics)
				if serr := save(a, "sequential", out.Trajectory, out.Metrics); serr != nil {
					return serr
				}
				if exportPath != "" {
					if xerr := out.Trajectory.Export(formatOf(exportPath), exportPath); xerr != nil {
						return xerr
					}
				}
			}
			return err
		},
	}
	simFlags(cmd)
	cmd.Flags().StringVar(&exportPath, "export", "", "also write the trajectory to this .json or .csv file")
	return cmd
}

func formatOf(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return "json"
}

func batchCommand(simFlags func(*cobra.Command)) *cobra.Command {
	var n, workers int
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "replay the nominal control sequence from perturbed initial states",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			exp, err := newExperiment(a)
			if err != nil {
				return err
			}
			set, err := exp.RunBatch(cmd.Context(), n, workers)
			if set == nil {
				return err
			}

			ref, _ := set.Get(0)
			others := make([]*result.Trajectory, 0, set.Len()-1)
			for i := 1; i < set.Len(); i++ {
				tr, _ := set.Get(i)
				others = append(others, tr)
			}
			rates := analysis.DivergenceSpread(ref, others)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MEMBER\tSTATUS\tSTEPS\tACTIVE\tDIVERGENCE")
			for i := 0; i < set.Len(); i++ {
				tr, active := set.Get(i)
				div := "-"
				if i > 0 {
					div = fmt.Sprintf("%.4g", rates[i-1])
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%t\t%s\n", i, tr.Status, tr.Steps(), active, div)
			}
			if ferr := w.Flush(); ferr != nil {
				return ferr
			}
			fmt.Printf("active: %d/%d\n", set.ActiveCount(), set.Len())
			return err
		},
	}
	simFlags(cmd)
	cmd.Flags().IntVar(&n, "n", 8, "batch size")
	cmd.Flags().IntVar(&workers, "workers", 1, "goroutines per timestep")
	return cmd
}

func sweepCommand(simFlags func(*cobra.Command)) *cobra.Command {
	var scales []float64
	var workers int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "run the controller at several gain scales in parallel",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if cmd.Flags().Changed("workers") {
				a.cfg.Parallel.Workers = workers
			}

			exp, err := newExperiment(a)
			if err != nil {
				return err
			}
			points, err := exp.Sweep(cmd.Context(), scales)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCALE\tSTATUS\tSTEPS\tISE\tEFFORT\tELAPSED\tERROR")
			for _, p := range points {
				steps := 0
				if p.Result.Trajectory != nil {
					steps = p.Result.Trajectory.Steps()
				}
				errText := ""
				if p.Result.Err != nil {
					errText = p.Result.Err.Error()
				}
				fmt.Fprintf(w, "%g\t%s\t%d\t%.4g\t%.4g\t%s\t%s\n",
					p.Scale, p.Result.Status, steps,
					p.Metrics["ise"], p.Metrics["control_effort"],
					p.Result.Elapsed.Round(time.Microsecond), errText)
			}
			if ferr := w.Flush(); ferr != nil {
				return ferr
			}
			return err
		},
	}
	simFlags(cmd)
	cmd.Flags().Float64SliceVar(&scales, "scales", []float64{0.25, 0.5, 1, 2, 4}, "gain scales")
	cmd.Flags().IntVar(&workers, "workers", 4, "parallel workers")
	return cmd
}

func realtimeCommand(simFlags func(*cobra.Command)) *cobra.Command {
	var live bool
	var factor float64
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "pace a run against the wall clock",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if cmd.Flags().Changed("factor") {
				a.cfg.RealTime.Factor = factor
			}

			if live {
				// log lines would tear the live view
				a.log = zap.NewNop()
			}
			exp, err := newExperiment(a)
			if err != nil {
				return err
			}

			var report *orchestrator.RealTimeReport
			if live {
				p := a.cfg.Plant.Params
				report, err = tui.Run(cmd.Context(), a.cfg.Simulation.Dt, p.Length1, p.Length2,
					func(ctx context.Context, obs orchestrator.StepObserver) (*orchestrator.RealTimeReport, error) {
						return exp.RunRealTime(ctx, orchestrator.WallClock(), obs)
					})
			} else {
				report, err = exp.RunRealTime(cmd.Context(), orchestrator.WallClock())
			}
			if report == nil {
				return err
			}

			tr := report.Trajectory
			fmt.Printf("status: %s (%s)\n", tr.Status, tr.StopReason)
			fmt.Printf("deadline: %s  mean step: %s  worst step: %s\n", report.Deadline, report.MeanStep, report.WorstStep)
			fmt.Printf("misses: %d", report.Misses)
			if report.FailedOver {
				fmt.Printf("  failed over at step %d", report.FailoverStep)
			}
			fmt.Println()
			if serr := save(a, "realtime", tr, nil); serr != nil {
				return serr
			}
			return err
		},
	}
	simFlags(cmd)
	cmd.Flags().BoolVar(&live, "live", false, "show the run in the terminal")
	cmd.Flags().Float64Var(&factor, "factor", 1, "simulated seconds per wall second")
	return cmd
}

func tuneCommand(simFlags func(*cobra.Command)) *cobra.Command {
	var params []string
	var top int
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "grid search over controller settings",
		Long:  "grid search over controller settings, e.g. --param gain_scale=0.5,1,2 --param r=0.1,1",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			names, ranges, err := parseGrid(params)
			if err != nil {
				return err
			}
			g := optim.NewGridSearch(names, ranges).WithLogger(a.log)
			points, err := g.Search(cmd.Context(), a.cfg)
			if len(points) == 0 {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tSCORE\tSTATUS\tPARAMS")
			for i, p := range points {
				if i >= top {
					break
				}
				fmt.Fprintf(w, "%d\t%.6g\t%s\t%s\n", i+1, p.Score, p.Status, formatParams(names, p.Params))
			}
			if ferr := w.Flush(); ferr != nil {
				return ferr
			}
			return err
		},
	}
	simFlags(cmd)
	cmd.Flags().StringArrayVar(&params, "param", []string{"gain_scale=0.5,1,2"}, "name=v1,v2,... (repeatable)")
	cmd.Flags().IntVar(&top, "top", 5, "rows to show")
	return cmd
}

func parseGrid(specs []string) ([]string, [][]float64, error) {
	names := make([]string, 0, len(specs))
	ranges := make([][]float64, 0, len(specs))
	for _, spec := range specs {
		name, list, ok := strings.Cut(spec, "=")
		if !ok || name == "" || list == "" {
			return nil, nil, fmt.Errorf("bad --param %q, want name=v1,v2", spec)
		}
		var vals []float64
		for _, s := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("bad --param %q: %w", spec, err)
			}
			vals = append(vals, v)
		}
		names = append(names, name)
		ranges = append(ranges, vals)
	}
	return names, ranges, nil
}

func formatParams(names []string, params map[string]float64) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%g", n, params[n])
	}
	return strings.Join(parts, " ")
}

func integratorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "integrators",
		Short: "list available integrators",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tORDER\tADAPTIVE\tALIASES")
			for _, id := range integrators.Available() {
				d, err := integrators.Default.Describe(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%t\t%s\n", d.ID, d.Order, d.Adaptive, strings.Join(d.Aliases, ", "))
			}
			return w.Flush()
		},
	}
}

func presetsCommand() *cobra.Command {
	var show string
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "list presets, or save one as a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if show != "" {
				cfg := config.GetPreset(show)
				if cfg == nil {
					return fmt.Errorf("unknown preset: %s", show)
				}
				path := show + ".yaml"
				if err := config.Save(path, cfg); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", path)
				return nil
			}
			for _, name := range config.ListPresets() {
				fmt.Printf("  %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&show, "write", "", "write the named preset to <name>.yaml")
	return cmd
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := storage.New(dataDir).List()
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tSTATUS\tSTEPS\tDT\tINTEG\tCTRL")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.4fs\t%s\t%s\n",
					run.ID,
					run.Timestamp.Format("2006-01-02 15:04:05"),
					run.Status,
					run.Steps,
					run.Info.Dt,
					run.Info.Integrator,
					run.Info.Controller,
				)
			}
			return w.Flush()
		},
	}
}

func plotCommand() *cobra.Command {
	var vars []int
	cmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := storage.New(dataDir)
			meta, err := st.Load(args[0])
			if err != nil {
				return err
			}
			data, err := st.LoadStates(args[0])
			if err != nil {
				return err
			}
			if len(data.States) == 0 {
				return fmt.Errorf("no data to plot")
			}

			fmt.Printf("run: %s\n", meta.ID)
			fmt.Printf("status: %s\n", meta.Status)
			fmt.Printf("samples: %d\n\n", len(data.States))

			for _, idx := range vars {
				if idx < 0 || idx >= len(data.States[0]) {
					return fmt.Errorf("state index %d out of range", idx)
				}
				series := make([]float64, len(data.States))
				for i, x := range data.States {
					series[i] = x[idx]
				}
				caption := fmt.Sprintf("x%d", idx)
				if idx < len(captions) {
					caption = captions[idx]
				}
				fmt.Println(asciigraph.Plot(series,
					asciigraph.Height(10),
					asciigraph.Width(80),
					asciigraph.Caption(caption),
				))
				fmt.Println()
			}

			if len(data.Controls) > 0 && len(data.Controls[0]) > 0 {
				u := make([]float64, len(data.Controls))
				for i, c := range data.Controls {
					u[i] = c[0]
				}
				fmt.Println(asciigraph.Plot(u, asciigraph.Height(8), asciigraph.Width(80), asciigraph.Caption("cart force")))
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&vars, "vars", []int{0, 1, 2}, "state indices to plot")
	return cmd
}

func analyzeCommand() *cobra.Command {
	var xAxis, yAxis, crossIdx int
	var threshold float64
	cmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "spectrum, phase portrait and Poincare section of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := loadTrajectory(args[0])
			if err != nil {
				return err
			}

			for idx := 0; idx < 3; idx++ {
				f, err := analysis.DominantFrequency(tr, idx)
				if err != nil {
					return err
				}
				fmt.Printf("%-14s dominant frequency %.4g Hz\n", captions[idx], f)
			}

			_, amps, err := analysis.PowerSpectrum(tr, 1)
			if err != nil {
				return err
			}
			fmt.Println()
			fmt.Println(asciigraph.Plot(amps, asciigraph.Height(8), asciigraph.Width(80), asciigraph.Caption("link 1 angle spectrum")))
			fmt.Println()
			fmt.Print(analysis.PhasePortraitToASCII(analysis.PhasePortrait(tr, xAxis, yAxis), 60, 20))

			if crossIdx >= 0 {
				section := analysis.GeneratePoincareSection(tr, crossIdx, threshold, xAxis, yAxis)
				if section == nil {
					return fmt.Errorf("poincare section: state index out of range (cross %d, axes %d/%d)", crossIdx, xAxis, yAxis)
				}
				fmt.Printf("\n\npoincare section: x[%d] rising through %g, %d crossings\n", crossIdx, threshold, len(section.Points))
				fmt.Print(analysis.PoincareSectionToASCII(section, 60, 20))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&xAxis, "x-axis", 1, "state index for x-axis")
	cmd.Flags().IntVar(&yAxis, "y-axis", 4, "state index for y-axis")
	cmd.Flags().IntVar(&crossIdx, "poincare", -1, "also plot the Poincare section where this state index rises through --threshold")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "crossing level for --poincare")
	return cmd
}

// loadTrajectory rebuilds a stored run from its states table.
func loadTrajectory(runID string) (*result.Trajectory, error) {
	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return nil, err
	}
	data, err := st.LoadStates(runID)
	if err != nil {
		return nil, err
	}
	if len(data.States) == 0 {
		return nil, fmt.Errorf("run %s has no states", runID)
	}

	tr := result.New(data.States[0], meta.Info.Dt, len(data.States)-1)
	tr.Start()
	for i := 1; i < len(data.States); i++ {
		tr.Append(data.Controls[i-1], data.States[i], result.StepMeta{})
	}
	switch meta.Status {
	case result.StatusTruncated:
		tr.Truncate(meta.TruncatedAt, meta.StopReason, nil)
	default:
		tr.Complete(meta.StopReason)
	}
	return tr, nil
}

func exportCommand() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := loadTrajectory(args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + "." + format
			}
			if err := tr.Export(format, out); err != nil {
				return err
			}
			fmt.Printf("exported to: %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "export format ("+strings.Join(result.Formats(), ", ")+")")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path")
	return cmd
}


func scenarioCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scenario [file]",
		Short: "run a scripted sequence of simulations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			sc, err := automation.LoadScenario(args[0])
			if err != nil {
				return err
			}
			st := storage.New(dataDir)
			if err := st.Init(); err != nil {
				return err
			}
			r := &automation.Runner{Store: st, Log: a.log, Metrics: a.metrics}
			results, err := r.RunScenario(cmd.Context(), sc)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STEP\tSTATUS\tSTEPS\tISE\tRUN")
			for _, res := range results {
				tr := res.Outcome.Trajectory
				fmt.Fprintf(w, "%s\t%s\t%d\t%.4g\t%s\n", res.Name, tr.Status, tr.Steps(), res.Outcome.Metrics["ise"], res.RunID)
			}
			if ferr := w.Flush(); ferr != nil {
				return ferr
			}
			return err
		},
	}
}

func monteCarloCommand(simFlags func(*cobra.Command)) *cobra.Command {
	var trials int
	var spread float64
	cmd := &cobra.Command{
		Use:   "montecarlo",
		Short: "closed-loop trials from random initial perturbations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if cmd.Flags().Changed("spread") {
				a.cfg.Simulation.Perturbation = spread
			}

			exp, err := newExperiment(a)
			if err != nil {
				return err
			}
			results, err := automation.RunMonteCarlo(cmd.Context(), exp,
				trials, orchestrator.WithLogger(a.log), orchestrator.WithMetrics(a.metrics))
			stable, unstable := automation.MonteCarloStats(results)
			fmt.Printf("trials: %d  stable: %d  unstable: %d\n", len(results), stable, unstable)
			for _, r := range results {
				if !r.Stable {
					fmt.Printf("  trial %d: %s from %v\n", r.TrialID, r.Status, r.InitState)
				}
			}
			return err
		},
	}
	simFlags(cmd)
	cmd.Flags().IntVar(&trials, "trials", 50, "number of trials")
	cmd.Flags().Float64Var(&spread, "spread", 0.05, "standard deviation of the initial perturbation")
	return cmd
}
