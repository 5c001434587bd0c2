// Package optim tunes controller settings by exhaustive grid search.
package optim

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/san-kum/dipsim/internal/config"
	"github.com/san-kum/dipsim/internal/experiment"
	"github.com/san-kum/dipsim/internal/integrators"
	"github.com/san-kum/dipsim/internal/metrics"
	"github.com/san-kum/dipsim/internal/orchestrator"
	"github.com/san-kum/dipsim/internal/result"
)

// Tunable parameters.
const (
	ParamGainScale = "gain_scale"
	ParamQAngle    = "q_angle"
	ParamR         = "r"
	ParamMaxForce  = "max_force"
)

// Apply sets one tunable parameter on cfg.
func Apply(cfg *config.Config, name string, value float64) error {
	switch name {
	case ParamGainScale:
		// applied when the control source is built
	case ParamQAngle:
		if len(cfg.Controller.Q) < 3 {
			return fmt.Errorf("%w: q needs angle weights", config.ErrInvalid)
		}
		cfg.Controller.Q[1] = value
		cfg.Controller.Q[2] = value
	case ParamR:
		cfg.Controller.R = []float64{value}
	case ParamMaxForce:
		cfg.Controller.MaxForce = value
	default:
		return fmt.Errorf("unknown parameter: %s", name)
	}
	return nil
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64

	// Penalty is added per second of simulated time a truncated run fell
	// short of the horizon.
	Penalty float64

	log *zap.Logger
}

func NewGridSearch(params []string, ranges [][]float64) *GridSearch {
	return &GridSearch{paramNames: params, ranges: ranges, Penalty: 1e3, log: zap.NewNop()}
}

func (g *GridSearch) WithLogger(l *zap.Logger) *GridSearch {
	if l != nil {
		g.log = l
	}
	return g
}

// Point is one evaluated grid point.
type Point struct {
	Params map[string]float64
	Score  float64
	Status result.Status
	Err    error
}

// Search scores every grid point in parallel and returns them best first.
// The score is the run's ISE plus Penalty per second of missing horizon.
func (g *GridSearch) Search(ctx context.Context, base *config.Config) ([]Point, error) {
	if len(g.paramNames) != len(g.ranges) {
		return nil, fmt.Errorf("%w: %d parameters but %d ranges", config.ErrInvalid, len(g.paramNames), len(g.ranges))
	}

	var grid []map[string]float64
	g.searchRecursive(0, make(map[string]float64), &grid)

	jobs := make([]orchestrator.Job, 0, len(grid))
	exps := make([]*experiment.Experiment, 0, len(grid))
	for _, params := range grid {
		exp, job, err := g.build(base, params)
		if err != nil {
			return nil, err
		}
		exps = append(exps, exp)
		jobs = append(jobs, job)
	}

	par := orchestrator.NewParallel(base.Parallel.Workers, integrators.Default, orchestrator.WithLogger(g.log))
	results := par.Run(ctx, jobs)

	points := make([]Point, len(results))
	for i, res := range results {
		p := Point{Params: grid[res.Index], Status: res.Status, Err: res.Err, Score: math.Inf(1)}
		if res.Trajectory != nil {
			p.Score = g.score(exps[res.Index], res.Trajectory)
		}
		points[i] = p
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Score < points[j].Score })

	if len(points) > 0 {
		g.log.Info("grid search finished",
			zap.Int("points", len(points)),
			zap.Any("best", points[0].Params),
			zap.Float64("score", points[0].Score))
	}
	return points, ctx.Err()
}

func (g *GridSearch) build(base *config.Config, params map[string]float64) (*experiment.Experiment, orchestrator.Job, error) {
	cfg := base.Clone()
	scale := 1.0
	for name, v := range params {
		if err := Apply(cfg, name, v); err != nil {
			return nil, orchestrator.Job{}, err
		}
		if name == ParamGainScale {
			scale = v
		}
	}
	exp, err := experiment.New(cfg)
	if err != nil {
		return nil, orchestrator.Job{}, fmt.Errorf("grid point %v: %w", params, err)
	}
	jobs, err := exp.Jobs([]float64{scale})
	if err != nil {
		return nil, orchestrator.Job{}, fmt.Errorf("grid point %v: %w", params, err)
	}
	return exp, jobs[0], nil
}

func (g *GridSearch) score(exp *experiment.Experiment, tr *result.Trajectory) float64 {
	cfg := exp.Config()
	r := 1.0
	if len(cfg.Controller.R) > 0 {
		r = cfg.Controller.R[0]
	}
	vals := metrics.Evaluate(tr, metrics.NewISE(cfg.Controller.Q, r))
	score := vals["ise"]
	if tr.Status != result.StatusCompleted {
		missing := float64(cfg.Horizon()-tr.Steps()) * cfg.Simulation.Dt
		score += g.Penalty * missing
	}
	if math.IsNaN(score) {
		return math.Inf(1)
	}
	return score
}

func (g *GridSearch) searchRecursive(depth int, current map[string]float64, grid *[]map[string]float64) {
	if depth == len(g.paramNames) {
		point := make(map[string]float64, len(current))
		for k, v := range current {
			point[k] = v
		}
		*grid = append(*grid, point)
		return
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		current[paramName] = val
		g.searchRecursive(depth+1, current, grid)
	}
	delete(current, paramName)
}
