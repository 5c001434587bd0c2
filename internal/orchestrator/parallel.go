package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/integrators"
	"github.com/san-kum/dipsim/internal/result"
)

// PlantFactory builds a plant instance owned by a single job.
type PlantFactory func() (dynamo.Deriver, error)

// Job is one independent sequential run. The plant, integrator and control
// source are built inside the worker that runs it.
type Job struct {
	ID     string
	Plant  PlantFactory
	X0     dynamo.State
	Config Config

	Integrator string
	Params     integrators.Params

	// Controls returns a fresh source for the job; nil means zero control.
	Controls func() ControlSource
}

type JobResult struct {
	Index      int
	ID         string
	Trajectory *result.Trajectory
	Status     result.Status
	Err        error
	Elapsed    time.Duration
}

// Parallel runs jobs on a fixed pool of workers.
type Parallel struct {
	workers  int
	registry *integrators.Registry
	opts     options
}

func NewParallel(workers int, registry *integrators.Registry, opts ...Option) *Parallel {
	if workers < 1 {
		workers = 1
	}
	if registry == nil {
		registry = integrators.Default
	}
	return &Parallel{workers: workers, registry: registry, opts: buildOptions(opts)}
}

func (p *Parallel) Workers() int { return p.workers }

// Run executes every job and returns the results in submission order. A job
// that errors or panics is reported as failed; the others are unaffected.
// Jobs not started before ctx is done fail with the context error.
func (p *Parallel) Run(ctx context.Context, jobs []Job) []JobResult {
	results := make([]JobResult, len(jobs))
	for i, job := range jobs {
		results[i] = JobResult{Index: i, ID: job.ID, Status: result.StatusInit}
	}

	queue := make(chan int)
	var g errgroup.Group

	workers := p.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range queue {
				results[i] = p.runJob(ctx, i, jobs[i])
			}
			return nil
		})
	}

feed:
	for i := range jobs {
		select {
		case queue <- i:
		case <-ctx.Done():
			for j := i; j < len(jobs); j++ {
				results[j].Status = result.StatusFailed
				results[j].Err = ctx.Err()
			}
			break feed
		}
	}
	close(queue)
	_ = g.Wait()

	return results
}

func (p *Parallel) runJob(ctx context.Context, index int, job Job) (res JobResult) {
	res = JobResult{Index: index, ID: job.ID}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Trajectory = nil
			res.Status = result.StatusFailed
			res.Err = fmt.Errorf("job %d panicked: %v", index, r)
		}
		res.Elapsed = time.Since(start)
		p.opts.metrics.job(res.Status)
		if res.Status == result.StatusFailed {
			p.opts.logger.Error("job failed",
				zap.Int("index", index),
				zap.String("id", job.ID),
				zap.Error(res.Err))
		}
	}()

	tr, err := p.execute(ctx, job)
	res.Trajectory = tr
	res.Err = err
	switch {
	case tr == nil:
		res.Status = result.StatusFailed
	default:
		res.Status = tr.Status
	}
	return res
}

func (p *Parallel) execute(ctx context.Context, job Job) (*result.Trajectory, error) {
	if job.Plant == nil {
		return nil, fmt.Errorf("%w: job has no plant factory", dynamo.ErrInvalidConfig)
	}
	plant, err := job.Plant()
	if err != nil {
		return nil, fmt.Errorf("build plant: %w", err)
	}
	integ, err := p.registry.Create(job.Integrator, job.Config.Dt, job.Params)
	if err != nil {
		return nil, err
	}

	var src ControlSource
	if job.Controls != nil {
		src = job.Controls()
	}
	if src == nil {
		src = Constant(zeroControlFor(plant))
	}

	// observers are not goroutine-safe in general and stay with sequential runs
	opts := p.opts
	opts.observers = nil
	seq := &Sequential{plant: plant, integ: integ, config: job.Config, opts: opts}
	return seq.executeMode(ctx, "parallel", job.X0, src)
}

func zeroControlFor(plant dynamo.Deriver) dynamo.Control {
	if sys, ok := plant.(dynamo.System); ok {
		return make(dynamo.Control, sys.ControlDim())
	}
	return dynamo.Control{}
}
