package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/integrators"
	"github.com/san-kum/dipsim/internal/result"
)

func growthJob(id string, x0 float64) Job {
	return Job{
		ID:         id,
		Plant:      func() (dynamo.Deriver, error) { return growth{dim: 1}, nil },
		X0:         dynamo.State{x0},
		Config:     boundedGrowth(100),
		Integrator: "rk4",
	}
}

func TestParallelResultsInSubmissionOrder(t *testing.T) {
	g := NewWithT(t)

	jobs := make([]Job, 20)
	for i := range jobs {
		jobs[i] = growthJob(fmt.Sprintf("job-%d", i), float64(i)*0.5)
	}

	results := NewParallel(4, nil).Run(context.Background(), jobs)
	g.Expect(results).To(HaveLen(len(jobs)))

	for i, res := range results {
		g.Expect(res.Index).To(Equal(i))
		g.Expect(res.ID).To(Equal(jobs[i].ID))
		g.Expect(res.Err).NotTo(HaveOccurred())

		alone, err := NewSequential(growth{dim: 1}, rk4(t, 0.01), jobs[i].Config).
			Execute(context.Background(), jobs[i].X0, Constant(dynamo.Control{0}))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(res.Status).To(Equal(alone.Status))
		g.Expect(res.Trajectory.Final().Equal(alone.Final())).To(BeTrue())
	}
}

func TestParallelIsolatesFailures(t *testing.T) {
	g := NewWithT(t)
	core, logs := observer.New(zapcore.ErrorLevel)
	m := NewMetrics(prometheus.NewRegistry())

	panicking := growthJob("panics", 1)
	panicking.Plant = func() (dynamo.Deriver, error) { panic("factory exploded") }

	erroring := growthJob("errors", 1)
	erroring.Plant = func() (dynamo.Deriver, error) { return nil, errors.New("no plant") }

	unknown := growthJob("unknown", 1)
	unknown.Integrator = "simpson"

	jobs := []Job{growthJob("ok-0", 0.1), panicking, erroring, unknown, growthJob("ok-1", 0.2), growthJob("truncates", 9)}
	results := NewParallel(2, integrators.Default, WithLogger(zap.New(core)), WithMetrics(m)).Run(context.Background(), jobs)

	g.Expect(results[0].Status).To(Equal(result.StatusCompleted))
	g.Expect(results[1].Status).To(Equal(result.StatusFailed))
	g.Expect(results[1].Err).To(MatchError(ContainSubstring("factory exploded")))
	g.Expect(results[2].Status).To(Equal(result.StatusFailed))
	g.Expect(results[2].Err).To(MatchError(ContainSubstring("no plant")))
	g.Expect(results[3].Status).To(Equal(result.StatusFailed))
	g.Expect(results[3].Err).To(MatchError(integrators.ErrUnknownIntegrator))
	g.Expect(results[4].Status).To(Equal(result.StatusCompleted))
	g.Expect(results[5].Status).To(Equal(result.StatusTruncated))
	g.Expect(results[5].Err).NotTo(HaveOccurred())

	g.Expect(logs.FilterMessage("job failed").Len()).To(Equal(3))
	g.Expect(testutil.ToFloat64(m.JobsTotal.WithLabelValues("failed"))).To(Equal(3.0))
	g.Expect(testutil.ToFloat64(m.JobsTotal.WithLabelValues("completed"))).To(Equal(2.0))
	g.Expect(testutil.ToFloat64(m.JobsTotal.WithLabelValues("truncated"))).To(Equal(1.0))
}

func TestParallelFreshControlSourcePerJob(t *testing.T) {
	g := NewWithT(t)
	jobs := make([]Job, 6)
	for i := range jobs {
		jobs[i] = growthJob(fmt.Sprint(i), 0)
		jobs[i].Config = Config{Dt: 0.1, Horizon: 3}
		jobs[i].Controls = func() ControlSource { return FromStateful(&counter{}) }
	}

	for _, res := range NewParallel(3, nil).Run(context.Background(), jobs) {
		g.Expect(res.Err).NotTo(HaveOccurred())
		g.Expect(res.Trajectory.Controls()).To(Equal([]dynamo.Control{{1}, {2}, {3}}))
	}
}

func TestParallelCanceledBeforeStart(t *testing.T) {
	g := NewWithT(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewParallel(2, nil).Run(ctx, []Job{growthJob("a", 1), growthJob("b", 1), growthJob("c", 1)})
	g.Expect(results).To(HaveLen(3))
	for _, res := range results {
		g.Expect(res.Err).To(MatchError(context.Canceled))
		g.Expect(res.Status).To(BeElementOf(result.StatusFailed, result.StatusTruncated))
	}
}

func TestParallelEmpty(t *testing.T) {
	g := NewWithT(t)
	g.Expect(NewParallel(0, nil).Run(context.Background(), nil)).To(BeEmpty())
	g.Expect(NewParallel(0, nil).Workers()).To(Equal(1))
}
