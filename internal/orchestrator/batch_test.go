package orchestrator

import (
	"context"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/integrators"
	"github.com/san-kum/dipsim/internal/result"
	"github.com/san-kum/dipsim/internal/safety"
)

func boundedGrowth(horizon int) Config {
	return Config{
		Dt:      0.01,
		Horizon: horizon,
		Bounds:  safety.Bounds{Components: []safety.Range{{Index: 0, Min: -10, Max: 10}}},
	}
}

func TestBatchMemberIndependence(t *testing.T) {
	for _, id := range []string{"rk4", "rk45", "backward_euler"} {
		t.Run(id, func(t *testing.T) {
			g := NewWithT(t)
			integ, err := integrators.Create(id, 0.01, nil)
			g.Expect(err).NotTo(HaveOccurred())

			cfg := boundedGrowth(100)
			x0s := []dynamo.State{{5, 0}, {0.001, 0.002}}

			set, err := NewBatch(growth{dim: 2}, integ, cfg).Execute(context.Background(), x0s)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(set.Len()).To(Equal(2))

			diverged, _ := set.Get(0)
			g.Expect(diverged.Status).To(Equal(result.StatusTruncated))
			g.Expect(set.Active[0]).To(BeFalse())

			healthy, _ := set.Get(1)
			g.Expect(healthy.Status).To(Equal(result.StatusCompleted))
			g.Expect(set.Active[1]).To(BeTrue())

			alone, err := NewSequential(growth{dim: 2}, integ, cfg).
				Execute(context.Background(), x0s[1], Constant(dynamo.Control{0}))
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(healthy.Len()).To(Equal(alone.Len()))
			for i := 0; i < alone.Len(); i++ {
				g.Expect(healthy.State(i).Equal(alone.State(i))).To(BeTrue(), "state %d", i)
			}
		})
	}
}

func TestBatchWorkersMatchSingleGoroutine(t *testing.T) {
	g := NewWithT(t)
	cfg := boundedGrowth(200)

	x0s := make([]dynamo.State, 37)
	for i := range x0s {
		x0s[i] = dynamo.State{float64(i) * 0.3, -float64(i) * 0.1}
	}

	single, err := NewBatch(growth{dim: 2}, rk4(t, 0.01), cfg).Execute(context.Background(), x0s)
	g.Expect(err).NotTo(HaveOccurred())

	b := NewBatch(growth{dim: 2}, rk4(t, 0.01), cfg)
	b.Workers = 4
	multi, err := b.Execute(context.Background(), x0s)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(multi.Statuses()).To(Equal(single.Statuses()))
	for i := range x0s {
		a, _ := single.Get(i)
		m, _ := multi.Get(i)
		g.Expect(m.Len()).To(Equal(a.Len()))
		g.Expect(m.Final().Equal(a.Final())).To(BeTrue())
	}
}

func TestBatchControlSequences(t *testing.T) {
	g := NewWithT(t)
	cfg := Config{Dt: 0.1, Horizon: 3}
	x0s := []dynamo.State{{0}, {0}}
	plant := growth{dim: 1}

	shared := []dynamo.Control{{1}, {1}, {1}}
	set, err := NewBatch(plant, rk4(t, 0.1), cfg).Execute(context.Background(), x0s, shared)
	g.Expect(err).NotTo(HaveOccurred())
	a, _ := set.Get(0)
	b, _ := set.Get(1)
	g.Expect(a.Controls()).To(Equal(shared))
	g.Expect(b.Controls()).To(Equal(shared))

	per := [][]dynamo.Control{{{1}, {1}, {1}}, {{2}, {2}, {2}}}
	set, err = NewBatch(plant, rk4(t, 0.1), cfg).Execute(context.Background(), x0s, per...)
	g.Expect(err).NotTo(HaveOccurred())
	b, _ = set.Get(1)
	g.Expect(b.Controls()).To(Equal(per[1]))

	set, err = NewBatch(plant, rk4(t, 0.1), cfg).Execute(context.Background(), x0s[:1])
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(set.Len()).To(Equal(1))
	a, _ = set.Get(0)
	g.Expect(a.Controls()).To(Equal([]dynamo.Control{{0}, {0}, {0}}))
}

func TestBatchInvalidInput(t *testing.T) {
	cfg := Config{Dt: 0.1, Horizon: 3}
	three := []dynamo.Control{{0}, {0}, {0}}
	tests := []struct {
		name string
		x0s  []dynamo.State
		seqs [][]dynamo.Control
	}{
		{"no members", nil, nil},
		{"sequence count", []dynamo.State{{0}, {0}, {0}}, [][]dynamo.Control{three, three}},
		{"short sequence", []dynamo.State{{0}}, [][]dynamo.Control{three[:2]}},
		{"empty member", []dynamo.State{{0}, {}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			_, err := NewBatch(growth{dim: 1}, rk4(t, 0.1), cfg).Execute(context.Background(), tt.x0s, tt.seqs...)
			g.Expect(err).To(MatchError(dynamo.ErrInvalidConfig))
		})
	}
}

func TestBatchStopFuncPerMember(t *testing.T) {
	g := NewWithT(t)
	cfg := Config{
		Dt:      0.1,
		Horizon: 20,
		Stop:    func(x dynamo.State, t float64) bool { return x[0] > 2 },
	}
	set, err := NewBatch(growth{dim: 1}, rk4(t, 0.1), cfg).Execute(context.Background(), []dynamo.State{{1}, {0.01}})
	g.Expect(err).NotTo(HaveOccurred())

	fast, _ := set.Get(0)
	g.Expect(fast.Status).To(Equal(result.StatusCompleted))
	g.Expect(fast.StopReason).To(Equal(result.ReasonStopFn))
	g.Expect(fast.Len()).To(BeNumerically("<", 21))
	g.Expect(set.Active[0]).To(BeFalse())

	slow, _ := set.Get(1)
	g.Expect(slow.StopReason).To(Equal(result.ReasonHorizon))
	g.Expect(slow.Len()).To(Equal(21))
}

func TestBatchCanceled(t *testing.T) {
	g := NewWithT(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	set, err := NewBatch(growth{dim: 1}, rk4(t, 0.1), Config{Dt: 0.1, Horizon: 5}).
		Execute(ctx, []dynamo.State{{1}, {2}})
	g.Expect(err).To(MatchError(context.Canceled))
	for _, s := range set.Statuses() {
		g.Expect(s).To(Equal(result.StatusTruncated))
	}
	g.Expect(set.ActiveCount()).To(Equal(0))
}
