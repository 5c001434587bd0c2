package orchestrator

import (
	"context"
	"fmt"

	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/integrators"
	"github.com/san-kum/dipsim/internal/result"
)

// Batch advances several trajectories of the same plant in lockstep. Each
// member owns an integrator fork and is truncated on its own.
type Batch struct {
	plant  dynamo.Deriver
	integ  integrators.Integrator
	config Config
	opts   options

	// Workers bounds the goroutines used per timestep. Values below 2 keep
	// the batch on the caller goroutine.
	Workers int
}

func NewBatch(plant dynamo.Deriver, integ integrators.Integrator, cfg Config, opts ...Option) *Batch {
	return &Batch{plant: plant, integ: integ, config: cfg, opts: buildOptions(opts), Workers: 1}
}

type member struct {
	eng *engine
	pol *policy
	tr  *result.Trajectory
	x   dynamo.State
}

// Execute runs one member per initial state. seqs holds no sequence (zero
// control), one sequence shared by every member, or one per member.
// Members that ran the whole horizon stay active in the returned set.
// On cancellation the members still running are truncated and the set is
// returned with the context error.
func (b *Batch) Execute(ctx context.Context, x0s []dynamo.State, seqs ...[]dynamo.Control) (*result.BatchSet, error) {
	if len(x0s) == 0 {
		return nil, fmt.Errorf("%w: empty batch", dynamo.ErrInvalidConfig)
	}
	if len(seqs) > 1 && len(seqs) != len(x0s) {
		return nil, fmt.Errorf("%w: %d control sequences for %d members", dynamo.ErrInvalidConfig, len(seqs), len(x0s))
	}
	for i, x0 := range x0s {
		if err := b.config.validate(x0, b.plant); err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		if len(x0) != len(x0s[0]) {
			return nil, fmt.Errorf("%w: %w: member %d has %d components, member 0 has %d",
				dynamo.ErrInvalidConfig, dynamo.ErrDimensionMismatch, i, len(x0), len(x0s[0]))
		}
	}
	horizon := b.config.Steps()

	base, err := newEngine("batch", b.plant, b.integ, b.config, b.opts)
	if err != nil {
		return nil, err
	}

	set := result.NewBatchSet(len(x0s))
	members := make([]member, len(x0s))
	for i, x0 := range x0s {
		var src ControlSource
		switch len(seqs) {
		case 0:
			src = Constant(zeroControlFor(b.plant))
		case 1:
			src = Sequence(seqs[0])
		default:
			src = Sequence(seqs[i])
		}
		pol, err := src.bind(horizon)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		eng := base.fork()
		members[i] = member{eng: eng, pol: pol, tr: eng.begin(x0, horizon), x: x0.Clone()}
		set.Members[i] = members[i].tr
		set.Active[i] = true
	}

	workers := b.Workers
	if workers < 1 {
		workers = 1
	}

	for step := 0; step < horizon && set.ActiveCount() > 0; step++ {
		if err := ctx.Err(); err != nil {
			b.cancel(set, step)
			return set, err
		}
		dynamo.ParallelFor(len(members), workers, 1, func(start, end int) {
			for i := start; i < end; i++ {
				if !set.Active[i] {
					continue
				}
				m := &members[i]
				if stop, _ := m.eng.halt(context.Background(), m.tr, step, m.x); stop {
					set.Freeze(i)
					continue
				}
				u, next, meta, v := m.eng.advance(step, m.x, m.pol)
				if !m.eng.commit(m.tr, step, u, next, meta, v) {
					set.Freeze(i)
					continue
				}
				m.x = next
			}
		})
	}

	for i, active := range set.Active {
		if active {
			set.Members[i].Complete(result.ReasonHorizon)
		}
	}
	return set, nil
}

func (b *Batch) cancel(set *result.BatchSet, step int) {
	for i, active := range set.Active {
		if active {
			set.Members[i].Truncate(step, result.ReasonCanceled, nil)
			set.Freeze(i)
		}
	}
	b.opts.logger.Info("batch canceled")
}
