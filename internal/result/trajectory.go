// Package result holds the trajectories produced by the orchestrators.
package result

import (
	"fmt"
	"time"

	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/safety"
)

type Status int

const (
	StatusInit Status = iota
	StatusStepping
	StatusCompleted
	StatusTruncated
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusStepping:
		return "stepping"
	case StatusCompleted:
		return "completed"
	case StatusTruncated:
		return "truncated"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for c := StatusInit; c <= StatusFailed; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("result: unknown status %q", text)
}

// Stop reasons recorded on finished trajectories.
const (
	ReasonHorizon   = "horizon"
	ReasonStopFn    = "stop_fn"
	ReasonViolation = "violation"
	ReasonCanceled  = "canceled"
)

// StepMeta is the per-step bookkeeping attached to control i.
type StepMeta struct {
	Evals         int           `json:"evals"`
	Rejected      int           `json:"rejected,omitempty"`
	Substeps      int           `json:"substeps,omitempty"`
	ErrorEstimate float64       `json:"error_estimate,omitempty"`
	Degraded      bool          `json:"degraded,omitempty"`
	Saturated     bool          `json:"saturated,omitempty"`
	DeadlineMiss  bool          `json:"deadline_miss,omitempty"`
	WallTime      time.Duration `json:"wall_time,omitempty"`
}

// Trajectory accumulates (time, state) pairs on a uniform grid together with
// the controls applied between them. It always holds one more state than
// controls, and times[i] == i*dt.
type Trajectory struct {
	Dt         float64
	Integrator string

	Status     Status
	StopReason string
	Violation  *safety.Violation
	// TruncatedAt is the index of the step whose candidate state was
	// refused, or -1.
	TruncatedAt int

	times    []float64
	states   []dynamo.State
	controls []dynamo.Control
	meta     []StepMeta
}

// New starts a trajectory at x0 with room for horizon steps.
func New(x0 dynamo.State, dt float64, horizon int) *Trajectory {
	if horizon < 0 {
		horizon = 0
	}
	tr := &Trajectory{
		Dt:          dt,
		TruncatedAt: -1,
		times:       make([]float64, 0, horizon+1),
		states:      make([]dynamo.State, 0, horizon+1),
		controls:    make([]dynamo.Control, 0, horizon),
		meta:        make([]StepMeta, 0, horizon),
	}
	tr.times = append(tr.times, 0)
	tr.states = append(tr.states, x0.Clone())
	return tr
}

// Append records control u applied over the last interval and the state it
// produced.
func (tr *Trajectory) Append(u dynamo.Control, x dynamo.State, meta StepMeta) {
	tr.controls = append(tr.controls, u.Clone())
	tr.meta = append(tr.meta, meta)
	tr.states = append(tr.states, x.Clone())
	tr.times = append(tr.times, float64(len(tr.states)-1)*tr.Dt)
}

func (tr *Trajectory) Start() { tr.Status = StatusStepping }

func (tr *Trajectory) Complete(reason string) {
	tr.Status = StatusCompleted
	tr.StopReason = reason
}

// Truncate ends the trajectory early at its current last state.
func (tr *Trajectory) Truncate(step int, reason string, v *safety.Violation) {
	tr.Status = StatusTruncated
	tr.StopReason = reason
	tr.TruncatedAt = step
	tr.Violation = v
}

func (tr *Trajectory) Truncated() bool { return tr.Status == StatusTruncated }

// Len is the number of recorded states.
func (tr *Trajectory) Len() int { return len(tr.states) }

// Steps is the number of recorded controls.
func (tr *Trajectory) Steps() int { return len(tr.controls) }

func (tr *Trajectory) Times() []float64 {
	out := make([]float64, len(tr.times))
	copy(out, tr.times)
	return out
}

func (tr *Trajectory) States() []dynamo.State {
	out := make([]dynamo.State, len(tr.states))
	for i, s := range tr.states {
		out[i] = s.Clone()
	}
	return out
}

func (tr *Trajectory) Controls() []dynamo.Control {
	out := make([]dynamo.Control, len(tr.controls))
	for i, u := range tr.controls {
		out[i] = u.Clone()
	}
	return out
}

func (tr *Trajectory) Meta() []StepMeta {
	out := make([]StepMeta, len(tr.meta))
	copy(out, tr.meta)
	return out
}

// State returns a copy of state i.
func (tr *Trajectory) State(i int) dynamo.State { return tr.states[i].Clone() }

func (tr *Trajectory) Time(i int) float64 { return tr.times[i] }

func (tr *Trajectory) Final() dynamo.State { return tr.states[len(tr.states)-1].Clone() }

func (tr *Trajectory) FinalTime() float64 { return tr.times[len(tr.times)-1] }

// Evals sums derivative evaluations over all steps.
func (tr *Trajectory) Evals() int {
	n := 0
	for _, m := range tr.meta {
		n += m.Evals
	}
	return n
}

// Prefix returns a completed copy of the first steps steps.
func (tr *Trajectory) Prefix(steps int) *Trajectory {
	if steps > tr.Steps() {
		steps = tr.Steps()
	}
	if steps < 0 {
		steps = 0
	}
	out := New(tr.states[0], tr.Dt, steps)
	out.Integrator = tr.Integrator
	for i := 0; i < steps; i++ {
		out.Append(tr.controls[i], tr.states[i+1], tr.meta[i])
	}
	out.Complete(ReasonHorizon)
	return out
}

// BatchSet indexes the trajectories of a batch run. Active[i] turns false
// when member i stops before the horizon; its trajectory is frozen from then
// on.
type BatchSet struct {
	Members []*Trajectory
	Active  []bool
}

func NewBatchSet(n int) *BatchSet {
	return &BatchSet{
		Members: make([]*Trajectory, n),
		Active:  make([]bool, n),
	}
}

func (b *BatchSet) Len() int { return len(b.Members) }

func (b *BatchSet) Get(i int) (*Trajectory, bool) {
	if i < 0 || i >= len(b.Members) {
		return nil, false
	}
	return b.Members[i], true
}

func (b *BatchSet) Freeze(i int) { b.Active[i] = false }

func (b *BatchSet) ActiveCount() int {
	n := 0
	for _, a := range b.Active {
		if a {
			n++
		}
	}
	return n
}

func (b *BatchSet) Statuses() []Status {
	out := make([]Status, len(b.Members))
	for i, m := range b.Members {
		if m != nil {
			out[i] = m.Status
		}
	}
	return out
}
