package control

import (
	"fmt"

	"github.com/san-kum/dipsim/internal/dynamo"
)

// PID regulates one state component toward Target. The integral and the
// previous error travel through ComputeControl's internal argument; the
// error history is returned as a []float64 capped at HistoryLen entries.
type PID struct {
	Kp, Ki, Kd float64
	Target     float64
	Index      int
	Dt         float64
	HistoryLen int
	Limit      float64
}

type PIDState struct {
	Integral float64
	PrevErr  float64
	Primed   bool
}

func NewPID(kp, ki, kd, target float64, index int, dt float64) *PID {
	return &PID{Kp: kp, Ki: ki, Kd: kd, Target: target, Index: index, Dt: dt, HistoryLen: 256}
}

func (p *PID) InitializeState() any { return PIDState{} }

func (p *PID) InitializeHistory() any { return make([]float64, 0, p.HistoryLen) }

func (p *PID) MaxForce() float64 { return p.Limit }

func (p *PID) ComputeControl(x dynamo.State, internal any, history any) (dynamo.Control, any, any, error) {
	if p.Index < 0 || p.Index >= len(x) {
		return nil, internal, history, fmt.Errorf("%w: pid index %d outside state of dimension %d", dynamo.ErrDimensionMismatch, p.Index, len(x))
	}
	if !(p.Dt > 0) {
		return nil, internal, history, fmt.Errorf("%w: pid dt must be positive, got %g", dynamo.ErrInvalidConfig, p.Dt)
	}

	st, _ := internal.(PIDState)
	errs, _ := history.([]float64)

	e := p.Target - x[p.Index]
	st.Integral += e * p.Dt
	derivative := 0.0
	if st.Primed {
		derivative = (e - st.PrevErr) / p.Dt
	}
	st.PrevErr = e
	st.Primed = true

	errs = append(errs, e)
	if p.HistoryLen > 0 && len(errs) > p.HistoryLen {
		errs = errs[len(errs)-p.HistoryLen:]
	}

	u := p.Kp*e + p.Ki*st.Integral + p.Kd*derivative
	return dynamo.Control{u}, st, errs, nil
}
