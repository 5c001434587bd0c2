// Package tui renders a real-time run in the terminal as it happens.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/orchestrator"
)

const (
	defaultWidth  = 70
	defaultHeight = 20
)

var (
	title   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	panel   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238"))
	keyHint = lipgloss.NewStyle().Foreground(lipgloss.Color("242")).Italic(true)
)

// StepMsg is one committed real-time step.
type StepMsg struct {
	Step    int
	Time    float64
	State   dynamo.State
	Control dynamo.Control
	Elapsed time.Duration
	Missed  bool
}

// DoneMsg ends the run.
type DoneMsg struct {
	Report *orchestrator.RealTimeReport
	Err    error
}

type Model struct {
	dt     float64
	l1, l2 float64
	cancel context.CancelFunc

	width, height int
	last          *StepMsg
	misses        int
	worst         time.Duration
	done          *DoneMsg
}

// NewModel builds a view for a pendulum with link lengths l1 and l2.
// cancel is called when the user quits.
func NewModel(dt, l1, l2 float64, cancel context.CancelFunc) Model {
	return Model{dt: dt, l1: l1, l2: l2, cancel: cancel, width: defaultWidth, height: defaultHeight}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = max(20, msg.Width-4)
		m.height = max(8, msg.Height-8)
	case StepMsg:
		m.last = &msg
		if msg.Missed {
			m.misses++
		}
		if msg.Elapsed > m.worst {
			m.worst = msg.Elapsed
		}
	case DoneMsg:
		m.done = &msg
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(title.Render("double inverted pendulum"))
	b.WriteString("\n")

	c := newCanvas(m.width, m.height)
	if m.last != nil {
		c.drawPendulum(m.last.State, m.l1, m.l2)
	}
	b.WriteString(panel.Render(strings.TrimSuffix(c.String(), "\n")))
	b.WriteString("\n")

	if m.last != nil {
		x := m.last.State
		fmt.Fprintf(&b, "t=%.2fs  ", m.last.Time)
		if len(x) >= 3 {
			fmt.Fprintf(&b, "x=%+.3f  θ1=%+.4f  θ2=%+.4f  ", x[0], x[1], x[2])
		}
		if len(m.last.Control) > 0 {
			fmt.Fprintf(&b, "u=%+.2f", m.last.Control[0])
		}
		b.WriteString("\n")
		b.WriteString(dim.Render(fmt.Sprintf("step %s  worst %s  ", m.last.Elapsed, m.worst)))
	}
	if m.misses > 0 {
		b.WriteString(yellow.Render(fmt.Sprintf("misses %d", m.misses)))
	} else {
		b.WriteString(green.Render("on time"))
	}
	b.WriteString("\n")

	switch {
	case m.done != nil && m.done.Err != nil:
		b.WriteString(red.Render("error: " + m.done.Err.Error()))
	case m.done != nil && m.done.Report != nil:
		tr := m.done.Report.Trajectory
		b.WriteString(green.Render(fmt.Sprintf("%s (%s)", tr.Status, tr.StopReason)))
	default:
		b.WriteString(keyHint.Render("q quit"))
	}
	b.WriteString("\n")
	return b.String()
}

// Feed forwards real-time steps to a running program.
type Feed struct {
	program *tea.Program
	dt      float64
}

func (f *Feed) OnRealTimeStep(i int, x dynamo.State, u dynamo.Control, elapsed time.Duration, missed bool) {
	f.program.Send(StepMsg{
		Step:    i,
		Time:    float64(i+1) * f.dt,
		State:   x.Clone(),
		Control: u.Clone(),
		Elapsed: elapsed,
		Missed:  missed,
	})
}

// ExecFunc runs a real-time simulation reporting to obs.
type ExecFunc func(ctx context.Context, obs orchestrator.StepObserver) (*orchestrator.RealTimeReport, error)

// Run shows exec live until it finishes or the user quits.
func Run(ctx context.Context, dt, l1, l2 float64, exec ExecFunc, opts ...tea.ProgramOption) (*orchestrator.RealTimeReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(dt, l1, l2, cancel), opts...)
	feed := &Feed{program: p, dt: dt}

	var (
		report *orchestrator.RealTimeReport
		runErr error
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		report, runErr = exec(ctx, feed)
		p.Send(DoneMsg{Report: report, Err: runErr})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-finished
		return report, err
	}
	cancel()
	<-finished
	return report, runErr
}
