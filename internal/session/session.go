// Package session is the control path tying the mode state machine to the
// supervisor, the view engine and the line buffer. A Session is owned by a
// single goroutine: the TUI update loop or the headless loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pkt.systems/pslog"

	"github.com/sleepiecappy/riverflow/internal/buffer"
	"github.com/sleepiecappy/riverflow/internal/interact"
	"github.com/sleepiecappy/riverflow/internal/logging"
	"github.com/sleepiecappy/riverflow/internal/supervisor"
	"github.com/sleepiecappy/riverflow/internal/view"
)

const DefaultMaxNotices = 50

// Process is the part of the supervisor a session drives.
type Process interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Kill(ctx context.Context) error
	Restart(ctx context.Context) error
	SendInput(ctx context.Context, text string) error
	Status() supervisor.Status
	HandleEvent(ev supervisor.Event) bool
}

type Options struct {
	// Echo appends every line sent to the child to the buffer as input.
	Echo       bool
	AutoScroll bool
	MaxNotices int
	Logger     pslog.Logger
	Clock      func() time.Time
}

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notice is a status message for the operator. Notices are kept apart from
// the captured output.
type Notice struct {
	Time  time.Time
	Level Level
	Text  string
}

type Session struct {
	buf    *buffer.Buffer
	engine *view.Engine
	proc   Process
	opts   Options
	log    pslog.Logger

	state   interact.State
	notices []Notice
}

func New(buf *buffer.Buffer, proc Process, opts Options) *Session {
	if opts.MaxNotices <= 0 {
		opts.MaxNotices = DefaultMaxNotices
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}

	state := interact.Initial()
	state.AutoScroll = opts.AutoScroll
	return &Session{
		buf:    buf,
		engine: view.NewEngine(buf),
		proc:   proc,
		opts:   opts,
		log:    log,
		state:  state,
	}
}

func (s *Session) Buffer() *buffer.Buffer { return s.buf }

func (s *Session) Engine() *view.Engine { return s.engine }

func (s *Session) State() interact.State { return s.state }

func (s *Session) Quitting() bool { return s.state.Quitting }

// Start launches the first instance of the command.
func (s *Session) Start(ctx context.Context) error {
	err := s.proc.Start(ctx)
	if err != nil {
		s.notify(LevelError, err.Error())
		return err
	}
	st := s.proc.Status()
	s.notify(LevelInfo, fmt.Sprintf("started %s (pid %d)", st.Command, st.PID))
	return nil
}

// Apply runs the state machine for a and carries out the effects that only
// touch the session: pattern changes and buffer clears. The effects that
// reach the process are returned for Execute, in order.
func (s *Session) Apply(a interact.Action) []interact.Effect {
	next, effects := interact.Transition(s.state, a)
	if next.Mode != s.state.Mode {
		s.log.Debug("mode changed", "from", s.state.Mode.String(), "to", next.Mode.String())
	}
	s.state = next

	var pending []interact.Effect
	for _, e := range effects {
		switch e.Kind {
		case interact.PatternChanged:
			s.engine.SetPattern(e.Pattern)
		case interact.ClearBuffer:
			s.buf.Clear()
			s.notify(LevelInfo, "log cleared")
		default:
			pending = append(pending, e)
		}
	}
	return pending
}

// Execute performs one process effect returned by Apply. It may block for
// as long as the supervisor operation does and touches no session state, so
// it can run off the owning goroutine. Its result goes back through
// Complete.
func (s *Session) Execute(ctx context.Context, e interact.Effect) error {
	switch e.Kind {
	case interact.SendInput:
		if err := s.proc.SendInput(ctx, e.Text); err != nil {
			return err
		}
		if s.opts.Echo {
			s.buf.Append(buffer.StreamInput, e.Text)
		}
		return nil
	case interact.StopProcess:
		return s.proc.Stop(ctx)
	case interact.KillProcess:
		return s.proc.Kill(ctx)
	case interact.RestartProcess:
		return s.proc.Restart(ctx)
	}
	return nil
}

// Complete records the outcome of an executed effect. Input that could not
// be delivered because the process is gone or stdin is full goes back to
// the pending line so it can be sent again.
func (s *Session) Complete(e interact.Effect, err error) {
	if err == nil {
		switch e.Kind {
		case interact.KillProcess:
			s.notify(LevelInfo, "process killed")
		case interact.RestartProcess:
			st := s.proc.Status()
			s.notify(LevelInfo, fmt.Sprintf("restarted (pid %d)", st.PID))
		}
		return
	}

	s.log.Warn("effect failed", "effect", e.Kind.String(), "err", err)
	if e.Kind == interact.SendInput &&
		(errors.Is(err, supervisor.ErrNotRunning) || errors.Is(err, supervisor.ErrWriteTimeout)) {
		if s.state.Mode == interact.ModeInsert && !s.state.Quitting {
			s.state.Pending = e.Text + s.state.Pending
			s.notify(LevelWarn, err.Error()+"; input kept")
			return
		}
		s.notify(LevelWarn, err.Error()+"; input discarded")
		return
	}
	s.notify(LevelError, err.Error())
}

// Dispatch applies a and executes its process effects inline. It returns
// the errors of the failed effects.
func (s *Session) Dispatch(ctx context.Context, a interact.Action) error {
	var errs []error
	for _, e := range s.Apply(a) {
		err := s.Execute(ctx, e)
		s.Complete(e, err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleEvent applies a supervisor event and reports whether the process
// status changed.
func (s *Session) HandleEvent(ev supervisor.Event) bool {
	if !s.proc.HandleEvent(ev) {
		return false
	}
	switch e := ev.(type) {
	case supervisor.EventExited:
		st := s.proc.Status()
		level := LevelInfo
		if st.State == supervisor.StateFailed {
			level = LevelError
		}
		s.notify(level, fmt.Sprintf("process %s: %s", st.State, e.Exit))
	case supervisor.EventStreamError:
		s.notify(LevelWarn, e.Err.Error())
	}
	return true
}

func (s *Session) notify(level Level, text string) {
	s.notices = append(s.notices, Notice{Time: s.opts.Clock(), Level: level, Text: text})
	if over := len(s.notices) - s.opts.MaxNotices; over > 0 {
		s.notices = append([]Notice(nil), s.notices[over:]...)
	}
}

func (s *Session) Notices() []Notice {
	return append([]Notice(nil), s.notices...)
}

// Snapshot is everything a renderer needs for one frame.
type Snapshot struct {
	View       view.View
	Mode       interact.Mode
	Pending    string
	Pattern    view.Pattern
	Status     supervisor.Status
	AutoScroll bool
	Notices    []Notice
	Quitting   bool
	// Matches holds the sequence numbers of matching lines, oldest first.
	Matches []uint64
	Buffer  buffer.Stats
}

func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		View:       s.engine.View(),
		Mode:       s.state.Mode,
		Pending:    s.state.Pending,
		Pattern:    s.state.Pattern,
		Status:     s.proc.Status(),
		AutoScroll: s.state.AutoScroll,
		Notices:    s.Notices(),
		Quitting:   s.state.Quitting,
		Matches:    s.engine.Matches(),
		Buffer:     s.buf.Stats(),
	}
}
