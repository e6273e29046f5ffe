// Package supervisor runs one child command at a time, captures its output
// into a shared line buffer and controls its lifecycle: start, graceful stop,
// kill, restart and input writes.
//
// Lifecycle operations are serialized. Status never blocks behind them, so a
// renderer can poll it while a stop waits out its grace period.
//
// Background goroutines never change the session state themselves. They
// publish an Event on Events, and the owner applies it with HandleEvent.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/sleepiecappy/riverflow/internal/buffer"
	"github.com/sleepiecappy/riverflow/internal/capture"
	"github.com/sleepiecappy/riverflow/internal/logging"
)

type Options struct {
	GracePeriod  time.Duration
	KillTimeout  time.Duration
	DrainTimeout time.Duration
	WriteTimeout time.Duration

	RestartDelay   time.Duration
	ClearOnRestart bool

	PTY               bool
	MaxLineBytes      int
	FollowScreenClear bool
	InterpretEscapes  bool
}

func (o Options) withDefaults() Options {
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.KillTimeout <= 0 {
		o.KillTimeout = DefaultKillTimeout
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	return o
}

type Supervisor struct {
	command Command
	buf     *buffer.Buffer
	opts    Options

	opMu sync.Mutex

	mu       sync.Mutex
	state    State
	inst     *instance
	last     *ExitInfo
	err      error
	restarts int

	events    chan Event
	closing   chan struct{}
	closeOnce sync.Once
}

func New(command Command, buf *buffer.Buffer, opts Options) *Supervisor {
	return &Supervisor{
		command: command,
		buf:     buf,
		opts:    opts.withDefaults(),
		state:   StateIdle,
		events:  make(chan Event, EventBufferSize),
		closing: make(chan struct{}),
	}
}

func (s *Supervisor) Command() Command { return s.command }

func (s *Supervisor) Buffer() *buffer.Buffer { return s.buf }

// Events delivers exit and stream error notifications. The channel is never
// closed.
func (s *Supervisor) Events() <-chan Event { return s.events }

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Command:  s.command,
		State:    s.state,
		Err:      s.err,
		Restarts: s.restarts,
	}
	if s.last != nil {
		exit := *s.last
		st.Exit = &exit
	}
	if inst := s.inst; inst != nil {
		st.InstanceID = inst.id
		st.Generation = inst.gen
		st.StartedAt = inst.started
		if s.state == StateRunning || s.state == StateStopping {
			st.PID = inst.pid()
		}
	}
	return st
}

// Start launches a new instance of the command. A launch failure leaves the
// session FAILED with a *SpawnError and no process behind.
func (s *Supervisor) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.startLocked(ctx)
}

func (s *Supervisor) startLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.reapLocked(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if inst := s.inst; inst != nil && !inst.settled {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("start: %w (%s)", ErrAlreadyRunning, st)
	}
	s.state = StateStarting
	s.err = nil
	s.mu.Unlock()

	log := logging.WithCommand(pslog.Ctx(ctx), s.command.String())
	gen := s.buf.Advance()
	inst, err := s.spawn(log, gen)
	if err != nil {
		now := time.Now()
		s.mu.Lock()
		s.inst = nil
		s.state = StateFailed
		s.err = err
		s.last = &ExitInfo{Code: -1, Err: err, At: now}
		s.mu.Unlock()
		log.Warn("spawn failed", "err", err)
		return err
	}

	s.mu.Lock()
	s.inst = inst
	s.last = nil
	s.state = StateRunning
	s.mu.Unlock()

	inst.log.Info("process started", "pid", inst.pid())
	go s.monitor(inst)
	return nil
}

func (s *Supervisor) spawn(log pslog.Logger, gen uint64) (*instance, error) {
	cmd := exec.Command(s.command.Path, s.command.Args...)
	cmd.Dir = s.command.Dir
	if s.command.Env != nil {
		cmd.Env = append([]string(nil), s.command.Env...)
	} else {
		cmd.Env = os.Environ()
	}

	open := pipeStdio
	if s.opts.PTY {
		open = ptyStdio
	}
	st, err := open(cmd)
	if err != nil {
		return nil, &SpawnError{Command: s.command, Err: err}
	}
	if err := cmd.Start(); err != nil {
		st.closeAll()
		return nil, &SpawnError{Command: s.command, Err: err}
	}
	st.closeChild()

	id := uuid.New().String()
	inst := &instance{
		id:      id,
		gen:     gen,
		cmd:     cmd,
		started: time.Now(),
		log:     logging.WithInstance(log, id, gen),
		stdin:   st.stdin,
		exited:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	ropts := capture.Options{
		MaxLineBytes:      s.opts.MaxLineBytes,
		FollowScreenClear: s.opts.FollowScreenClear,
		OnError: func(r *capture.Reader, err error) {
			s.streamFailed(inst, r, err)
		},
	}
	inst.readers = []*capture.Reader{
		capture.NewReader(st.stdout, buffer.StreamStdout, gen, s.buf, ropts),
		capture.NewReader(st.stderr, buffer.StreamStderr, gen, s.buf, ropts),
	}
	for _, r := range inst.readers {
		go r.Run()
	}
	return inst, nil
}

// monitor reaps the process, lets the readers drain what the child wrote
// and then announces the exit.
func (s *Supervisor) monitor(inst *instance) {
	err := inst.cmd.Wait()
	inst.exit = exitInfo(inst.cmd.ProcessState, err, time.Now())
	close(inst.exited)
	inst.log.Info("process exited", "exit", inst.exit.String(), "requested", inst.requested.Load())

	if !waitReaders(inst.readers, s.opts.DrainTimeout) {
		// A grandchild may still hold the pipes open.
		inst.log.Warn("output not drained, closing streams", "timeout", s.opts.DrainTimeout.String())
		for _, r := range inst.readers {
			r.Close()
		}
		if !waitReaders(inst.readers, s.opts.KillTimeout) {
			inst.log.Warn("stream reader did not stop")
		}
	}
	inst.closeStdin()
	close(inst.done)

	for _, r := range inst.readers {
		inst.log.Debug("stream closed", "stream", r.Stream().String(), "lines", r.Lines(), "dropped", r.Dropped())
	}

	s.emit(EventExited{Generation: inst.gen, InstanceID: inst.id, Exit: inst.exit})
}

func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.closing:
	}
}

func (s *Supervisor) streamFailed(inst *instance, r *capture.Reader, err error) {
	serr := &StreamReadError{Stream: r.Stream(), Err: err}
	inst.streamErr.Store(serr)
	inst.log.Warn("stream read failed", "stream", r.Stream().String(), "err", err)

	select {
	case s.events <- EventStreamError{Generation: inst.gen, Stream: r.Stream(), Err: serr}:
	default:
		inst.log.Debug("event queue full, stream error not published")
	}
}

// HandleEvent applies an event from Events to the session state and reports
// whether anything changed. Events from superseded instances are ignored.
func (s *Supervisor) HandleEvent(ev Event) bool {
	switch e := ev.(type) {
	case EventExited:
		s.mu.Lock()
		inst := s.inst
		s.mu.Unlock()
		if inst == nil || inst.gen != e.Generation {
			return false
		}
		return s.settle(inst)

	case EventStreamError:
		return s.applyStreamError(e)
	}
	return false
}

// applyStreamError fails the session when the failed stream was the last
// source of output, killing the process if it is still alive.
func (s *Supervisor) applyStreamError(e EventStreamError) bool {
	s.mu.Lock()
	inst := s.inst
	if inst == nil || inst.gen != e.Generation || inst.settled {
		s.mu.Unlock()
		return false
	}
	s.err = e.Err

	var failed *capture.Reader
	for _, r := range inst.readers {
		if r.Stream() == e.Stream {
			failed = r
		}
	}
	fatal := inst.hasExited() || inst.otherStreamDone(failed)
	if fatal {
		inst.fatal = e.Err
		s.state = StateFailed
	}
	s.mu.Unlock()

	if fatal && !inst.hasExited() {
		inst.log.Warn("no output stream left, killing process")
		inst.requested.Store(true)
		inst.signal(syscall.SIGKILL)
	}
	return true
}

// settle moves the session to its final state for inst. Only the first call
// per instance has an effect.
func (s *Supervisor) settle(inst *instance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inst != inst || inst.settled {
		return false
	}
	inst.settled = true
	exit := inst.exit
	s.last = &exit

	// A stream error that left another stream running is reported but does
	// not decide the outcome.
	if serr := inst.streamErr.Load(); serr != nil && inst.fatal == nil && s.err == nil {
		s.err = serr
	}
	switch {
	case inst.fatal != nil:
		s.state = StateFailed
		s.err = inst.fatal
	case inst.requested.Load() || exit.Success():
		s.state = StateStopped
	default:
		s.state = StateFailed
		if exit.Err != nil {
			s.err = exit.Err
		}
	}
	return true
}

// reapLocked settles an instance that has already exited, waiting for its
// readers first.
func (s *Supervisor) reapLocked(ctx context.Context) error {
	s.mu.Lock()
	inst := s.inst
	pending := inst != nil && !inst.settled
	s.mu.Unlock()

	if !pending || !inst.hasExited() {
		return nil
	}
	select {
	case <-inst.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.settle(inst)
	return nil
}

// Stop asks the process group to terminate and escalates to SIGKILL after
// the grace period. Stopping a session with nothing running does nothing.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stopLocked(ctx, "stop")
}

// Kill sends SIGKILL to the process group right away. A kill during a
// graceful stop cuts the grace period short instead of waiting behind it.
func (s *Supervisor) Kill(ctx context.Context) error {
	s.mu.Lock()
	if inst := s.inst; inst != nil && !inst.settled && s.state == StateStopping {
		s.mu.Unlock()
		inst.log.Info("killing process during stop")
		return inst.signal(syscall.SIGKILL)
	}
	s.mu.Unlock()

	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stopLocked(ctx, "kill")
}

func (s *Supervisor) stopLocked(ctx context.Context, op string) error {
	if err := s.reapLocked(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	inst := s.inst
	if inst == nil || inst.settled {
		st := s.state
		s.mu.Unlock()
		if op == "kill" {
			return &NotRunningError{Op: op, State: st}
		}
		return nil
	}
	s.state = StateStopping
	s.mu.Unlock()

	inst.requested.Store(true)
	log := inst.log.With("op", op)

	exited := false
	if op == "stop" {
		log.Info("stopping process", "grace_period", s.opts.GracePeriod.String())
		if err := inst.signal(syscall.SIGTERM); err != nil {
			log.Warn("SIGTERM failed", "err", err)
		}
		exited = inst.awaitExit(ctx, s.opts.GracePeriod)
		if !exited {
			log.Info("grace period over, killing process")
		}
	}
	if !exited {
		if err := inst.signal(syscall.SIGKILL); err != nil {
			log.Warn("SIGKILL failed", "err", err)
		}
		// Not bounded by ctx: once Stop returns nothing may be left running.
		exited = inst.awaitExit(context.Background(), s.opts.KillTimeout)
	}
	if !exited {
		err := fmt.Errorf("%s: process %d did not exit within %s of SIGKILL", op, inst.pid(), s.opts.KillTimeout)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		log.Error("process did not exit", "err", err)
		return err
	}

	<-inst.done
	s.settle(inst)
	return nil
}

// Restart stops the current instance, waits until nothing from it can reach
// the buffer any more and starts the command again.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	pslog.Ctx(ctx).Info("restarting process", "command", s.command.String())
	if err := s.stopLocked(ctx, "stop"); err != nil {
		return err
	}
	if s.opts.ClearOnRestart {
		s.buf.Clear()
	}
	if d := s.opts.RestartDelay; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
	return s.startLocked(ctx)
}

// SendInput writes text and a newline to the child's stdin.
func (s *Supervisor) SendInput(ctx context.Context, text string) error {
	s.mu.Lock()
	inst, st := s.inst, s.state
	s.mu.Unlock()

	if inst == nil || st != StateRunning || inst.hasExited() {
		if st == StateRunning {
			st = StateStopped
		}
		return &NotRunningError{Op: "send input", State: st}
	}

	data, err := EncodeInput(text, s.opts.InterpretEscapes)
	if err != nil {
		return fmt.Errorf("send input: %w", err)
	}

	err = inst.write(ctx, data, s.opts.WriteTimeout)
	switch {
	case err == nil:
		inst.log.Debug("input sent", "bytes", len(data))
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return &WriteTimeoutError{Timeout: s.opts.WriteTimeout}
	case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EPIPE):
		return &NotRunningError{Op: "send input", State: StateStopped}
	default:
		return fmt.Errorf("send input: %w", err)
	}
}

// Close stops the process and releases the event channel's senders.
func (s *Supervisor) Close(ctx context.Context) error {
	err := s.Stop(ctx)
	s.closeOnce.Do(func() { close(s.closing) })
	return err
}
