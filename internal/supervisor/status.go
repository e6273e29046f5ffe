package supervisor

import (
	"fmt"
	"strings"
	"time"

	"github.com/sleepiecappy/riverflow/internal/buffer"
)

type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Active reports whether a process instance may still be alive.
func (s State) Active() bool {
	switch s {
	case StateStarting, StateRunning, StateStopping:
		return true
	default:
		return false
	}
}

// Command is the program and arguments launched for every instance of a
// session. It is never passed through a shell.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

func (c Command) String() string {
	parts := append([]string{c.Path}, c.Args...)
	for i, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\"'") {
			parts[i] = fmt.Sprintf("%q", p)
		}
	}
	return strings.Join(parts, " ")
}

type ExitInfo struct {
	// Code is -1 when the process was ended by a signal.
	Code   int       `json:"code"`
	Signal string    `json:"signal,omitempty"`
	Err    error     `json:"-"`
	At     time.Time `json:"at"`
}

func (e ExitInfo) Success() bool {
	return e.Err == nil && e.Signal == "" && e.Code == 0
}

func (e ExitInfo) String() string {
	switch {
	case e.Err != nil:
		return e.Err.Error()
	case e.Signal != "":
		return "signal: " + e.Signal
	default:
		return fmt.Sprintf("exit %d", e.Code)
	}
}

// Status is a point-in-time copy of the session state.
type Status struct {
	Command    Command
	State      State
	PID        int
	InstanceID string
	Generation uint64
	StartedAt  time.Time
	Exit       *ExitInfo
	// Err is the most recent lifecycle error, cleared by the next Start.
	Err      error
	Restarts int
}

// Event is published by the supervisor's background goroutines and applied
// with HandleEvent on the control path.
type Event interface {
	EventGeneration() uint64
}

// EventExited is sent once per instance after the process was reaped and
// its readers finished.
type EventExited struct {
	Generation uint64
	InstanceID string
	Exit       ExitInfo
}

func (e EventExited) EventGeneration() uint64 { return e.Generation }

type EventStreamError struct {
	Generation uint64
	Stream     buffer.Stream
	Err        *StreamReadError
}

func (e EventStreamError) EventGeneration() uint64 { return e.Generation }
