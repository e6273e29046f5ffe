package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/sleepiecappy/riverflow/internal/buffer"
)

var (
	ErrSpawn          = errors.New("spawn failed")
	ErrNotRunning     = errors.New("process not running")
	ErrStreamRead     = errors.New("stream read failed")
	ErrWriteTimeout   = errors.New("write timed out")
	ErrAlreadyRunning = errors.New("process already running")
)

// SpawnError reports that the command could not be launched. No process is
// left behind and Start may be called again.
type SpawnError struct {
	Command Command
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

type NotRunningError struct {
	Op    string
	State State
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("%s: process is %s", e.Op, e.State)
}

func (e *NotRunningError) Is(target error) bool { return target == ErrNotRunning }

// StreamReadError reports a read failure on one output stream other than a
// normal end of stream.
type StreamReadError struct {
	Stream buffer.Stream
	Err    error
}

func (e *StreamReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Stream, e.Err)
}

func (e *StreamReadError) Unwrap() error { return e.Err }

func (e *StreamReadError) Is(target error) bool { return target == ErrStreamRead }

type WriteTimeoutError struct {
	Timeout time.Duration
}

func (e *WriteTimeoutError) Error() string {
	return fmt.Sprintf("write to stdin did not complete within %s", e.Timeout)
}

func (e *WriteTimeoutError) Is(target error) bool { return target == ErrWriteTimeout }
