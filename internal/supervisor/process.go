package supervisor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"pkt.systems/pslog"

	"github.com/sleepiecappy/riverflow/internal/capture"
)

// stdio holds the parent side of the child's standard streams and the child
// side that must be closed once the child has started.
type stdio struct {
	stdin  *os.File
	stdout *os.File
	stderr *os.File
	child  []*os.File
}

func pipeStdio(cmd *exec.Cmd) (*stdio, error) {
	st := &stdio{}
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	st.stdin = inW
	st.child = append(st.child, inR)

	outR, outW, err := os.Pipe()
	if err != nil {
		st.closeAll()
		return nil, err
	}
	st.stdout = outR
	st.child = append(st.child, outW)

	errR, errW, err := os.Pipe()
	if err != nil {
		st.closeAll()
		return nil, err
	}
	st.stderr = errR
	st.child = append(st.child, errW)

	cmd.Stdin, cmd.Stdout, cmd.Stderr = inR, outW, errW
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return st, nil
}

func (st *stdio) closeChild() {
	for _, f := range st.child {
		f.Close()
	}
	st.child = nil
}

func (st *stdio) closeAll() {
	st.closeChild()
	for _, f := range []*os.File{st.stdin, st.stdout, st.stderr} {
		if f != nil {
			f.Close()
		}
	}
}

// instance is one launched process together with the readers draining its
// output. Fields written by the monitor goroutine are published by closing
// exited.
type instance struct {
	id      string
	gen     uint64
	cmd     *exec.Cmd
	started time.Time
	log     pslog.Logger

	readers []*capture.Reader

	writeMu     sync.Mutex
	stdin       *os.File
	stdinClosed bool

	requested atomic.Bool
	streamErr atomic.Pointer[StreamReadError]

	exit   ExitInfo
	exited chan struct{}
	// done is closed after exited, once both readers finished or were
	// abandoned after the drain timeout.
	done chan struct{}

	// guarded by Supervisor.mu
	settled bool
	fatal   error
}

func (in *instance) pid() int {
	if in.cmd.Process == nil {
		return 0
	}
	return in.cmd.Process.Pid
}

// signal delivers sig to the whole process group of the instance. A group
// that no longer exists is not an error.
func (in *instance) signal(sig syscall.Signal) error {
	pid := in.pid()
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func (in *instance) hasExited() bool {
	select {
	case <-in.exited:
		return true
	default:
		return false
	}
}

// awaitExit waits up to timeout for the process to be reaped. A cancelled
// ctx ends the wait early.
func (in *instance) awaitExit(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-in.exited:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return in.hasExited()
	}
}

// otherStreamDone reports whether every reader other than failed has
// finished.
func (in *instance) otherStreamDone(failed *capture.Reader) bool {
	for _, r := range in.readers {
		if r == failed {
			continue
		}
		select {
		case <-r.Done():
		default:
			return false
		}
	}
	return true
}

// write sends data to the child's stdin, giving up after timeout. Pipes
// support write deadlines; for files that do not, the write is raced against
// a timer instead.
func (in *instance) write(ctx context.Context, data []byte, timeout time.Duration) error {
	in.writeMu.Lock()
	defer in.writeMu.Unlock()

	if in.stdinClosed {
		return os.ErrClosed
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	err := in.stdin.SetWriteDeadline(deadline)
	if err == nil {
		_, err = in.stdin.Write(data)
		in.stdin.SetWriteDeadline(time.Time{})
		return err
	}
	if !errors.Is(err, os.ErrNoDeadline) {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		_, err := in.stdin.Write(data)
		errc <- err
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case err := <-errc:
		return err
	case <-timer.C:
		return os.ErrDeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (in *instance) closeStdin() {
	in.writeMu.Lock()
	defer in.writeMu.Unlock()

	if !in.stdinClosed {
		in.stdin.Close()
		in.stdinClosed = true
	}
}

func exitInfo(ps *os.ProcessState, err error, at time.Time) ExitInfo {
	info := ExitInfo{Code: -1, At: at}
	if ps != nil {
		info.Code = ps.ExitCode()
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			info.Signal = ws.Signal().String()
		}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		info.Err = err
	}
	return info
}

// waitReaders reports whether every reader finished within timeout.
func waitReaders(readers []*capture.Reader, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for _, r := range readers {
		select {
		case <-r.Done():
		case <-timer.C:
			return false
		}
	}
	return true
}
