package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sleepiecappy/riverflow/internal/buffer"
	"github.com/sleepiecappy/riverflow/internal/supervisor"
	"github.com/sleepiecappy/riverflow/internal/view"
)

func shell(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

func runHeadless(t *testing.T, argv []string, opts headlessOptions) (string, error) {
	t.Helper()
	var out bytes.Buffer
	opts.Out = &out
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	err := runSession(ctx, argv, opts)
	return out.String(), err
}

func TestPrinterFilterAndStrip(t *testing.T) {
	buf := buffer.New()
	buf.Append(buffer.StreamStdout, "\x1b[31mERROR\x1b[0m one")
	buf.Append(buffer.StreamStdout, "fine")
	buf.Append(buffer.StreamStderr, "ERROR two")

	var out bytes.Buffer
	p := newPrinter(&out, false, true)
	if err := p.flush(buf, view.Pattern{Mode: view.ModeFilter, Text: "ERROR"}); err != nil {
		t.Fatalf("flush: %v", err)
	}
	want := "ERROR one\n[stderr] ERROR two\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}

	out.Reset()
	buf.Append(buffer.StreamStdout, "later")
	if err := p.flush(buf, view.Pattern{}); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if out.String() != "later\n" {
		t.Errorf("second flush = %q", out.String())
	}
}

func TestPrinterFollowsClear(t *testing.T) {
	buf := buffer.New()
	buf.Append(buffer.StreamStdout, "a")
	buf.Append(buffer.StreamStdout, "b")

	var out bytes.Buffer
	p := newPrinter(&out, false, false)
	p.flush(buf, view.Pattern{})
	buf.Clear()
	buf.Append(buffer.StreamStdout, "c")
	p.flush(buf, view.Pattern{})

	if out.String() != "a\nb\nc\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestPrinterJSON(t *testing.T) {
	buf := buffer.New()
	buf.Append(buffer.StreamStderr, "oops")

	var out bytes.Buffer
	p := newPrinter(&out, true, false)
	if err := p.flush(buf, view.Pattern{}); err != nil {
		t.Fatalf("flush: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if got["stream"] != "stderr" || got["text"] != "oops" || got["seq"] != float64(0) {
		t.Errorf("json line = %v", got)
	}
}

func TestExitResult(t *testing.T) {
	tests := []struct {
		name string
		st   supervisor.Status
		code int
	}{
		{"success", supervisor.Status{State: supervisor.StateStopped, Exit: &supervisor.ExitInfo{Code: 0}}, 0},
		{"exit code", supervisor.Status{State: supervisor.StateFailed, Exit: &supervisor.ExitInfo{Code: 3}}, 3},
		{"signal", supervisor.Status{State: supervisor.StateFailed, Exit: &supervisor.ExitInfo{Code: -1, Signal: "killed"}}, 1},
		{"requested stop", supervisor.Status{State: supervisor.StateStopped, Exit: &supervisor.ExitInfo{Code: -1, Signal: "terminated"}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exitResult(tt.st)
			if tt.code == 0 {
				if err != nil {
					t.Errorf("err = %v, want nil", err)
				}
				return
			}
			var exitErr *ExitError
			if !errors.As(err, &exitErr) || exitErr.Code != tt.code {
				t.Errorf("err = %v, want exit code %d", err, tt.code)
			}
		})
	}
}

func TestRunSessionFilter(t *testing.T) {
	out, err := runHeadless(t, shell(`printf 'a\nERROR b\na again\n'`), headlessOptions{Filter: "ERROR"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "ERROR b\n" {
		t.Errorf("output = %q, want only the ERROR line", out)
	}
}

func TestRunSessionExitCode(t *testing.T) {
	out, err := runHeadless(t, shell(`echo before; exit 3`), headlessOptions{})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 3 {
		t.Fatalf("err = %v, want exit code 3", err)
	}
	if out != "before\n" {
		t.Errorf("output = %q", out)
	}
}

func TestRunSessionUntil(t *testing.T) {
	start := time.Now()
	out, err := runHeadless(t, shell(`echo booting; echo ready; exec sleep 30`), headlessOptions{Until: "^ready$"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "ready") {
		t.Errorf("output = %q", out)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("until took %s", elapsed)
	}
}

func TestRunSessionUntilTimeout(t *testing.T) {
	_, err := runHeadless(t, shell(`exec sleep 30`), headlessOptions{Until: "never", Timeout: 200 * time.Millisecond})
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestRunSessionStdin(t *testing.T) {
	out, err := runHeadless(t, []string{"/bin/sh", "-c", `read a; read b; echo "got $a $b"`}, headlessOptions{
		Stdin: strings.NewReader("one\ntwo\n"),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "got one two\n" {
		t.Errorf("output = %q", out)
	}
}

func TestRunSessionSpawnError(t *testing.T) {
	_, err := runHeadless(t, []string{"/nonexistent/riverflow-test"}, headlessOptions{})
	if !errors.Is(err, supervisor.ErrSpawn) {
		t.Fatalf("err = %v, want spawn error", err)
	}
}

func TestRunSessionSettle(t *testing.T) {
	start := time.Now()
	out, err := runHeadless(t, shell(`echo one; echo two; exec sleep 30`), headlessOptions{Settle: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "one\ntwo\n" {
		t.Errorf("output = %q", out)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("settle took %s", elapsed)
	}
}

func TestRunSessionSettleTimeout(t *testing.T) {
	_, err := runHeadless(t, shell(`exec sleep 30`), headlessOptions{Settle: 100 * time.Millisecond, Timeout: 300 * time.Millisecond})
	if err == nil || !strings.Contains(err.Error(), "settle") {
		t.Fatalf("err = %v, want settle timeout", err)
	}
}

func TestRunSessionUntilAndSettleExclusive(t *testing.T) {
	_, err := runHeadless(t, shell(`echo x`), headlessOptions{Until: "x", Settle: time.Second})
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("err = %v, want mutual exclusion error", err)
	}
}
