package capture

import (
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sleepiecappy/riverflow/internal/buffer"
)

func runToEnd(t *testing.T, r *Reader) {
	t.Helper()
	go r.Run()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not finish")
	}
}

func lineTexts(buf *buffer.Buffer) []string {
	var out []string
	for _, l := range buf.All() {
		out = append(out, l.Text)
	}
	return out
}

func TestReaderSplitsLines(t *testing.T) {
	buf := buffer.New()
	gen := buf.Advance()
	src := io.NopCloser(strings.NewReader("one\r\ntwo\n\nthree-partial"))
	r := NewReader(src, buffer.StreamStdout, gen, buf, Options{})
	runToEnd(t, r)

	want := []string{"one", "two", "", "three-partial"}
	got := lineTexts(buf)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("lines = %q, want %q", got, want)
	}
	if r.err != nil {
		t.Errorf("err = %v, want nil", r.err)
	}
	if r.Lines() != 4 {
		t.Errorf("Lines() = %d, want 4", r.Lines())
	}
}

func TestReaderPartialLineAcrossWrites(t *testing.T) {
	buf := buffer.New()
	gen := buf.Advance()
	pr, pw := io.Pipe()
	r := NewReader(pr, buffer.StreamStderr, gen, buf, Options{})
	go r.Run()

	pw.Write([]byte("hel"))
	pw.Write([]byte("lo\nwor"))
	deadline := time.Now().Add(2 * time.Second)
	for buf.Len() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := lineTexts(buf); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("lines before close = %q, want [hello]", got)
	}

	pw.Write([]byte("ld"))
	pw.Close()
	<-r.Done()

	if got := lineTexts(buf); len(got) != 2 || got[1] != "world" {
		t.Fatalf("lines after close = %q, want [hello world]", got)
	}
	if l := buf.All()[1]; l.Stream != buffer.StreamStderr {
		t.Errorf("stream = %v, want stderr", l.Stream)
	}
}

func TestReaderSplitsLongLines(t *testing.T) {
	buf := buffer.New()
	gen := buf.Advance()
	long := strings.Repeat("x", 25)
	src := io.NopCloser(strings.NewReader(long + "\n" + strings.Repeat("y", 5000)))
	r := NewReader(src, buffer.StreamStdout, gen, buf, Options{MaxLineBytes: 10})
	runToEnd(t, r)

	got := lineTexts(buf)
	if len(got) < 3 || got[0] != strings.Repeat("x", 10) || got[2] != "xxxxx" {
		t.Fatalf("unexpected split: %q", got[:min(len(got), 3)])
	}
	total := 0
	for _, s := range got {
		if len(s) > 10 {
			t.Fatalf("line of %d bytes exceeds limit", len(s))
		}
		total += len(s)
	}
	if total != 25+5000 {
		t.Errorf("captured %d bytes, want %d", total, 25+5000)
	}
}

func TestReaderDropsStaleGeneration(t *testing.T) {
	buf := buffer.New()
	old := buf.Advance()
	buf.Advance()

	src := io.NopCloser(strings.NewReader("late\n"))
	r := NewReader(src, buffer.StreamStdout, old, buf, Options{})
	runToEnd(t, r)

	if buf.Len() != 0 {
		t.Fatalf("stale reader wrote %d lines", buf.Len())
	}
	if r.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", r.Dropped())
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.data) > 0 {
		n := copy(p, f.data)
		f.data = f.data[n:]
		return n, nil
	}
	return 0, f.err
}

func (f *failingReader) Close() error { return nil }

func TestReaderReportsReadError(t *testing.T) {
	buf := buffer.New()
	gen := buf.Advance()
	boom := errors.New("device unplugged")
	var calls atomic.Int32

	src := &failingReader{data: []byte("ok\ntail"), err: boom}
	r := NewReader(src, buffer.StreamStdout, gen, buf, Options{
		OnError: func(rd *Reader, err error) {
			calls.Add(1)
			if !errors.Is(err, boom) {
				t.Errorf("OnError got %v", err)
			}
		},
	})
	runToEnd(t, r)

	if !errors.Is(r.err, boom) {
		t.Errorf("err = %v, want %v", r.err, boom)
	}
	if calls.Load() != 1 {
		t.Errorf("OnError called %d times, want 1", calls.Load())
	}
	if got := lineTexts(buf); len(got) != 2 || got[1] != "tail" {
		t.Errorf("partial tail not flushed: %q", got)
	}
}

func TestReaderCloseEndsQuietly(t *testing.T) {
	buf := buffer.New()
	gen := buf.Advance()
	pr, pw := io.Pipe()
	defer pw.Close()

	r := NewReader(pr, buffer.StreamStdout, gen, buf, Options{
		OnError: func(*Reader, error) { t.Error("OnError called for a requested close") },
	})
	go r.Run()

	pw.Write([]byte("before\n"))
	r.Close()

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not end the reader")
	}
	if r.err != nil {
		t.Errorf("err = %v, want nil", r.err)
	}
}

func TestReaderFollowsScreenClear(t *testing.T) {
	buf := buffer.New()
	gen := buf.Advance()
	src := io.NopCloser(strings.NewReader("frame 1\nmore\n\x1b[H\x1b[2Jframe 2\n"))
	r := NewReader(src, buffer.StreamStdout, gen, buf, Options{FollowScreenClear: true})
	runToEnd(t, r)

	got := buf.All()
	if len(got) != 1 || got[0].Text != "frame 2" {
		t.Fatalf("lines = %q, want [frame 2]", lineTexts(buf))
	}
	if got[0].Seq != 0 {
		t.Errorf("seq after clear = %d, want 0", got[0].Seq)
	}
}
