// Package capture turns a raw output stream of the child process into lines
// in the shared buffer.
package capture

import (
	"bufio"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"syscall"

	"github.com/sleepiecappy/riverflow/internal/ansi"
	"github.com/sleepiecappy/riverflow/internal/buffer"
)

const (
	ReadBufferSize      = 4096
	DefaultMaxLineBytes = 64 * 1024
)

type Sink interface {
	AppendGen(gen uint64, stream buffer.Stream, text string) (buffer.Line, bool)
	Clear()
}

type Options struct {
	// MaxLineBytes splits longer lines into several. Zero selects the default.
	MaxLineBytes int
	// FollowScreenClear clears the sink when the stream clears the screen.
	FollowScreenClear bool
	// OnError is called once, from the reader goroutine, when the stream
	// fails with anything other than end of file.
	OnError func(*Reader, error)
}

// Reader copies one stream into a Sink on behalf of a single writer
// generation. Lines written after the generation was superseded are dropped
// by the sink.
type Reader struct {
	src    io.ReadCloser
	stream buffer.Stream
	gen    uint64
	sink   Sink
	opts   Options

	closing atomic.Bool
	lines   atomic.Uint64
	dropped atomic.Uint64
	err     error
	done    chan struct{}
}

func NewReader(src io.ReadCloser, stream buffer.Stream, gen uint64, sink Sink, opts Options) *Reader {
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	return &Reader{
		src:    src,
		stream: stream,
		gen:    gen,
		sink:   sink,
		opts:   opts,
		done:   make(chan struct{}),
	}
}

func (r *Reader) Stream() buffer.Stream { return r.stream }

// Done is closed after the reader wrote its last line.
func (r *Reader) Done() <-chan struct{} { return r.done }

// Lines is the number of lines accepted by the sink.
func (r *Reader) Lines() uint64 { return r.lines.Load() }

// Dropped is the number of lines the sink refused as stale.
func (r *Reader) Dropped() uint64 { return r.dropped.Load() }

// Close interrupts a blocked read. Whatever was buffered is still flushed and
// the reader ends without reporting an error.
func (r *Reader) Close() error {
	if r.closing.Swap(true) {
		return nil
	}
	return r.src.Close()
}

// Run reads until the stream ends. It is meant to run on its own goroutine.
func (r *Reader) Run() {
	defer close(r.done)

	br := bufio.NewReaderSize(r.src, ReadBufferSize)
	var pending []byte
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			pending = append(pending, chunk...)
			if pending[len(pending)-1] == '\n' {
				r.emit(pending[:len(pending)-1])
				pending = pending[:0]
			} else {
				pending = r.splitLong(pending)
			}
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		}

		if len(pending) > 0 {
			r.emit(pending)
		}
		if !r.isEndOfStream(err) {
			r.err = err
			if r.opts.OnError != nil {
				r.opts.OnError(r, err)
			}
		}
		r.src.Close()
		return
	}
}

// splitLong emits leading segments of an unterminated line that already
// exceeds the configured limit and returns the remainder.
func (r *Reader) splitLong(pending []byte) []byte {
	for len(pending) > r.opts.MaxLineBytes {
		r.emit(pending[:r.opts.MaxLineBytes])
		pending = append(pending[:0], pending[r.opts.MaxLineBytes:]...)
	}
	return pending
}

func (r *Reader) emit(raw []byte) {
	if n := len(raw); n > 0 && raw[n-1] == '\r' {
		raw = raw[:n-1]
	}
	text := string(raw)

	if r.opts.FollowScreenClear {
		if after, found := ansi.AfterClear(text); found {
			r.sink.Clear()
			if after == "" {
				return
			}
			text = after
		}
	}

	for len(text) > r.opts.MaxLineBytes {
		r.append(text[:r.opts.MaxLineBytes])
		text = text[r.opts.MaxLineBytes:]
	}
	r.append(text)
}

func (r *Reader) append(text string) {
	if _, ok := r.sink.AppendGen(r.gen, r.stream, text); ok {
		r.lines.Add(1)
	} else {
		r.dropped.Add(1)
	}
}

// isEndOfStream reports whether err is a normal end of capture: end of
// file, a close requested through Close, or the EIO a pty master returns
// once the child side has gone away.
func (r *Reader) isEndOfStream(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	if r.closing.Load() && (errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)) {
		return true
	}
	return errors.Is(err, syscall.EIO)
}
