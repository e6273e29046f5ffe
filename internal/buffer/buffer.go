// Package buffer holds the captured output of the supervised process as an
// append-only, sequence-numbered list of lines shared by every process
// instance of a session.
package buffer

import (
	"fmt"
	"sync"
	"time"
)

type Stream int

const (
	StreamStdout Stream = iota
	StreamStderr
	// StreamInput marks echoed operator input, only written when echo is enabled.
	StreamInput
)

func (s Stream) String() string {
	switch s {
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	case StreamInput:
		return "input"
	default:
		return "unknown"
	}
}

func (s Stream) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Line is one captured line. Lines are values and never change after Append.
type Line struct {
	Seq    uint64    `json:"seq"`
	Stream Stream    `json:"stream"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

type Buffer struct {
	mu       sync.RWMutex
	lines    []Line
	next     uint64
	epoch    uint64
	gen      uint64
	maxLines int
	evicted  uint64
	dropped  uint64
	subs     map[int]chan struct{}
	nextSub  int
	now      func() time.Time
}

type Option func(*Buffer)

// WithMaxLines bounds the buffer; the oldest lines are evicted first.
// Zero or a negative value means unbounded.
func WithMaxLines(n int) Option {
	return func(b *Buffer) {
		b.maxLines = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		b.now = now
	}
}

func New(opts ...Option) *Buffer {
	b := &Buffer{
		subs: make(map[int]chan struct{}),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append adds a line regardless of writer generation.
func (b *Buffer) Append(stream Stream, text string) Line {
	b.mu.Lock()
	line := b.appendLocked(stream, text)
	b.mu.Unlock()

	b.signal()
	return line
}

// AppendGen adds a line on behalf of the writer generation gen. Writes from a
// generation other than the current one are dropped and reported as false.
func (b *Buffer) AppendGen(gen uint64, stream Stream, text string) (Line, bool) {
	b.mu.Lock()
	if gen != b.gen {
		b.dropped++
		b.mu.Unlock()
		return Line{}, false
	}
	line := b.appendLocked(stream, text)
	b.mu.Unlock()

	b.signal()
	return line, true
}

func (b *Buffer) appendLocked(stream Stream, text string) Line {
	line := Line{
		Seq:    b.next,
		Stream: stream,
		Text:   text,
		Time:   b.now(),
	}
	b.next++
	b.lines = append(b.lines, line)

	if b.maxLines > 0 && len(b.lines) > b.maxLines {
		excess := len(b.lines) - b.maxLines
		b.lines = b.lines[excess:]
		b.evicted += uint64(excess)
	}
	return line
}

// Advance starts a new writer generation and returns its token. Writers
// holding an older token can no longer add lines.
func (b *Buffer) Advance() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gen++
	return b.gen
}

// Clear drops every line, resets numbering to zero and begins a new epoch.
// The writer generation is left alone so the running instance keeps writing.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.lines = nil
	b.next = 0
	b.epoch++
	b.mu.Unlock()

	b.signal()
}

// Subscribe returns a channel signalled after every append or clear, and a
// function that unsubscribes. Signals coalesce: one receive may stand for many
// changes, so subscribers re-read the buffer rather than count signals.
func (b *Buffer) Subscribe() (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	ch := make(chan struct{}, 1)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Buffer) signal() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Range returns the lines with from <= Seq < to.
func (b *Buffer) Range(from, to uint64) []Line {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if to <= from || len(b.lines) == 0 {
		return nil
	}
	lo := b.indexLocked(from)
	hi := b.indexLocked(to)
	return append([]Line(nil), b.lines[lo:hi]...)
}

// Since returns every line with Seq >= seq.
func (b *Buffer) Since(seq uint64) []Line {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.lines) == 0 {
		return nil
	}
	lo := b.indexLocked(seq)
	return append([]Line(nil), b.lines[lo:]...)
}

// Latest returns up to n of the newest lines, oldest first.
func (b *Buffer) Latest(n int) []Line {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	start := max(0, len(b.lines)-n)
	return append([]Line(nil), b.lines[start:]...)
}

func (b *Buffer) All() []Line {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Line(nil), b.lines...)
}

// indexLocked maps a sequence number to a slice index clamped to the held
// range. Sequence numbers are contiguous within an epoch.
func (b *Buffer) indexLocked(seq uint64) int {
	first := b.lines[0].Seq
	last := b.lines[len(b.lines)-1].Seq
	if last-first != uint64(len(b.lines)-1) {
		panic(fmt.Sprintf("buffer: non-contiguous sequence numbers %d..%d over %d lines", first, last, len(b.lines)))
	}
	switch {
	case seq <= first:
		return 0
	case seq > last:
		return len(b.lines)
	default:
		return int(seq - first)
	}
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// Next is the sequence number the next appended line will receive.
func (b *Buffer) Next() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.next
}

// First returns the sequence number of the oldest held line.
func (b *Buffer) First() (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.lines) == 0 {
		return 0, false
	}
	return b.lines[0].Seq, true
}

func (b *Buffer) Epoch() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.epoch
}

type Stats struct {
	Lines    int
	Next     uint64
	Epoch    uint64
	Evicted  uint64
	Dropped  uint64
	MaxLines int
}

func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Stats{
		Lines:    len(b.lines),
		Next:     b.next,
		Epoch:    b.epoch,
		Evicted:  b.evicted,
		Dropped:  b.dropped,
		MaxLines: b.maxLines,
	}
}
