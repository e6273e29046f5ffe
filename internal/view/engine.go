// Package view projects the line buffer through the active search or filter
// pattern into the rows a renderer draws.
package view

import (
	"strings"

	"github.com/sleepiecappy/riverflow/internal/buffer"
)

type Mode int

const (
	ModeNone Mode = iota
	ModeSearch
	ModeFilter
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeSearch:
		return "search"
	case ModeFilter:
		return "filter"
	default:
		return "unknown"
	}
}

// Pattern is the single active search or filter term.
type Pattern struct {
	Mode Mode
	Text string
}

func (p Pattern) Active() bool {
	return p.Mode != ModeNone
}

// Span is a byte range [Start, End) of a match within a line's text.
type Span struct {
	Start int
	End   int
}

type Row struct {
	Line  buffer.Line
	Spans []Span
}

type View struct {
	Pattern Pattern
	Rows    []Row
	// Total is the number of lines held by the buffer, visible or not.
	Total int
}

// Match returns every non-overlapping, case-sensitive occurrence of pattern
// in text. An empty pattern matches nothing.
func Match(text, pattern string) []Span {
	if pattern == "" {
		return nil
	}
	var spans []Span
	offset := 0
	for {
		i := strings.Index(text[offset:], pattern)
		if i < 0 {
			return spans
		}
		start := offset + i
		end := start + len(pattern)
		spans = append(spans, Span{Start: start, End: end})
		offset = end
	}
}

// Contains reports whether text is kept by a filter on pattern.
func Contains(text, pattern string) bool {
	return pattern != "" && strings.Contains(text, pattern)
}

// Engine keeps the match state for the current pattern and brings it up to
// date incrementally: only lines appended since the last refresh are tested.
// A pattern change or a buffer clear triggers a full rescan.
//
// Engine is not safe for concurrent use; it belongs to the control path.
type Engine struct {
	buf     *buffer.Buffer
	pattern Pattern

	epoch  uint64
	cursor uint64
	// matched holds the lines containing the pattern in buffer order, for
	// both search and filter.
	matched []buffer.Line
	spans   map[uint64][]Span
}

func NewEngine(buf *buffer.Buffer) *Engine {
	e := &Engine{buf: buf}
	e.reset()
	return e
}

func (e *Engine) Pattern() Pattern {
	return e.pattern
}

// SetPattern replaces the active pattern and discards every projection
// derived from the previous one.
func (e *Engine) SetPattern(p Pattern) {
	if p.Mode == ModeNone {
		p.Text = ""
	}
	e.pattern = p
	e.reset()
}

func (e *Engine) reset() {
	e.epoch = e.buf.Epoch()
	e.cursor = 0
	e.matched = nil
	e.spans = make(map[uint64][]Span)
}

// Refresh evaluates lines appended since the previous call and returns how
// many of them matched.
func (e *Engine) Refresh() int {
	if epoch := e.buf.Epoch(); epoch != e.epoch {
		e.reset()
	}
	e.trimEvicted()

	fresh := e.buf.Since(e.cursor)
	if len(fresh) == 0 {
		return 0
	}
	e.cursor = fresh[len(fresh)-1].Seq + 1

	if !e.pattern.Active() || e.pattern.Text == "" {
		return 0
	}

	n := 0
	for _, line := range fresh {
		spans := Match(line.Text, e.pattern.Text)
		if len(spans) == 0 {
			continue
		}
		e.matched = append(e.matched, line)
		if e.pattern.Mode == ModeSearch {
			e.spans[line.Seq] = spans
		}
		n++
	}
	return n
}

func (e *Engine) trimEvicted() {
	first, ok := e.buf.First()
	if !ok {
		return
	}
	i := 0
	for i < len(e.matched) && e.matched[i].Seq < first {
		delete(e.spans, e.matched[i].Seq)
		i++
	}
	if i > 0 {
		e.matched = append([]buffer.Line(nil), e.matched[i:]...)
	}
}

// View refreshes and returns the projection for the active pattern.
func (e *Engine) View() View {
	e.Refresh()

	if e.pattern.Mode == ModeFilter {
		v := View{Pattern: e.pattern, Total: e.buf.Len()}
		v.Rows = make([]Row, 0, len(e.matched))
		for _, line := range e.matched {
			v.Rows = append(v.Rows, Row{Line: line})
		}
		return v
	}

	all := e.buf.All()
	v := View{Pattern: e.pattern, Total: len(all)}
	switch e.pattern.Mode {
	case ModeSearch:
		v.Rows = make([]Row, len(all))
		for i, line := range all {
			v.Rows[i] = Row{Line: line, Spans: e.spans[line.Seq]}
		}
	default:
		v.Rows = make([]Row, len(all))
		for i, line := range all {
			v.Rows[i] = Row{Line: line}
		}
	}
	return v
}

// Matches returns the sequence numbers of matching lines, oldest first.
func (e *Engine) Matches() []uint64 {
	e.Refresh()

	seqs := make([]uint64, len(e.matched))
	for i, line := range e.matched {
		seqs[i] = line.Seq
	}
	return seqs
}
