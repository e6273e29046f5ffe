package tui

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/sleepiecappy/riverflow/internal/buffer"
	"github.com/sleepiecappy/riverflow/internal/config"
	"github.com/sleepiecappy/riverflow/internal/interact"
	"github.com/sleepiecappy/riverflow/internal/session"
	"github.com/sleepiecappy/riverflow/internal/supervisor"
	"github.com/sleepiecappy/riverflow/internal/view"
)

// brackets marks highlighted text so tests can see spans without colors.
var brackets = lipgloss.NewStyle().Transform(func(s string) string { return "[" + s + "]" })

func TestHighlight(t *testing.T) {
	tests := []struct {
		text  string
		spans []view.Span
		want  string
	}{
		{"plain", nil, "plain"},
		{"foo bar foo", []view.Span{{Start: 0, End: 3}, {Start: 8, End: 11}}, "[foo] bar [foo]"},
		{"abc", []view.Span{{Start: 1, End: 2}}, "a[b]c"},
		{"abc", []view.Span{{Start: 1, End: 9}}, "abc"},
	}
	for _, tt := range tests {
		if got := highlight(tt.text, tt.spans, brackets); got != tt.want {
			t.Errorf("highlight(%q, %v) = %q, want %q", tt.text, tt.spans, got, tt.want)
		}
	}
}

func TestDisplayTextStripsAndRematches(t *testing.T) {
	raw := "\x1b[31mERROR\x1b[0m disk full"
	row := view.Row{
		Line:  buffer.Line{Text: raw},
		Spans: view.Match(raw, "ERROR"),
	}
	pattern := view.Pattern{Mode: view.ModeSearch, Text: "ERROR"}

	text, spans := displayText(row, pattern, true)
	if text != "ERROR disk full" {
		t.Fatalf("text = %q", text)
	}
	if len(spans) != 1 || spans[0] != (view.Span{Start: 0, End: 5}) {
		t.Errorf("spans = %v", spans)
	}

	text, spans = displayText(row, pattern, false)
	if text != raw || len(spans) != 1 || spans[0].Start != 5 {
		t.Errorf("raw display = %q %v", text, spans)
	}

	plain := view.Row{Line: buffer.Line{Text: "ERROR plain"}, Spans: view.Match("ERROR plain", "ERROR")}
	if text, spans := displayText(plain, pattern, true); text != "ERROR plain" || len(spans) != 1 || spans[0] != plain.Spans[0] {
		t.Errorf("plain display = %q %v", text, spans)
	}
}

// drawRows renders v the way the model fills its pane.
func drawRows(v view.View, cfg config.TUIConfig, st Styles, current int64) string {
	var c rowCache
	key := rowKey{pattern: v.Pattern, cfg: cfg, current: current, width: numberWidth(v.Rows)}
	return c.update(v.Rows, key, func(row view.Row) string {
		return renderRow(row, v.Pattern, cfg, st, current, key.width)
	})
}

func TestRenderRows(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 30, 45, 123e6, time.UTC)
	v := view.View{
		Pattern: view.Pattern{Mode: view.ModeSearch, Text: "b"},
		Rows: []view.Row{
			{Line: buffer.Line{Seq: 8, Stream: buffer.StreamStdout, Text: "ab", Time: at}, Spans: []view.Span{{Start: 1, End: 2}}},
			{Line: buffer.Line{Seq: 9, Stream: buffer.StreamInput, Text: "ping", Time: at}},
		},
	}
	st := DefaultStyles()
	st.Match = brackets

	cfg := config.TUIConfig{ShowLineNumbers: true, ShowTimestamps: true}
	out := drawRows(v, cfg, st, -1)
	lines := strings.Split(out, "\n")
	if len(lines) != 2 {
		t.Fatalf("rows = %q", lines)
	}
	if lines[0] != " 9 12:30:45.123 a[b]" {
		t.Errorf("first row = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "10 ") || !strings.HasSuffix(lines[1], "> ping") {
		t.Errorf("input row = %q", lines[1])
	}

	if out := drawRows(v, config.TUIConfig{}, st, -1); !strings.HasPrefix(out, "a[b]\n") {
		t.Errorf("bare rows = %q", out)
	}
	if drawRows(view.View{}, cfg, st, -1) != "" {
		t.Error("empty view rendered rows")
	}
}

func TestRenderStatus(t *testing.T) {
	long := supervisor.Command{Path: "/usr/local/bin/some-very-long-program-name", Args: []string{"--with", "many", "arguments"}}
	snap := session.Snapshot{
		Mode:   interact.ModeNormal,
		Status: supervisor.Status{Command: long, State: supervisor.StateFailed, Exit: &supervisor.ExitInfo{Code: 3}, Restarts: 2},
	}
	out := renderStatus(snap, -1, 200, DefaultStyles())
	for _, want := range []string{"NORMAL", "...", "failed", "exit 3", "restarts 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("status %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "arguments") {
		t.Errorf("command not truncated: %q", out)
	}

	snap.Status = supervisor.Status{Command: supervisor.Command{Path: "app"}, State: supervisor.StateRunning, PID: 7}
	snap.Pattern = view.Pattern{Mode: view.ModeFilter, Text: "x"}
	snap.View = view.View{Rows: make([]view.Row, 2), Total: 5}
	snap.AutoScroll = true
	snap.Buffer = buffer.Stats{Evicted: 12}
	out = renderStatus(snap, -1, 200, DefaultStyles())
	for _, want := range []string{"pid 7", "2/5 lines", "12 evicted", "follow"} {
		if !strings.Contains(out, want) {
			t.Errorf("status %q missing %q", out, want)
		}
	}
}

func TestRenderPrompt(t *testing.T) {
	keys := DefaultKeyMap()
	st := DefaultStyles()
	tests := []struct {
		name string
		snap session.Snapshot
		want string
	}{
		{"insert", session.Snapshot{Mode: interact.ModeInsert, Pending: "ls -l"}, "> ls -l"},
		{"search", session.Snapshot{Mode: interact.ModeSearch, Pattern: view.Pattern{Mode: view.ModeSearch, Text: "err"}}, "/err"},
		{"filter", session.Snapshot{Mode: interact.ModeFilter, Pattern: view.Pattern{Mode: view.ModeFilter, Text: "warn"}}, "filter: warn"},
		{"retained", session.Snapshot{Mode: interact.ModeNormal, Pattern: view.Pattern{Mode: view.ModeSearch, Text: "x"}}, "/x"},
		{"notice", session.Snapshot{Mode: interact.ModeNormal, Notices: []session.Notice{{Level: session.LevelWarn, Text: "stdin full"}}}, "stdin full"},
		{"help", session.Snapshot{Mode: interact.ModeNormal}, "i insert"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderPrompt(tt.snap, keys, st); !strings.Contains(got, tt.want) {
				t.Errorf("prompt = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRowCacheDrawsOnlyNewRows(t *testing.T) {
	rowsOf := func(from, to uint64) []view.Row {
		var rows []view.Row
		for seq := from; seq < to; seq++ {
			rows = append(rows, view.Row{Line: buffer.Line{Seq: seq, Text: fmt.Sprintf("line %d", seq)}})
		}
		return rows
	}
	var drawn []uint64
	draw := func(row view.Row) string {
		drawn = append(drawn, row.Line.Seq)
		return row.Line.Text
	}
	var c rowCache
	key := rowKey{current: -1, width: 1}

	if got := c.update(rowsOf(0, 3), key, draw); got != "line 0\nline 1\nline 2" {
		t.Fatalf("content = %q", got)
	}
	drawn = nil
	if got := c.update(rowsOf(0, 5), key, draw); got != "line 0\nline 1\nline 2\nline 3\nline 4" {
		t.Fatalf("content after append = %q", got)
	}
	if len(drawn) != 2 || drawn[0] != 3 {
		t.Errorf("drew %v, want only [3 4]", drawn)
	}

	drawn = nil
	if got := c.update(rowsOf(2, 6), key, draw); got != "line 2\nline 3\nline 4\nline 5" {
		t.Fatalf("content after eviction = %q", got)
	}
	if len(drawn) != 1 || drawn[0] != 5 {
		t.Errorf("drew %v after eviction, want [5]", drawn)
	}

	drawn = nil
	key.current = 3
	c.update(rowsOf(2, 6), key, draw)
	if len(drawn) != 4 {
		t.Errorf("drew %v after key change, want every row", drawn)
	}

	drawn = nil
	cleared := []view.Row{{Line: buffer.Line{Seq: 0, Text: "fresh"}}}
	if got := c.update(cleared, key, draw); got != "fresh" {
		t.Errorf("content after clear = %q", got)
	}
}
