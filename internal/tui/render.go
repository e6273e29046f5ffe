package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/sleepiecappy/riverflow/internal/ansi"
	"github.com/sleepiecappy/riverflow/internal/buffer"
	"github.com/sleepiecappy/riverflow/internal/config"
	"github.com/sleepiecappy/riverflow/internal/interact"
	"github.com/sleepiecappy/riverflow/internal/session"
	"github.com/sleepiecappy/riverflow/internal/supervisor"
	"github.com/sleepiecappy/riverflow/internal/view"
)

const maxCommandWidth = 40

type Styles struct {
	LineNumber lipgloss.Style
	Timestamp  lipgloss.Style
	Stderr     lipgloss.Style
	Input      lipgloss.Style
	Match      lipgloss.Style
	Current    lipgloss.Style
	Status     lipgloss.Style
	Mode       map[interact.Mode]lipgloss.Style
	State      map[supervisor.State]lipgloss.Style
	Prompt     lipgloss.Style
	Notice     map[session.Level]lipgloss.Style
	Help       lipgloss.Style
}

func DefaultStyles() Styles {
	badge := lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("0"))
	return Styles{
		LineNumber: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Timestamp:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Stderr:     lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		Input:      lipgloss.NewStyle().Foreground(lipgloss.Color("110")).Italic(true),
		Match:      lipgloss.NewStyle().Background(lipgloss.Color("220")).Foreground(lipgloss.Color("0")),
		Current:    lipgloss.NewStyle().Background(lipgloss.Color("208")).Foreground(lipgloss.Color("0")).Bold(true),
		Status:     lipgloss.NewStyle().Background(lipgloss.Color("236")).Foreground(lipgloss.Color("252")),
		Mode: map[interact.Mode]lipgloss.Style{
			interact.ModeNormal: badge.Background(lipgloss.Color("75")),
			interact.ModeInsert: badge.Background(lipgloss.Color("114")),
			interact.ModeSearch: badge.Background(lipgloss.Color("220")),
			interact.ModeFilter: badge.Background(lipgloss.Color("176")),
		},
		State: map[supervisor.State]lipgloss.Style{
			supervisor.StateRunning:  lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
			supervisor.StateStarting: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
			supervisor.StateStopping: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
			supervisor.StateFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
		},
		Prompt: lipgloss.NewStyle().Bold(true),
		Notice: map[session.Level]lipgloss.Style{
			session.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
			session.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
			session.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		},
		Help: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// displayText returns the text of a row as drawn and the match spans
// within it. Stripping escapes moves byte offsets, so spans are
// recomputed on the stripped text.
func displayText(row view.Row, pattern view.Pattern, strip bool) (string, []view.Span) {
	if !strip || !ansi.HasEscapes(row.Line.Text) {
		return row.Line.Text, row.Spans
	}
	text := ansi.Strip(row.Line.Text)
	if pattern.Mode != view.ModeSearch || len(row.Spans) == 0 {
		return text, nil
	}
	return text, view.Match(text, pattern.Text)
}

func highlight(text string, spans []view.Span, style lipgloss.Style) string {
	if len(spans) == 0 {
		return text
	}
	var sb strings.Builder
	last := 0
	for _, sp := range spans {
		if sp.Start < last || sp.End > len(text) {
			continue
		}
		sb.WriteString(text[last:sp.Start])
		sb.WriteString(style.Render(text[sp.Start:sp.End]))
		last = sp.End
	}
	sb.WriteString(text[last:])
	return sb.String()
}

// numberWidth is the column width of the largest line number in rows.
func numberWidth(rows []view.Row) int {
	if len(rows) == 0 {
		return 0
	}
	return len(fmt.Sprint(rows[len(rows)-1].Line.Seq + 1))
}

// renderRow draws one line of the log pane. current is the sequence number
// of the selected search match, or -1.
func renderRow(row view.Row, pattern view.Pattern, cfg config.TUIConfig, st Styles, current int64, width int) string {
	var sb strings.Builder
	if cfg.ShowLineNumbers {
		sb.WriteString(st.LineNumber.Render(fmt.Sprintf("%*d ", width, row.Line.Seq+1)))
	}
	if cfg.ShowTimestamps {
		sb.WriteString(st.Timestamp.Render(row.Line.Time.Format("15:04:05.000")))
		sb.WriteByte(' ')
	}

	text, spans := displayText(row, pattern, cfg.StripANSI)
	match := st.Match
	if int64(row.Line.Seq) == current {
		match = st.Current
	}
	text = highlight(text, spans, match)

	switch row.Line.Stream {
	case buffer.StreamStderr:
		sb.WriteString(st.Stderr.Render(text))
	case buffer.StreamInput:
		sb.WriteString(st.Input.Render("> " + text))
	default:
		sb.WriteString(text)
	}
	return sb.String()
}

// rowKey is everything besides the row itself that changes how a row is
// drawn.
type rowKey struct {
	pattern view.Pattern
	epoch   uint64
	cfg     config.TUIConfig
	current int64
	width   int
}

// rowCache keeps the drawn rows of the log pane so that appended lines are
// the only ones styled on a refresh. Evicted rows are dropped from the front.
type rowCache struct {
	key   rowKey
	seen  []buffer.Line
	lines []string
}

func (c *rowCache) reset(key rowKey) {
	c.key = key
	c.seen = c.seen[:0]
	c.lines = c.lines[:0]
}

// update brings the cache in line with rows and returns the pane content.
func (c *rowCache) update(rows []view.Row, key rowKey, draw func(view.Row) string) string {
	if key != c.key {
		c.reset(key)
	}

	drop := 0
	for drop < len(c.seen) && (len(rows) == 0 || c.seen[drop].Seq < rows[0].Line.Seq) {
		drop++
	}
	if drop > 0 {
		c.seen = append(c.seen[:0], c.seen[drop:]...)
		c.lines = append(c.lines[:0], c.lines[drop:]...)
	}

	n := len(c.seen)
	if n > len(rows) || (n > 0 && (c.seen[0] != rows[0].Line || c.seen[n-1] != rows[n-1].Line)) {
		c.reset(key)
		n = 0
	}
	for _, row := range rows[n:] {
		c.seen = append(c.seen, row.Line)
		c.lines = append(c.lines, draw(row))
	}
	return strings.Join(c.lines, "\n")
}

func renderStatus(snap session.Snapshot, matchIdx, width int, st Styles) string {
	mode := st.Mode[snap.Mode].Render(snap.Mode.String())

	cmd := runewidth.Truncate(snap.Status.Command.String(), maxCommandWidth, "...")
	state := string(snap.Status.State)
	if s, ok := st.State[snap.Status.State]; ok {
		state = s.Render(state)
	}

	parts := []string{mode, cmd, state}
	if snap.Status.PID > 0 && snap.Status.State.Active() {
		parts = append(parts, fmt.Sprintf("pid %d", snap.Status.PID))
	}
	if snap.Status.Exit != nil && !snap.Status.State.Active() {
		parts = append(parts, snap.Status.Exit.String())
	}
	if snap.Status.Restarts > 0 {
		parts = append(parts, fmt.Sprintf("restarts %d", snap.Status.Restarts))
	}
	switch snap.Pattern.Mode {
	case view.ModeSearch:
		if matchIdx >= 0 && len(snap.Matches) > 0 {
			parts = append(parts, fmt.Sprintf("match %d/%d", matchIdx+1, len(snap.Matches)))
		} else {
			parts = append(parts, fmt.Sprintf("%d matches", len(snap.Matches)))
		}
	case view.ModeFilter:
		parts = append(parts, fmt.Sprintf("%d/%d lines", len(snap.View.Rows), snap.View.Total))
	}
	if n := snap.Buffer.Evicted; n > 0 {
		parts = append(parts, fmt.Sprintf("%d evicted", n))
	}
	if snap.AutoScroll {
		parts = append(parts, "follow")
	}

	line := strings.Join(parts, "  ")
	return st.Status.Width(max(width, 1)).MaxWidth(max(width, 1)).Render(line)
}

// renderPrompt draws the line under the status bar: the text being edited,
// or the latest notice, or the key help.
func renderPrompt(snap session.Snapshot, keys KeyMap, st Styles) string {
	switch snap.Mode {
	case interact.ModeInsert:
		return st.Prompt.Render("> ") + snap.Pending + "█"
	case interact.ModeSearch:
		return st.Prompt.Render("/") + snap.Pattern.Text + "█"
	case interact.ModeFilter:
		return st.Prompt.Render("filter: ") + snap.Pattern.Text + "█"
	}
	if snap.Pattern.Active() {
		label := "/"
		if snap.Pattern.Mode == view.ModeFilter {
			label = "filter: "
		}
		pattern := st.Help.Render(label + snap.Pattern.Text)
		if n := len(snap.Notices); n > 0 {
			last := snap.Notices[n-1]
			return pattern + "  " + st.Notice[last.Level].Render(last.Text)
		}
		return pattern
	}
	if n := len(snap.Notices); n > 0 {
		last := snap.Notices[n-1]
		return st.Notice[last.Level].Render(last.Text)
	}
	return renderHelp(keys, st)
}

func renderHelp(keys KeyMap, st Styles) string {
	var parts []string
	for _, b := range keys.ShortHelp() {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return st.Help.Render(strings.Join(parts, " · "))
}
