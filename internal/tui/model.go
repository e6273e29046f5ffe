// Package tui is the interactive terminal front end. It decodes key presses
// into state machine actions, runs process effects off the update loop and
// draws session snapshots.
package tui

import (
	"context"
	"errors"
	"sort"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"pkt.systems/pslog"

	"github.com/sleepiecappy/riverflow/internal/config"
	"github.com/sleepiecappy/riverflow/internal/interact"
	"github.com/sleepiecappy/riverflow/internal/logging"
	"github.com/sleepiecappy/riverflow/internal/session"
	"github.com/sleepiecappy/riverflow/internal/supervisor"
	"github.com/sleepiecappy/riverflow/internal/view"
)

// chromeHeight is the number of lines below the log pane.
const chromeHeight = 2

type Options struct {
	Config config.TUIConfig
	// Reload delivers new TUI settings while the program runs.
	Reload <-chan config.TUIConfig
	Logger pslog.Logger
}

type eventMsg struct{ ev supervisor.Event }

type changedMsg struct{}

type reloadMsg struct{ cfg config.TUIConfig }

type effectResult struct {
	effect interact.Effect
	err    error
}

type effectsDoneMsg struct{ results []effectResult }

type Model struct {
	ctx     context.Context
	sess    *session.Session
	events  <-chan supervisor.Event
	changed <-chan struct{}
	reload  <-chan config.TUIConfig
	log     pslog.Logger

	keys   KeyMap
	styles Styles
	cfg    config.TUIConfig

	vp    viewport.Model
	ready bool
	width int
	snap  session.Snapshot
	last  view.Pattern
	match int
	rows  *rowCache
}

// New builds the model. changed is a buffer subscription owned by the
// caller.
func New(ctx context.Context, sess *session.Session, events <-chan supervisor.Event, changed <-chan struct{}, opts Options) Model {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	m := Model{
		ctx:     ctx,
		sess:    sess,
		events:  events,
		changed: changed,
		reload:  opts.Reload,
		log:     log,
		keys:    DefaultKeyMap(),
		styles:  DefaultStyles(),
		cfg:     opts.Config,
		vp:      viewport.New(80, 22),
		match:   -1,
		rows:    &rowCache{},
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitEvent(), m.waitChanged(), m.waitReload())
}

func (m Model) waitEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return nil
		}
		return eventMsg{ev: ev}
	}
}

func (m Model) waitChanged() tea.Cmd {
	if m.changed == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-m.changed; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) waitReload() tea.Cmd {
	if m.reload == nil {
		return nil
	}
	return func() tea.Msg {
		cfg, ok := <-m.reload
		if !ok {
			return nil
		}
		return reloadMsg{cfg: cfg}
	}
}

// execute runs process effects in order on a command goroutine.
func (m Model) execute(effects []interact.Effect) tea.Cmd {
	ctx, sess := m.ctx, m.sess
	return func() tea.Msg {
		results := make([]effectResult, 0, len(effects))
		for _, e := range effects {
			results = append(results, effectResult{effect: e, err: sess.Execute(ctx, e)})
		}
		return effectsDoneMsg{results: results}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.vp.Width = max(msg.Width, 1)
		m.vp.Height = max(msg.Height-chromeHeight, 1)
		m.ready = true
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		m.sess.HandleEvent(msg.ev)
		m.refresh()
		return m, m.waitEvent()

	case changedMsg:
		m.refresh()
		return m, m.waitChanged()

	case reloadMsg:
		m.log.Info("tui config reloaded")
		m.cfg = msg.cfg
		m.refresh()
		return m, m.waitReload()

	case effectsDoneMsg:
		stopped := false
		for _, r := range msg.results {
			m.sess.Complete(r.effect, r.err)
			if r.effect.Kind == interact.StopProcess {
				stopped = true
			}
		}
		m.refresh()
		if stopped && m.sess.Quitting() {
			return m, tea.Quit
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	in, ok := m.keys.Decode(m.sess.State().Mode, msg)
	if !ok {
		return m, nil
	}

	var effects []interact.Effect
	for _, a := range in.Actions {
		effects = append(effects, m.sess.Apply(a)...)
	}
	m.refresh()
	if in.Nav != NavNone {
		m.navigate(in.Nav)
	}
	if len(effects) == 0 {
		return m, nil
	}
	return m, m.execute(effects)
}

func (m *Model) navigate(nav Nav) {
	switch nav {
	case NavUp:
		m.scrollTo(m.vp.YOffset - 1)
	case NavDown:
		m.scrollTo(m.vp.YOffset + 1)
	case NavPageUp:
		m.scrollTo(m.vp.YOffset - m.vp.Height)
	case NavPageDown:
		m.scrollTo(m.vp.YOffset + m.vp.Height)
	case NavTop:
		m.scrollTo(0)
	case NavBottom:
		if !m.snap.AutoScroll {
			m.sess.Apply(interact.Do(interact.ToggleAutoScroll))
		}
		m.refresh()
	case NavNextMatch, NavPrevMatch:
		m.stepMatch(nav == NavNextMatch)
	}
}

// scrollTo moves the pane and leaves follow mode when the bottom is left.
func (m *Model) scrollTo(offset int) {
	m.vp.SetYOffset(max(offset, 0))
	if m.snap.AutoScroll && !m.vp.AtBottom() {
		m.sess.Apply(interact.Do(interact.ToggleAutoScroll))
		m.snap = m.sess.Snapshot()
	}
}

func (m *Model) stepMatch(forward bool) {
	n := len(m.snap.Matches)
	if n == 0 || m.snap.Pattern.Mode != view.ModeSearch {
		return
	}
	switch {
	case m.match < 0 && forward:
		m.match = 0
	case m.match < 0:
		m.match = n - 1
	case forward:
		m.match = (m.match + 1) % n
	default:
		m.match = (m.match - 1 + n) % n
	}
	m.refresh()

	seq := m.snap.Matches[m.match]
	rows := m.snap.View.Rows
	idx := sort.Search(len(rows), func(i int) bool { return rows[i].Line.Seq >= seq })
	m.scrollTo(idx - m.vp.Height/2)
}

func (m *Model) refresh() {
	m.snap = m.sess.Snapshot()
	if m.snap.Pattern != m.last {
		m.last = m.snap.Pattern
		m.match = -1
	}
	if m.match >= len(m.snap.Matches) {
		m.match = -1
	}

	current := int64(-1)
	if m.match >= 0 {
		current = int64(m.snap.Matches[m.match])
	}
	v := m.snap.View
	key := rowKey{pattern: v.Pattern, epoch: m.snap.Buffer.Epoch, cfg: m.cfg, current: current, width: numberWidth(v.Rows)}
	m.vp.SetContent(m.rows.update(v.Rows, key, func(row view.Row) string {
		return renderRow(row, v.Pattern, m.cfg, m.styles, current, key.width)
	}))
	if m.snap.AutoScroll {
		m.vp.GotoBottom()
	}
}

func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}
	return m.vp.View() + "\n" +
		renderStatus(m.snap, m.match, m.width, m.styles) + "\n" +
		renderPrompt(m.snap, m.keys, m.styles)
}

// Run drives the program until the operator quits or ctx ends. The session
// must already be started.
func Run(ctx context.Context, sess *session.Session, events <-chan supervisor.Event, opts Options) error {
	changed, unsubscribe := sess.Buffer().Subscribe()
	defer unsubscribe()

	m := New(ctx, sess, events, changed, opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}
