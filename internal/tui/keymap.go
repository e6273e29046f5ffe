package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/sleepiecappy/riverflow/internal/interact"
)

// Nav is a scroll movement handled by the model rather than the state
// machine.
type Nav int

const (
	NavNone Nav = iota
	NavUp
	NavDown
	NavPageUp
	NavPageDown
	NavTop
	NavBottom
	NavNextMatch
	NavPrevMatch
)

// Input is what one key press decodes to.
type Input struct {
	Actions []interact.Action
	Nav     Nav
}

// KeyMap holds the bindings for every mode
type KeyMap struct {
	Insert     key.Binding
	Search     key.Binding
	Filter     key.Binding
	Cancel     key.Binding
	Submit     key.Binding
	Backspace  key.Binding
	Quit       key.Binding
	Interrupt  key.Binding
	Kill       key.Binding
	Restart    key.Binding
	ClearLog   key.Binding
	AutoScroll key.Binding
	NextMatch  key.Binding
	PrevMatch  key.Binding
	Up         key.Binding
	Down       key.Binding
	PageUp     key.Binding
	PageDown   key.Binding
	Top        key.Binding
	Bottom     key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Insert:     key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "insert")),
		Search:     key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
		Filter:     key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "filter")),
		Cancel:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		Submit:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "submit")),
		Backspace:  key.NewBinding(key.WithKeys("backspace")),
		Quit:       key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "quit")),
		Interrupt:  key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("^c", "quit")),
		Kill:       key.NewBinding(key.WithKeys("ctrl+k"), key.WithHelp("^k", "kill")),
		Restart:    key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("^r", "restart")),
		ClearLog:   key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("^l", "clear")),
		AutoScroll: key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("^s", "follow")),
		NextMatch:  key.NewBinding(key.WithKeys("n"), key.WithHelp("n/N", "match")),
		PrevMatch:  key.NewBinding(key.WithKeys("N")),
		Up:         key.NewBinding(key.WithKeys("k", "up")),
		Down:       key.NewBinding(key.WithKeys("j", "down")),
		PageUp:     key.NewBinding(key.WithKeys("pgup")),
		PageDown:   key.NewBinding(key.WithKeys("pgdown")),
		Top:        key.NewBinding(key.WithKeys("g", "home")),
		Bottom:     key.NewBinding(key.WithKeys("G", "end")),
	}
}

// ShortHelp lists the bindings shown in the NORMAL mode footer.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Insert, k.Search, k.Filter, k.NextMatch, k.Kill, k.Restart, k.ClearLog, k.AutoScroll, k.Quit}
}

// Decode maps a key press in mode to state machine actions or a scroll
// movement. Unbound keys decode to nothing.
func (k KeyMap) Decode(mode interact.Mode, msg tea.KeyMsg) (Input, bool) {
	if a, ok := k.global(msg); ok {
		return Input{Actions: []interact.Action{a}}, true
	}

	if mode == interact.ModeNormal {
		return k.normal(msg)
	}

	switch {
	case key.Matches(msg, k.Interrupt):
		// ctrl+c abandons the line being typed, and quits elsewhere.
		if mode == interact.ModeInsert {
			return do(interact.Cancel), true
		}
		return do(interact.Quit), true
	case key.Matches(msg, k.Cancel):
		return do(interact.Cancel), true
	case key.Matches(msg, k.Submit):
		return do(interact.Submit), true
	case key.Matches(msg, k.Backspace):
		return do(interact.Backspace), true
	}

	switch msg.Type {
	case tea.KeyRunes:
		in := Input{Actions: make([]interact.Action, 0, len(msg.Runes))}
		for _, r := range msg.Runes {
			in.Actions = append(in.Actions, interact.Char(r))
		}
		return in, len(in.Actions) > 0
	case tea.KeySpace:
		return Input{Actions: []interact.Action{interact.Char(' ')}}, true
	case tea.KeyUp:
		return Input{Nav: NavUp}, true
	case tea.KeyDown:
		return Input{Nav: NavDown}, true
	case tea.KeyPgUp:
		return Input{Nav: NavPageUp}, true
	case tea.KeyPgDown:
		return Input{Nav: NavPageDown}, true
	}
	return Input{}, false
}

func (k KeyMap) global(msg tea.KeyMsg) (interact.Action, bool) {
	switch {
	case key.Matches(msg, k.Kill):
		return interact.Do(interact.Kill), true
	case key.Matches(msg, k.Restart):
		return interact.Do(interact.Restart), true
	case key.Matches(msg, k.ClearLog):
		return interact.Do(interact.ClearLog), true
	case key.Matches(msg, k.AutoScroll):
		return interact.Do(interact.ToggleAutoScroll), true
	}
	return interact.Action{}, false
}

func (k KeyMap) normal(msg tea.KeyMsg) (Input, bool) {
	switch {
	case key.Matches(msg, k.Insert):
		return do(interact.EnterInsert), true
	case key.Matches(msg, k.Search):
		return do(interact.EnterSearch), true
	case key.Matches(msg, k.Filter):
		return do(interact.EnterFilter), true
	case key.Matches(msg, k.Cancel):
		return do(interact.ClearPattern), true
	case key.Matches(msg, k.Quit), key.Matches(msg, k.Interrupt):
		return do(interact.Quit), true
	case key.Matches(msg, k.NextMatch):
		return Input{Nav: NavNextMatch}, true
	case key.Matches(msg, k.PrevMatch):
		return Input{Nav: NavPrevMatch}, true
	case key.Matches(msg, k.Up):
		return Input{Nav: NavUp}, true
	case key.Matches(msg, k.Down):
		return Input{Nav: NavDown}, true
	case key.Matches(msg, k.PageUp):
		return Input{Nav: NavPageUp}, true
	case key.Matches(msg, k.PageDown):
		return Input{Nav: NavPageDown}, true
	case key.Matches(msg, k.Top):
		return Input{Nav: NavTop}, true
	case key.Matches(msg, k.Bottom):
		return Input{Nav: NavBottom}, true
	}
	return Input{}, false
}

func do(kind interact.ActionKind) Input {
	return Input{Actions: []interact.Action{interact.Do(kind)}}
}
