// Package interact is the modal state machine deciding what a decoded key
// means. It performs no I/O: Transition returns the next state and the
// effects the caller has to carry out.
package interact

import (
	"unicode/utf8"

	"github.com/sleepiecappy/riverflow/internal/view"
)

type Mode int

const (
	ModeNormal Mode = iota
	ModeInsert
	ModeSearch
	ModeFilter
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "NORMAL"
	case ModeInsert:
		return "INSERT"
	case ModeSearch:
		return "SEARCH"
	case ModeFilter:
		return "FILTER"
	default:
		return "UNKNOWN"
	}
}

type State struct {
	Mode Mode
	// Pending is the input line being typed in INSERT mode.
	Pending    string
	Pattern    view.Pattern
	AutoScroll bool
	Quitting   bool
}

func Initial() State {
	return State{Mode: ModeNormal, AutoScroll: true}
}

type ActionKind int

const (
	EnterInsert ActionKind = iota
	EnterSearch
	EnterFilter
	TypeChar
	Backspace
	Submit
	Cancel
	ClearPattern
	Quit
	Kill
	Restart
	ClearLog
	ToggleAutoScroll
)

var actionNames = [...]string{
	EnterInsert:      "enter-insert",
	EnterSearch:      "enter-search",
	EnterFilter:      "enter-filter",
	TypeChar:         "char",
	Backspace:        "backspace",
	Submit:           "submit",
	Cancel:           "cancel",
	ClearPattern:     "clear-pattern",
	Quit:             "quit",
	Kill:             "kill",
	Restart:          "restart",
	ClearLog:         "clear-log",
	ToggleAutoScroll: "toggle-autoscroll",
}

func (k ActionKind) String() string {
	if k < 0 || int(k) >= len(actionNames) {
		return "unknown"
	}
	return actionNames[k]
}

type Action struct {
	Kind ActionKind
	// Rune is the typed character of a TypeChar action.
	Rune rune
}

func Char(r rune) Action {
	return Action{Kind: TypeChar, Rune: r}
}

func Do(kind ActionKind) Action {
	return Action{Kind: kind}
}

type EffectKind int

const (
	SendInput EffectKind = iota
	PatternChanged
	StopProcess
	KillProcess
	RestartProcess
	ClearBuffer
)

func (k EffectKind) String() string {
	switch k {
	case SendInput:
		return "send-input"
	case PatternChanged:
		return "pattern-changed"
	case StopProcess:
		return "stop"
	case KillProcess:
		return "kill"
	case RestartProcess:
		return "restart"
	case ClearBuffer:
		return "clear-log"
	default:
		return "unknown"
	}
}

type Effect struct {
	Kind EffectKind
	// Text is the line for SendInput.
	Text string
	// Pattern is the new pattern for PatternChanged.
	Pattern view.Pattern
}

// Transition applies a to s. Actions without a meaning in the current mode
// leave the state unchanged and produce no effects; once quitting, every
// action is ignored.
func Transition(s State, a Action) (State, []Effect) {
	if s.Quitting {
		return s, nil
	}

	switch a.Kind {
	case Quit:
		s.Quitting = true
		return s, []Effect{{Kind: StopProcess}}
	case Kill:
		return s, []Effect{{Kind: KillProcess}}
	case Restart:
		return s, []Effect{{Kind: RestartProcess}}
	case ClearLog:
		return s, []Effect{{Kind: ClearBuffer}}
	case ToggleAutoScroll:
		s.AutoScroll = !s.AutoScroll
		return s, nil
	}

	switch s.Mode {
	case ModeNormal:
		return normal(s, a)
	case ModeInsert:
		return insert(s, a)
	case ModeSearch, ModeFilter:
		return editPattern(s, a)
	}
	return s, nil
}

func normal(s State, a Action) (State, []Effect) {
	switch a.Kind {
	case EnterInsert:
		s.Mode = ModeInsert
		return s, nil
	case EnterSearch:
		s.Mode = ModeSearch
		return setPattern(s, view.Pattern{Mode: view.ModeSearch})
	case EnterFilter:
		s.Mode = ModeFilter
		return setPattern(s, view.Pattern{Mode: view.ModeFilter})
	case ClearPattern:
		if !s.Pattern.Active() {
			return s, nil
		}
		return setPattern(s, view.Pattern{Mode: view.ModeNone})
	}
	return s, nil
}

func insert(s State, a Action) (State, []Effect) {
	switch a.Kind {
	case TypeChar:
		s.Pending += string(a.Rune)
	case Backspace:
		s.Pending = dropLastRune(s.Pending)
	case Submit:
		text := s.Pending
		s.Pending = ""
		return s, []Effect{{Kind: SendInput, Text: text}}
	case Cancel:
		s.Mode = ModeNormal
		s.Pending = ""
	}
	return s, nil
}

func editPattern(s State, a Action) (State, []Effect) {
	switch a.Kind {
	case TypeChar:
		p := s.Pattern
		p.Text += string(a.Rune)
		return setPattern(s, p)
	case Backspace:
		if s.Pattern.Text == "" {
			return s, nil
		}
		p := s.Pattern
		p.Text = dropLastRune(p.Text)
		return setPattern(s, p)
	case Submit:
		s.Mode = ModeNormal
		return s, nil
	case Cancel:
		s.Mode = ModeNormal
		return setPattern(s, view.Pattern{Mode: view.ModeNone})
	}
	return s, nil
}

func setPattern(s State, p view.Pattern) (State, []Effect) {
	s.Pattern = p
	return s, []Effect{{Kind: PatternChanged, Pattern: p}}
}

func dropLastRune(s string) string {
	if s == "" {
		return s
	}
	_, size := utf8.DecodeLastRuneInString(s)
	return s[:len(s)-size]
}
