// Package ansi removes terminal control sequences from captured lines so they
// can be displayed and printed as plain text.
package ansi

import (
	"regexp"
	"strings"
)

var ansiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`),         // CSI sequences (colors, cursor, DEC private modes)
	regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`), // OSC sequences
	regexp.MustCompile(`\x1b[()#][A-Za-z0-9]`),              // Character set selection, DEC line drawing
	regexp.MustCompile(`\x1b[=>]`),                          // Keypad modes
	regexp.MustCompile(`\x1b[A-Za-z]`),                      // ESC+letter (RI, IND, NEL, RIS)
}

var controlChars = strings.NewReplacer("\x07", "", "\x00", "", "\b", "")

// Strip returns the visible text of one captured line. A bare carriage return
// rewinds to column zero the way a terminal does, so progress bars keep only
// their final state.
func Strip(s string) string {
	if s == "" {
		return s
	}
	s = strings.TrimRight(s, "\r")
	if i := strings.LastIndexByte(s, '\r'); i >= 0 {
		s = overwrite(s[:i], s[i+1:])
	}
	if strings.IndexByte(s, 0x1b) >= 0 {
		for _, re := range ansiPatterns {
			s = re.ReplaceAllString(s, "")
		}
	}
	return controlChars.Replace(s)
}

// overwrite renders head, then rewinds and writes tail on top of it.
func overwrite(head, tail string) string {
	if j := strings.LastIndexByte(head, '\r'); j >= 0 {
		head = overwrite(head[:j], head[j+1:])
	}
	if len(tail) >= len(head) {
		return tail
	}
	return tail + head[len(tail):]
}

// HasEscapes reports whether s contains anything Strip would remove.
func HasEscapes(s string) bool {
	return strings.ContainsAny(s, "\x1b\r\x07\x00\b")
}
