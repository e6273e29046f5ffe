package ansi

import "strings"

// Screen clear sequences:
// - ESC[2J - full screen clear
// - ESC[3J - clear scrollback
// - ESC[?1049h - alternate buffer on
// - ESC c - terminal reset (RIS)
var clearSequences = []string{
	"\x1b[2J",
	"\x1b[3J",
	"\x1b[?1049h",
	"\x1bc",
}

// AfterClear looks for the last screen clear sequence in a line. When one is
// found it returns the text that follows it and true.
func AfterClear(line string) (string, bool) {
	if strings.IndexByte(line, 0x1b) < 0 {
		return line, false
	}
	end := -1
	for _, seq := range clearSequences {
		if i := strings.LastIndex(line, seq); i >= 0 && i+len(seq) > end {
			end = i + len(seq)
		}
	}
	if end < 0 {
		return line, false
	}
	return line[end:], true
}
