package supervisor

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// EncodeInput returns the bytes written to the child for one submitted line:
// text followed by a newline. With interpret set, escape sequences in text
// are decoded first:
//
//	\xNN  hex byte (e.g., \x03 for Ctrl+C)
//	\n    newline
//	\r    carriage return
//	\t    tab
//	\e    escape (ASCII 27)
//	\0    NUL
//	\\    literal backslash
//
// Unrecognized sequences pass through with the backslash dropped.
func EncodeInput(text string, interpret bool) ([]byte, error) {
	if !interpret {
		return []byte(text + "\n"), nil
	}
	decoded, err := interpretEscapes(text)
	if err != nil {
		return nil, err
	}
	return []byte(decoded + "\n"), nil
}

func interpretEscapes(s string) (string, error) {
	var out strings.Builder
	out.Grow(len(s))

	for i := 0; i < len(s); {
		if s[i] != '\\' {
			out.WriteByte(s[i])
			i++
			continue
		}
		if i+1 >= len(s) {
			return "", fmt.Errorf("incomplete escape sequence at end of input")
		}

		switch c := s[i+1]; c {
		case 'x':
			if i+3 >= len(s) {
				return "", fmt.Errorf("incomplete hex escape at position %d", i)
			}
			val, err := strconv.ParseUint(s[i+2:i+4], 16, 8)
			if err != nil {
				return "", fmt.Errorf("invalid hex escape \\x%s at position %d", s[i+2:i+4], i)
			}
			out.WriteByte(byte(val))
			i += 4
		case 'n', 'r', 't', 'e', '0', '\\':
			out.WriteByte(simpleEscapes[c])
			i += 2
		default:
			r, size := utf8.DecodeRuneInString(s[i+1:])
			out.WriteRune(r)
			i += 1 + size
		}
	}
	return out.String(), nil
}

var simpleEscapes = map[byte]byte{
	'n':  '\n',
	'r':  '\r',
	't':  '\t',
	'e':  0x1b,
	'0':  0x00,
	'\\': '\\',
}
