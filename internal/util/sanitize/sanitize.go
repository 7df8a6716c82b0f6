// Package sanitize cleans backend-provided text before it reaches the
// terminal.
//
// Step names, error messages and cloth names come from the server and are
// printed verbatim by the board and the list command. Sanitizing removes:
//   - control characters, including ESC, so no escape sequence reaches the TTY
//   - invisible Unicode characters (zero-width spaces, BOM, etc.)
//   - line breaks and runs of whitespace
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// invisibleChars are format characters that render as nothing.
var invisibleChars = []string{
	"\u200B", // Zero-width space
	"\u200C", // Zero-width non-joiner
	"\u200D", // Zero-width joiner
	"\uFEFF", // Zero-width no-break space (BOM)
	"\u00AD", // Soft hyphen
	"\u2060", // Word joiner
	"\u180E", // Mongolian vowel separator
}

// Line returns s as a single printable line.
func Line(s string) string {
	if s == "" {
		return s
	}
	s = removeInvisibleChars(s)
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// Field trims s and removes invisible characters, keeping line breaks.
func Field(s string) string {
	if s == "" {
		return s
	}
	return strings.TrimSpace(removeInvisibleChars(s))
}

func removeInvisibleChars(s string) string {
	for _, char := range invisibleChars {
		s = strings.ReplaceAll(s, char, "")
	}
	return s
}
