package config

import (
	"strings"
	"unicode"
)

// SplitArgs splits in into fields separated by white space. A field may be
// quoted with either ' or "; inside double quotes and outside quotes a
// backslash escapes the next character. Empty quoted fields are kept.
func SplitArgs(in string) []string {
	r := []string{}
	var buf strings.Builder
	inField := false
	var quote rune
	escaped := false

	for _, ch := range in {
		switch {
		case escaped:
			buf.WriteRune(ch)
			escaped = false
		case ch == '\\' && quote != '\'':
			escaped = true
			inField = true
		case quote != 0:
			if ch == quote {
				quote = 0
			} else {
				buf.WriteRune(ch)
			}
		case ch == '\'' || ch == '"':
			quote = ch
			inField = true
		case unicode.IsSpace(ch):
			if inField {
				r = append(r, buf.String())
				buf.Reset()
				inField = false
			}
		default:
			buf.WriteRune(ch)
			inField = true
		}
	}

	if inField {
		r = append(r, buf.String())
	}
	return r
}
