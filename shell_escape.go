package svcinstall

import (
	"strings"
	"unicode"
)

// shellSafe are the characters that never need quoting in a shell word.
const shellSafe = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789,._+:@%/-"

// shellEscape quotes s so a shell treats it as a single word. Strings made
// of safe characters pass through unchanged, everything else is wrapped in
// single quotes with embedded single quotes rendered as '\''.
func shellEscape(s string) string {
	if s != "" && !strings.ContainsFunc(s, func(r rune) bool {
		return !strings.ContainsRune(shellSafe, r)
	}) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for _, r := range s {
		if r == '\'' {
			b.WriteString(`'\''`)
			continue
		}
		b.WriteRune(r)
	}
	b.WriteByte('\'')
	return b.String()
}

// shellJoin escapes each argument and joins them with single spaces.
func shellJoin(args []string) string {
	escaped := make([]string, 0, len(args))
	for _, arg := range args {
		escaped = append(escaped, shellEscape(arg))
	}
	return strings.Join(escaped, " ")
}

// firstShellToken undoes shellEscape on the first word of line and returns
// it. Quote runs toggle quoting, a backslash outside single quotes escapes
// the next character, and the token ends at the first unescaped whitespace
// outside quotes. No full shell parse, just enough to recover a path that
// shellEscape produced.
func firstShellToken(line string) string {
	var out strings.Builder
	inQuote := false
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
		case c == '\\' && !inQuote && i+1 < len(runes):
			i++
			out.WriteRune(runes[i])
		case !inQuote && unicode.IsSpace(c):
			return out.String()
		default:
			out.WriteRune(c)
		}
	}
	return out.String()
}
