package svcinstall

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// UnquoteKind classifies why decoding a quoted unit file value failed.
type UnquoteKind int

const (
	// UnquoteUnknownEscape means the backslash was followed by a letter
	// outside Table 1 of systemd.syntax(7)
	UnquoteUnknownEscape UnquoteKind = iota
	// UnquoteTooShort means a numeric escape ended before all its digits
	UnquoteTooShort
	// UnquoteBadDigit means a numeric escape contained a digit outside
	// its base
	UnquoteBadDigit
	// UnquoteBadCodePoint means the decoded number is not a valid
	// unicode code point
	UnquoteBadCodePoint
	// UnquoteMissingQuote means the value opened a double quote that
	// never closed
	UnquoteMissingQuote
)

// UnquoteError reports a malformed quoted value in a unit file.
type UnquoteError struct {
	// Kind says what went wrong
	Kind UnquoteKind
	// Char is the offending escape letter or digit, when applicable
	Char rune
	// Base is the numeric base of the escape, for bad digits
	Base int
	// Code is the decoded number, for invalid code points
	Code uint32
	// Expected and Got count digits, for truncated numeric escapes
	Expected int
	Got      int
}

func (e *UnquoteError) Error() string {
	switch e.Kind {
	case UnquoteUnknownEscape:
		return fmt.Sprintf("unknown escape sequence \\%c, see Table 1 in systemd.syntax(7)", e.Char)
	case UnquoteTooShort:
		return fmt.Sprintf("escape sequence too short, expected %d digits got %d", e.Expected, e.Got)
	case UnquoteBadDigit:
		return fmt.Sprintf("digit %q does not fit base %d of this escape sequence", e.Char, e.Base)
	case UnquoteBadCodePoint:
		return fmt.Sprintf("number %#x encoded by the escape sequence is not valid unicode", e.Code)
	case UnquoteMissingQuote:
		return "value starts with a double quote that never closes"
	default:
		return "malformed quoted value"
	}
}

// systemdNeedsQuoting are the characters that force a unit file value into
// double quotes.
const systemdNeedsQuoting = " \t\n\"'\\"

// systemdEscape quotes s for use as a single token in a unit file value
// such as ExecStart. Plain strings pass through unchanged, anything with
// whitespace, quotes or backslashes is wrapped in double quotes with the
// characters from Table 1 of systemd.syntax(7) escaped.
func systemdEscape(s string) string {
	if s != "" && !strings.ContainsAny(s, systemdNeedsQuoting) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// systemdJoin escapes each argument and joins them with single spaces.
func systemdJoin(args []string) string {
	escaped := make([]string, 0, len(args))
	for _, arg := range args {
		escaped = append(escaped, systemdEscape(arg))
	}
	return strings.Join(escaped, " ")
}

// firstSystemdToken recovers the first token of a unit file value such as
// an ExecStart command line. A bare token ends at the first whitespace. A token
// opening with a double quote is decoded up to the closing quote, applying
// the named escapes from Table 1 of systemd.syntax(7) and the numeric
// escapes \xHH (hex), \oNN (octal), \uHHHH and \UHHHHHHHH.
func firstSystemdToken(line string) (string, error) {
	if !strings.HasPrefix(line, `"`) {
		if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
			return line[:i], nil
		}
		return line, nil
	}
	runes := []rune(line[1:])
	var out strings.Builder
	for i := 0; i < len(runes); i++ {
		switch c := runes[i]; c {
		case '"':
			return out.String(), nil
		case '\\':
			if i+1 >= len(runes) {
				return "", &UnquoteError{Kind: UnquoteTooShort, Expected: 1, Got: 0}
			}
			i++
			decoded, err := decodeEscape(runes[i], runes, &i)
			if err != nil {
				return "", err
			}
			out.WriteRune(decoded)
		default:
			out.WriteRune(c)
		}
	}
	return "", &UnquoteError{Kind: UnquoteMissingQuote}
}

// decodeEscape handles the character after a backslash. For numeric
// escapes it consumes the digits by advancing i.
func decodeEscape(letter rune, runes []rune, i *int) (rune, error) {
	switch letter {
	case 'a':
		return '\a', nil
	case 'b':
		return '\b', nil
	case 'f':
		return '\f', nil
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 't':
		return '\t', nil
	case 'v':
		return '\v', nil
	case '\\':
		return '\\', nil
	case '"':
		return '"', nil
	case '\'':
		return '\'', nil
	case 's':
		return ' ', nil
	case 'x':
		return decodeCodePoint(runes, i, 2, 16)
	case 'o':
		return decodeCodePoint(runes, i, 2, 8)
	case 'u':
		return decodeCodePoint(runes, i, 4, 16)
	case 'U':
		return decodeCodePoint(runes, i, 8, 16)
	default:
		return 0, &UnquoteError{Kind: UnquoteUnknownEscape, Char: letter}
	}
}

// decodeCodePoint reads n digits in the given base following *i and
// returns the code point they encode.
func decodeCodePoint(runes []rune, i *int, n, base int) (rune, error) {
	var num uint32
	for k := 0; k < n; k++ {
		*i++
		if *i >= len(runes) {
			return 0, &UnquoteError{Kind: UnquoteTooShort, Expected: n, Got: k}
		}
		d := digitValue(runes[*i])
		if d < 0 || d >= base {
			return 0, &UnquoteError{Kind: UnquoteBadDigit, Char: runes[*i], Base: base}
		}
		num = num*uint32(base) + uint32(d)
	}
	if !utf8.ValidRune(rune(num)) {
		return 0, &UnquoteError{Kind: UnquoteBadCodePoint, Code: num}
	}
	return rune(num), nil
}

func digitValue(r rune) int {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0')
	case r >= 'a' && r <= 'f':
		return int(r-'a') + 10
	case r >= 'A' && r <= 'F':
		return int(r-'A') + 10
	default:
		return -1
	}
}
