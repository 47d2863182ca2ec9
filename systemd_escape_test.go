package svcinstall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemdEscape(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain path", in: "/usr/bin/myapp", want: "/usr/bin/myapp"},
		{name: "empty", in: "", want: `""`},
		{name: "space", in: "a b/exe", want: `"a b/exe"`},
		{name: "double quote", in: `a"b`, want: `"a\"b"`},
		{name: "single quote", in: "a'b/exe", want: `"a'b/exe"`},
		{name: "backslash", in: `a\b`, want: `"a\\b"`},
		{name: "newline and tab", in: "a\n\tb", want: `"a\n\tb"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, systemdEscape(tt.in))
		})
	}
}

func TestSystemdRoundTrip(t *testing.T) {
	paths := []string{
		"/usr/bin/myapp",
		"a b/exe",
		"a'b/exe",
		`a"b/exe`,
		`back\slash`,
		"a",
		"ab",
		"a b",
		"new\nline",
		"tab\there",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			line := systemdEscape(path) + " --flag value"
			got, err := firstSystemdToken(line)
			require.NoError(t, err)
			assert.Equal(t, path, got)
		})
	}
}

func TestFirstSystemdToken(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{name: "bare token", line: "/usr/bin/app --flag", want: "/usr/bin/app"},
		{name: "bare token only", line: "/usr/bin/app", want: "/usr/bin/app"},
		{name: "bare token tab separated", line: "/usr/bin/app\t--flag", want: "/usr/bin/app"},
		{name: "quoted", line: `"a b" c`, want: "a b"},
		{name: "named escapes", line: `"a\tb\nc\s" x`, want: "a\tb\nc "},
		{name: "quote escapes", line: `"a\"b\'c"`, want: `a"b'c`},
		{name: "hex", line: `"\x41\x62"`, want: "Ab"},
		{name: "octal", line: `"\o77"`, want: "?"},
		{name: "u16", line: `"é"`, want: "é"},
		{name: "u32", line: `"\U0001F600"`, want: "😀"},
		{name: "empty", line: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := firstSystemdToken(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFirstSystemdTokenErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
		kind UnquoteKind
	}{
		{name: "unknown escape", line: `"\q"`, kind: UnquoteUnknownEscape},
		{name: "dangling backslash", line: `"abc\`, kind: UnquoteTooShort},
		{name: "short hex", line: `"\x4`, kind: UnquoteTooShort},
		{name: "short u32", line: `"\U0001F60`, kind: UnquoteTooShort},
		{name: "bad hex digit", line: `"\x4g"`, kind: UnquoteBadDigit},
		{name: "quote inside escape", line: `"\x4"`, kind: UnquoteBadDigit},
		{name: "bad octal digit", line: `"\o19"`, kind: UnquoteBadDigit},
		{name: "surrogate code point", line: `"\ud800"`, kind: UnquoteBadCodePoint},
		{name: "unterminated", line: `"abc`, kind: UnquoteMissingQuote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := firstSystemdToken(tt.line)
			require.Error(t, err)
			var unquoteErr *UnquoteError
			require.ErrorAs(t, err, &unquoteErr)
			assert.Equal(t, tt.kind, unquoteErr.Kind)
		})
	}
}
