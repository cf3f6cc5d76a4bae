package wat

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// idchar reports whether c may appear in a WAT identifier. The
// apostrophe is excluded; some tools reject it.
func idchar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&*+-./:<=>?@\\^_`|~", c) >= 0
}

// ID returns s, without a leading '$', as the text of a WAT
// identifier: every byte that may not appear in one, and '%', is
// written as %XX. The result unescapes with url.PathUnescape.
func ID(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if idchar(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// Quote returns s as a WAT string literal. Printable ASCII is written
// as is; every other byte is escaped, so the literal denotes exactly
// the bytes of s.
func Quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c >= 0x20 && c < 0x7f:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "\\%02x", c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Unquote returns the bytes denoted by the WAT string literal q.
func Unquote(q string) (string, error) {
	if len(q) < 2 || q[0] != '"' || q[len(q)-1] != '"' {
		return "", fmt.Errorf("not a string literal: %s", q)
	}
	q = q[1 : len(q)-1]
	var b strings.Builder
	for i := 0; i < len(q); i++ {
		c := q[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(q) {
			return "", fmt.Errorf("trailing backslash in string literal")
		}
		i++
		switch c := q[i]; c {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '"', '\'', '\\':
			b.WriteByte(c)
		case 'u':
			end := strings.IndexByte(q[i:], '}')
			if i+1 >= len(q) || q[i+1] != '{' || end < 0 {
				return "", fmt.Errorf("bad \\u escape in string literal")
			}
			r, err := strconv.ParseUint(q[i+2:i+end], 16, 32)
			if err != nil || !utf8.ValidRune(rune(r)) {
				return "", fmt.Errorf("bad \\u escape in string literal")
			}
			b.WriteRune(rune(r))
			i += end
		default:
			if i+1 >= len(q) {
				return "", fmt.Errorf("bad escape in string literal")
			}
			x, err := strconv.ParseUint(q[i:i+2], 16, 8)
			if err != nil {
				return "", fmt.Errorf("bad escape \\%s in string literal", q[i:i+2])
			}
			b.WriteByte(byte(x))
			i++
		}
	}
	return b.String(), nil
}
