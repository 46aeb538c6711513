package llm

import (
	"fmt"
	"strings"
)

// repairJSON extracts the first JSON object from a model response and fixes
// the damage models commonly do to it: markdown fences, raw control
// characters, single-backslash LaTeX commands inside strings, and output cut
// off before the closing brackets.
func repairJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("%w: no JSON object found", ErrInvalidResponse)
	}
	s = s[start:]

	var (
		b        strings.Builder
		stack    []byte
		inString bool
	)
	b.Grow(len(s) + 8)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case c == '\\':
				if i+1 >= len(s) {
					b.WriteString(`\\`)
					continue
				}
				next := s[i+1]
				if keepEscape(s, i+1) {
					b.WriteByte(c)
					b.WriteByte(next)
					i++
					continue
				}
				// A lone backslash starts a LaTeX command.
				b.WriteString(`\\`)
			case c == '"':
				inString = false
				b.WriteByte(c)
			case c == '\n':
				b.WriteString(`\n`)
			case c < 0x20 || c == 0x7f:
				b.WriteByte(' ')
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
		if c < 0x20 {
			c = ' '
		}
		b.WriteByte(c)
		if len(stack) == 0 {
			return b.String(), nil
		}
	}

	// Truncated output: close what is open.
	if inString {
		b.WriteByte('"')
	}
	out := strings.TrimRight(b.String(), " \t,:")
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}
	return out, nil
}

// keepEscape reports whether the escape starting at s[i] is a JSON escape the
// model meant, as opposed to a LaTeX command such as \frac or \theta.
func keepEscape(s string, i int) bool {
	switch s[i] {
	case '"', '\\', '/':
		return true
	case 'u':
		return i+4 < len(s) && isHex(s[i+1:i+5])
	case 'b', 'f', 'n', 'r', 't':
		// \n followed by a lowercase letter is almost always \nu, \neq, \nabla.
		return i+1 >= len(s) || !isLower(s[i+1])
	}
	return false
}

func isLower(c byte) bool { return c >= 'a' && c <= 'z' }

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
