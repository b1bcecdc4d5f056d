package template

import (
	"strings"
)

// normalizeContinuations joins lines split with a trailing backslash (POSIX
// shells) or caret (cmd.exe captures).
func normalizeContinuations(s string) string {
	r := strings.NewReplacer(
		"\\\r\n", " ",
		"\\\n", " ",
		"^\r\n", " ",
		"^\n", " ",
	)
	return r.Replace(s)
}

// tokenize splits a command line the way a POSIX shell would, without
// expansion. It is lenient: an unterminated quote runs to the end of input.
func tokenize(s string) []string {
	var (
		tokens  []string
		cur     strings.Builder
		inToken bool
	)
	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
		case c == '\'':
			inToken = true
			end := strings.IndexByte(s[i+1:], '\'')
			if end < 0 {
				cur.WriteString(s[i+1:])
				i = len(s)
				break
			}
			cur.WriteString(s[i+1 : i+1+end])
			i += end + 1
		case c == '$' && i+1 < len(s) && s[i+1] == '\'':
			inToken = true
			i = readANSIC(s, i+2, &cur)
		case c == '"':
			inToken = true
			i = readDoubleQuoted(s, i+1, &cur)
		case c == '\\' && i+1 < len(s):
			inToken = true
			cur.WriteByte(s[i+1])
			i++
		default:
			inToken = true
			cur.WriteByte(c)
		}
	}
	flush()
	return tokens
}

// readDoubleQuoted consumes a "..." section starting after the opening quote
// and returns the index of the closing quote. Backslash only escapes the
// characters a shell treats specially inside double quotes.
func readDoubleQuoted(s string, i int, out *strings.Builder) int {
	for ; i < len(s); i++ {
		c := s[i]
		if c == '"' {
			return i
		}
		if c == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '"', '\\', '$', '`':
				out.WriteByte(s[i+1])
				i++
				continue
			}
		}
		out.WriteByte(c)
	}
	return i
}

// readANSIC consumes a $'...' section starting after the opening quote.
func readANSIC(s string, i int, out *strings.Builder) int {
	for ; i < len(s); i++ {
		c := s[i]
		if c == '\'' {
			return i
		}
		if c == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				out.WriteByte('\n')
			case 't':
				out.WriteByte('\t')
			case 'r':
				out.WriteByte('\r')
			case '\'', '"', '\\':
				out.WriteByte(s[i])
			default:
				out.WriteByte('\\')
				out.WriteByte(s[i])
			}
			continue
		}
		out.WriteByte(c)
	}
	return i
}

// unescapeBody resolves the quote, backslash and newline escapes commonly
// left behind in captured bodies.
func unescapeBody(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case '"':
			b.WriteByte('"')
		case '\'':
			b.WriteByte('\'')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(c)
			continue
		}
		i++
	}
	return b.String()
}
