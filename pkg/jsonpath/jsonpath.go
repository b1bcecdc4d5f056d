// Package jsonpath converts the small JSONPath subset used in bindings and
// data-source queries ($.a.b, $.items[0], $['key']) into dotted paths.
package jsonpath

import "strings"

// Normalize converts a JSONPath expression into dotted form:
// "$.users[0].name" becomes "users.0.name". The root ("$" or "") becomes "".
func Normalize(path string) string {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch c {
		case '.':
			if b.Len() > 0 {
				b.WriteByte('.')
			}
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				b.WriteString(path[i:])
				return b.String()
			}
			seg := strings.Trim(path[i+1:i+end], `'"`)
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(seg)
			i += end
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
