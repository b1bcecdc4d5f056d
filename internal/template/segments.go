package template

import "strings"

// Segment is either literal text or a ${path} placeholder.
type Segment struct {
	Literal     string
	Path        string
	Placeholder bool
}

// Segments is the compiled form of a placeholder-bearing string.
type Segments []Segment

// CompileSegments splits s into literal and ${path} placeholder segments.
// An unterminated "${" or an empty "${}" stays literal.
func CompileSegments(s string) Segments {
	var segs Segments
	var lit strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			lit.WriteString(s)
			break
		}
		end := strings.IndexByte(s[start+2:], '}')
		if end < 0 {
			lit.WriteString(s)
			break
		}
		path := strings.TrimSpace(s[start+2 : start+2+end])
		if path == "" {
			lit.WriteString(s[:start+3+end])
			s = s[start+3+end:]
			continue
		}
		lit.WriteString(s[:start])
		if lit.Len() > 0 {
			segs = append(segs, Segment{Literal: lit.String()})
			lit.Reset()
		}
		segs = append(segs, Segment{Path: path, Placeholder: true})
		s = s[start+3+end:]
	}
	if lit.Len() > 0 {
		segs = append(segs, Segment{Literal: lit.String()})
	}
	return segs
}

// HasPlaceholders reports whether any segment is a placeholder.
func (ss Segments) HasPlaceholders() bool {
	for _, s := range ss {
		if s.Placeholder {
			return true
		}
	}
	return false
}

// Paths returns the placeholder paths in order of appearance.
func (ss Segments) Paths() []string {
	var out []string
	for _, s := range ss {
		if s.Placeholder {
			out = append(out, s.Path)
		}
	}
	return out
}

// Render joins the segments, asking lookup for every placeholder value.
func (ss Segments) Render(lookup func(path string) string) string {
	if len(ss) == 1 && !ss[0].Placeholder {
		return ss[0].Literal
	}
	var b strings.Builder
	for _, s := range ss {
		if s.Placeholder {
			b.WriteString(lookup(s.Path))
		} else {
			b.WriteString(s.Literal)
		}
	}
	return b.String()
}
