// Package template models captured HTTP requests: the immutable Template
// produced by Parse and the per-record BoundRequest derived from it.
package template

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wesleyorama2/volley/internal/record"
)

// Header is one request header. Order is preserved as captured.
type Header struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// BodyKind identifies how a body is carried.
type BodyKind uint8

const (
	// BodyNone means no body is sent.
	BodyNone BodyKind = iota
	// BodyJSON is a structured value encoded as JSON on the wire.
	BodyJSON
	// BodyRaw is sent verbatim.
	BodyRaw
)

func (k BodyKind) String() string {
	switch k {
	case BodyJSON:
		return "json"
	case BodyRaw:
		return "raw"
	default:
		return "none"
	}
}

// Body is a request payload.
type Body struct {
	Kind BodyKind
	JSON record.Value
	Raw  string
	// Binary marks a raw body captured from --data-binary; it is never
	// unescaped.
	Binary bool
}

// IsEmpty reports whether the body carries nothing.
func (b Body) IsEmpty() bool {
	switch b.Kind {
	case BodyJSON:
		return false
	case BodyRaw:
		return b.Raw == ""
	default:
		return true
	}
}

// Bytes returns the wire encoding of the body.
func (b Body) Bytes() ([]byte, error) {
	switch b.Kind {
	case BodyJSON:
		return b.JSON.MarshalJSON()
	case BodyRaw:
		return []byte(b.Raw), nil
	default:
		return nil, nil
	}
}

// MarshalJSON renders the body as {"kind": ..., "value": ...}.
func (b Body) MarshalJSON() ([]byte, error) {
	switch b.Kind {
	case BodyJSON:
		v, err := b.JSON.MarshalJSON()
		if err != nil {
			return nil, err
		}
		return []byte(`{"kind":"json","value":` + string(v) + `}`), nil
	case BodyRaw:
		return json.Marshal(struct {
			Kind   string `json:"kind"`
			Value  string `json:"value"`
			Binary bool   `json:"binary,omitempty"`
		}{"raw", b.Raw, b.Binary})
	default:
		return []byte(`{"kind":"none"}`), nil
	}
}

// Template is the parsed, placeholder-bearing shape of one HTTP request.
// It is never mutated after Parse returns.
type Template struct {
	Method   string   `json:"method"`
	URL      string   `json:"url"`
	Headers  []Header `json:"headers"`
	Body     Body     `json:"body"`
	Insecure bool     `json:"insecure,omitempty"`
}

// Header returns the first header named name, compared case-insensitively.
func (t *Template) Header(name string) (string, bool) {
	return lookupHeader(t.Headers, name)
}

// ContentType returns the effective Content-Type header.
func (t *Template) ContentType() string {
	v, _ := t.Header("Content-Type")
	return v
}

// BoundRequest is a template with every placeholder resolved against one
// record. It owns its header slice and body.
type BoundRequest struct {
	Method  string   `json:"method"`
	URL     string   `json:"url"`
	Headers []Header `json:"headers"`
	Body    Body     `json:"body"`
}

// Header returns the first header named name, compared case-insensitively.
func (r *BoundRequest) Header(name string) (string, bool) {
	return lookupHeader(r.Headers, name)
}

// SetHeader replaces the first header named name or appends a new one.
func (r *BoundRequest) SetHeader(name, value string) {
	for i := range r.Headers {
		if strings.EqualFold(r.Headers[i].Name, name) {
			r.Headers[i].Value = value
			return
		}
	}
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
}

func (r *BoundRequest) String() string {
	return fmt.Sprintf("%s %s", r.Method, r.URL)
}

// IsJSONContentType reports whether a Content-Type value denotes JSON,
// including vendor types such as application/vnd.api+json.
func IsJSONContentType(ct string) bool {
	ct = strings.ToLower(ct)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.Contains(ct, "json")
}

func lookupHeader(hs []Header, name string) (string, bool) {
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}
