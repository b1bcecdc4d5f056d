// Package binding links template slots to record fields and materializes one
// bound request per record.
package binding

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wesleyorama2/volley/internal/record"
	"github.com/wesleyorama2/volley/pkg/jsonpath"
)

// SlotKind identifies which part of a template a binding overwrites.
type SlotKind uint8

const (
	SlotMethod SlotKind = iota + 1
	SlotURL
	SlotHeader
	SlotBody
	SlotBodyPath
)

// Slot is a parsed template component identifier such as "header:X-Id" or
// "body:user.name".
type Slot struct {
	Kind SlotKind
	// Name is the header name for SlotHeader and the dotted body path for
	// SlotBodyPath.
	Name string
}

func (s Slot) String() string {
	switch s.Kind {
	case SlotMethod:
		return "method"
	case SlotURL:
		return "url"
	case SlotHeader:
		return "header:" + s.Name
	case SlotBody:
		return "body"
	case SlotBodyPath:
		return "body:" + s.Name
	default:
		return "unknown"
	}
}

// key identifies a slot for uniqueness checks. Header names compare
// case-insensitively.
func (s Slot) key() string {
	if s.Kind == SlotHeader {
		return "header:" + strings.ToLower(s.Name)
	}
	return s.String()
}

// SlotError reports an invalid or conflicting binding.
type SlotError struct {
	Slot   string
	Reason string
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("binding %q: %s", e.Slot, e.Reason)
}

// ParseSlot parses a slot identifier: method, url, header:<name>, body or
// body:<path>. Body paths may be written in JSONPath form ($.a[0].b).
func ParseSlot(s string) (Slot, error) {
	raw := s
	s = strings.TrimSpace(s)
	kind, arg, hasArg := strings.Cut(s, ":")
	switch strings.ToLower(kind) {
	case "method":
		if hasArg {
			break
		}
		return Slot{Kind: SlotMethod}, nil
	case "url":
		if hasArg {
			break
		}
		return Slot{Kind: SlotURL}, nil
	case "header":
		name := strings.TrimSpace(arg)
		if name == "" {
			return Slot{}, &SlotError{Slot: raw, Reason: "header slot needs a name"}
		}
		return Slot{Kind: SlotHeader, Name: name}, nil
	case "body":
		if !hasArg {
			return Slot{Kind: SlotBody}, nil
		}
		path := jsonpath.Normalize(arg)
		if path == "" {
			return Slot{}, &SlotError{Slot: raw, Reason: "body path is empty"}
		}
		return Slot{Kind: SlotBodyPath, Name: path}, nil
	}
	return Slot{}, &SlotError{Slot: raw, Reason: "unknown slot; want method, url, header:<name>, body or body:<path>"}
}

// Binding links one template slot to one record field path.
type Binding struct {
	Slot      string `json:"slot" yaml:"slot"`
	FieldPath string `json:"field" yaml:"field"`
}

// Bindings is the set of bindings for one run.
type Bindings []Binding

// Validate checks slot syntax, field paths and slot uniqueness. All problems
// are reported together.
func (bs Bindings) Validate() error {
	_, err := bs.parse()
	return err
}

type parsedBinding struct {
	slot  Slot
	field string
}

func (bs Bindings) parse() ([]parsedBinding, error) {
	var errs []error
	seen := make(map[string]bool, len(bs))
	out := make([]parsedBinding, 0, len(bs))
	for _, b := range bs {
		slot, err := ParseSlot(b.Slot)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		field := jsonpath.Normalize(b.FieldPath)
		if field == "" {
			errs = append(errs, &SlotError{Slot: b.Slot, Reason: "field path is empty"})
			continue
		}
		if seen[slot.key()] {
			errs = append(errs, &SlotError{Slot: b.Slot, Reason: "slot is bound more than once"})
			continue
		}
		seen[slot.key()] = true
		out = append(out, parsedBinding{slot: slot, field: field})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// lookupText stringifies the record value at path. Gaps and nulls render as
// the empty string.
func lookupText(rec record.Value, path string) string {
	v, ok := rec.Lookup(path)
	if !ok || v.IsNull() {
		return ""
	}
	return v.Text()
}
