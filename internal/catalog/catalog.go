// Package catalog flattens a probe record into the field paths a binding can
// reference.
package catalog

import (
	"github.com/wesleyorama2/volley/internal/record"
)

// FieldDescriptor describes one addressable field of the probe record.
type FieldDescriptor struct {
	Path   string       `json:"path" yaml:"path"`
	Kind   string       `json:"kind" yaml:"kind"`
	Sample record.Value `json:"sample" yaml:"sample"`
}

// Catalog is the ordered set of descriptors derived from one probe record.
// It is advisory: later records may lack a field or carry a different kind.
type Catalog []FieldDescriptor

// Build walks probe depth-first in key order. Nested objects are flattened;
// arrays and scalars are leaves. A non-object probe yields an empty catalog.
func Build(probe record.Value) Catalog {
	out := Catalog{}
	if probe.Kind() != record.KindObject {
		return out
	}
	seen := make(map[string]bool)
	flatten(probe, "", seen, &out)
	return out
}

func flatten(v record.Value, prefix string, seen map[string]bool, out *Catalog) {
	for _, f := range v.Fields() {
		path := f.Key
		if prefix != "" {
			path = prefix + "." + f.Key
		}
		if f.Value.Kind() == record.KindObject && f.Value.Len() > 0 {
			flatten(f.Value, path, seen, out)
			continue
		}
		// Keys containing dots can collide with nested paths; the first wins.
		if seen[path] {
			continue
		}
		seen[path] = true
		*out = append(*out, FieldDescriptor{
			Path:   path,
			Kind:   f.Value.Kind().String(),
			Sample: f.Value,
		})
	}
}

// Lookup returns the descriptor for path.
func (c Catalog) Lookup(path string) (FieldDescriptor, bool) {
	for _, d := range c {
		if d.Path == path {
			return d, true
		}
	}
	return FieldDescriptor{}, false
}

// Paths returns every path in catalog order.
func (c Catalog) Paths() []string {
	out := make([]string, len(c))
	for i, d := range c {
		out[i] = d.Path
	}
	return out
}

// Change is one difference between two catalogs.
type Change struct {
	Path    string `json:"path"`
	Type    string `json:"type"` // added, removed or kind
	OldKind string `json:"oldKind,omitempty"`
	NewKind string `json:"newKind,omitempty"`
}

// Diff compares two catalogs: removed and changed paths in the order of a,
// then added paths in the order of b.
func Diff(a, b Catalog) []Change {
	var changes []Change
	for _, d := range a {
		nd, ok := b.Lookup(d.Path)
		switch {
		case !ok:
			changes = append(changes, Change{Path: d.Path, Type: "removed", OldKind: d.Kind})
		case nd.Kind != d.Kind:
			changes = append(changes, Change{Path: d.Path, Type: "kind", OldKind: d.Kind, NewKind: nd.Kind})
		}
	}
	for _, d := range b {
		if _, ok := a.Lookup(d.Path); !ok {
			changes = append(changes, Change{Path: d.Path, Type: "added", NewKind: d.Kind})
		}
	}
	return changes
}
