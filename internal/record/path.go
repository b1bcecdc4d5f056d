package record

import (
	"strconv"
	"strings"
)

// Step is one segment of a path into a Value. Key addresses an object field;
// Index (when >= 0) addresses an array element. A numeric segment carries
// both, so "items.0" works whether items is an array or an object keyed "0".
type Step struct {
	Key   string
	Index int
}

// KeyStep returns a step that only addresses an object field.
func KeyStep(key string) Step { return Step{Key: key, Index: -1} }

// IndexStep returns a step that only addresses an array element.
func IndexStep(i int) Step { return Step{Key: strconv.Itoa(i), Index: i} }

// ParsePath splits a dotted path into steps. Numeric segments may index
// arrays.
func ParsePath(path string) []Step {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	steps := make([]Step, 0, len(parts))
	for _, p := range parts {
		s := Step{Key: p, Index: -1}
		if i, err := strconv.Atoi(p); err == nil && i >= 0 {
			s.Index = i
		}
		steps = append(steps, s)
	}
	return steps
}

// FormatPath joins steps back into dotted form.
func FormatPath(steps []Step) string {
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = s.Key
	}
	return strings.Join(parts, ".")
}

// At resolves steps through objects and arrays.
func (v Value) At(steps []Step) (Value, bool) {
	cur := v
	for _, s := range steps {
		var ok bool
		switch cur.kind {
		case KindObject:
			cur, ok = cur.Get(s.Key)
		case KindArray:
			cur, ok = cur.Index(s.Index)
		}
		if !ok {
			return Value{}, false
		}
	}
	return cur, true
}

// Set returns a copy of v with the value at steps replaced by nv. Missing
// object fields are created (with intermediate objects as needed); array
// elements must already exist. Set reports false, and returns v unchanged,
// when the path runs into a scalar or an out-of-range index.
//
// Only the containers along the path are copied; all other storage is shared
// with v.
func (v Value) Set(steps []Step, nv Value) (Value, bool) {
	if len(steps) == 0 {
		return nv, true
	}
	s, rest := steps[0], steps[1:]
	switch v.kind {
	case KindObject:
		fields := append([]Field(nil), v.obj...)
		for i := range fields {
			if fields[i].Key == s.Key {
				child, ok := fields[i].Value.Set(rest, nv)
				if !ok {
					return v, false
				}
				fields[i].Value = child
				return Value{kind: KindObject, obj: fields}, true
			}
		}
		child, ok := Value{kind: KindObject}.Set(rest, nv)
		if !ok {
			return v, false
		}
		fields = append(fields, Field{Key: s.Key, Value: child})
		return Value{kind: KindObject, obj: fields}, true
	case KindArray:
		if s.Index < 0 || s.Index >= len(v.arr) {
			return v, false
		}
		child, ok := v.arr[s.Index].Set(rest, nv)
		if !ok {
			return v, false
		}
		elems := append([]Value(nil), v.arr...)
		elems[s.Index] = child
		return Value{kind: KindArray, arr: elems}, true
	default:
		return v, false
	}
}

// Walk calls fn for every scalar or empty-container leaf of v in document
// order, with the steps leading to it.
func (v Value) Walk(fn func(steps []Step, leaf Value)) {
	v.walk(nil, fn)
}

func (v Value) walk(prefix []Step, fn func([]Step, Value)) {
	switch {
	case v.kind == KindObject && len(v.obj) > 0:
		for _, f := range v.obj {
			f.Value.walk(appendStep(prefix, KeyStep(f.Key)), fn)
		}
	case v.kind == KindArray && len(v.arr) > 0:
		for i, e := range v.arr {
			e.walk(appendStep(prefix, IndexStep(i)), fn)
		}
	default:
		fn(prefix, v)
	}
}

func appendStep(prefix []Step, s Step) []Step {
	out := make([]Step, len(prefix)+1)
	copy(out, prefix)
	out[len(prefix)] = s
	return out
}
