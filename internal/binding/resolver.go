package binding

import (
	"strings"

	"github.com/wesleyorama2/volley/internal/record"
	"github.com/wesleyorama2/volley/internal/template"
	"github.com/wesleyorama2/volley/pkg/jsonpath"
)

type compiledLeaf struct {
	steps []record.Step
	segs  template.Segments
}

type compiledBinding struct {
	slot  Slot
	field string
	steps []record.Step
}

// Resolver is a template compiled against a binding set. Placeholder
// segments are computed once and replayed for every record. A Resolver is
// safe for concurrent use.
type Resolver struct {
	tmpl     *template.Template
	url      template.Segments
	headers  []template.Segments
	raw      template.Segments
	leaves   []compiledLeaf
	bindings []compiledBinding
}

// Compile validates bindings against tmpl and pre-compiles every
// placeholder-bearing string.
func Compile(tmpl *template.Template, bs Bindings) (*Resolver, error) {
	parsed, err := bs.parse()
	if err != nil {
		return nil, err
	}

	r := &Resolver{
		tmpl: tmpl,
		url:  normalizeSegments(template.CompileSegments(tmpl.URL)),
	}
	for _, h := range tmpl.Headers {
		r.headers = append(r.headers, normalizeSegments(template.CompileSegments(h.Value)))
	}

	switch tmpl.Body.Kind {
	case template.BodyRaw:
		r.raw = normalizeSegments(template.CompileSegments(tmpl.Body.Raw))
	case template.BodyJSON:
		tmpl.Body.JSON.Walk(func(steps []record.Step, leaf record.Value) {
			s, ok := leaf.AsString()
			if !ok {
				return
			}
			segs := template.CompileSegments(s)
			if !segs.HasPlaceholders() {
				return
			}
			r.leaves = append(r.leaves, compiledLeaf{steps: steps, segs: normalizeSegments(segs)})
		})
	}

	for _, pb := range parsed {
		if pb.slot.Kind == SlotBodyPath && tmpl.Body.Kind != template.BodyJSON {
			return nil, &SlotError{Slot: pb.slot.String(), Reason: "body path bindings need a JSON body"}
		}
		cb := compiledBinding{slot: pb.slot, field: pb.field}
		if pb.slot.Kind == SlotBodyPath {
			cb.steps = record.ParsePath(pb.slot.Name)
		}
		r.bindings = append(r.bindings, cb)
	}
	return r, nil
}

func normalizeSegments(segs template.Segments) template.Segments {
	for i := range segs {
		if segs[i].Placeholder {
			segs[i].Path = jsonpath.Normalize(segs[i].Path)
		}
	}
	return segs
}

// Template returns the compiled template.
func (r *Resolver) Template() *template.Template { return r.tmpl }

// Resolve materializes the template for one record. Placeholders are
// substituted first; bound slots are then overwritten. It never fails: any
// gap in the record resolves to the empty string.
func (r *Resolver) Resolve(rec record.Value) template.BoundRequest {
	lookup := func(path string) string { return lookupText(rec, path) }

	req := template.BoundRequest{
		Method:  r.tmpl.Method,
		URL:     r.url.Render(lookup),
		Headers: make([]template.Header, len(r.tmpl.Headers)),
		Body:    r.tmpl.Body,
	}
	for i, h := range r.tmpl.Headers {
		req.Headers[i] = template.Header{Name: h.Name, Value: r.headers[i].Render(lookup)}
	}

	switch r.tmpl.Body.Kind {
	case template.BodyRaw:
		req.Body.Raw = r.raw.Render(lookup)
	case template.BodyJSON:
		body := r.tmpl.Body.JSON
		for _, leaf := range r.leaves {
			body, _ = body.Set(leaf.steps, record.String(leaf.segs.Render(lookup)))
		}
		req.Body.JSON = body
	}

	for _, b := range r.bindings {
		r.apply(&req, b, rec)
	}
	return req
}

func (r *Resolver) apply(req *template.BoundRequest, b compiledBinding, rec record.Value) {
	switch b.slot.Kind {
	case SlotMethod:
		req.Method = strings.ToUpper(lookupText(rec, b.field))
	case SlotURL:
		req.URL = lookupText(rec, b.field)
	case SlotHeader:
		req.SetHeader(b.slot.Name, lookupText(rec, b.field))
	case SlotBody:
		req.Body = bodyFromRecord(r.tmpl.Body, rec, b.field)
	case SlotBodyPath:
		v, ok := rec.Lookup(b.field)
		if !ok {
			v = record.String("")
		}
		if body, ok := req.Body.JSON.Set(b.steps, v); ok {
			req.Body.JSON = body
		}
	}
}

// bodyFromRecord replaces the whole body. A JSON template body, or a
// container value, keeps the record's type; otherwise the value is sent as
// text.
func bodyFromRecord(tb template.Body, rec record.Value, field string) template.Body {
	v, ok := rec.Lookup(field)
	if !ok {
		v = record.String("")
	}
	container := v.Kind() == record.KindObject || v.Kind() == record.KindArray
	if tb.Kind == template.BodyJSON || (tb.Kind == template.BodyNone && container) {
		return template.Body{Kind: template.BodyJSON, JSON: v}
	}
	text := v.Text()
	if v.IsNull() {
		text = ""
	}
	return template.Body{Kind: template.BodyRaw, Raw: text, Binary: tb.Binary}
}
