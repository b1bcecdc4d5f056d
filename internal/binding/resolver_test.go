package binding

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/volley/internal/record"
	"github.com/wesleyorama2/volley/internal/template"
)

func mustRecord(t *testing.T, s string) record.Value {
	t.Helper()
	v, err := record.ParseJSON([]byte(s))
	require.NoError(t, err)
	return v
}

func mustTemplate(t *testing.T, raw string) *template.Template {
	t.Helper()
	tmpl, err := template.Parse(raw)
	require.NoError(t, err)
	return tmpl
}

func bodyText(t *testing.T, b template.Body) string {
	t.Helper()
	out, err := b.Bytes()
	require.NoError(t, err)
	return string(out)
}

func TestResolve_BodyPathBinding(t *testing.T) {
	tmpl := mustTemplate(t, `curl -X POST 'https://api.example.com/users' -H 'Content-Type: application/json' -d '{"name":"${user.name}"}'`)
	r, err := Compile(tmpl, Bindings{{Slot: "body:name", FieldPath: "user.name"}})
	require.NoError(t, err)

	req := r.Resolve(mustRecord(t, `{"user":{"name":"Ada"}}`))
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "https://api.example.com/users", req.URL)
	assert.Equal(t, `{"name":"Ada"}`, bodyText(t, req.Body))
}

func TestResolve_TypedBodyValues(t *testing.T) {
	tmpl := mustTemplate(t, `curl -X POST https://x.test -H 'Content-Type: application/json' -d '{"age":"${age}","flags":{"on":false},"list":[]}'`)
	r, err := Compile(tmpl, Bindings{
		{Slot: "body:$.age", FieldPath: "age"},
		{Slot: "body:flags.on", FieldPath: "active"},
		{Slot: "body:list", FieldPath: "tags"},
		{Slot: "body:meta.source", FieldPath: "src"},
	})
	require.NoError(t, err)

	req := r.Resolve(mustRecord(t, `{"age":36,"active":true,"tags":["a",1],"src":"db"}`))
	assert.Equal(t, `{"age":36,"flags":{"on":true},"list":["a",1],"meta":{"source":"db"}}`, bodyText(t, req.Body))
}

func TestResolve_PlaceholdersEverywhere(t *testing.T) {
	tmpl := mustTemplate(t, `curl -X PUT 'https://x.test/users/${id}?v=${$.meta.v}' -H 'X-Tenant: t-${tenant}' -H 'Content-Type: application/json' -d '{"greeting":"hi ${name}","nested":{"n":"${id}"},"keep":1}'`)
	r, err := Compile(tmpl, nil)
	require.NoError(t, err)

	req := r.Resolve(mustRecord(t, `{"id":7,"tenant":"acme","name":"Ada","meta":{"v":2}}`))
	assert.Equal(t, "https://x.test/users/7?v=2", req.URL)
	v, _ := req.Header("X-Tenant")
	assert.Equal(t, "t-acme", v)
	assert.Equal(t, `{"greeting":"hi Ada","nested":{"n":"7"},"keep":1}`, bodyText(t, req.Body))
}

func TestResolve_MissingFieldsBecomeEmpty(t *testing.T) {
	tmpl := mustTemplate(t, `curl -X POST 'https://x.test/${missing.path}/x' -H 'X-Id: ${user.name.first}' -H 'Content-Type: application/json' -d '{"a":"${nope}","b":2}'`)
	r, err := Compile(tmpl, Bindings{
		{Slot: "body:b", FieldPath: "absent"},
		{Slot: "header:X-Other", FieldPath: "absent.too"},
	})
	require.NoError(t, err)

	var req template.BoundRequest
	require.NotPanics(t, func() {
		req = r.Resolve(mustRecord(t, `{"user":{"name":"Ada"},"n":null}`))
	})
	assert.Equal(t, "https://x.test//x", req.URL)
	v, _ := req.Header("X-Id")
	assert.Equal(t, "", v)
	other, ok := req.Header("X-Other")
	assert.True(t, ok)
	assert.Equal(t, "", other)
	assert.Equal(t, `{"a":"","b":""}`, bodyText(t, req.Body))
}

func TestResolve_MethodURLAndHeaderSlots(t *testing.T) {
	tmpl := mustTemplate(t, `curl https://x.test/default -H 'Authorization: Bearer literal' -H 'Accept: */*'`)
	r, err := Compile(tmpl, Bindings{
		{Slot: "method", FieldPath: "verb"},
		{Slot: "url", FieldPath: "target"},
		{Slot: "header:authorization", FieldPath: "token"},
	})
	require.NoError(t, err)

	req := r.Resolve(mustRecord(t, `{"verb":"delete","target":"https://x.test/items/9","token":"abc"}`))
	assert.Equal(t, "DELETE", req.Method)
	assert.Equal(t, "https://x.test/items/9", req.URL)
	assert.Equal(t, []template.Header{
		{Name: "Authorization", Value: "abc"},
		{Name: "Accept", Value: "*/*"},
	}, req.Headers)
}

func TestResolve_WholeBody(t *testing.T) {
	jsonTmpl := mustTemplate(t, `curl -X POST https://x.test -H 'Content-Type: application/json' -d '{}'`)
	r, err := Compile(jsonTmpl, Bindings{{Slot: "body", FieldPath: "payload"}})
	require.NoError(t, err)
	req := r.Resolve(mustRecord(t, `{"payload":{"k":[1,2]}}`))
	assert.Equal(t, template.BodyJSON, req.Body.Kind)
	assert.Equal(t, `{"k":[1,2]}`, bodyText(t, req.Body))

	rawTmpl := mustTemplate(t, `curl -X POST https://x.test -d 'literal'`)
	r, err = Compile(rawTmpl, Bindings{{Slot: "body", FieldPath: "payload"}})
	require.NoError(t, err)
	req = r.Resolve(mustRecord(t, `{"payload":42}`))
	assert.Equal(t, template.Body{Kind: template.BodyRaw, Raw: "42"}, req.Body)
}

func TestResolve_RawBodyPlaceholders(t *testing.T) {
	tmpl := mustTemplate(t, `curl -X POST https://x.test -d 'name=${user.name}&age=${user.age}'`)
	r, err := Compile(tmpl, nil)
	require.NoError(t, err)

	req := r.Resolve(mustRecord(t, `{"user":{"name":"Ada","age":36}}`))
	assert.Equal(t, "name=Ada&age=36", req.Body.Raw)
}

func TestResolve_DoesNotMutateTemplate(t *testing.T) {
	tmpl := mustTemplate(t, `curl -X POST https://x.test/${id} -H 'X-Id: ${id}' -H 'Content-Type: application/json' -d '{"id":"${id}","n":0}'`)
	before, err := tmpl.Body.MarshalJSON()
	require.NoError(t, err)
	headers := append([]template.Header(nil), tmpl.Headers...)

	r, err := Compile(tmpl, Bindings{
		{Slot: "body:n", FieldPath: "n"},
		{Slot: "header:X-Id", FieldPath: "id"},
		{Slot: "header:X-New", FieldPath: "id"},
	})
	require.NoError(t, err)
	for _, rec := range []string{`{"id":1,"n":5}`, `{"id":2,"n":6}`} {
		r.Resolve(mustRecord(t, rec))
	}

	after, err := tmpl.Body.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Equal(t, headers, tmpl.Headers)
	assert.Equal(t, "https://x.test/${id}", tmpl.URL)
}

func TestCompile_Errors(t *testing.T) {
	raw := mustTemplate(t, `curl -X POST https://x.test -d 'a=b'`)

	_, err := Compile(raw, Bindings{{Slot: "body:a", FieldPath: "x"}})
	var serr *SlotError
	require.True(t, errors.As(err, &serr))
	assert.Contains(t, serr.Reason, "JSON body")

	_, err = Compile(raw, Bindings{
		{Slot: "header:X-A", FieldPath: "a"},
		{Slot: "header:x-a", FieldPath: "b"},
		{Slot: "cookie", FieldPath: "c"},
		{Slot: "url", FieldPath: ""},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bound more than once")
	assert.Contains(t, err.Error(), "unknown slot")
	assert.Contains(t, err.Error(), "field path is empty")
}

func TestParseSlot(t *testing.T) {
	tests := []struct {
		in      string
		want    Slot
		wantErr bool
	}{
		{"method", Slot{Kind: SlotMethod}, false},
		{"URL", Slot{Kind: SlotURL}, false},
		{"header:X-Trace-Id", Slot{Kind: SlotHeader, Name: "X-Trace-Id"}, false},
		{"body", Slot{Kind: SlotBody}, false},
		{"body:$.items[0].id", Slot{Kind: SlotBodyPath, Name: "items.0.id"}, false},
		{"body:$", Slot{}, true},
		{"header:", Slot{}, true},
		{"method:x", Slot{}, true},
		{"query:q", Slot{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSlot(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlot_String(t *testing.T) {
	assert.Equal(t, "header:X-Id", Slot{Kind: SlotHeader, Name: "X-Id"}.String())
	assert.Equal(t, "body:a.b", Slot{Kind: SlotBodyPath, Name: "a.b"}.String())
	assert.Equal(t, "method", Slot{Kind: SlotMethod}.String())
}

func TestBindings_Validate(t *testing.T) {
	assert.NoError(t, Bindings{{Slot: "url", FieldPath: "u"}, {Slot: "body:a", FieldPath: "$.a"}}.Validate())
	assert.NoError(t, Bindings(nil).Validate())
	assert.Error(t, Bindings{{Slot: "url", FieldPath: "u"}, {Slot: "url", FieldPath: "v"}}.Validate())
}
