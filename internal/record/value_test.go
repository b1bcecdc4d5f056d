package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func mustParse(t *testing.T, s string) Value {
	t.Helper()
	v, err := ParseJSON([]byte(s))
	require.NoError(t, err)
	return v
}

func TestParseJSON_PreservesKeyOrder(t *testing.T) {
	v := mustParse(t, `{"zeta":1,"alpha":{"b":true,"a":null},"mid":[1,"x"]}`)

	require.Equal(t, KindObject, v.Kind())
	fields := v.Fields()
	require.Len(t, fields, 3)
	assert.Equal(t, "zeta", fields[0].Key)
	assert.Equal(t, "alpha", fields[1].Key)
	assert.Equal(t, "mid", fields[2].Key)

	out, err := v.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":{"b":true,"a":null},"mid":[1,"x"]}`, string(out))
}

func TestParseJSON_SyntaxError(t *testing.T) {
	_, err := ParseJSON([]byte(`{"a":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected end of JSON input")
}

func TestParseJSON_KeepsNumberLiterals(t *testing.T) {
	v := mustParse(t, `{"big":12345678901234567890,"dec":1.10}`)

	big, _ := v.Get("big")
	assert.Equal(t, "12345678901234567890", big.Text())
	dec, _ := v.Get("dec")
	assert.Equal(t, "1.10", dec.Text())
}

func TestValue_Lookup(t *testing.T) {
	v := mustParse(t, `{"user":{"name":"Ada","tags":["a"],"age":36},"flag":false}`)

	tests := []struct {
		path   string
		want   string
		wantOK bool
	}{
		{"user.name", "Ada", true},
		{"user.age", "36", true},
		{"flag", "false", true},
		{"user.tags", `["a"]`, true},
		{"user.missing", "", false},
		{"user.name.first", "", false},
		{"user.tags.0", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := v.Lookup(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, got.Text())
			}
		})
	}
}

func TestValue_SetIsCopyOnWrite(t *testing.T) {
	orig := mustParse(t, `{"name":"x","items":[{"id":1}]}`)

	updated, ok := orig.Set(ParsePath("items.0.id"), Int(7))
	require.True(t, ok)
	updated, ok = updated.Set(ParsePath("meta.source"), String("probe"))
	require.True(t, ok)

	out, _ := updated.MarshalJSON()
	assert.Equal(t, `{"name":"x","items":[{"id":7}],"meta":{"source":"probe"}}`, string(out))

	before, _ := orig.MarshalJSON()
	assert.Equal(t, `{"name":"x","items":[{"id":1}]}`, string(before))
}

func TestValue_SetFailsThroughScalars(t *testing.T) {
	v := mustParse(t, `{"name":"x","items":[]}`)

	_, ok := v.Set(ParsePath("name.first"), String("y"))
	assert.False(t, ok)
	_, ok = v.Set(ParsePath("items.3"), String("y"))
	assert.False(t, ok)
}

func TestValue_Walk(t *testing.T) {
	v := mustParse(t, `{"a":{"b":"x","c":[1,{}]},"d":{}}`)

	var paths []string
	v.Walk(func(steps []Step, leaf Value) {
		paths = append(paths, FormatPath(steps)+"="+leaf.Kind().String())
	})
	assert.Equal(t, []string{"a.b=string", "a.c.0=number", "a.c.1=object", "d=object"}, paths)
}

func TestNumber(t *testing.T) {
	assert.Equal(t, "3", Number(3).Text())
	assert.Equal(t, "2.5", Number(2.5).Text())
	assert.True(t, Number(0).Kind() == KindNumber)

	f, ok := Int(42).AsFloat()
	require.True(t, ok)
	assert.Equal(t, 42.0, f)
}

func TestText(t *testing.T) {
	assert.Equal(t, "null", Null().Text())
	assert.Equal(t, "true", Bool(true).Text())
	assert.Equal(t, `{"k":"v"}`, Object(Field{Key: "k", Value: String("v")}).Text())
}

func TestEncode_DoesNotEscapeHTML(t *testing.T) {
	out, err := String("<a&b>").MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(out))
}

func TestYAMLRoundTrip(t *testing.T) {
	src := "name: Ada\nage: 36\nratio: 0.5\nactive: true\nnote: null\ntags:\n  - x\n  - y\n"
	var v Value
	require.NoError(t, yaml.Unmarshal([]byte(src), &v))

	out, _ := v.MarshalJSON()
	assert.Equal(t, `{"name":"Ada","age":36,"ratio":0.5,"active":true,"note":null,"tags":["x","y"]}`, string(out))

	back, err := yaml.Marshal(v)
	require.NoError(t, err)
	var again Value
	require.NoError(t, yaml.Unmarshal(back, &again))
	assert.Equal(t, v.Text(), again.Text())
}

func TestInterface(t *testing.T) {
	v := mustParse(t, `{"n":1.5,"s":"x","a":[true,null]}`)
	assert.Equal(t, map[string]any{"n": 1.5, "s": "x", "a": []any{true, nil}}, v.Interface())
}
