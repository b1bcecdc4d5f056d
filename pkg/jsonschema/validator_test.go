package jsonschema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userSchema = `{
	"type": "object",
	"properties": {
		"name": { "type": "string", "minLength": 3 },
		"age": { "type": "integer", "minimum": 18 },
		"email": { "type": "string", "format": "email" }
	},
	"required": ["name"]
}`

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		json      string
		wantValid bool
		wantErr   bool
	}{
		{name: "valid object", json: `{"name": "John Doe", "age": 30}`, wantValid: true},
		{name: "missing required property", json: `{"age": 30}`},
		{name: "wrong type", json: `{"name": "John Doe", "age": "thirty"}`},
		{name: "invalid email format", json: `{"name": "John Doe", "email": "not-an-email"}`},
		{name: "invalid JSON", json: `{"name": "John Doe"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, err := Validate(tt.json, userSchema)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, valid)
		})
	}

	_, err := Validate(`{}`, `{"type": 12}`)
	assert.ErrorContains(t, err, "invalid schema")
}

func TestValidateWithErrors(t *testing.T) {
	tests := []struct {
		name       string
		json       string
		wantErrors []string
	}{
		{name: "missing required property", json: `{}`, wantErrors: []string{"name", "missing properties"}},
		{name: "wrong type", json: `{"name": "John", "age": "thirty"}`, wantErrors: []string{"/age", "integer", "string"}},
		{name: "multiple errors", json: `{"name": "Jo", "age": 16}`, wantErrors: []string{"length must be >= 3", "must be >= 18"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, errs := ValidateWithErrors(tt.json, userSchema)
			assert.False(t, valid)
			require.NotEmpty(t, errs)
			for _, want := range tt.wantErrors {
				assert.Contains(t, errs.Error(), want)
			}
		})
	}

	valid, errs := ValidateWithErrors(`{"name": "Ada Lovelace"}`, userSchema)
	assert.True(t, valid)
	assert.Empty(t, errs)
}

func TestValidateWithSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(userSchema), 0o644))

	valid, errs := ValidateWithSchema(`{"name": "Ada Lovelace"}`, path)
	assert.True(t, valid)
	assert.Empty(t, errs)

	valid, errs = ValidateWithSchema(`{"name": 1}`, path)
	assert.False(t, valid)
	assert.NotEmpty(t, errs)

	valid, errs = ValidateWithSchema(`{}`, filepath.Join(t.TempDir(), "missing.json"))
	assert.False(t, valid)
	assert.ErrorContains(t, errs, "read schema")
}

func TestSchema_ValidateReuse(t *testing.T) {
	s, err := Compile(userSchema)
	require.NoError(t, err)

	assert.Empty(t, s.Validate([]byte(`{"name": "Ada Lovelace", "age": 36}`)))
	assert.Len(t, s.Validate([]byte(`{"name": "Ad", "age": 3}`)), 2)
	assert.ErrorContains(t, s.Validate([]byte(`not json`)), "invalid JSON")
	// Large integers survive decoding as json.Number.
	assert.Empty(t, s.Validate([]byte(`{"name": "Ada Lovelace", "age": 12345678901234567890}`)))
}
