// Package jsonschema validates response bodies against JSON Schema documents.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationErrors represents a collection of validation errors
type ValidationErrors []error

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Schema is a compiled schema. It is safe for concurrent use.
type Schema struct {
	compiled *jsonschema.Schema
}

// Compile compiles a schema document held in memory.
func Compile(schemaStr string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	registerFormats(compiler)

	if err := compiler.AddResource("schema.json", strings.NewReader(schemaStr)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	s, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{compiled: s}, nil
}

// CompileFile reads and compiles a schema from disk.
func CompileFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Compile(string(data))
}

// Validate checks a JSON document. It returns nil when the document is
// valid; malformed JSON is reported as a single error.
func (s *Schema) Validate(doc []byte) ValidationErrors {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var data interface{}
	if err := dec.Decode(&data); err != nil {
		return ValidationErrors{fmt.Errorf("invalid JSON: %w", err)}
	}

	err := s.compiled.Validate(data)
	if err == nil {
		return nil
	}
	if validationErr, ok := err.(*jsonschema.ValidationError); ok {
		return extractValidationErrors(validationErr)
	}
	return ValidationErrors{err}
}

// Validate validates a JSON string against a JSON Schema
// Returns true if the JSON is valid, false otherwise
// If there's an error in the schema or JSON parsing, it returns an error
func Validate(jsonStr, schemaStr string) (bool, error) {
	s, err := Compile(schemaStr)
	if err != nil {
		return false, err
	}
	if !json.Valid([]byte(jsonStr)) {
		return false, fmt.Errorf("invalid JSON: %s", strings.TrimSpace(jsonStr))
	}
	return len(s.Validate([]byte(jsonStr))) == 0, nil
}

// ValidateWithErrors validates a JSON string against a JSON Schema and
// lists every violation found.
func ValidateWithErrors(jsonStr, schemaStr string) (bool, ValidationErrors) {
	s, err := Compile(schemaStr)
	if err != nil {
		return false, ValidationErrors{err}
	}
	errs := s.Validate([]byte(jsonStr))
	return len(errs) == 0, errs
}

// ValidateWithSchema is ValidateWithErrors with the schema loaded from a file.
func ValidateWithSchema(jsonStr, schemaPath string) (bool, ValidationErrors) {
	s, err := CompileFile(schemaPath)
	if err != nil {
		return false, ValidationErrors{err}
	}
	errs := s.Validate([]byte(jsonStr))
	return len(errs) == 0, errs
}

// registerFormats turns format keywords (email, date, uri, ...) into
// assertions instead of annotations.
func registerFormats(compiler *jsonschema.Compiler) {
	compiler.AssertFormat = true
}

// extractValidationErrors extracts all validation errors from a jsonschema.ValidationError
func extractValidationErrors(err *jsonschema.ValidationError) ValidationErrors {
	var errors ValidationErrors

	if err.Message != "" && len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		errors = append(errors, fmt.Errorf("validation error at %s: %s", loc, err.Message))
	}

	for _, childErr := range err.Causes {
		errors = append(errors, extractValidationErrors(childErr)...)
	}

	return errors
}
