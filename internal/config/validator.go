package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wesleyorama2/volley/internal/datasource"
	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/template"
)

// ValidationError represents a plan validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields lists the fields that failed, in order.
func (e *ValidationErrors) Fields() []string {
	fields := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		fields[i] = err.Field
	}
	return fields
}

// Validate validates the entire plan.
//
// Returns nil if valid, or a *ValidationErrors containing every problem found.
func (p *Plan) Validate() error {
	errs := &ValidationErrors{}

	validateRequest(p, errs)
	validateSource(&p.Source, errs)
	validateRun(p.Run, errs)
	validateThresholds(p.Thresholds, errs)

	if p.HTTP.Timeout < 0 {
		errs.Add("http.timeout", "cannot be negative")
	}
	if p.HTTP.MaxBodyBytes < 0 {
		errs.Add("http.maxBodyBytes", "cannot be negative")
	}
	if p.Export.S3 != nil && p.Export.S3.Bucket == "" {
		errs.Add("export.s3.bucket", "bucket is required")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateRequest(p *Plan, errs *ValidationErrors) {
	if p.Request.Curl == "" && p.Request.CurlFile == "" {
		errs.Add("request", "curl or curlFile is required")
		return
	}
	if p.Request.Curl != "" && p.Request.CurlFile != "" {
		errs.Add("request", "curl and curlFile are mutually exclusive")
		return
	}

	tmpl, err := p.Template()
	if err != nil {
		var perr *template.ParseError
		if errors.As(err, &perr) {
			errs.Add("request.curl", perr.Error())
		} else {
			errs.Add("request.curlFile", err.Error())
		}
		return
	}

	if err := p.Bindings.Validate(); err != nil {
		for _, e := range unjoin(err) {
			errs.Add("bindings", e.Error())
		}
		return
	}
	for i, b := range p.Bindings {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(b.Slot)), "body:") && tmpl.Body.Kind != template.BodyJSON {
			errs.Add(fmt.Sprintf("bindings[%d].slot", i), "body path bindings need a JSON body")
		}
	}
}

func validateSource(s *SourceConfig, errs *ValidationErrors) {
	if s.Kind == "" {
		errs.Add("source.kind", "source kind is required")
		return
	}
	known := false
	for _, k := range datasource.Kinds() {
		if k == s.Kind {
			known = true
			break
		}
	}
	if !known {
		errs.Add("source.kind", fmt.Sprintf("unknown source kind %q (available: %s)", s.Kind, strings.Join(datasource.Kinds(), ", ")))
		return
	}

	switch s.Kind {
	case "inline", "memory":
		if len(s.Records) == 0 {
			errs.Add("source.records", "at least one record is required")
		}
	case "file":
		if s.Path == "" {
			errs.Add("source.path", "path is required")
		}
	case "mongo", "mongodb":
		if s.URI == "" {
			errs.Add("source.uri", "uri is required")
		}
		if s.Database == "" {
			errs.Add("source.database", "database is required")
		}
		if s.Collection == "" {
			errs.Add("source.collection", "collection is required")
		}
	default:
		if s.URI == "" {
			errs.Add("source.uri", "uri is required")
		}
		if s.Collection == "" {
			errs.Add("source.collection", "table is required")
		}
	}
}

func validateRun(r engine.RunConfig, errs *ValidationErrors) {
	if r.TotalRequests < 1 {
		errs.Add("run.totalRequests", "must be at least 1")
	}
	if r.BatchSize < 1 {
		errs.Add("run.batchSize", "must be at least 1")
	}
	if r.Mode != engine.ModeSequential && r.Mode != engine.ModeConcurrent {
		errs.Add("run.mode", fmt.Sprintf("unknown mode %q (want sequential or concurrent)", r.Mode))
	}
	if r.Rate < 0 {
		errs.Add("run.rate", "cannot be negative")
	}
}

// validateThresholds validates threshold configuration.
func validateThresholds(t metrics.Thresholds, errs *ValidationErrors) {
	groups := []struct {
		metric string
		exprs  []string
	}{
		{"http_req_duration", t.HTTPReqDuration},
		{"http_req_failed", t.HTTPReqFailed},
		{"http_reqs", t.HTTPReqs},
		{"schema_violations", t.SchemaViolations},
	}
	for _, g := range groups {
		for i, expr := range g.exprs {
			if err := metrics.ValidateExpression(g.metric, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", g.metric, i), err.Error())
			}
		}
	}
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
