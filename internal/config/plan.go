// Package config loads run plans from YAML or JSON files and process
// settings from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/volley/internal/binding"
	"github.com/wesleyorama2/volley/internal/datasource"
	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/record"
	"github.com/wesleyorama2/volley/internal/template"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultBatchSize = 10
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "volley/1.0"
)

// Plan is the complete description of one test run.
type Plan struct {
	// Name identifies the plan in reports
	Name string `json:"name" yaml:"name"`

	// Description is optional documentation
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Variables are substituted for {{name}} references before the plan is
	// used. {{env.NAME}} reads the process environment.
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Request is the captured request template
	Request RequestConfig `json:"request" yaml:"request"`

	// Bindings link template slots to record fields
	Bindings binding.Bindings `json:"bindings,omitempty" yaml:"bindings,omitempty"`

	// Source describes where records come from
	Source SourceConfig `json:"source" yaml:"source"`

	// Run governs paging and scheduling
	Run engine.RunConfig `json:"run" yaml:"run"`

	// HTTP tunes the client
	HTTP HTTPSettings `json:"http,omitempty" yaml:"http,omitempty"`

	// Thresholds define pass/fail criteria
	Thresholds metrics.Thresholds `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Export writes the final result somewhere
	Export ExportConfig `json:"export,omitempty" yaml:"export,omitempty"`

	// dir is the plan file's directory; relative paths resolve against it.
	dir string
}

// RequestConfig holds the curl capture, inline or in a file.
type RequestConfig struct {
	Curl     string `json:"curl,omitempty" yaml:"curl,omitempty"`
	CurlFile string `json:"curlFile,omitempty" yaml:"curlFile,omitempty"`

	// Body replaces the captured body and lifts the body requirement for
	// POST, PUT and PATCH.
	Body *record.Value `json:"body,omitempty" yaml:"body,omitempty"`

	// ResponseSchema is a JSON Schema file every response body is checked against
	ResponseSchema string `json:"responseSchema,omitempty" yaml:"responseSchema,omitempty"`
}

// SourceConfig selects and queries a data source.
type SourceConfig struct {
	Kind       string         `json:"kind" yaml:"kind"`
	URI        string         `json:"uri,omitempty" yaml:"uri,omitempty"`
	Database   string         `json:"database,omitempty" yaml:"database,omitempty"`
	Collection string         `json:"collection,omitempty" yaml:"collection,omitempty"`
	Filter     record.Value   `json:"filter,omitempty" yaml:"filter,omitempty"`
	Records    []record.Value `json:"records,omitempty" yaml:"records,omitempty"`
	Path       string         `json:"path,omitempty" yaml:"path,omitempty"`
	Root       string         `json:"root,omitempty" yaml:"root,omitempty"`
}

// HTTPSettings configures the HTTP client.
type HTTPSettings struct {
	Timeout      Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Insecure     bool              `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	UserAgent    string            `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	MaxBodyBytes int64             `json:"maxBodyBytes,omitempty" yaml:"maxBodyBytes,omitempty"`
}

// ExportConfig lists export destinations. Empty fields are skipped.
type ExportConfig struct {
	// File is a local path; .yaml/.yml selects YAML, anything else JSON
	File string `json:"file,omitempty" yaml:"file,omitempty"`

	// S3 uploads the result as JSON
	S3 *S3Config `json:"s3,omitempty" yaml:"s3,omitempty"`
}

// S3Config addresses an S3 (or S3-compatible) object.
type S3Config struct {
	Bucket   string `json:"bucket" yaml:"bucket"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// LoadPlan reads, resolves, defaults and validates a plan file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadPlan(path string) (*Plan, error) {
	return LoadPlanWithVariables(path, nil)
}

// LoadPlanWithVariables is LoadPlan with variables that override the
// plan's own.
func LoadPlanWithVariables(path string, vars map[string]string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	plan, err := ParsePlan(data, path)
	if err != nil {
		return nil, err
	}
	plan.dir = filepath.Dir(path)
	if len(vars) > 0 && plan.Variables == nil {
		plan.Variables = make(map[string]string, len(vars))
	}
	for k, v := range vars {
		plan.Variables[k] = v
	}
	if err := plan.Prepare(); err != nil {
		return nil, err
	}
	return plan, nil
}

// ParsePlan parses plan data. The format is determined by the extension of
// path, defaulting to YAML.
func ParsePlan(data []byte, path string) (*Plan, error) {
	var plan Plan

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &plan); err != nil {
			return nil, fmt.Errorf("failed to parse JSON plan: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &plan); err != nil {
			return nil, fmt.Errorf("failed to parse YAML plan: %w", err)
		}
	}
	return &plan, nil
}

// Prepare resolves variables, applies defaults and validates the plan.
func (p *Plan) Prepare() error {
	p.ResolveVariables(os.LookupEnv)
	ApplyDefaults(p)
	return p.Validate()
}

// ResolveVariables substitutes {{name}} references in the string fields a
// plan author is likely to parameterize. Unresolved references are left
// as-is.
func (p *Plan) ResolveVariables(lookupEnv func(string) (string, bool)) {
	resolve := func(s string) string {
		return ResolveVariables(s, p.Variables, lookupEnv)
	}

	p.Request.Curl = resolve(p.Request.Curl)
	p.Request.CurlFile = resolve(p.Request.CurlFile)
	p.Source.URI = resolve(p.Source.URI)
	p.Source.Database = resolve(p.Source.Database)
	p.Source.Collection = resolve(p.Source.Collection)
	p.Source.Path = resolve(p.Source.Path)
	for k, v := range p.HTTP.Headers {
		p.HTTP.Headers[k] = resolve(v)
	}
	p.Export.File = resolve(p.Export.File)
	if p.Export.S3 != nil {
		p.Export.S3.Bucket = resolve(p.Export.S3.Bucket)
		p.Export.S3.Key = resolve(p.Export.S3.Key)
		p.Export.S3.Endpoint = resolve(p.Export.S3.Endpoint)
	}
}

// ResolveVariables resolves {{name}} placeholders from vars and
// {{env.NAME}} placeholders from lookupEnv. ${...} is left alone; it
// belongs to record placeholders in request templates.
func ResolveVariables(input string, vars map[string]string, lookupEnv func(string) (string, bool)) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	var b strings.Builder
	rest := input
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start+2:], "}}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start + 2

		name := strings.TrimSpace(rest[start+2 : end])
		b.WriteString(rest[:start])
		if v, ok := lookupVariable(name, vars, lookupEnv); ok {
			b.WriteString(v)
		} else {
			b.WriteString(rest[start : end+2])
		}
		rest = rest[end+2:]
	}
	return b.String()
}

func lookupVariable(name string, vars map[string]string, lookupEnv func(string) (string, bool)) (string, bool) {
	if env, ok := strings.CutPrefix(name, "env."); ok {
		if lookupEnv == nil {
			return "", false
		}
		return lookupEnv(env)
	}
	v, ok := vars[name]
	return v, ok
}

// ApplyDefaults applies default values to a plan.
func ApplyDefaults(p *Plan) {
	if p.Run.Mode == "" {
		p.Run.Mode = engine.ModeSequential
	}
	if p.Run.BatchSize == 0 {
		p.Run.BatchSize = DefaultBatchSize
		if p.Run.TotalRequests > 0 && p.Run.TotalRequests < DefaultBatchSize {
			p.Run.BatchSize = p.Run.TotalRequests
		}
	}

	if p.Source.Kind == "" {
		switch {
		case len(p.Source.Records) > 0:
			p.Source.Kind = "inline"
		case p.Source.Path != "":
			p.Source.Kind = "file"
		}
	}
	p.Source.Kind = strings.ToLower(p.Source.Kind)

	if p.HTTP.Timeout == 0 {
		p.HTTP.Timeout = Duration(DefaultTimeout)
	}
	if p.HTTP.UserAgent == "" {
		p.HTTP.UserAgent = DefaultUserAgent
	}
	if p.Export.S3 != nil && p.Export.S3.Key == "" {
		name := p.Name
		if name == "" {
			name = "run"
		}
		p.Export.S3.Key = "volley/" + name + ".json"
	}
}

// Path resolves a plan-relative path.
func (p *Plan) Path(rel string) string {
	if rel == "" || filepath.IsAbs(rel) || p.dir == "" {
		return rel
	}
	return filepath.Join(p.dir, rel)
}

// CurlText returns the capture text, reading CurlFile if needed.
func (p *Plan) CurlText() (string, error) {
	if p.Request.Curl != "" {
		return p.Request.Curl, nil
	}
	if p.Request.CurlFile == "" {
		return "", fmt.Errorf("request needs curl or curlFile")
	}
	data, err := os.ReadFile(p.Path(p.Request.CurlFile))
	if err != nil {
		return "", fmt.Errorf("failed to read curl file: %w", err)
	}
	return string(data), nil
}

// Template parses the request capture.
func (p *Plan) Template() (*template.Template, error) {
	raw, err := p.CurlText()
	if err != nil {
		return nil, err
	}
	var opts []template.ParseOption
	if p.Request.Body != nil {
		opts = append(opts, template.WithBodyOverride(template.Body{Kind: template.BodyJSON, JSON: *p.Request.Body}))
	}
	return template.Parse(raw, opts...)
}

// Query converts the source section into a data-source query.
func (p *Plan) Query() datasource.Query {
	return datasource.Query{
		Kind:       p.Source.Kind,
		URI:        p.Source.URI,
		Database:   p.Source.Database,
		Collection: p.Source.Collection,
		Filter:     p.Source.Filter,
		Records:    p.Source.Records,
		Path:       p.Path(p.Source.Path),
		Root:       p.Source.Root,
		BatchSize:  p.Run.BatchSize,
	}
}
