// Package runner turns a loaded plan into a ready engine run: it opens the
// data source, builds the HTTP client and wires metrics and schema checks.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wesleyorama2/volley/internal/catalog"
	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/datasource"
	"github.com/wesleyorama2/volley/internal/engine"
	vhttp "github.com/wesleyorama2/volley/internal/http"
	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/output"
	"github.com/wesleyorama2/volley/internal/template"
	"github.com/wesleyorama2/volley/pkg/jsonschema"
)

// Options tune Prepare.
type Options struct {
	Logger    *slog.Logger
	Collector *metrics.Collector
	// Client overrides the HTTP client built from the plan.
	Client engine.Executor
	// Extra engine options, applied last.
	EngineOptions []engine.Option
}

// Prepared is a run ready to execute, with the resources it owns.
type Prepared struct {
	Plan     *config.Plan
	Template *template.Template
	Source   datasource.Source
	Run      *engine.Run

	StartedAt time.Time
}

// Prepare builds a run from a validated plan. The caller must Close the
// result.
func Prepare(ctx context.Context, plan *config.Plan, opts Options) (*Prepared, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tmpl, err := plan.Template()
	if err != nil {
		return nil, err
	}

	var engineOpts []engine.Option
	engineOpts = append(engineOpts, engine.WithLogger(logger))
	if plan.Request.ResponseSchema != "" {
		schema, err := jsonschema.CompileFile(plan.Path(plan.Request.ResponseSchema))
		if err != nil {
			return nil, fmt.Errorf("response schema: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithResponseSchema(schema))
	}
	if opts.Collector != nil {
		engineOpts = append(engineOpts,
			engine.WithObserver(opts.Collector.Observe),
			engine.WithInFlightGauge(opts.Collector.InFlight()),
		)
	}
	engineOpts = append(engineOpts, opts.EngineOptions...)

	client := opts.Client
	if client == nil {
		client = NewClient(plan, tmpl)
	}

	src, err := datasource.Open(ctx, plan.Query())
	if err != nil {
		return nil, err
	}

	run, err := engine.NewRun(client, engine.Plan{
		Template: tmpl,
		Bindings: plan.Bindings,
		Source:   src,
		Config:   plan.Run,
	}, engineOpts...)
	if err != nil {
		_ = src.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	return &Prepared{Plan: plan, Template: tmpl, Source: src, Run: run}, nil
}

// NewClient builds the HTTP client described by the plan's http section.
func NewClient(plan *config.Plan, tmpl *template.Template) *vhttp.Client {
	clientOpts := []vhttp.ClientOption{
		vhttp.WithTimeout(plan.HTTP.Timeout.GetDuration(config.DefaultTimeout)),
		vhttp.WithInsecureSkipVerify(plan.HTTP.Insecure || tmpl.Insecure),
		vhttp.WithMaxBodyBytes(plan.HTTP.MaxBodyBytes),
	}
	if plan.HTTP.UserAgent != "" {
		clientOpts = append(clientOpts, vhttp.WithHeader("User-Agent", plan.HTTP.UserAgent))
	}
	for k, v := range plan.HTTP.Headers {
		clientOpts = append(clientOpts, vhttp.WithHeader(k, v))
	}
	return vhttp.NewClient(clientOpts...)
}

// Execute runs to completion and closes the data source.
func (p *Prepared) Execute(ctx context.Context) (*engine.Result, error) {
	p.StartedAt = time.Now()
	defer p.Close(ctx)
	return p.Run.Execute(ctx)
}

// Close releases the data source. It is safe to call more than once.
func (p *Prepared) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), engine.CloseTimeout)
	defer cancel()
	return p.Source.Close(ctx)
}

// Document evaluates the plan's thresholds against res and builds the
// exported document.
func (p *Prepared) Document(res *engine.Result, withOutcomes bool) *output.Document {
	var results []metrics.ThresholdResult
	if !p.Plan.Thresholds.IsEmpty() {
		results = metrics.EvaluateThresholds(res.Report, p.Plan.Thresholds)
	}
	name := p.Plan.Name
	if name == "" {
		name = "run"
	}
	return output.NewDocument(name, p.StartedAt, res, results, withOutcomes)
}

// Probe reads one record from the plan's source and catalogs it.
func Probe(ctx context.Context, plan *config.Plan) (catalog.Catalog, error) {
	src, err := datasource.Open(ctx, plan.Query())
	if err != nil {
		return nil, err
	}
	defer src.Close(context.WithoutCancel(ctx))

	rec, err := src.Probe(ctx)
	if err != nil {
		if errors.Is(err, datasource.ErrNoRecords) {
			return catalog.Catalog{}, nil
		}
		return nil, err
	}
	return catalog.Build(rec), nil
}
