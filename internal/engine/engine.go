// Package engine drives a bound request template over the records of a
// data source and records one outcome per executed request.
//
// A run fetches one page at a time and never prefetches: the next page is
// requested only after every request of the current page has completed. In
// sequential mode requests run one after another; in concurrent mode a
// page's requests run together, so at most BatchSize are ever in flight.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/volley/internal/binding"
	"github.com/wesleyorama2/volley/internal/datasource"
	vhttp "github.com/wesleyorama2/volley/internal/http"
	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/rate"
	"github.com/wesleyorama2/volley/internal/record"
	"github.com/wesleyorama2/volley/internal/template"
	"github.com/wesleyorama2/volley/pkg/jsonschema"
)

// Outcome is the recorded result of one request.
type Outcome = metrics.Outcome

// ErrAlreadyStarted is returned when Execute is called twice on a run.
var ErrAlreadyStarted = errors.New("run already started")

// CloseTimeout bounds releasing the data-source cursor after a run.
var CloseTimeout = 10 * time.Second

// Executor performs one HTTP request. *http.Client from internal/http
// satisfies it.
type Executor interface {
	Execute(ctx context.Context, req template.BoundRequest) (*vhttp.Response, error)
}

// Mode is the scheduling discipline of a run.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeConcurrent Mode = "concurrent"
)

// RunConfig governs paging and scheduling. It is fixed for one run.
type RunConfig struct {
	TotalRequests int  `json:"totalRequests" yaml:"totalRequests"`
	Mode          Mode `json:"mode" yaml:"mode"`
	BatchSize     int  `json:"batchSize" yaml:"batchSize"`

	// Rate caps dispatches per second across the run. Zero is unlimited.
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`
}

// Validate checks the run configuration.
func (c RunConfig) Validate() error {
	var errs []error
	if c.TotalRequests < 1 {
		errs = append(errs, fmt.Errorf("totalRequests must be at least 1, got %d", c.TotalRequests))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batchSize must be at least 1, got %d", c.BatchSize))
	}
	if c.Rate < 0 {
		errs = append(errs, fmt.Errorf("rate cannot be negative, got %g", c.Rate))
	}
	if c.Mode != ModeSequential && c.Mode != ModeConcurrent {
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeSequential, ModeConcurrent, c.Mode))
	}
	return errors.Join(errs...)
}

// Plan is everything a run needs besides the HTTP client.
type Plan struct {
	Template *template.Template
	Bindings binding.Bindings
	Source   datasource.Source
	Config   RunConfig
}

// Result is the final account of a run.
type Result struct {
	Outcomes []Outcome     `json:"outcomes"`
	Report   metrics.Report `json:"report"`
	State    State          `json:"state"`
	// Exhausted reports that the data ran out before TotalRequests.
	Exhausted bool `json:"exhausted"`
	// Complete is false when the run was cancelled or failed.
	Complete bool          `json:"complete"`
	Pages    int           `json:"pages"`
	Duration time.Duration `json:"duration"`
	// Err is the data-source failure that ended a fatal run.
	Err error `json:"-"`
}

// Run executes one plan once.
type Run struct {
	client   Executor
	resolver *binding.Resolver
	source   datasource.Source
	config   RunConfig

	observers []Observer
	logger    *slog.Logger
	schema    *jsonschema.Schema
	inFlight  Gauge
	limiter   *rate.Limiter
	aggOpts   []metrics.AggregateOption

	state   atomic.Int32
	started atomic.Bool

	// stopMu guards cancel and stopped.
	stopMu  sync.Mutex
	cancel  context.CancelFunc
	stopped bool

	mu       sync.Mutex
	outcomes []Outcome

	observeMu sync.Mutex
}

// NewRun compiles the plan's bindings and validates its configuration.
func NewRun(client Executor, plan Plan, opts ...Option) (*Run, error) {
	if client == nil {
		return nil, errors.New("executor is required")
	}
	if plan.Template == nil {
		return nil, errors.New("template is required")
	}
	if plan.Source == nil {
		return nil, errors.New("data source is required")
	}
	if err := plan.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	resolver, err := binding.Compile(plan.Template, plan.Bindings)
	if err != nil {
		return nil, err
	}

	r := &Run{
		client:   client,
		resolver: resolver,
		source:   plan.Source,
		config:   plan.Config,
		logger:   slog.Default(),
	}
	if plan.Config.Rate > 0 {
		r.limiter = rate.NewLimiter(plan.Config.Rate, 1)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the run configuration.
func (r *Run) Config() RunConfig {
	return r.config
}

// State returns the current state.
func (r *Run) State() State {
	return State(r.state.Load())
}

func (r *Run) setState(s State) {
	if old := State(r.state.Swap(int32(s))); old != s {
		r.logger.Debug("run state changed", "from", old, "to", s)
	}
}

// Stop asks the run to end. Requests already in flight complete; nothing
// new is fetched or dispatched. Stop may be called before Execute and more
// than once.
func (r *Run) Stop() {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	r.stopped = true
	if r.cancel != nil {
		r.cancel()
	}
}

// Outcomes returns a copy of the outcomes recorded so far.
func (r *Run) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Snapshot aggregates the outcomes recorded so far.
func (r *Run) Snapshot() metrics.Report {
	return metrics.Aggregate(r.Outcomes(), r.aggOpts...)
}

// Execute runs the plan to completion, cancellation or failure. A run that
// completes or is cancelled returns a nil error even if every request
// failed. A data-source failure ends the run in StateFatal and returns the
// partial result together with the error.
func (r *Run) Execute(ctx context.Context) (*Result, error) {
	if !r.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.stopMu.Lock()
	r.cancel = cancel
	if r.stopped {
		cancel()
	}
	r.stopMu.Unlock()

	start := time.Now()
	r.logger.Info("run started",
		"totalRequests", r.config.TotalRequests,
		"mode", r.config.Mode,
		"batchSize", r.config.BatchSize)

	final, pages, exhausted, runErr := r.drive(ctx)
	r.setState(final)

	res := &Result{
		Outcomes:  r.Outcomes(),
		State:     final,
		Exhausted: exhausted,
		Complete:  final == StateCompleted,
		Pages:     pages,
		Duration:  time.Since(start),
		Err:       runErr,
	}
	res.Report = metrics.Aggregate(res.Outcomes, r.aggOpts...)

	attrs := []any{
		"state", final,
		"outcomes", len(res.Outcomes),
		"pages", pages,
		"exhausted", exhausted,
		"duration", res.Duration,
	}
	if r.limiter != nil {
		attrs = append(attrs, "paced", r.limiter.Stats().Waited)
	}
	if runErr != nil {
		r.logger.Error("run failed", append(attrs, "error", runErr)...)
		return res, runErr
	}
	r.logger.Info("run finished", attrs...)
	return res, nil
}

// drive is the fetch/dispatch loop. It always closes the cursor it opens.
func (r *Run) drive(ctx context.Context) (final State, pages int, exhausted bool, err error) {
	if ctx.Err() != nil {
		return StateCancelled, 0, false, nil
	}

	r.setState(StateFetching)
	cur, err := r.source.Open(ctx)
	if err != nil {
		if ctx.Err() != nil && !datasource.IsFatal(err) {
			return StateCancelled, 0, false, nil
		}
		return StateFatal, 0, false, fmt.Errorf("open data source: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CloseTimeout)
		defer cancel()
		if cerr := cur.Close(closeCtx); cerr != nil {
			r.logger.Warn("failed to close cursor", "error", cerr)
		}
	}()

	remaining := r.config.TotalRequests
	seq := 0
	for remaining > 0 {
		if ctx.Err() != nil {
			return StateCancelled, pages, false, nil
		}

		r.setState(StateFetching)
		size := min(r.config.BatchSize, remaining)
		records, more, err := cur.NextPage(ctx, size)
		if err != nil {
			if ctx.Err() != nil && !datasource.IsFatal(err) {
				return StateCancelled, pages, false, nil
			}
			return StateFatal, pages, false, fmt.Errorf("fetch page %d: %w", pages+1, err)
		}
		if len(records) > size {
			records = records[:size]
		}
		if len(records) == 0 {
			return StateCompleted, pages, true, nil
		}
		pages++
		last := !more || len(records) == remaining
		r.logger.Debug("page fetched", "page", pages, "records", len(records), "more", more)

		r.setState(StateDispatching)
		var n int
		if r.config.Mode == ModeConcurrent {
			n = r.dispatchConcurrent(ctx, pages, seq, records, last)
		} else {
			n = r.dispatchSequential(ctx, pages, seq, records)
		}
		seq += n
		remaining -= n

		if n < len(records) {
			return StateCancelled, pages, false, nil
		}
		if !more {
			return StateCompleted, pages, remaining > 0, nil
		}
	}
	return StateCompleted, pages, false, nil
}

func (r *Run) dispatchSequential(ctx context.Context, page, seq int, records []record.Value) int {
	for i, rec := range records {
		if !r.pace(ctx) {
			return i
		}
		r.execute(context.WithoutCancel(ctx), page, seq+i+1, rec)
	}
	return len(records)
}

func (r *Run) dispatchConcurrent(ctx context.Context, page, seq int, records []record.Value, last bool) int {
	var g errgroup.Group
	g.SetLimit(r.config.BatchSize)

	// In-flight requests finish even after a stop.
	reqCtx := context.WithoutCancel(ctx)
	n := 0
	for i, rec := range records {
		if !r.pace(ctx) {
			break
		}
		sequence := seq + i + 1
		g.Go(func() error {
			r.execute(reqCtx, page, sequence, rec)
			return nil
		})
		n++
	}
	if last || n < len(records) {
		r.setState(StateDraining)
	}
	_ = g.Wait()
	return n
}

// pace waits for the next dispatch slot. It reports false once ctx is done.
func (r *Run) pace(ctx context.Context) bool {
	if r.limiter == nil {
		return ctx.Err() == nil
	}
	return r.limiter.Wait(ctx) == nil
}

// execute sends one request and records its outcome.
func (r *Run) execute(ctx context.Context, page, seq int, rec record.Value) {
	req := r.resolver.Resolve(rec)

	if r.inFlight != nil {
		r.inFlight.Inc()
		defer r.inFlight.Dec()
	}

	start := time.Now()
	resp, err := r.client.Execute(ctx, req)
	o := Outcome{
		Sequence:  seq,
		Page:      page,
		Method:    req.Method,
		URL:       req.URL,
		Timestamp: start,
	}
	if err != nil {
		o.Error = err.Error()
		o.Latency = time.Since(start)
	} else {
		o.StatusCode = resp.StatusCode
		o.Bytes = int64(len(resp.Body))
		o.Latency = resp.Latency()
		if o.Latency <= 0 {
			o.Latency = time.Since(start)
		}
		if resp.ReadError != "" {
			o.Error = "read body: " + resp.ReadError
		}
		ids := ExtractTraceIDs(resp.Headers)
		o.TraceID, o.SpanID, o.SessionID = ids.TraceID, ids.SpanID, ids.SessionID
		if r.schema != nil && len(resp.Body) > 0 {
			if verrs := r.schema.Validate(resp.Body); len(verrs) > 0 {
				o.SchemaError = verrs.Error()
			}
		}
	}
	o.LatencyMs = float64(o.Latency.Microseconds()) / 1000

	r.record(o)
}

func (r *Run) record(o Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()

	if len(r.observers) == 0 {
		return
	}
	r.observeMu.Lock()
	defer r.observeMu.Unlock()
	for _, fn := range r.observers {
		fn(o)
	}
}
