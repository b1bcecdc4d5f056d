package engine

import (
	"log/slog"

	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/pkg/jsonschema"
)

// Option configures a Run.
type Option func(*Run)

// Observer receives each outcome as soon as it is recorded. Calls are
// serialized but may come from different goroutines.
type Observer func(Outcome)

// Gauge tracks requests in flight. prometheus.Gauge satisfies it.
type Gauge interface {
	Inc()
	Dec()
}

// WithObserver adds an observer. Observers run synchronously, so a slow
// observer slows dispatch.
func WithObserver(fn Observer) Option {
	return func(r *Run) {
		if fn != nil {
			r.observers = append(r.observers, fn)
		}
	}
}

// WithLogger sets the logger for run lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Run) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithResponseSchema validates every non-empty response body. Violations
// are recorded on the outcome and do not change its success.
func WithResponseSchema(s *jsonschema.Schema) Option {
	return func(r *Run) {
		r.schema = s
	}
}

// WithInFlightGauge reports dispatched requests that have not completed.
func WithInFlightGauge(g Gauge) Option {
	return func(r *Run) {
		r.inFlight = g
	}
}

// WithAggregateOptions passes options to every report the run builds.
func WithAggregateOptions(opts ...metrics.AggregateOption) Option {
	return func(r *Run) {
		r.aggOpts = append(r.aggOpts, opts...)
	}
}
