// Package metrics reduces execution outcomes into reports, judges them
// against thresholds, and exports live counters to Prometheus.
package metrics

import "time"

// Outcome is the recorded result of executing one bound request. It is
// never modified after it has been recorded.
type Outcome struct {
	// Sequence is the 1-based dispatch order within the run.
	Sequence int `json:"sequence"`
	// Page is the 1-based data-source page the record came from.
	Page int `json:"page"`

	Method string `json:"method"`
	URL    string `json:"url"`

	// StatusCode is zero when no response was received.
	StatusCode int           `json:"statusCode,omitempty"`
	Latency    time.Duration `json:"latency"`
	LatencyMs  float64       `json:"latencyMs"`
	Bytes      int64         `json:"bytes,omitempty"`

	// Error holds the transport failure, if any.
	Error string `json:"error,omitempty"`

	TraceID   string `json:"traceId,omitempty"`
	SpanID    string `json:"spanId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`

	// SchemaError is set when the response body failed schema validation.
	// It does not affect Succeeded.
	SchemaError string `json:"schemaError,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Succeeded reports a status in [200,399) with no transport error.
func (o Outcome) Succeeded() bool {
	return o.Error == "" && o.StatusCode >= 200 && o.StatusCode < 399
}

// HasTrace reports whether any trace identifier was extracted.
func (o Outcome) HasTrace() bool {
	return o.TraceID != "" || o.SpanID != "" || o.SessionID != ""
}
