package metrics

import (
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// DefaultTraceSampleSize is the number of traced outcomes kept in a report.
const DefaultTraceSampleSize = 10

// Histogram bounds in microseconds: 1us to 1 hour, 3 significant figures.
const (
	histogramMin     int64 = 1
	histogramMax     int64 = 3600000000
	histogramSigFigs       = 3
)

// Report summarizes a sequence of outcomes.
type Report struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// StatusCodes counts responses by status. Outcomes without a response
	// are not counted here; see TransportErrors.
	StatusCodes map[int]int `json:"statusCodeHistogram"`

	Latency LatencyStats `json:"latency"`

	TraceSample []TraceRef `json:"traceSample,omitempty"`

	TransportErrors  int     `json:"transportErrors"`
	SchemaViolations int     `json:"schemaViolations"`
	ErrorRate        float64 `json:"errorRate"`
	TotalBytes       int64   `json:"totalBytes"`

	// Window spans the first dispatch to the last completion.
	Window time.Duration `json:"window"`
	RPS    float64       `json:"rps"`
}

// LatencyStats contains latency statistics. Min, Max and Mean are exact;
// percentiles come from an HDR histogram.
type LatencyStats struct {
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P90   time.Duration `json:"p90"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Count int64         `json:"count"`
}

// TraceRef identifies one traced outcome.
type TraceRef struct {
	Sequence   int    `json:"sequence"`
	StatusCode int    `json:"statusCode,omitempty"`
	TraceID    string `json:"traceId,omitempty"`
	SpanID     string `json:"spanId,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
}

// AggregateOption tunes Aggregate.
type AggregateOption func(*aggregateConfig)

type aggregateConfig struct {
	traceSample int
}

// WithTraceSampleSize caps the trace sample. Zero disables it.
func WithTraceSampleSize(k int) AggregateOption {
	return func(c *aggregateConfig) {
		if k >= 0 {
			c.traceSample = k
		}
	}
}

// Aggregate computes a report from outcomes. It has no side effects and
// does not depend on the order outcomes arrived in: the trace sample is
// drawn in sequence order.
func Aggregate(outcomes []Outcome, opts ...AggregateOption) Report {
	cfg := aggregateConfig{traceSample: DefaultTraceSampleSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := Report{
		Total:       len(outcomes),
		StatusCodes: make(map[int]int),
	}
	if len(outcomes) == 0 {
		return r
	}

	hist := hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs)
	var (
		sum         time.Duration
		first, last time.Time
	)
	r.Latency.Min = outcomes[0].Latency

	for i, o := range outcomes {
		if o.Succeeded() {
			r.Succeeded++
		} else {
			r.Failed++
		}
		if o.StatusCode != 0 {
			r.StatusCodes[o.StatusCode]++
		}
		if o.Error != "" {
			r.TransportErrors++
		}
		if o.SchemaError != "" {
			r.SchemaViolations++
		}
		r.TotalBytes += o.Bytes

		if o.Latency < r.Latency.Min {
			r.Latency.Min = o.Latency
		}
		if o.Latency > r.Latency.Max {
			r.Latency.Max = o.Latency
		}
		sum += o.Latency
		hist.RecordValue(clampMicros(o.Latency))

		end := o.Timestamp.Add(o.Latency)
		if i == 0 || o.Timestamp.Before(first) {
			first = o.Timestamp
		}
		if i == 0 || end.After(last) {
			last = end
		}
	}

	r.Latency.Count = int64(len(outcomes))
	r.Latency.Mean = sum / time.Duration(len(outcomes))
	r.Latency.P50 = quantile(hist, 50)
	r.Latency.P90 = quantile(hist, 90)
	r.Latency.P95 = quantile(hist, 95)
	r.Latency.P99 = quantile(hist, 99)

	r.ErrorRate = float64(r.Failed) / float64(r.Total)
	if !first.IsZero() {
		r.Window = last.Sub(first)
		if r.Window > 0 {
			r.RPS = float64(r.Total) / r.Window.Seconds()
		}
	}

	r.TraceSample = traceSample(outcomes, cfg.traceSample)
	return r
}

func clampMicros(d time.Duration) int64 {
	us := d.Microseconds()
	if us < histogramMin {
		return histogramMin
	}
	if us > histogramMax {
		return histogramMax
	}
	return us
}

func quantile(h *hdrhistogram.Histogram, q float64) time.Duration {
	return time.Duration(h.ValueAtQuantile(q)) * time.Microsecond
}

func traceSample(outcomes []Outcome, k int) []TraceRef {
	if k == 0 {
		return nil
	}
	var traced []Outcome
	for _, o := range outcomes {
		if o.HasTrace() {
			traced = append(traced, o)
		}
	}
	sort.SliceStable(traced, func(i, j int) bool { return traced[i].Sequence < traced[j].Sequence })
	if len(traced) > k {
		traced = traced[:k]
	}

	var refs []TraceRef
	for _, o := range traced {
		refs = append(refs, TraceRef{
			Sequence:   o.Sequence,
			StatusCode: o.StatusCode,
			TraceID:    o.TraceID,
			SpanID:     o.SpanID,
			SessionID:  o.SessionID,
		})
	}
	return refs
}
