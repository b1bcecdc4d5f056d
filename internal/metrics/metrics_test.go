package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcomesWithStatus(codes ...int) []Outcome {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var out []Outcome
	for i, code := range codes {
		out = append(out, Outcome{
			Sequence:   i + 1,
			StatusCode: code,
			Latency:    time.Duration(i+1) * 10 * time.Millisecond,
			Timestamp:  base.Add(time.Duration(i) * 100 * time.Millisecond),
		})
	}
	return out
}

func TestAggregate_StatusCodes(t *testing.T) {
	r := Aggregate(outcomesWithStatus(200, 200, 500, 200))

	assert.Equal(t, 4, r.Total)
	assert.Equal(t, 3, r.Succeeded)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, map[int]int{200: 3, 500: 1}, r.StatusCodes)
	assert.Equal(t, 0.25, r.ErrorRate)
}

func TestAggregate_SuccessBoundaries(t *testing.T) {
	tests := []struct {
		name string
		o    Outcome
		want bool
	}{
		{"2xx", Outcome{StatusCode: 204}, true},
		{"3xx", Outcome{StatusCode: 302}, true},
		{"399 is excluded", Outcome{StatusCode: 399}, false},
		{"1xx", Outcome{StatusCode: 101}, false},
		{"4xx", Outcome{StatusCode: 404}, false},
		{"transport error", Outcome{Error: "connection refused"}, false},
		{"status with read error", Outcome{StatusCode: 200, Error: "read body: unexpected EOF"}, false},
		{"schema error does not fail", Outcome{StatusCode: 200, SchemaError: "missing id"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.o.Succeeded())
		})
	}
}

func TestAggregate_TransportErrorsHaveNoStatus(t *testing.T) {
	outs := outcomesWithStatus(200)
	outs = append(outs, Outcome{Sequence: 2, Error: "dial tcp: refused", Latency: time.Millisecond})

	r := Aggregate(outs)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.TransportErrors)
	assert.Equal(t, map[int]int{200: 1}, r.StatusCodes)
}

func TestAggregate_Latency(t *testing.T) {
	r := Aggregate(outcomesWithStatus(200, 200, 200, 200, 200))

	assert.Equal(t, 10*time.Millisecond, r.Latency.Min)
	assert.Equal(t, 50*time.Millisecond, r.Latency.Max)
	assert.Equal(t, 30*time.Millisecond, r.Latency.Mean)
	assert.EqualValues(t, 5, r.Latency.Count)
	assert.InDelta(t, float64(30*time.Millisecond), float64(r.Latency.P50), float64(100*time.Microsecond))
	assert.InDelta(t, float64(50*time.Millisecond), float64(r.Latency.P95), float64(100*time.Microsecond))
	assert.LessOrEqual(t, r.Latency.P50, r.Latency.P90)
	assert.LessOrEqual(t, r.Latency.P95, r.Latency.P99)

	// 0..400ms of dispatch plus 50ms for the last request.
	assert.Equal(t, 450*time.Millisecond, r.Window)
	assert.InDelta(t, 5/0.45, r.RPS, 0.001)
}

func TestAggregate_Empty(t *testing.T) {
	r := Aggregate(nil)
	assert.Equal(t, 0, r.Total)
	assert.NotNil(t, r.StatusCodes)
	assert.Zero(t, r.Latency)
	assert.Zero(t, r.ErrorRate)
	assert.Nil(t, r.TraceSample)
}

func TestAggregate_Idempotent(t *testing.T) {
	outs := outcomesWithStatus(200, 404, 200, 503, 201)
	outs[1].TraceID = "abc"
	outs[3].Error = "timeout"

	first := Aggregate(outs)
	second := Aggregate(outs)
	assert.Equal(t, first, second)
}

func TestAggregate_OrderIndependent(t *testing.T) {
	outs := outcomesWithStatus(200, 500, 200, 201)
	for i := range outs {
		outs[i].TraceID = string(rune('a' + i))
	}
	reversed := make([]Outcome, len(outs))
	for i, o := range outs {
		reversed[len(outs)-1-i] = o
	}

	assert.Equal(t, Aggregate(outs), Aggregate(reversed))
}

func TestAggregate_TraceSample(t *testing.T) {
	var outs []Outcome
	for i := 1; i <= 15; i++ {
		o := Outcome{Sequence: i, StatusCode: 200}
		if i%2 == 0 {
			o.TraceID = "t"
			o.SessionID = "s"
		}
		outs = append(outs, o)
	}

	r := Aggregate(outs)
	require.Len(t, r.TraceSample, 7)
	assert.Equal(t, 2, r.TraceSample[0].Sequence)
	assert.Equal(t, "s", r.TraceSample[0].SessionID)

	r = Aggregate(outs, WithTraceSampleSize(3))
	require.Len(t, r.TraceSample, 3)
	assert.Equal(t, []int{2, 4, 6}, []int{r.TraceSample[0].Sequence, r.TraceSample[1].Sequence, r.TraceSample[2].Sequence})

	r = Aggregate(outs, WithTraceSampleSize(0))
	assert.Nil(t, r.TraceSample)
}

func TestEvaluateThresholds(t *testing.T) {
	r := Aggregate(outcomesWithStatus(200, 200, 500, 200))
	r.SchemaViolations = 1

	results := EvaluateThresholds(r, Thresholds{
		HTTPReqDuration:  []string{"p95 < 1s", "max<=10ms", "avg < 100ms"},
		HTTPReqFailed:    []string{"rate < 0.5", "rate < 0.1"},
		HTTPReqs:         []string{"count >= 4", "count > 10"},
		SchemaViolations: []string{"count == 0"},
	})
	require.Len(t, results, 8)

	passed := map[string]bool{}
	for _, res := range results {
		passed[res.Metric+" "+res.Expression] = res.Passed
	}
	assert.Equal(t, map[string]bool{
		"http_req_duration p95 < 1s":    true,
		"http_req_duration max<=10ms":   false,
		"http_req_duration avg < 100ms": true,
		"http_req_failed rate < 0.5":    true,
		"http_req_failed rate < 0.1":    false,
		"http_reqs count >= 4":          true,
		"http_reqs count > 10":          false,
		"schema_violations count == 0":  false,
	}, passed)
	assert.False(t, AllPassed(results))
	assert.Equal(t, "0.2500", results[4].Value)
	assert.Contains(t, results[4].Message, "error rate is 0.2500")
}

func TestEvaluateThresholds_BadExpressions(t *testing.T) {
	r := Aggregate(outcomesWithStatus(200))
	results := EvaluateThresholds(r, Thresholds{
		HTTPReqDuration: []string{"p42 < 1s", "p95 < soon", "nonsense"},
		HTTPReqFailed:   []string{"count < 1"},
	})
	require.Len(t, results, 4)
	for _, res := range results {
		assert.False(t, res.Passed, res.Expression)
		assert.NotEmpty(t, res.Message, res.Expression)
	}
	assert.True(t, AllPassed(nil))
}

func TestValidateExpression(t *testing.T) {
	tests := []struct {
		metric, expr string
		wantErr      bool
	}{
		{"http_req_duration", "p95 < 500ms", false},
		{"http_req_duration", "avg<=1s", false},
		{"http_req_duration", "p95 < 500", true},
		{"http_req_duration", "p42 < 1s", true},
		{"http_req_failed", "rate < 0.01", false},
		{"http_req_failed", "count < 1", true},
		{"http_reqs", "count >= 100", false},
		{"http_reqs", "count => 100", true},
		{"schema_violations", "count == 0", false},
		{"latency", "p95 < 1s", true},
		{"http_reqs", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.metric+" "+tt.expr, func(t *testing.T) {
			err := ValidateExpression(tt.metric, tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCollector(t *testing.T) {
	c := NewCollector()
	c.Observe(Outcome{StatusCode: 200, Latency: 20 * time.Millisecond})
	c.Observe(Outcome{StatusCode: 200, Latency: 30 * time.Millisecond})
	c.Observe(Outcome{StatusCode: 500, Latency: 10 * time.Millisecond, SchemaError: "bad"})
	c.Observe(Outcome{Error: "refused"})
	c.InFlight().Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.schema))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.InFlight()))

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "volley_request_duration_seconds")
	assert.Contains(t, names, "go_goroutines")
}
