package metrics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Thresholds defines pass/fail criteria for a run.
type Thresholds struct {
	// HTTPReqDuration thresholds for request latency
	// e.g., ["p95 < 500ms", "avg < 200ms"]
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`

	// HTTPReqFailed thresholds for the failure rate
	// e.g., ["rate < 0.01"]
	HTTPReqFailed []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`

	// HTTPReqs thresholds for request count or throughput
	// e.g., ["count >= 100", "rate > 50"]
	HTTPReqs []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`

	// SchemaViolations thresholds for responses failing schema validation
	// e.g., ["count == 0"]
	SchemaViolations []string `json:"schema_violations,omitempty" yaml:"schema_violations,omitempty"`
}

// IsEmpty reports whether no threshold is configured.
func (t Thresholds) IsEmpty() bool {
	return len(t.HTTPReqDuration)+len(t.HTTPReqFailed)+len(t.HTTPReqs)+len(t.SchemaViolations) == 0
}

// ThresholdResult is the judgment of one threshold expression.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// AllPassed reports whether every threshold passed.
func AllPassed(results []ThresholdResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// EvaluateThresholds judges a report against thresholds. Expressions that
// fail to parse are reported as failed results.
func EvaluateThresholds(r Report, t Thresholds) []ThresholdResult {
	var results []ThresholdResult
	for _, expr := range t.HTTPReqDuration {
		results = append(results, evaluateDuration(expr, r))
	}
	for _, expr := range t.HTTPReqFailed {
		results = append(results, evaluateFailed(expr, r))
	}
	for _, expr := range t.HTTPReqs {
		results = append(results, evaluateRequests(expr, r))
	}
	for _, expr := range t.SchemaViolations {
		results = append(results, evaluateSchema(expr, r))
	}
	return results
}

// ValidateExpression checks that a threshold expression is well formed
// for the named metric.
func ValidateExpression(metric, expr string) error {
	name, op, value, err := parseThresholdExpression(expr)
	if err != nil {
		return err
	}
	if !validOperator(op) {
		return fmt.Errorf("unknown operator %q", op)
	}
	switch metric {
	case "http_req_duration":
		if _, ok := latencyStat(LatencyStats{}, name); !ok {
			return fmt.Errorf("unknown metric: %s", name)
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration %q", value)
		}
		return nil
	case "http_req_failed":
		if name != "rate" {
			return fmt.Errorf("http_req_failed only supports 'rate' metric, got: %s", name)
		}
	case "http_reqs":
		if name != "count" && name != "rate" {
			return fmt.Errorf("http_reqs only supports 'count' or 'rate' metrics, got: %s", name)
		}
	case "schema_violations":
		if name != "count" && name != "rate" {
			return fmt.Errorf("schema_violations only supports 'count' or 'rate' metrics, got: %s", name)
		}
	default:
		return fmt.Errorf("unknown threshold metric %q", metric)
	}
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		return fmt.Errorf("invalid number %q", value)
	}
	return nil
}

func evaluateDuration(expr string, r Report) ThresholdResult {
	result := ThresholdResult{Metric: "http_req_duration", Expression: expr}

	name, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}
	actual, ok := latencyStat(r.Latency, name)
	if !ok {
		result.Message = fmt.Sprintf("unknown metric: %s", name)
		return result
	}
	threshold, err := time.ParseDuration(valueStr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	result.Value = actual.String()
	result.Passed = compareValues(float64(actual), op, float64(threshold))
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %s", name, actual, op, threshold)
	}
	return result
}

func evaluateFailed(expr string, r Report) ThresholdResult {
	result := ThresholdResult{Metric: "http_req_failed", Expression: expr}

	name, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}
	if name != "rate" {
		result.Message = fmt.Sprintf("http_req_failed only supports 'rate' metric, got: %s", name)
		return result
	}
	threshold, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	result.Value = fmt.Sprintf("%.4f", r.ErrorRate)
	result.Passed = compareValues(r.ErrorRate, op, threshold)
	if !result.Passed {
		result.Message = fmt.Sprintf("error rate is %.4f, threshold: %s %.4f", r.ErrorRate, op, threshold)
	}
	return result
}

func evaluateRequests(expr string, r Report) ThresholdResult {
	return evaluateCounter("http_reqs", expr, float64(r.Total), r.RPS)
}

func evaluateSchema(expr string, r Report) ThresholdResult {
	rate := 0.0
	if r.Total > 0 {
		rate = float64(r.SchemaViolations) / float64(r.Total)
	}
	return evaluateCounter("schema_violations", expr, float64(r.SchemaViolations), rate)
}

func evaluateCounter(metric, expr string, count, rate float64) ThresholdResult {
	result := ThresholdResult{Metric: metric, Expression: expr}

	name, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}
	threshold, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	var actual float64
	switch name {
	case "count":
		actual = count
	case "rate":
		actual = rate
	default:
		result.Message = fmt.Sprintf("%s only supports 'count' or 'rate' metrics, got: %s", metric, name)
		return result
	}

	result.Value = fmt.Sprintf("%.2f", actual)
	result.Passed = compareValues(actual, op, threshold)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %.2f, threshold: %s %.2f", name, actual, op, threshold)
	}
	return result
}

func latencyStat(l LatencyStats, name string) (time.Duration, bool) {
	switch name {
	case "min":
		return l.Min, true
	case "max":
		return l.Max, true
	case "avg", "mean":
		return l.Mean, true
	case "med", "p50":
		return l.P50, true
	case "p90":
		return l.P90, true
	case "p95":
		return l.P95, true
	case "p99":
		return l.P99, true
	}
	return 0, false
}

var thresholdRe = regexp.MustCompile(`^(\w+)\s*([<>=!]+)\s*(.+)$`)

// parseThresholdExpression parses an expression like "p95 < 500ms".
func parseThresholdExpression(expr string) (metric, op, value string, err error) {
	matches := thresholdRe.FindStringSubmatch(strings.TrimSpace(expr))
	if len(matches) != 4 {
		return "", "", "", fmt.Errorf("invalid expression format: %s", expr)
	}
	return matches[1], matches[2], strings.TrimSpace(matches[3]), nil
}

func validOperator(op string) bool {
	switch op {
	case "<", "<=", ">", ">=", "==", "=", "!=", "<>":
		return true
	}
	return false
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==", "=":
		return actual == threshold
	case "!=", "<>":
		return actual != threshold
	default:
		return false
	}
}
