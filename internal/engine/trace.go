package engine

import (
	"net/http"
	"strings"
)

// TraceIDs holds distributed-tracing identifiers found in response headers.
type TraceIDs struct {
	TraceID   string
	SpanID    string
	SessionID string
}

// Header names after lowercasing and dropping '-' and '_', in priority order.
var (
	traceHeaders = []string{
		"traceid", "xtraceid", "xb3traceid", "xrequesttraceid",
		"xdatadogtraceid",
	}
	spanHeaders = []string{
		"spanid", "xspanid", "xb3spanid", "xdatadogparentid",
	}
	sessionHeaders = []string{
		"sessionid", "xsessionid", "session",
	}

	headerNorm = strings.NewReplacer("-", "", "_", "")
)

// ExtractTraceIDs scans headers case-insensitively for trace, span and
// session identifiers. Plain headers win over composite ones such as
// traceparent, b3, uber-trace-id, x-amzn-trace-id and
// x-cloud-trace-context.
func ExtractTraceIDs(h http.Header) TraceIDs {
	if len(h) == 0 {
		return TraceIDs{}
	}
	norm := make(map[string]string, len(h))
	for name, vals := range h {
		if len(vals) == 0 || strings.TrimSpace(vals[0]) == "" {
			continue
		}
		key := headerNorm.Replace(strings.ToLower(name))
		if _, dup := norm[key]; !dup {
			norm[key] = strings.TrimSpace(vals[0])
		}
	}

	var ids TraceIDs
	ids.TraceID = first(norm, traceHeaders)
	ids.SpanID = first(norm, spanHeaders)
	ids.SessionID = first(norm, sessionHeaders)

	if ids.TraceID == "" || ids.SpanID == "" {
		trace, span := composite(norm)
		if ids.TraceID == "" {
			ids.TraceID = trace
		}
		if ids.SpanID == "" {
			ids.SpanID = span
		}
	}
	return ids
}

func first(norm map[string]string, names []string) string {
	for _, n := range names {
		if v, ok := norm[n]; ok {
			return v
		}
	}
	return ""
}

func composite(norm map[string]string) (trace, span string) {
	// W3C: version-traceid-parentid-flags
	if v, ok := norm["traceparent"]; ok {
		if parts := strings.Split(v, "-"); len(parts) >= 3 {
			return parts[1], parts[2]
		}
	}
	// B3 single header: traceid-spanid[-sampled[-parent]]
	if v, ok := norm["b3"]; ok {
		if parts := strings.Split(v, "-"); len(parts) >= 2 {
			return parts[0], parts[1]
		}
	}
	// Jaeger: traceid:spanid:parentid:flags
	if v, ok := norm["ubertraceid"]; ok {
		if parts := strings.Split(v, ":"); len(parts) >= 2 {
			return parts[0], parts[1]
		}
	}
	// AWS X-Ray: Root=...;Parent=...;Sampled=1
	if v, ok := norm["xamzntraceid"]; ok {
		for _, kv := range strings.Split(v, ";") {
			k, val, _ := strings.Cut(strings.TrimSpace(kv), "=")
			switch strings.ToLower(k) {
			case "root":
				trace = val
			case "parent":
				span = val
			}
		}
		if trace != "" {
			return trace, span
		}
	}
	// Google Cloud: TRACE_ID/SPAN_ID;o=1
	if v, ok := norm["xcloudtracecontext"]; ok {
		v, _, _ = strings.Cut(v, ";")
		trace, span, _ = strings.Cut(v, "/")
		return trace, span
	}
	return "", ""
}
