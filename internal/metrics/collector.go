package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector exports live run counters to Prometheus. Each collector owns
// its registry so tests and parallel servers do not collide.
type Collector struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration prometheus.Histogram
	inFlight prometheus.Gauge
	schema   prometheus.Counter
}

// NewCollector registers the volley metrics plus Go runtime and process
// collectors on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "volley_requests_total",
			Help: "Executed requests by response status code, or \"error\" for transport failures.",
		}, []string{"code"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "volley_request_duration_seconds",
			Help:    "Request latency as measured by the engine.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "volley_requests_in_flight",
			Help: "Requests dispatched and not yet completed.",
		}),
		schema: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "volley_schema_violations_total",
			Help: "Responses whose body failed schema validation.",
		}),
	}
	c.registry.MustRegister(
		c.requests, c.duration, c.inFlight, c.schema,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry to expose, e.g. with promhttp.HandlerFor.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// InFlight returns the gauge tracking dispatched requests.
func (c *Collector) InFlight() prometheus.Gauge {
	return c.inFlight
}

// Observe records one outcome.
func (c *Collector) Observe(o Outcome) {
	code := "error"
	if o.Error == "" && o.StatusCode != 0 {
		code = strconv.Itoa(o.StatusCode)
	}
	c.requests.WithLabelValues(code).Inc()
	c.duration.Observe(o.Latency.Seconds())
	if o.SchemaError != "" {
		c.schema.Inc()
	}
}
