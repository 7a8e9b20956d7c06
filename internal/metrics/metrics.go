// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency. Streaming requests can
// run far longer than API calls, so the upper buckets stretch to minutes.
var defaultBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	ActiveStreams       prometheus.Gauge
	AdmissionRejections prometheus.Counter
	StreamedBytes       prometheus.Counter

	UpstreamHops      *prometheus.CounterVec
	UpstreamResponses *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamgate_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamgate_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamgate_active_proxy_streams",
			Help: "Number of admitted proxy streams currently in flight.",
		}),

		AdmissionRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_admission_rejections_total",
			Help: "Total requests rejected because the concurrency ceiling was reached.",
		}),

		StreamedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_streamed_bytes_total",
			Help: "Total bytes relayed from upstreams to clients.",
		}),

		UpstreamHops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_upstream_hops_total",
			Help: "Total upstream request hops by outcome.",
		}, []string{"outcome"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_upstream_responses_total",
			Help: "Total terminal upstream responses by method and status code.",
		}, []string{"method", "status_code"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.ActiveStreams,
		m.AdmissionRejections,
		m.StreamedBytes,
		m.UpstreamHops,
		m.UpstreamResponses,
	)

	return m
}

// Hop outcome label values for UpstreamHops.
const (
	HopRedirect = "redirect"
	HopResponse = "response"
	HopTimeout  = "timeout"
	HopError    = "error"
)

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/proxy", "/generate-signed-url", "/healthz", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
// Anything outside the known routes (static files included) maps to "other".
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
