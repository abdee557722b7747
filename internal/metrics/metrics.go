// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the gateway metric set. Metrics register here instead of
// the client library's global default so the scrape surface contains exactly
// what the gateway exports and tests can gather it directly.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

var (
	// RequestsTotal counts inbound SIP requests by method.
	RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sipgw_sip_requests_total",
			Help: "Total number of inbound SIP requests",
		},
		[]string{"method"},
	)

	// TranslationsTotal counts translation outcomes per direction.
	// Outcome is "ok" or the error kind (unmapped_method, unknown_endpoint,
	// unmapped_response, missing_value).
	TranslationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sipgw_translations_total",
			Help: "Total number of protocol translations by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	// BackendCallsTotal counts backend RPC calls by endpoint and outcome.
	BackendCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sipgw_backend_calls_total",
			Help: "Total number of backend RPC calls",
		},
		[]string{"endpoint", "outcome"},
	)

	// BackendLatencySeconds measures backend RPC call latency.
	BackendLatencySeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sipgw_backend_latency_seconds",
			Help:    "Latency of backend RPC calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"endpoint"},
	)

	// ResponsesTotal counts outbound SIP responses by status class (1xx..6xx).
	ResponsesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sipgw_sip_responses_total",
			Help: "Total number of outbound SIP responses by status class",
		},
		[]string{"class"},
	)

	// EndpointsConfigured tracks the current endpoint registry size.
	EndpointsConfigured = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "sipgw_endpoints_configured",
			Help: "Current number of endpoints in the registry",
		},
	)
)

// StatusClass converts a SIP status code to its Prometheus label ("2xx").
func StatusClass(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	case code < 600:
		return "5xx"
	default:
		return "6xx"
	}
}
