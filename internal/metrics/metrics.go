package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the console's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// API client metrics
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec
	APIRetries  *prometheus.CounterVec

	// Session metrics
	SessionTransitions *prometheus.CounterVec
	SessionChecks      *prometheus.CounterVec
	IdentityEvents     *prometheus.CounterVec

	// Data fetch metrics
	Fetches *prometheus.CounterVec

	// Error metrics (by error code from structured errors)
	Errors *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// API client metrics
		APIRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetdesk_api_requests_total",
				Help: "Total number of console API requests by outcome",
			},
			[]string{"method", "status"},
		),
		APILatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assetdesk_api_latency_seconds",
				Help:    "Console API request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"method"},
		),
		APIRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetdesk_api_retries_total",
				Help: "Total number of requests retried after a token refresh",
			},
			[]string{"outcome"},
		),

		// Session metrics
		SessionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetdesk_session_transitions_total",
				Help: "Total number of session state transitions",
			},
			[]string{"from", "to"},
		),
		SessionChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetdesk_session_checks_total",
				Help: "Total number of periodic session liveness checks",
			},
			[]string{"result"},
		),
		IdentityEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetdesk_identity_events_total",
				Help: "Total number of identity provider events processed",
			},
			[]string{"event"},
		),

		// Fetch metrics
		Fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetdesk_fetches_total",
				Help: "Total number of data fetches by resource and outcome",
			},
			[]string{"resource", "outcome"},
		),

		// Error metrics (by structured error code)
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetdesk_errors_total",
				Help: "Total number of errors by error code",
			},
			[]string{"error_code", "component"},
		),
	}
}

// RecordAPIRequest records one API request. status is the HTTP status, or 0
// when no response was received.
func (m *Metrics) RecordAPIRequest(method string, status int, seconds float64) {
	if m == nil {
		return
	}
	label := "none"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.APIRequests.WithLabelValues(method, label).Inc()
	m.APILatency.WithLabelValues(method).Observe(seconds)
}

// RecordRetry records the outcome of an authorization retry.
func (m *Metrics) RecordRetry(outcome string) {
	if m == nil {
		return
	}
	m.APIRetries.WithLabelValues(outcome).Inc()
}

// RecordTransition records a session state change.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(from, to).Inc()
}

// RecordError counts an error by code and component.
func (m *Metrics) RecordError(code, component string) {
	if m == nil || code == "" {
		return
	}
	m.Errors.WithLabelValues(code, component).Inc()
}
