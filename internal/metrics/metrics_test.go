package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m == nil {
		t.Fatal("expected metrics, got nil")
	}

	// Verify all metrics are initialized
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"APIRequests", m.APIRequests},
		{"APILatency", m.APILatency},
		{"APIRetries", m.APIRetries},
		{"SessionTransitions", m.SessionTransitions},
		{"SessionChecks", m.SessionChecks},
		{"IdentityEvents", m.IdentityEvents},
		{"Fetches", m.Fetches},
		{"Errors", m.Errors},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestRecordAPIRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordAPIRequest("GET", 200, 0.1)
	m.RecordAPIRequest("GET", 200, 0.2)
	m.RecordAPIRequest("POST", 0, 30)

	if got := testutil.ToFloat64(m.APIRequests.WithLabelValues("GET", "200")); got != 2 {
		t.Errorf("APIRequests GET/200 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.APIRequests.WithLabelValues("POST", "none")); got != 1 {
		t.Errorf("APIRequests POST/none = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.APILatency); got != 2 {
		t.Errorf("APILatency series = %v, want 2", got)
	}
}

func TestSessionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordTransition("unresolved", "signed_out")
	m.RecordTransition("signed_out", "signed_in")
	m.RecordRetry("recovered")
	m.RecordRetry("expired")
	m.RecordRetry("expired")

	if got := testutil.ToFloat64(m.SessionTransitions.WithLabelValues("signed_out", "signed_in")); got != 1 {
		t.Errorf("SessionTransitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.APIRetries.WithLabelValues("expired")); got != 2 {
		t.Errorf("APIRetries expired = %v, want 2", got)
	}
}

func TestRecordError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordError("AUTH-003", "api")
	m.RecordError("", "api")

	if got := testutil.ToFloat64(m.Errors.WithLabelValues("AUTH-003", "api")); got != 1 {
		t.Errorf("Errors = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.Errors); got != 1 {
		t.Errorf("Errors series = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	// Must not panic
	m.RecordAPIRequest("GET", 200, 0.1)
	m.RecordRetry("recovered")
	m.RecordTransition("a", "b")
	m.RecordError("API-001", "api")
}
