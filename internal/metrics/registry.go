package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	defaultOnce sync.Once
	defaultSet  *Metrics
)

// InitDefault registers the collectors with the Prometheus default registry
// once per process and returns them. Every command shares this instance so
// that `watch --metrics-addr` exposes what the session and client record.
func InitDefault() *Metrics {
	defaultOnce.Do(func() {
		defaultSet = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultSet
}

// NewRegistry returns collectors bound to a fresh registry, for tests and
// embedders that must not touch the default one.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, NewMetrics(reg)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves reg.
func HandlerFor(reg prometheus.Gatherer, opts promhttp.HandlerOpts) http.Handler {
	return promhttp.HandlerFor(reg, opts)
}
