// Package health runs the diagnostics behind `assetdesk doctor` and the
// watch server's probe endpoints.
//
// Each Checker verifies one dependency of the console: the API, the identity
// provider, network connectivity, the session and the local token cache.
// A Manager runs them in parallel with a per-check timeout:
//
//	manager := health.NewManager()
//	manager.AddChecker(health.NewHTTPChecker("api", apiURL+"/health", client))
//	manager.AddChecker(health.NewSessionChecker(sessionManager))
//
//	results := manager.Check(ctx)
//	for _, r := range manager.Ordered(results) {
//	    logger.Info("health check", "name", r.Name, "status", r.Status)
//	}
package health

import (
	"context"
	"time"
)

// Checker verifies one dependency of the console.
type Checker interface {
	// Name is unique within a Manager, e.g. "api" or "token-cache".
	Name() string

	// Check must honor the context deadline.
	Check(ctx context.Context) *Result
}

// Status grades a check. A degraded console still works; a signed-out
// session is degraded, an unreachable API is unhealthy.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) String() string {
	return string(s)
}

// Result is the outcome of one check.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`

	// Details holds check-specific data such as HTTP status, endpoint or
	// a suggestion for fixing the problem.
	Details map[string]any `json:"details,omitempty"`

	Latency time.Duration `json:"latency_ns"`
}

// NewResult returns a result with an empty details map.
func NewResult(status Status, message string) *Result {
	return &Result{
		Status:  status,
		Message: message,
		Details: make(map[string]any),
	}
}

// WithDetail sets a detail and returns r.
func (r *Result) WithDetail(key string, value any) *Result {
	r.Details[key] = value
	return r
}

// WithLatency overrides the measured latency and returns r.
func (r *Result) WithLatency(latency time.Duration) *Result {
	r.Latency = latency
	return r
}

func Healthy(message string) *Result {
	return NewResult(StatusHealthy, message)
}

func Degraded(message string) *Result {
	return NewResult(StatusDegraded, message)
}

func Unhealthy(message string) *Result {
	return NewResult(StatusUnhealthy, message)
}
