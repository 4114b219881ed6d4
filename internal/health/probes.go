package health

import (
	"context"
	"sync/atomic"
	"time"
)

// Probes answers the watch server's liveness and readiness endpoints.
//
// Liveness only reports that the process responds. Readiness additionally
// requires the initial session resolution to have finished and runs every
// registered check.
type Probes struct {
	*Manager

	startTime time.Time
	resolved  atomic.Bool
	stopping  atomic.Bool
	version   string
}

// NewProbes creates probes with an empty check manager.
func NewProbes(version string) *Probes {
	return &Probes{
		Manager:   NewManager(),
		startTime: time.Now(),
		version:   version,
	}
}

// MarkResolved records that the session left the resolving state.
func (p *Probes) MarkResolved() {
	p.resolved.Store(true)
}

// MarkStopping makes readiness fail while the process drains.
func (p *Probes) MarkStopping() {
	p.stopping.Store(true)
}

// ProbeResult is the JSON body of a probe endpoint.
type ProbeResult struct {
	Status    Status             `json:"status"`
	Version   string             `json:"version,omitempty"`
	Uptime    string             `json:"uptime,omitempty"`
	Checks    map[string]*Result `json:"checks,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

func (p *Probes) result(status Status, checks map[string]*Result) *ProbeResult {
	return &ProbeResult{
		Status:    status,
		Version:   p.version,
		Uptime:    time.Since(p.startTime).Round(time.Second).String(),
		Checks:    checks,
		Timestamp: time.Now(),
	}
}

// Liveness is degraded while stopping and healthy otherwise.
func (p *Probes) Liveness(context.Context) *ProbeResult {
	if p.stopping.Load() {
		return p.result(StatusDegraded, nil)
	}
	return p.result(StatusHealthy, nil)
}

// Readiness aggregates the registered checks once the session is resolved.
func (p *Probes) Readiness(ctx context.Context) *ProbeResult {
	if p.stopping.Load() || !p.resolved.Load() {
		return p.result(StatusUnhealthy, nil)
	}

	checks := p.Manager.Check(ctx)
	return p.result(p.Manager.OverallStatus(checks), checks)
}
