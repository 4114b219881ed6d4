package health

import (
	"context"
	"sync"
	"time"
)

// DefaultTimeout bounds each check.
const DefaultTimeout = 5 * time.Second

// Manager runs a fixed set of checks concurrently.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
}

// NewManager returns a Manager with DefaultTimeout per check.
func NewManager() *Manager {
	return &Manager{timeout: DefaultTimeout}
}

// WithTimeout sets the per-check timeout.
func (m *Manager) WithTimeout(timeout time.Duration) *Manager {
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
	return m
}

// AddChecker registers checker. Nil is ignored so optional checks can be
// added unconditionally.
func (m *Manager) AddChecker(checker Checker) {
	if checker == nil {
		return
	}
	m.mu.Lock()
	m.checkers = append(m.checkers, checker)
	m.mu.Unlock()
}

func (m *Manager) snapshot() ([]Checker, time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Checker(nil), m.checkers...), m.timeout
}

// Check runs every check under its own timeout and returns the results by
// check name. A check that returns nil counts as unhealthy.
func (m *Manager) Check(ctx context.Context) map[string]*Result {
	checkers, timeout := m.snapshot()

	out := make([]*Result, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = runCheck(ctx, c, timeout)
		}()
	}
	wg.Wait()

	results := make(map[string]*Result, len(checkers))
	for i, c := range checkers {
		results[c.Name()] = out[i]
	}
	return results
}

func runCheck(ctx context.Context, c Checker, timeout time.Duration) *Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	r := c.Check(ctx)
	if r == nil {
		r = Unhealthy("check returned no result")
	}
	if r.Latency == 0 {
		r.Latency = time.Since(start)
	}
	return r
}

// NamedResult pairs a result with its check name.
type NamedResult struct {
	Name string
	*Result
}

// Ordered returns results in registration order, for display.
func (m *Manager) Ordered(results map[string]*Result) []NamedResult {
	checkers, _ := m.snapshot()
	out := make([]NamedResult, 0, len(results))
	for _, c := range checkers {
		if r, ok := results[c.Name()]; ok {
			out = append(out, NamedResult{Name: c.Name(), Result: r})
		}
	}
	return out
}

// OverallStatus is the worst status among results; no results is healthy.
func (m *Manager) OverallStatus(results map[string]*Result) Status {
	overall := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// CheckNames returns the registered check names in order.
func (m *Manager) CheckNames() []string {
	checkers, _ := m.snapshot()
	names := make([]string, len(checkers))
	for i, c := range checkers {
		names[i] = c.Name()
	}
	return names
}
