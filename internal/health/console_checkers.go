package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/felixgeelhaar/assetdesk/internal/api"
	"github.com/felixgeelhaar/assetdesk/internal/identity"
	"github.com/felixgeelhaar/assetdesk/internal/session"
)

// HTTPChecker probes an HTTP endpoint with GET.
type HTTPChecker struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPChecker creates a checker named name for url.
func NewHTTPChecker(name, url string, client *http.Client) *HTTPChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPChecker{name: name, url: url, client: client}
}

// Name returns the check name.
func (c *HTTPChecker) Name() string {
	return c.name
}

// Check is healthy on 2xx, degraded on 4xx and unhealthy otherwise.
func (c *HTTPChecker) Check(ctx context.Context) *Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Unhealthy("invalid endpoint").WithDetail("error", err.Error())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Unhealthy("endpoint unreachable").
			WithDetail("url", c.url).
			WithDetail("error", err.Error())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	result := NewResult(StatusHealthy, fmt.Sprintf("responded %d", resp.StatusCode)).
		WithDetail("url", c.url).
		WithDetail("status_code", resp.StatusCode)
	switch {
	case resp.StatusCode >= 500:
		result.Status = StatusUnhealthy
	case resp.StatusCode >= 400:
		result.Status = StatusDegraded
	}
	return result
}

// DiscoveryChecker verifies the identity provider's discovery document.
type DiscoveryChecker struct {
	issuer string
	client *http.Client
}

// NewDiscoveryChecker creates a checker for issuer.
func NewDiscoveryChecker(issuer string, client *http.Client) *DiscoveryChecker {
	return &DiscoveryChecker{issuer: issuer, client: client}
}

// Name returns the check name.
func (c *DiscoveryChecker) Name() string {
	return "identity-provider"
}

// Check resolves the provider endpoints.
func (c *DiscoveryChecker) Check(ctx context.Context) *Result {
	endpoints, err := identity.Discover(ctx, c.issuer, c.client)
	if err != nil {
		return Unhealthy("discovery failed").
			WithDetail("issuer", c.issuer).
			WithDetail("error", err.Error())
	}

	result := Healthy("discovered token endpoint").
		WithDetail("issuer", c.issuer).
		WithDetail("token_url", endpoints.TokenURL)
	if endpoints.LogoutURL == "" {
		result.Status = StatusDegraded
		result.Message = "provider advertises no revocation endpoint"
		result.WithDetail("suggestion", "Sign-out will only clear local state")
	}
	return result
}

// ConnectivityChecker reports whether the host appears to be online.
type ConnectivityChecker struct {
	probe api.Connectivity
}

// NewConnectivityChecker creates a checker backed by probe.
func NewConnectivityChecker(probe api.Connectivity) *ConnectivityChecker {
	return &ConnectivityChecker{probe: probe}
}

// Name returns the check name.
func (c *ConnectivityChecker) Name() string {
	return "network"
}

// Check runs the probe.
func (c *ConnectivityChecker) Check(ctx context.Context) *Result {
	if c.probe.Online(ctx) {
		return Healthy("online")
	}
	return Unhealthy("offline").WithDetail("suggestion", "Check your network connection")
}

// SessionState is satisfied by *session.Manager.
type SessionState interface {
	Snapshot() session.Snapshot
}

// SessionChecker reports the console session.
type SessionChecker struct {
	session SessionState
}

// NewSessionChecker creates a session checker.
func NewSessionChecker(s SessionState) *SessionChecker {
	return &SessionChecker{session: s}
}

// Name returns the check name.
func (c *SessionChecker) Name() string {
	return "session"
}

// Check is healthy when signed in and degraded otherwise.
func (c *SessionChecker) Check(context.Context) *Result {
	snap := c.session.Snapshot()
	switch snap.State {
	case session.Authenticated:
		return Healthy("signed in as " + snap.User.Email).
			WithDetail("user_id", snap.User.ID).
			WithDetail("role", snap.User.Role)
	case session.Resolving:
		return Degraded("resolving stored session")
	default:
		result := Degraded("signed out").WithDetail("suggestion", "Run 'assetdesk auth login'")
		if snap.Reason != nil {
			result.WithDetail("reason", snap.Reason.Error())
		}
		return result
	}
}

// FileModeChecker verifies a credential file is private to the user.
type FileModeChecker struct {
	name string
	path string
}

// NewFileModeChecker creates a checker for the file at path.
func NewFileModeChecker(name, path string) *FileModeChecker {
	return &FileModeChecker{name: name, path: path}
}

// Name returns the check name.
func (c *FileModeChecker) Name() string {
	return c.name
}

// Check is healthy when the file is absent or readable by the owner only.
func (c *FileModeChecker) Check(context.Context) *Result {
	info, err := os.Stat(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return Healthy("not present").WithDetail("path", c.path)
	}
	if err != nil {
		return Unhealthy("cannot stat file").
			WithDetail("path", c.path).
			WithDetail("error", err.Error())
	}

	mode := info.Mode().Perm()
	result := Healthy("private").
		WithDetail("path", c.path).
		WithDetail("mode", fmt.Sprintf("%04o", mode))
	if mode&0o077 != 0 {
		result.Status = StatusDegraded
		result.Message = "readable by other users"
		result.WithDetail("suggestion", fmt.Sprintf("chmod 600 %s", c.path))
	}
	return result
}
