package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
	"github.com/felixgeelhaar/assetdesk/internal/log"
	"github.com/felixgeelhaar/assetdesk/internal/metrics"
)

// fakeCredentials is a scripted token source.
type fakeCredentials struct {
	mu            sync.Mutex
	authenticated bool
	token         string
	tokenErr      error
	refreshed     string
	refreshErr    error
	refreshCalls  int
}

func (f *fakeCredentials) Authenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authenticated
}

func (f *fakeCredentials) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.tokenErr
}

func (f *fakeCredentials) RefreshToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	if f.refreshed != "" {
		f.token = f.refreshed
	}
	return f.refreshed, nil
}

// recordedRequest is what the fake server saw.
type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   string
}

// fakeAPI records requests and answers with a scripted handler.
type fakeAPI struct {
	server *httptest.Server
	count  atomic.Int32

	mu       sync.Mutex
	requests []recordedRequest
}

func newFakeAPI(t *testing.T, handler http.HandlerFunc) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.count.Add(1)
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Header: r.Header.Clone(),
			Body:   string(body),
		})
		f.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestClient(t *testing.T, baseURL string, creds Credentials, m *metrics.Metrics) *Client {
	t.Helper()
	c, err := NewClient(Options{
		BaseURL:      baseURL,
		Credentials:  creds,
		Connectivity: ConnectivityFunc(func(context.Context) bool { return true }),
		Logger:       log.Discard(),
		Metrics:      m,
	})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Options{})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeConfigInvalid))
}

func TestDoNotAuthenticatedMakesNoRequest(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{})
	})

	tests := []struct {
		name  string
		creds Credentials
	}{
		{"no credentials", nil},
		{"signed out", &fakeCredentials{authenticated: false, token: "stale"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, api.server.URL, tt.creds, nil)

			_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/loans"})
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotAuthenticated))
		})
	}

	assert.Zero(t, api.count.Load(), "no network request may be issued without a session")
}

func TestDoNoToken(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{})
	})

	tests := []struct {
		name  string
		creds *fakeCredentials
	}{
		{"empty token", &fakeCredentials{authenticated: true}},
		{"token read fails", &fakeCredentials{authenticated: true, tokenErr: errors.New("provider unavailable")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, api.server.URL, tt.creds, nil)

			_, err := c.Do(context.Background(), Request{Path: "/loans"})
			assert.True(t, apperrors.Is(err, apperrors.ErrCodeNoToken))
			assert.True(t, apperrors.IsSessionError(err))
		})
	}
	assert.Zero(t, api.count.Load())
}

func TestDoSendsAuthorizedJSON(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "loan-1", "status": "active"})
	})
	c := newTestClient(t, api.server.URL, &fakeCredentials{authenticated: true, token: "tok-1"}, nil)

	raw, err := c.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/loans",
		Body:   map[string]string{"asset_id": "a-1"},
		Header: http.Header{"X-Trace": []string{"abc"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"loan-1","status":"active"}`, string(raw))

	_, err = c.Do(context.Background(), Request{Path: "/loans"})
	require.NoError(t, err)

	reqs := api.recorded()
	require.Len(t, reqs, 2)

	post := reqs[0]
	assert.Equal(t, http.MethodPost, post.Method)
	assert.Equal(t, "Bearer tok-1", post.Header.Get("Authorization"))
	assert.Equal(t, "application/json", post.Header.Get("Content-Type"))
	assert.Equal(t, "abc", post.Header.Get("X-Trace"))
	assert.NotEmpty(t, post.Header.Get("X-Request-ID"))
	assert.Contains(t, post.Header.Get("User-Agent"), "assetdesk/")
	assert.JSONEq(t, `{"asset_id":"a-1"}`, post.Body)

	get := reqs[1]
	assert.Equal(t, http.MethodGet, get.Method)
	assert.Empty(t, get.Body)
	assert.NotEqual(t, post.Header.Get("X-Request-ID"), get.Header.Get("X-Request-ID"))
}

func TestDoEmptyBody(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, api.server.URL, &fakeCredentials{authenticated: true, token: "tok"}, nil)

	raw, err := c.Do(context.Background(), Request{Method: http.MethodDelete, Path: "/loans/1"})
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestDoRetriesOnceWithFreshToken(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, []string{"ok"})
	})
	_, m := metrics.NewRegistry()
	creds := &fakeCredentials{authenticated: true, token: "stale", refreshed: "fresh"}
	c := newTestClient(t, api.server.URL, creds, m)

	raw, err := c.Do(context.Background(), Request{Method: http.MethodPut, Path: "/tickets/7", Body: map[string]string{"title": "x"}})
	require.NoError(t, err)
	assert.JSONEq(t, `["ok"]`, string(raw))

	reqs := api.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Bearer stale", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "Bearer fresh", reqs[1].Header.Get("Authorization"))
	assert.Equal(t, reqs[0].Body, reqs[1].Body, "the retry resends the same body")
	assert.Equal(t, 1, creds.refreshCalls)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.APIRetries.WithLabelValues("recovered")))
}

func TestDoRepeated401RetriesAtMostOnce(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "revoked"})
	})

	rotations := 0
	creds := &fakeCredentials{authenticated: true, token: "t0"}
	c := newTestClient(t, api.server.URL, credentialsFunc{
		fakeCredentials: creds,
		refresh: func() (string, error) {
			rotations++
			return "t" + string(rune('0'+rotations)), nil
		},
	}, nil)

	_, err := c.Do(context.Background(), Request{Path: "/loans"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeSessionExpired))
	assert.Equal(t, int32(2), api.count.Load(), "one original attempt and one retry")
	assert.Equal(t, 1, rotations)
}

func TestDoNoFresherToken(t *testing.T) {
	tests := []struct {
		name  string
		creds *fakeCredentials
	}{
		{"refresh returns same token", &fakeCredentials{authenticated: true, token: "same", refreshed: "same"}},
		{"refresh returns nothing", &fakeCredentials{authenticated: true, token: "tok"}},
		{"refresh fails", &fakeCredentials{authenticated: true, token: "tok", refreshErr: errors.New("idp down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "expired"})
			})
			c := newTestClient(t, api.server.URL, tt.creds, nil)

			_, err := c.Do(context.Background(), Request{Path: "/tickets"})
			assert.True(t, apperrors.Is(err, apperrors.ErrCodeSessionExpired))
			assert.Equal(t, int32(1), api.count.Load(), "no retry without a different token")
		})
	}
}

func TestDoRetryFailureKeepsClassification(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer stale" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database unavailable"})
	})
	c := newTestClient(t, api.server.URL, &fakeCredentials{authenticated: true, token: "stale", refreshed: "fresh"}, nil)

	_, err := c.Do(context.Background(), Request{Path: "/loans"})
	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeServerError, e.Code)
	assert.Equal(t, http.StatusInternalServerError, e.Status)
	assert.Equal(t, "database unavailable", e.Message)
}

func TestDoServerErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"error field", http.StatusBadRequest, `{"error":"asset already on loan"}`, "asset already on loan"},
		{"message field", http.StatusConflict, `{"message":"version conflict"}`, "version conflict"},
		{"non-json body", http.StatusBadGateway, `<html>bad gateway</html>`, "Bad Gateway"},
		{"empty body", http.StatusNotFound, ``, "Not Found"},
		{"unknown status", 599, ``, "request failed with status 599"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			c := newTestClient(t, api.server.URL, &fakeCredentials{authenticated: true, token: "tok"}, nil)

			_, err := c.Do(context.Background(), Request{Method: http.MethodPatch, Path: "/loans/1", Body: map[string]string{}})
			e, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.ErrCodeServerError, e.Code)
			assert.Equal(t, tt.status, e.Status)
			assert.Equal(t, tt.message, e.Message)
			assert.Equal(t, http.MethodPatch, e.Method)
			assert.Equal(t, "/loans/1", e.Endpoint)
		})
	}
}

func TestDoInvalidJSONResponse(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "not json")
	})
	c := newTestClient(t, api.server.URL, &fakeCredentials{authenticated: true, token: "tok"}, nil)

	_, err := c.Do(context.Background(), Request{Path: "/loans"})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeServerError))
}

func TestDoNetworkFailure(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	tests := []struct {
		name   string
		online bool
		want   apperrors.ErrorCode
	}{
		{"online", true, apperrors.ErrCodeNetworkError},
		{"offline", false, apperrors.ErrCodeOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(Options{
				BaseURL:      deadURL,
				Credentials:  &fakeCredentials{authenticated: true, token: "tok"},
				Connectivity: ConnectivityFunc(func(context.Context) bool { return tt.online }),
				Logger:       log.Discard(),
			})
			require.NoError(t, err)

			_, err = c.Do(context.Background(), Request{Method: http.MethodDelete, Path: "/tickets/3"})
			e, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, e.Code)
			assert.Equal(t, http.MethodDelete, e.Method)
			assert.Equal(t, "/tickets/3", e.Endpoint)
		})
	}
}

func TestDoTimeout(t *testing.T) {
	release := make(chan struct{})
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	c, err := NewClient(Options{
		BaseURL:      api.server.URL,
		Timeout:      50 * time.Millisecond,
		Credentials:  &fakeCredentials{authenticated: true, token: "tok"},
		Connectivity: ConnectivityFunc(func(context.Context) bool { return true }),
		Logger:       log.Discard(),
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Do(context.Background(), Request{Path: "/loans"})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNetworkError))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDoCallsAreIndependent(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []string{})
	})
	c := newTestClient(t, api.server.URL, &fakeCredentials{authenticated: true, token: "tok"}, nil)

	for i := 0; i < 2; i++ {
		_, err := c.Do(context.Background(), Request{Path: "/loans"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), api.count.Load())
}

func TestDoJSONDecodeFailure(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "1"})
	})
	c := newTestClient(t, api.server.URL, &fakeCredentials{authenticated: true, token: "tok"}, nil)

	var list []Loan
	err := c.Get(context.Background(), "/loans", &list)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeServerError))
}

func TestNewClientTrimsBaseURL(t *testing.T) {
	c, err := NewClient(Options{BaseURL: "http://api.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "http://api.example.com", c.BaseURL())
	assert.True(t, strings.HasPrefix(c.userAgent, "assetdesk/"))
}

// credentialsFunc overrides RefreshToken with a function.
type credentialsFunc struct {
	*fakeCredentials
	refresh func() (string, error)
}

func (c credentialsFunc) RefreshToken(context.Context) (string, error) {
	return c.refresh()
}
