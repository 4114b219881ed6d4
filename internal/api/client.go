// Package api is the console's resilient HTTP client.
//
// Every call attaches the current bearer token, classifies failures into the
// console error taxonomy and, on a 401, performs exactly one
// refresh-and-retry. Nothing else is retried.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
	"github.com/felixgeelhaar/assetdesk/internal/log"
	"github.com/felixgeelhaar/assetdesk/internal/metrics"
	"github.com/felixgeelhaar/assetdesk/internal/telemetry"
	"github.com/felixgeelhaar/assetdesk/internal/version"
)

// DefaultTimeout bounds each HTTP attempt.
const DefaultTimeout = 30 * time.Second

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 10 << 20

// Credentials supplies bearer tokens to the client. The session manager is
// the production implementation.
type Credentials interface {
	// Authenticated reports whether a user session is established.
	Authenticated() bool

	// Token returns the current access token.
	Token(ctx context.Context) (string, error)

	// RefreshToken forces a token rotation and returns the new token, or an
	// empty string when none is available.
	RefreshToken(ctx context.Context) (string, error)
}

// Request describes one API call.
type Request struct {
	Method string
	// Path is relative to the client's base URL, e.g. "/loans?status=active".
	Path string
	// Body is encoded as JSON for non-GET methods. []byte and
	// json.RawMessage are sent as-is.
	Body   any
	Header http.Header
}

// Options configures a Client.
type Options struct {
	BaseURL string

	// Timeout bounds each attempt. Default: 30s.
	Timeout time.Duration

	// HTTPClient overrides the transport. Its Timeout is replaced by Timeout
	// when that is set.
	HTTPClient *http.Client

	Credentials Credentials

	// Connectivity tells offline apart from other network failures.
	// Default: InterfaceProbe.
	Connectivity Connectivity

	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// Client is the console API client
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      Credentials
	conn       Connectivity
	logger     *log.Logger
	metrics    *metrics.Metrics
	userAgent  string
}

// NewClient creates a new API client
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, apperrors.NewConfigInvalidError("api base URL is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	} else {
		copied := *httpClient
		httpClient = &copied
	}
	switch {
	case opts.Timeout > 0:
		httpClient.Timeout = opts.Timeout
	case httpClient.Timeout == 0:
		httpClient.Timeout = DefaultTimeout
	}

	if opts.Connectivity == nil {
		opts.Connectivity = InterfaceProbe{}
	}
	if opts.Logger == nil {
		opts.Logger = log.DefaultLogger()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		creds:      opts.Credentials,
		conn:       opts.Connectivity,
		logger:     opts.Logger.With("component", "api"),
		metrics:    opts.Metrics,
		userAgent:  version.GetInfo().UserAgent(),
	}, nil
}

// SetCredentials attaches the token source. The session manager and the
// client reference each other, so one side is wired after construction.
func (c *Client) SetCredentials(creds Credentials) {
	c.creds = creds
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do performs req and returns the raw JSON body of a 2xx response, or nil
// when the body is empty.
func (c *Client) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	ctx, span := telemetry.StartAPISpan(ctx, req.Method, req.Path)
	defer span.End()

	raw, err := c.do(ctx, req)
	if err != nil {
		telemetry.RecordError(span, err)
		c.metrics.RecordError(string(apperrors.CodeOf(err)), "api")
		return nil, err
	}

	telemetry.RecordSuccess(span, attribute.Int("http.response_size", len(raw)))
	return raw, nil
}

func (c *Client) do(ctx context.Context, req Request) (json.RawMessage, error) {
	if c.creds == nil || !c.creds.Authenticated() {
		return nil, apperrors.NewNotAuthenticatedError(req.Method, req.Path)
	}

	token, err := c.creds.Token(ctx)
	if err != nil || token == "" {
		return nil, apperrors.NewNoTokenError(err).WithRequest(req.Method, req.Path)
	}

	body, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.attempt(ctx, req, body, token)
	if err != nil {
		return nil, err
	}

	if resp.status == http.StatusUnauthorized {
		fresh, refreshErr := c.creds.RefreshToken(ctx)
		if refreshErr != nil || fresh == "" || fresh == token {
			c.metrics.RecordRetry("unavailable")
			c.logger.WithError(refreshErr).Info("token rejected and no fresher token available",
				"method", req.Method, "path", req.Path)
			return nil, sessionExpired(req, refreshErr)
		}

		resp, err = c.attempt(ctx, req, body, fresh)
		if err != nil {
			c.metrics.RecordRetry("failed")
			return nil, err
		}
		if resp.status == http.StatusUnauthorized {
			c.metrics.RecordRetry("expired")
			return nil, sessionExpired(req, nil)
		}
		c.metrics.RecordRetry("recovered")
	}

	return c.result(req, resp)
}

// response is a fully-read HTTP response.
type response struct {
	status int
	body   []byte
}

// attempt issues a single HTTP request. It returns a classified error only
// when no response was received.
func (c *Client) attempt(ctx context.Context, req Request, body []byte, token string) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, reader)
	if err != nil {
		return nil, apperrors.NewNetworkError(req.Method, req.Path, fmt.Errorf("failed to create request: %w", err))
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("X-Request-ID", requestID)
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.RecordAPIRequest(req.Method, 0, time.Since(start).Seconds())
		return nil, c.classifyTransportError(ctx, req, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	elapsed := time.Since(start)
	c.metrics.RecordAPIRequest(req.Method, httpResp.StatusCode, elapsed.Seconds())
	if err != nil {
		return nil, c.classifyTransportError(ctx, req, err)
	}

	c.logger.WithToken(token).Debug("api request",
		"method", req.Method,
		"path", req.Path,
		"status", httpResp.StatusCode,
		"duration_ms", elapsed.Milliseconds(),
		"request_id", requestID,
	)

	return &response{status: httpResp.StatusCode, body: data}, nil
}

// classifyTransportError turns a failure with no response into Offline or
// NetworkError.
func (c *Client) classifyTransportError(ctx context.Context, req Request, err error) error {
	// The probe must run even when ctx is what failed.
	if !c.conn.Online(context.WithoutCancel(ctx)) {
		return apperrors.NewOfflineError(req.Method, req.Path, err)
	}
	return apperrors.NewNetworkError(req.Method, req.Path, err)
}

func (c *Client) result(req Request, resp *response) (json.RawMessage, error) {
	if resp.status < 200 || resp.status >= 300 {
		return nil, apperrors.NewServerError(req.Method, req.Path, resp.status, errorMessage(resp))
	}

	trimmed := bytes.TrimSpace(resp.body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, apperrors.NewServerError(req.Method, req.Path, resp.status, "response body is not valid JSON")
	}
	return json.RawMessage(trimmed), nil
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// errorMessage extracts the server's message, falling back to the status text.
func errorMessage(resp *response) string {
	var errResp ErrorResponse
	if err := json.Unmarshal(resp.body, &errResp); err == nil {
		if errResp.Error != "" {
			return errResp.Error
		}
		if errResp.Message != "" {
			return errResp.Message
		}
	}

	if text := http.StatusText(resp.status); text != "" {
		return text
	}
	return fmt.Sprintf("request failed with status %d", resp.status)
}

func encodeBody(req Request) ([]byte, error) {
	if req.Method == http.MethodGet || req.Body == nil {
		return nil, nil
	}

	switch b := req.Body.(type) {
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	}

	data, err := json.Marshal(req.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeServerError, "failed to encode request body", err).
			WithRequest(req.Method, req.Path)
	}
	return data, nil
}

func sessionExpired(req Request, cause error) error {
	err := apperrors.NewSessionExpiredError(req.Method, req.Path)
	if cause != nil {
		err.Cause = cause
	}
	return err
}

// DoJSON performs req and decodes a 2xx body into out. out may be nil.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) error {
	raw, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		e := apperrors.NewServerError(req.Method, req.Path, http.StatusOK, "unexpected response shape")
		e.Cause = err
		return e
	}
	return nil
}

// Get performs a GET and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.DoJSON(ctx, Request{Method: http.MethodGet, Path: path}, out)
}

// Post performs a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.DoJSON(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// Put performs a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.DoJSON(ctx, Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

// Patch performs a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.DoJSON(ctx, Request{Method: http.MethodPatch, Path: path, Body: body}, out)
}

// Delete performs a DELETE.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.DoJSON(ctx, Request{Method: http.MethodDelete, Path: path}, out)
}
