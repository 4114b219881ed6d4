package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
	"github.com/felixgeelhaar/assetdesk/internal/telemetry"
)

// VerifyPath is the privileged validation endpoint.
const VerifyPath = "/auth/login"

// User is a console user as the API reports it.
type User struct {
	ID       string `json:"id" yaml:"id"`
	Email    string `json:"email" yaml:"email"`
	FullName string `json:"full_name" yaml:"full_name"`
	Role     string `json:"role" yaml:"role"`
	Active   bool   `json:"active" yaml:"active"`
}

// VerifyRequest is the body of the privileged check.
type VerifyRequest struct {
	AccessToken string `json:"access_token"`
}

// VerifyResponse is the successful privileged check response.
type VerifyResponse struct {
	User User `json:"user"`
}

// Verify runs the privileged check: the server validates accessToken and
// that its bearer holds the console role. The returned user comes from the
// server, not from the token's claims.
//
// Verify does not require an established session; it is how one is established.
func (c *Client) Verify(ctx context.Context, accessToken string) (*User, error) {
	ctx, span := telemetry.StartAPISpan(ctx, http.MethodPost, VerifyPath)
	defer span.End()

	user, err := c.verify(ctx, accessToken)
	if err != nil {
		telemetry.RecordError(span, err)
		c.metrics.RecordError(string(apperrors.CodeOf(err)), "verify")
		return nil, err
	}
	telemetry.RecordSuccess(span, attribute.String("user.role", user.Role))
	return user, nil
}

func (c *Client) verify(ctx context.Context, accessToken string) (*User, error) {
	req := Request{Method: http.MethodPost, Path: VerifyPath}
	if accessToken == "" {
		return nil, apperrors.NewNoTokenError(nil).WithRequest(req.Method, req.Path)
	}

	body, err := json.Marshal(VerifyRequest{AccessToken: accessToken})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeServerError, "failed to encode verification request", err)
	}

	resp, err := c.attempt(ctx, req, body, accessToken)
	if err != nil {
		return nil, err
	}

	switch resp.status {
	case http.StatusOK:
		var out VerifyResponse
		if err := json.Unmarshal(resp.body, &out); err != nil || out.User.ID == "" {
			e := apperrors.NewServerError(req.Method, req.Path, resp.status, "verification response has no user")
			e.Cause = err
			return nil, e
		}
		return &out.User, nil

	case http.StatusUnauthorized:
		return nil, apperrors.New(apperrors.ErrCodeSessionExpired, "server rejected the access token").
			WithRequest(req.Method, req.Path)

	case http.StatusForbidden:
		msg := errorMessage(resp)
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "inactive") || strings.Contains(lower, "disabled") || strings.Contains(lower, "deactivated") {
			return nil, apperrors.New(apperrors.ErrCodeInactiveAccount, "account is inactive").
				WithRequest(req.Method, req.Path).
				WithSuggestion("Ask an administrator to reactivate the account")
		}
		return nil, apperrors.New(apperrors.ErrCodeInsufficientPrivilege, "account lacks the console role").
			WithRequest(req.Method, req.Path).
			WithSuggestion("Sign in with an administrator account")

	default:
		_, err := c.result(req, resp)
		if err == nil {
			err = apperrors.NewServerError(req.Method, req.Path, resp.status, "unexpected verification response")
		}
		return nil, err
	}
}
