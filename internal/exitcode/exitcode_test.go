package exitcode

import (
	"errors"
	"fmt"
	"testing"

	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
)

func TestDetermineExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "nil error returns success",
			err:      nil,
			expected: Success,
		},
		{
			name:     "session expired",
			err:      apperrors.NewSessionExpiredError("GET", "/loans"),
			expected: AuthError,
		},
		{
			name:     "login denial",
			err:      apperrors.New(apperrors.ErrCodeInsufficientPrivilege, "admin role required"),
			expected: AuthError,
		},
		{
			name:     "wrapped auth error",
			err:      fmt.Errorf("list loans: %w", apperrors.NewNotAuthenticatedError("GET", "/loans")),
			expected: AuthError,
		},
		{
			name:     "offline",
			err:      apperrors.NewOfflineError("GET", "/loans", nil),
			expected: NetworkError,
		},
		{
			name:     "unreachable",
			err:      apperrors.NewNetworkError("GET", "/loans", errors.New("connection refused")),
			expected: NetworkError,
		},
		{
			name:     "invalid configuration",
			err:      apperrors.NewConfigInvalidError("api.base_url is required"),
			expected: UsageError,
		},
		{
			name:     "status not selectable",
			err:      apperrors.NewInvalidStatusError("overdue", []string{"active", "returned", "lost"}),
			expected: ValidationError,
		},
		{
			name:     "record not found",
			err:      apperrors.NewServerError("GET", "/loans/x", 404, "not found"),
			expected: NotFound,
		},
		{
			name:     "unprocessable request",
			err:      apperrors.NewServerError("PATCH", "/loans/x", 422, "invalid"),
			expected: ValidationError,
		},
		{
			name:     "server failure",
			err:      apperrors.NewServerError("GET", "/loans", 500, "boom"),
			expected: GeneralError,
		},
		{
			name:     "unknown flag",
			err:      errors.New("unknown flag: --foo"),
			expected: UsageError,
		},
		{
			name:     "missing required flag",
			err:      errors.New(`required flag(s) "status" not set`),
			expected: UsageError,
		},
		{
			name:     "wrong argument count",
			err:      errors.New("accepts 1 arg(s), received 0"),
			expected: UsageError,
		},
		{
			name:     "generic error",
			err:      errors.New("something went wrong"),
			expected: GeneralError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetermineExitCode(tt.err); got != tt.expected {
				t.Errorf("DetermineExitCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestGetExitCodeDescription(t *testing.T) {
	for _, code := range []int{Success, GeneralError, UsageError, ValidationError, NotFound, AuthError, NetworkError, Interrupted} {
		if desc := GetExitCodeDescription(code); desc == "Unknown error" {
			t.Errorf("code %d has no description", code)
		}
	}
	if desc := GetExitCodeDescription(99); desc != "Unknown error" {
		t.Errorf("GetExitCodeDescription(99) = %q, want %q", desc, "Unknown error")
	}
}
