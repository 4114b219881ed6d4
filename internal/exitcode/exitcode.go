// Package exitcode maps command errors to process exit codes.
package exitcode

import (
	"os"
	"strings"

	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage or configuration
	UsageError = 2

	// ValidationError indicates the server rejected the request
	ValidationError = 3

	// NotFound indicates the requested record does not exist
	NotFound = 4

	// AuthError indicates a sign-in, session or privilege failure
	AuthError = 5

	// NetworkError indicates the host is offline or the server unreachable
	NetworkError = 6

	// Interrupted indicates the command was cancelled by a signal
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// DetermineExitCode maps an error to an exit code. Console errors are
// classified by code; anything else falls back to cobra's usage messages.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	if ce, ok := apperrors.As(err); ok {
		switch {
		case ce.Code == apperrors.ErrCodeConfigInvalid:
			return UsageError
		case ce.Code == apperrors.ErrCodeInvalidStatus:
			return ValidationError
		case ce.Code == apperrors.ErrCodeServerError && ce.Status == 404:
			return NotFound
		case ce.Code == apperrors.ErrCodeServerError && ce.Status >= 400 && ce.Status < 500:
			return ValidationError
		case strings.HasPrefix(string(ce.Code), "AUTH-"):
			return AuthError
		case strings.HasPrefix(string(ce.Code), "NET-"):
			return NetworkError
		}
		return GeneralError
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "unknown flag") || strings.Contains(errMsg, "unknown command") ||
		strings.Contains(errMsg, "required flag") || strings.Contains(errMsg, "accepts ") ||
		strings.Contains(errMsg, "invalid argument") {
		return UsageError
	}
	return GeneralError
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage or configuration error"
	case ValidationError:
		return "Request rejected by the server"
	case NotFound:
		return "Record not found"
	case AuthError:
		return "Authentication error"
	case NetworkError:
		return "Network error"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
