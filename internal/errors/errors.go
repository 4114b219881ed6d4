package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Session errors (AUTH-001 to AUTH-009)
	ErrCodeNotAuthenticated ErrorCode = "AUTH-001"
	ErrCodeNoToken          ErrorCode = "AUTH-002"
	ErrCodeSessionExpired   ErrorCode = "AUTH-003"

	// Login errors (AUTH-010 to AUTH-099)
	ErrCodeInvalidCredentials    ErrorCode = "AUTH-010"
	ErrCodeUnconfirmedAccount    ErrorCode = "AUTH-011"
	ErrCodeUnknownAccount        ErrorCode = "AUTH-012"
	ErrCodeRateLimited           ErrorCode = "AUTH-013"
	ErrCodeInsufficientPrivilege ErrorCode = "AUTH-014"
	ErrCodeInactiveAccount       ErrorCode = "AUTH-015"

	// Remote API errors (API-001 to API-099)
	ErrCodeServerError ErrorCode = "API-001"

	// Network errors (NET-001 to NET-099)
	ErrCodeNetworkError ErrorCode = "NET-001"
	ErrCodeOffline      ErrorCode = "NET-002"

	// Record status errors (STATUS-001 to STATUS-099)
	ErrCodeInvalidStatus ErrorCode = "STATUS-001"

	// Configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigInvalid ErrorCode = "CONFIG-001"

	// Local storage errors (IO-001 to IO-099)
	ErrCodeCacheReadFailed  ErrorCode = "IO-001"
	ErrCodeCacheWriteFailed ErrorCode = "IO-002"
)

// userMessages holds the stable, user-facing message for each code.
// Raw server or provider text never reaches the user without passing through here.
var userMessages = map[ErrorCode]string{
	ErrCodeNotAuthenticated:      "You are not signed in.",
	ErrCodeNoToken:               "Your session could not be read. Please sign in again.",
	ErrCodeSessionExpired:        "Your session has expired. Please sign in again.",
	ErrCodeInvalidCredentials:    "Incorrect email or password.",
	ErrCodeUnconfirmedAccount:    "This account has not been confirmed yet.",
	ErrCodeUnknownAccount:        "No account exists for this email.",
	ErrCodeRateLimited:           "Too many attempts. Please wait and try again.",
	ErrCodeInsufficientPrivilege: "This account does not have access to the console.",
	ErrCodeInactiveAccount:       "This account has been deactivated.",
	ErrCodeServerError:           "The server could not complete the request.",
	ErrCodeNetworkError:          "The server could not be reached.",
	ErrCodeOffline:               "You appear to be offline.",
	ErrCodeInvalidStatus:         "That status cannot be selected.",
	ErrCodeConfigInvalid:         "The configuration is invalid.",
	ErrCodeCacheReadFailed:       "Local session data could not be read.",
	ErrCodeCacheWriteFailed:      "Local session data could not be saved.",
}

// ConsoleError represents a classified failure with code, suggestions, and request context
type ConsoleError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error

	// Status is the HTTP status code for ErrCodeServerError.
	Status int

	// Endpoint and Method identify the request for API and network errors.
	Endpoint string
	Method   string
}

// Error implements the error interface
func (e *ConsoleError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Method != "" || e.Endpoint != "" {
		b.WriteString(fmt.Sprintf(" (%s %s", e.Method, e.Endpoint))
		if e.Status != 0 {
			b.WriteString(fmt.Sprintf(", status %d", e.Status))
		}
		b.WriteString(")")
	}

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *ConsoleError) Unwrap() error {
	return e.Cause
}

// UserMessage returns the stable message shown to users for this error's code.
func (e *ConsoleError) UserMessage() string {
	if msg, ok := userMessages[e.Code]; ok {
		return msg
	}
	return "Something went wrong."
}

// New creates a new ConsoleError
func New(code ErrorCode, message string) *ConsoleError {
	return &ConsoleError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new ConsoleError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *ConsoleError {
	return &ConsoleError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *ConsoleError) WithSuggestion(suggestion string) *ConsoleError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *ConsoleError) WithSuggestions(suggestions ...string) *ConsoleError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *ConsoleError) WithDocs(url string) *ConsoleError {
	e.DocsURL = url
	return e
}

// WithRequest records the endpoint and method the error belongs to
func (e *ConsoleError) WithRequest(method, endpoint string) *ConsoleError {
	e.Method = method
	e.Endpoint = endpoint
	return e
}

// As extracts a *ConsoleError from err's chain.
func As(err error) (*ConsoleError, bool) {
	var consoleErr *ConsoleError
	if stderrors.As(err, &consoleErr) {
		return consoleErr, true
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	if consoleErr, ok := As(err); ok {
		return consoleErr.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or "" for unclassified errors.
func CodeOf(err error) ErrorCode {
	if consoleErr, ok := As(err); ok {
		return consoleErr.Code
	}
	return ""
}

// UserMessage returns the user-facing message for any error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if consoleErr, ok := As(err); ok {
		return consoleErr.UserMessage()
	}
	return "Something went wrong."
}

// IsSessionError reports whether err means the caller must return to the
// unauthenticated view rather than show a business error.
func IsSessionError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNotAuthenticated, ErrCodeNoToken, ErrCodeSessionExpired:
		return true
	}
	return false
}

// IsLoginDenial reports whether err is one of the login failure categories.
func IsLoginDenial(err error) bool {
	switch CodeOf(err) {
	case ErrCodeInvalidCredentials, ErrCodeUnconfirmedAccount, ErrCodeUnknownAccount,
		ErrCodeRateLimited, ErrCodeInsufficientPrivilege, ErrCodeInactiveAccount:
		return true
	}
	return false
}

// Common error constructors for frequently used errors

// NewNotAuthenticatedError is returned when a call is attempted without a session
func NewNotAuthenticatedError(method, endpoint string) *ConsoleError {
	return New(ErrCodeNotAuthenticated, "no authenticated session").
		WithRequest(method, endpoint).
		WithSuggestion("Run 'assetdesk auth login' to sign in")
}

// NewNoTokenError is returned when the session believes it is signed in but no credential can be read
func NewNoTokenError(cause error) *ConsoleError {
	return Wrap(ErrCodeNoToken, "session has no usable access token", cause).
		WithSuggestion("Sign out and sign in again")
}

// NewSessionExpiredError is returned after the single refresh-and-retry failed
func NewSessionExpiredError(method, endpoint string) *ConsoleError {
	return New(ErrCodeSessionExpired, "access token rejected after refresh").
		WithRequest(method, endpoint).
		WithSuggestion("Run 'assetdesk auth login' to sign in again")
}

// NewServerError creates an API error for a non-2xx response
func NewServerError(method, endpoint string, status int, message string) *ConsoleError {
	err := New(ErrCodeServerError, message).WithRequest(method, endpoint)
	err.Status = status
	return err
}

// NewNetworkError creates an error for a request that received no response
func NewNetworkError(method, endpoint string, cause error) *ConsoleError {
	return Wrap(ErrCodeNetworkError, "request failed before a response was received", cause).
		WithRequest(method, endpoint).
		WithSuggestion("Check that the API URL is correct and the server is running").
		WithSuggestion("Run 'assetdesk doctor' to verify connectivity")
}

// NewOfflineError creates an error for a request attempted without connectivity
func NewOfflineError(method, endpoint string, cause error) *ConsoleError {
	return Wrap(ErrCodeOffline, "no network connectivity", cause).
		WithRequest(method, endpoint).
		WithSuggestion("Reconnect to the network and retry")
}

// NewInvalidStatusError creates an error for a status that cannot be written
func NewInvalidStatusError(status string, allowed []string) *ConsoleError {
	return New(ErrCodeInvalidStatus, fmt.Sprintf("status %q cannot be selected", status)).
		WithSuggestion(fmt.Sprintf("Use one of: %s", strings.Join(allowed, ", ")))
}

// NewConfigInvalidError creates a configuration validation error
func NewConfigInvalidError(details string) *ConsoleError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", details)).
		WithSuggestion("Run 'assetdesk doctor' to check the configuration").
		WithSuggestion("Review ~/.assetdesk/config.yaml")
}
