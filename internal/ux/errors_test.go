package ux

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
	"github.com/felixgeelhaar/assetdesk/internal/status"
)

func TestFormatError(t *testing.T) {
	err := apperrors.NewServerError("GET", "/loans", 502, "upstream exploded")

	out := FormatError(err, false)
	if !strings.Contains(out, "The server could not complete the request.") {
		t.Errorf("missing user message: %s", out)
	}
	if !strings.Contains(out, "API-001") {
		t.Errorf("missing code: %s", out)
	}
	if strings.Contains(out, "upstream exploded") {
		t.Errorf("server text leaked without verbose: %s", out)
	}

	verbose := FormatError(err, true)
	if !strings.Contains(verbose, "upstream exploded") || !strings.Contains(verbose, "status 502") {
		t.Errorf("verbose output missing detail: %s", verbose)
	}
}

func TestFormatErrorSuggestions(t *testing.T) {
	out := FormatError(apperrors.NewSessionExpiredError("GET", "/loans"), false)
	if !strings.Contains(out, "Run 'assetdesk auth login' to sign in again") {
		t.Errorf("missing suggestion: %s", out)
	}
}

func TestFormatPlainError(t *testing.T) {
	if out := FormatError(errors.New("boom"), false); !strings.Contains(out, "boom") {
		t.Errorf("plain error not shown: %s", out)
	}
	if out := FormatError(nil, true); out != "" {
		t.Errorf("nil error rendered %q", out)
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		in   status.Status
		want string
	}{
		{status.InProgress, "in progress"},
		{status.Overdue, "overdue"},
		{"", "-"},
		{"archived", "archived"},
	}
	for _, tt := range tests {
		if got := StatusLabel(tt.in); got != tt.want {
			t.Errorf("StatusLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if badge := StatusBadge(tt.in); !strings.Contains(badge, tt.want) {
			t.Errorf("StatusBadge(%q) = %q, want it to contain %q", tt.in, badge, tt.want)
		}
	}
}
