package ux

import (
	"fmt"
	"strings"

	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
)

// FormatError renders err for the terminal.
//
// Console errors show their stable user message, the code and any
// suggestions; the underlying detail is only included when verbose is set.
// Other errors are shown as-is.
func FormatError(err error, verbose bool) string {
	if err == nil {
		return ""
	}

	ce, ok := apperrors.As(err)
	if !ok {
		return ErrorStyle.Render("Error: ") + err.Error()
	}

	var b strings.Builder
	b.WriteString(ErrorStyle.Render("Error: "))
	b.WriteString(ce.UserMessage())
	b.WriteString(" ")
	b.WriteString(MutedStyle.Render(fmt.Sprintf("[%s]", ce.Code)))

	if verbose {
		b.WriteString("\n")
		b.WriteString(MutedStyle.Render(detail(ce)))
	}

	for _, s := range ce.Suggestions {
		b.WriteString("\n  • ")
		b.WriteString(s)
	}
	if ce.DocsURL != "" {
		b.WriteString("\n  ")
		b.WriteString(MutedStyle.Render("Docs: " + ce.DocsURL))
	}
	return b.String()
}

func detail(ce *apperrors.ConsoleError) string {
	var b strings.Builder
	b.WriteString(ce.Message)
	if ce.Method != "" || ce.Endpoint != "" {
		fmt.Fprintf(&b, " (%s %s", ce.Method, ce.Endpoint)
		if ce.Status != 0 {
			fmt.Fprintf(&b, ", status %d", ce.Status)
		}
		b.WriteString(")")
	}
	if ce.Cause != nil {
		fmt.Fprintf(&b, ": %v", ce.Cause)
	}
	return b.String()
}
