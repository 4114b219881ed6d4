package ux

import (
	"bytes"
	"strings"
	"testing"

	"github.com/felixgeelhaar/assetdesk/internal/status"
)

type loanRow struct {
	ID     string `json:"id" yaml:"id"`
	Status string `json:"status" yaml:"status"`
	Days   int    `json:"days_overdue" yaml:"days_overdue"`
}

type loanRows []loanRow

func (r loanRows) Table(bool) *Table {
	t := &Table{Headers: []string{"ID", "STATUS"}}
	for _, l := range r {
		t.Rows = append(t.Rows, []string{l.ID, l.Status})
	}
	return t
}

func render(t *testing.T, format string, opts FormatterOptions, data any) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	opts.Writer = &buf
	f, err := NewFormatter(format, &opts)
	if err != nil {
		t.Fatalf("NewFormatter(%q): %v", format, err)
	}
	err = f.Format(data)
	return buf.String(), err
}

func TestNewFormatterRejectsUnknownFormat(t *testing.T) {
	for _, format := range []string{"json", "yaml", "table", "text", ""} {
		if _, err := NewFormatter(format, nil); err != nil {
			t.Errorf("NewFormatter(%q): %v", format, err)
		}
	}
	if _, err := NewFormatter("csv", nil); err == nil || !strings.Contains(err.Error(), "table, json, yaml") {
		t.Errorf("NewFormatter(csv) error = %v", err)
	}
}

func TestStructuredFormats(t *testing.T) {
	loan := loanRow{ID: "loan-1", Status: "overdue", Days: 3}
	tests := []struct {
		format string
		opts   FormatterOptions
		want   []string
	}{
		{"json", FormatterOptions{}, []string{`"id": "loan-1"`, `"days_overdue": 3`}},
		{"json", FormatterOptions{Compact: true}, []string{`{"id":"loan-1","status":"overdue","days_overdue":3}`}},
		{"yaml", FormatterOptions{}, []string{"id: loan-1", "status: overdue", "days_overdue: 3"}},
	}
	for _, tt := range tests {
		out, err := render(t, tt.format, tt.opts, loan)
		if err != nil {
			t.Fatalf("%s: %v", tt.format, err)
		}
		for _, want := range tt.want {
			if !strings.Contains(out, want) {
				t.Errorf("%s output missing %q:\n%s", tt.format, want, out)
			}
		}
	}
}

func TestTextFormat(t *testing.T) {
	out, err := render(t, "table", FormatterOptions{NoColor: true}, loanRows{{ID: "loan-2", Status: "returned"}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "loan-2") || !strings.Contains(out, "STATUS") {
		t.Errorf("table output = %q", out)
	}

	out, err = render(t, "text", FormatterOptions{}, "Signed out.")
	if err != nil || strings.TrimSpace(out) != "Signed out." {
		t.Errorf("string output = %q, %v", out, err)
	}

	if _, err := render(t, "text", FormatterOptions{}, loanRow{}); err == nil {
		t.Error("a struct without Table or String should not render as text")
	}
}

func TestTableRender(t *testing.T) {
	out := (&Table{
		Headers: []string{"ID", "STATUS"},
		Rows:    [][]string{{"loan-1", "active"}, {"loan-2", "overdue"}},
	}).Render(true)

	for _, want := range []string{"ID", "STATUS", "loan-1", "overdue"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
	if lines := strings.Count(out, "\n"); lines < 4 {
		t.Errorf("expected header, separator and rows, got %d lines", lines)
	}
}

func TestStatusLabels(t *testing.T) {
	tests := map[status.Status]string{
		status.InProgress: "in progress",
		status.Overdue:    "overdue",
		"":                "-",
	}
	for s, want := range tests {
		if got := StatusLabel(s); got != want {
			t.Errorf("StatusLabel(%q) = %q, want %q", s, got, want)
		}
		if got := StatusBadge(s); !strings.Contains(got, want) {
			t.Errorf("StatusBadge(%q) = %q, want it to contain %q", s, got, want)
		}
	}
}
