// Package status derives the display status of loan and ticket records.
//
// The derived status is never persisted. Every screen that shows a record's
// status (list, detail, edit pre-fill) calls Derive so that the same
// precedence applies everywhere:
//
//  1. stored status equal to the terminal label wins
//  2. a completion timestamp implies the terminal label
//  3. an expected timestamp strictly before now yields Overdue
//  4. otherwise the stored status, or the kind's default when empty
package status

import (
	"strings"
	"time"

	"github.com/felixgeelhaar/assetdesk/internal/errors"
)

// Status is a record status label.
type Status string

const (
	Active   Status = "active"
	Pending  Status = "pending"
	Overdue  Status = "overdue"
	Returned Status = "returned"
	Resolved Status = "resolved"

	InProgress Status = "in_progress"
	Lost       Status = "lost"
	Closed     Status = "closed"
)

// String returns the label.
func (s Status) String() string {
	return string(s)
}

// Kind identifies the record type a status belongs to.
type Kind string

const (
	KindLoan   Kind = "loan"
	KindTicket Kind = "ticket"
)

// Terminal returns the label that closes a record of this kind.
func (k Kind) Terminal() Status {
	if k == KindTicket {
		return Resolved
	}
	return Returned
}

// Default returns the status shown when the stored status is empty.
func (k Kind) Default() Status {
	if k == KindTicket {
		return Pending
	}
	return Active
}

// selectable lists the statuses users may pick, in display order.
var selectable = map[Kind][]Status{
	KindLoan:   {Active, Returned, Lost},
	KindTicket: {Pending, InProgress, Resolved, Closed},
}

// Record is the subset of a loan or ticket the engine reads.
type Record struct {
	Kind Kind

	// Status is the explicit stored label.
	Status Status

	// ExpectedAt is the expected check-in or due date.
	ExpectedAt *time.Time

	// CompletedAt is the actual check-in or resolution timestamp.
	CompletedAt *time.Time
}

// Derive computes the display status of rec at now.
func Derive(rec Record, now time.Time) Status {
	stored := normalize(rec.Status)
	terminal := rec.Kind.Terminal()

	if stored == terminal {
		return terminal
	}

	if rec.CompletedAt != nil {
		return terminal
	}

	if rec.ExpectedAt != nil && rec.ExpectedAt.Before(now) {
		return Overdue
	}

	// Overdue is derived only; a stored overdue label is stale.
	if stored == "" || stored == Overdue {
		return rec.Kind.Default()
	}
	return stored
}

// Current derives the status of rec at the current time.
func Current(rec Record) Status {
	return Derive(rec, time.Now())
}

// IsOverdue reports whether rec derives to Overdue at now.
func IsOverdue(rec Record, now time.Time) bool {
	return Derive(rec, now) == Overdue
}

// Selectable returns the statuses a user may choose for kind. Overdue is never included.
func Selectable(kind Kind) []Status {
	statuses := selectable[kind]
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

// EditDefault returns the value an edit form should pre-fill for rec.
// A derived Overdue pre-fills as the stored (or default) status since it cannot be selected.
func EditDefault(rec Record, now time.Time) Status {
	derived := Derive(rec, now)
	if derived != Overdue {
		return derived
	}
	stored := normalize(rec.Status)
	if stored == "" || stored == Overdue {
		return rec.Kind.Default()
	}
	return stored
}

// ForWrite returns the label to persist when a user requests status for a
// record of kind. Overdue is rewritten to the kind's default so that the
// engine, not the stored label, decides whether the record shows as overdue.
func ForWrite(kind Kind, requested string) (Status, error) {
	s := normalize(Status(requested))
	if s == Overdue {
		return kind.Default(), nil
	}
	for _, allowed := range selectable[kind] {
		if s == allowed {
			return s, nil
		}
	}
	return "", errors.NewInvalidStatusError(requested, labels(selectable[kind]))
}

// ParseTimestamp parses an API timestamp. It accepts RFC 3339 and plain
// dates; an empty or unparseable value is treated as absent.
func ParseTimestamp(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

func normalize(s Status) Status {
	return Status(strings.ToLower(strings.TrimSpace(string(s))))
}

func labels(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
