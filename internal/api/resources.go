package api

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/felixgeelhaar/assetdesk/internal/status"
)

// Loan is an equipment loan as the API returns it.
type Loan struct {
	ID                  string `json:"id" yaml:"id"`
	AssetID             string `json:"asset_id" yaml:"asset_id"`
	AssetName           string `json:"asset_name,omitempty" yaml:"asset_name,omitempty"`
	BorrowerID          string `json:"borrower_id" yaml:"borrower_id"`
	BorrowerName        string `json:"borrower_name,omitempty" yaml:"borrower_name,omitempty"`
	Status              string `json:"status" yaml:"status"`
	LoanDate            string `json:"loan_date,omitempty" yaml:"loan_date,omitempty"`
	ExpectedCheckinDate string `json:"expected_checkin_date,omitempty" yaml:"expected_checkin_date,omitempty"`
	ActualCheckinDate   string `json:"actual_checkin_date,omitempty" yaml:"actual_checkin_date,omitempty"`
	Notes               string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Record adapts the loan for the status engine.
func (l Loan) Record() status.Record {
	return status.Record{
		Kind:        status.KindLoan,
		Status:      status.Status(l.Status),
		ExpectedAt:  status.ParseTimestamp(l.ExpectedCheckinDate),
		CompletedAt: status.ParseTimestamp(l.ActualCheckinDate),
	}
}

// Ticket is a support ticket as the API returns it.
type Ticket struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Priority    string `json:"priority,omitempty" yaml:"priority,omitempty"`
	Status      string `json:"status" yaml:"status"`
	RequesterID string `json:"requester_id,omitempty" yaml:"requester_id,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty" yaml:"assignee_id,omitempty"`
	AssetID     string `json:"asset_id,omitempty" yaml:"asset_id,omitempty"`
	CreatedAt   string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	DueDate     string `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	ResolvedAt  string `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
}

// Record adapts the ticket for the status engine.
func (t Ticket) Record() status.Record {
	return status.Record{
		Kind:        status.KindTicket,
		Status:      status.Status(t.Status),
		ExpectedAt:  status.ParseTimestamp(t.DueDate),
		CompletedAt: status.ParseTimestamp(t.ResolvedAt),
	}
}

// ListOptions filters list endpoints.
type ListOptions struct {
	Status string
	Limit  int
	Offset int
}

func (o ListOptions) encode(path string) string {
	q := url.Values{}
	if o.Status != "" {
		q.Set("status", o.Status)
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// ListLoans lists loans.
func (c *Client) ListLoans(ctx context.Context, opts ListOptions) ([]Loan, error) {
	var loans []Loan
	if err := c.Get(ctx, opts.encode("/loans"), &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

// GetLoan fetches one loan.
func (c *Client) GetLoan(ctx context.Context, id string) (*Loan, error) {
	var loan Loan
	if err := c.Get(ctx, "/loans/"+url.PathEscape(id), &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

// statusUpdate is the PATCH body for status changes.
type statusUpdate struct {
	Status              status.Status `json:"status"`
	ActualCheckinDate   string        `json:"actual_checkin_date,omitempty"`
	ResolvedAt          string        `json:"resolved_at,omitempty"`
	ClearCompletionDate bool          `json:"clear_completion_date,omitempty"`
}

// UpdateLoanStatus sets a loan's status. Overdue cannot be written; it is
// stored as active and the status engine derives overdue from the dates.
// Marking a loan returned records the check-in time.
func (c *Client) UpdateLoanStatus(ctx context.Context, id, requested string) (*Loan, error) {
	s, err := status.ForWrite(status.KindLoan, requested)
	if err != nil {
		return nil, err
	}

	body := statusUpdate{Status: s}
	if s == status.KindLoan.Terminal() {
		body.ActualCheckinDate = time.Now().UTC().Format(time.RFC3339)
	} else {
		body.ClearCompletionDate = true
	}

	var loan Loan
	if err := c.Patch(ctx, "/loans/"+url.PathEscape(id), body, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

// ListTickets lists tickets.
func (c *Client) ListTickets(ctx context.Context, opts ListOptions) ([]Ticket, error) {
	var tickets []Ticket
	if err := c.Get(ctx, opts.encode("/tickets"), &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// GetTicket fetches one ticket.
func (c *Client) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	var ticket Ticket
	if err := c.Get(ctx, "/tickets/"+url.PathEscape(id), &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// UpdateTicketStatus sets a ticket's status, recording the resolution time
// when it is resolved.
func (c *Client) UpdateTicketStatus(ctx context.Context, id, requested string) (*Ticket, error) {
	s, err := status.ForWrite(status.KindTicket, requested)
	if err != nil {
		return nil, err
	}

	body := statusUpdate{Status: s}
	if s == status.KindTicket.Terminal() {
		body.ResolvedAt = time.Now().UTC().Format(time.RFC3339)
	} else {
		body.ClearCompletionDate = true
	}

	var ticket Ticket
	if err := c.Patch(ctx, "/tickets/"+url.PathEscape(id), body, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// UserUpdate is a partial user edit. Nil fields are left unchanged.
type UserUpdate struct {
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
	FullName *string `json:"full_name,omitempty"`
	Role     *string `json:"role,omitempty"`
	Active   *bool   `json:"active,omitempty"`
}

// GetUser fetches one user account.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	if err := c.Get(ctx, "/users/"+url.PathEscape(id), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser applies update to a user account.
func (c *Client) UpdateUser(ctx context.Context, id string, update UserUpdate) (*User, error) {
	var user User
	if err := c.Patch(ctx, "/users/"+url.PathEscape(id), update, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
