package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
	"github.com/felixgeelhaar/assetdesk/internal/status"
)

func TestLoanRecord(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		loan Loan
		want status.Status
	}{
		{"active in time", Loan{Status: "active", ExpectedCheckinDate: "2026-05-20"}, status.Active},
		{"past due", Loan{Status: "active", ExpectedCheckinDate: "2026-05-01T12:00:00Z"}, status.Overdue},
		{"checked in but label lags", Loan{Status: "active", ExpectedCheckinDate: "2026-05-01", ActualCheckinDate: "2026-05-02"}, status.Returned},
		{"empty status", Loan{}, status.Active},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Derive(tt.loan.Record(), now))
		})
	}
}

func TestTicketRecord(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, status.Pending, status.Derive(Ticket{}.Record(), now))
	assert.Equal(t, status.Overdue, status.Derive(Ticket{Status: "in_progress", DueDate: "2026-05-09"}.Record(), now))
	assert.Equal(t, status.Resolved, status.Derive(Ticket{Status: "in_progress", ResolvedAt: "2026-05-09T10:00:00Z"}.Record(), now))
}

func TestListLoansQuery(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []Loan{{ID: "l-1", Status: "active"}, {ID: "l-2", Status: "returned"}})
	})
	c := newTestClient(t, api.server.URL, &fakeCredentials{authenticated: true, token: "tok"}, nil)

	loans, err := c.ListLoans(context.Background(), ListOptions{Status: "active", Limit: 20})
	require.NoError(t, err)
	require.Len(t, loans, 2)
	assert.Equal(t, "l-2", loans[1].ID)

	reqs := api.recorded()
	assert.Equal(t, "/loans?limit=20&status=active", reqs[0].Path)

	_, err = c.ListTickets(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/tickets", api.recorded()[1].Path)
}

func TestGetLoanEscapesID(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Loan{ID: "a/b"})
	})
	c := newTestClient(t, api.server.URL, &fakeCredentials{authenticated: true, token: "tok"}, nil)

	loan, err := c.GetLoan(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, "a/b", loan.ID)
	assert.Equal(t, "/loans/a%2Fb", api.recorded()[0].Path)
}

func TestUpdateLoanStatus(t *testing.T) {
	tests := []struct {
		name          string
		requested     string
		wantStatus    string
		wantCheckedIn bool
	}{
		{"overdue is stored as active", "overdue", "active", false},
		{"returned records check-in", "Returned", "returned", true},
		{"lost", "lost", "lost", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, Loan{ID: "l-1", Status: tt.wantStatus})
			})
			c := newTestClient(t, api.server.URL, &fakeCredentials{authenticated: true, token: "tok"}, nil)

			loan, err := c.UpdateLoanStatus(context.Background(), "l-1", tt.requested)
			require.NoError(t, err)
			assert.Equal(t, "l-1", loan.ID)

			req := api.recorded()[0]
			assert.Equal(t, http.MethodPatch, req.Method)
			assert.Equal(t, "/loans/l-1", req.Path)

			var body map[string]any
			require.NoError(t, json.Unmarshal([]byte(req.Body), &body))
			assert.Equal(t, tt.wantStatus, body["status"])
			_, hasCheckin := body["actual_checkin_date"]
			assert.Equal(t, tt.wantCheckedIn, hasCheckin)
		})
	}
}

func TestUpdateStatusRejectsUnknownLabel(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	c := newTestClient(t, api.server.URL, &fakeCredentials{authenticated: true, token: "tok"}, nil)

	_, err := c.UpdateLoanStatus(context.Background(), "l-1", "archived")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidStatus))

	_, err = c.UpdateTicketStatus(context.Background(), "t-1", "returned")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidStatus))

	assert.Zero(t, api.count.Load())
}

func TestUpdateTicketStatusResolved(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Ticket{ID: "t-1", Status: "resolved"})
	})
	c := newTestClient(t, api.server.URL, &fakeCredentials{authenticated: true, token: "tok"}, nil)

	ticket, err := c.UpdateTicketStatus(context.Background(), "t-1", "resolved")
	require.NoError(t, err)
	assert.Equal(t, "resolved", ticket.Status)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(api.recorded()[0].Body), &body))
	assert.NotEmpty(t, body["resolved_at"])
}

func TestUpdateUserSendsOnlySetFields(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, User{ID: "u-1", FullName: "New Name"})
	})
	c := newTestClient(t, api.server.URL, &fakeCredentials{authenticated: true, token: "tok"}, nil)

	name := "New Name"
	user, err := c.UpdateUser(context.Background(), "u-1", UserUpdate{FullName: &name})
	require.NoError(t, err)
	assert.Equal(t, "New Name", user.FullName)
	assert.JSONEq(t, `{"full_name":"New Name"}`, api.recorded()[0].Body)
}
