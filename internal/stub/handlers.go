package stub

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/assetdesk/internal/api"
	"github.com/felixgeelhaar/assetdesk/internal/status"
)

// oauthError is the RFC 6749 error body.
type oauthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDiscovery serves OIDC metadata rooted at the address the caller used.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	issuer := scheme + "://" + r.Host

	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/oauth/authorize",
		"token_endpoint":                        issuer + "/oauth/token",
		"revocation_endpoint":                   issuer + "/oauth/logout",
		"jwks_uri":                              issuer + "/.well-known/jwks.json",
		"grant_types_supported":                 []string{"password", "refresh_token"},
		"id_token_signing_alg_values_supported": []string{"HS256"},
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, oauthError{Error: "invalid_request"})
		return
	}
	if r.PostForm.Get("client_id") != s.clientID {
		writeJSON(w, http.StatusUnauthorized, oauthError{Error: "invalid_client"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "password":
		s.passwordGrant(w, r.PostForm.Get("username"), r.PostForm.Get("password"))
	case "refresh_token":
		s.refreshGrant(w, r.PostForm.Get("refresh_token"))
	default:
		writeJSON(w, http.StatusBadRequest, oauthError{Error: "unsupported_grant_type"})
	}
}

func (s *Server) passwordGrant(w http.ResponseWriter, email, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(email)
	now := s.now()
	if lo, ok := s.failures[key]; ok && now.Before(lo.until) {
		writeJSON(w, http.StatusTooManyRequests, oauthError{Error: "rate_limited", Description: "too many sign-in attempts"})
		return
	}

	id, ok := s.byEmail[key]
	if !ok {
		writeJSON(w, http.StatusBadRequest, oauthError{Error: "user_not_found", Description: "user not found"})
		return
	}
	account := s.accounts[id]

	if !account.checkPassword(password) {
		lo := s.failures[key]
		if lo == nil {
			lo = &lockout{}
			s.failures[key] = lo
		}
		lo.failures++
		if lo.failures >= s.maxFailures {
			lo.failures = 0
			lo.until = now.Add(s.lockout)
		}
		writeJSON(w, http.StatusBadRequest, oauthError{Error: "invalid_grant", Description: "invalid credentials"})
		return
	}
	delete(s.failures, key)

	if !account.Confirmed {
		writeJSON(w, http.StatusBadRequest, oauthError{Error: "email_not_confirmed", Description: "email not confirmed"})
		return
	}

	sess := &session{id: uuid.NewString(), accountID: account.ID}
	s.sessions[sess.id] = sess
	s.issueLocked(w, *account, sess)
}

func (s *Server) refreshGrant(w http.ResponseWriter, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sid, ok := s.refreshes[refresh]
	if !ok {
		writeJSON(w, http.StatusBadRequest, oauthError{Error: "invalid_grant", Description: "refresh token revoked"})
		return
	}
	sess := s.sessions[sid]
	account, ok := s.accounts[sess.accountID]
	if !ok {
		s.dropSessionLocked(sid)
		writeJSON(w, http.StatusBadRequest, oauthError{Error: "invalid_grant"})
		return
	}

	delete(s.refreshes, refresh)
	s.issueLocked(w, *account, sess)
}

// issueLocked mints an access token and a rotated refresh token for sess.
func (s *Server) issueLocked(w http.ResponseWriter, account Account, sess *session) {
	access, expiresAt, err := s.tokens.issue(account, sess.id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, oauthError{Error: "server_error"})
		return
	}

	sess.refresh = uuid.NewString()
	s.refreshes[sess.refresh] = sess.id

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: sess.refresh,
		ExpiresIn:    int64(expiresAt.Sub(s.now()) / time.Second),
	})
}

// handleLogout revokes the session the presented access token belongs to.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, oauthError{Error: "invalid_request"})
		return
	}

	raw := r.PostForm.Get("token")
	if raw == "" {
		raw = bearer(r)
	}
	claims, err := s.tokens.parse(raw, true)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, oauthError{Error: "invalid_token"})
		return
	}

	s.mu.Lock()
	s.dropSessionLocked(claims.SessionID)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{})
}

// authorize resolves the account behind a bearer token and applies the
// console's access rule. It returns the HTTP status and message to deny with.
func (s *Server) authorize(token string) (*Account, int, string) {
	claims, err := s.tokens.parse(token, false)
	if err != nil {
		return nil, http.StatusUnauthorized, err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[claims.SessionID]; !ok {
		return nil, http.StatusUnauthorized, "session revoked"
	}
	account, ok := s.accounts[claims.Subject]
	if !ok {
		return nil, http.StatusUnauthorized, "unknown subject"
	}
	if !account.Active {
		return nil, http.StatusForbidden, "Account is inactive"
	}
	if account.Role != AdminRole {
		return nil, http.StatusForbidden, "admin role required"
	}
	a := *account
	return &a, http.StatusOK, ""
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req api.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "access_token is required")
		return
	}

	account, code, msg := s.authorize(req.AccessToken)
	if account == nil {
		writeError(w, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, api.VerifyResponse{User: account.user()})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if account, code, msg := s.authorize(bearer(r)); account == nil {
			writeError(w, code, msg)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// page applies limit and offset query parameters.
func page[T any](r *http.Request, items []T) []T {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 || offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request) {
	want := status.Status(r.URL.Query().Get("status"))
	now := s.now()

	s.mu.Lock()
	all := sortedLoans(s.loans)
	s.mu.Unlock()

	loans := make([]api.Loan, 0, len(all))
	for _, l := range all {
		if want == "" || status.Derive(l.Record(), now) == want {
			loans = append(loans, l)
		}
	}
	writeJSON(w, http.StatusOK, page(r, loans))
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	loan, ok := s.loans[chi.URLParam(r, "id")]
	var out api.Loan
	if ok {
		out = *loan
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "loan not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// statusPatch is the body of a status change.
type statusPatch struct {
	Status              status.Status `json:"status"`
	ActualCheckinDate   string        `json:"actual_checkin_date"`
	ResolvedAt          string        `json:"resolved_at"`
	ClearCompletionDate bool          `json:"clear_completion_date"`
}

func decodeStatusPatch(w http.ResponseWriter, r *http.Request, kind status.Kind) (*statusPatch, bool) {
	var patch statusPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return nil, false
	}
	for _, allowed := range status.Selectable(kind) {
		if patch.Status == allowed {
			return &patch, true
		}
	}
	writeError(w, http.StatusUnprocessableEntity, "invalid status "+string(patch.Status))
	return nil, false
}

func (s *Server) handleUpdateLoan(w http.ResponseWriter, r *http.Request) {
	patch, ok := decodeStatusPatch(w, r, status.KindLoan)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loan, ok := s.loans[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "loan not found")
		return
	}
	loan.Status = string(patch.Status)
	switch {
	case patch.ActualCheckinDate != "":
		loan.ActualCheckinDate = patch.ActualCheckinDate
	case patch.ClearCompletionDate:
		loan.ActualCheckinDate = ""
	}
	writeJSON(w, http.StatusOK, *loan)
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	want := status.Status(r.URL.Query().Get("status"))
	now := s.now()

	s.mu.Lock()
	all := sortedTickets(s.tickets)
	s.mu.Unlock()

	tickets := make([]api.Ticket, 0, len(all))
	for _, t := range all {
		if want == "" || status.Derive(t.Record(), now) == want {
			tickets = append(tickets, t)
		}
	}
	writeJSON(w, http.StatusOK, page(r, tickets))
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ticket, ok := s.tickets[chi.URLParam(r, "id")]
	var out api.Ticket
	if ok {
		out = *ticket
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "ticket not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	patch, ok := decodeStatusPatch(w, r, status.KindTicket)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "ticket not found")
		return
	}
	ticket.Status = string(patch.Status)
	switch {
	case patch.ResolvedAt != "":
		ticket.ResolvedAt = patch.ResolvedAt
	case patch.ClearCompletionDate:
		ticket.ResolvedAt = ""
	}
	writeJSON(w, http.StatusOK, *ticket)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	account, ok := s.accounts[chi.URLParam(r, "id")]
	var out api.User
	if ok {
		out = account.user()
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleUpdateUser edits an account. Existing sessions stay valid; the new
// role and active flag apply from the next privileged check.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var update api.UserUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	edited := *account
	if update.Password != nil && *update.Password != "" {
		if err := edited.setPassword(*update.Password); err != nil {
			writeError(w, http.StatusBadRequest, "password cannot be used")
			return
		}
	}

	if update.Email != nil && !strings.EqualFold(*update.Email, account.Email) {
		key := strings.ToLower(*update.Email)
		if _, taken := s.byEmail[key]; taken {
			writeError(w, http.StatusConflict, "email already in use")
			return
		}
		delete(s.byEmail, strings.ToLower(account.Email))
		s.byEmail[key] = account.ID
		account.Email = *update.Email
	}
	account.PasswordHash = edited.PasswordHash
	if update.FullName != nil {
		account.FullName = *update.FullName
	}
	if update.Role != nil {
		account.Role = *update.Role
	}
	if update.Active != nil {
		account.Active = *update.Active
	}

	writeJSON(w, http.StatusOK, account.user())
}
