// Package stub is an in-memory stand-in for the console API and its identity
// provider.
//
// It speaks the same wire formats the client expects: an OAuth2 token
// endpoint with password and refresh grants, a revocation endpoint, OIDC
// discovery metadata, the privileged /auth/login check and the loan, ticket
// and user resources. Tests run it under httptest; `assetdesk stub` serves it
// for local development.
package stub

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/felixgeelhaar/assetdesk/internal/api"
	"github.com/felixgeelhaar/assetdesk/internal/log"
)

const (
	// ClientID is the OAuth2 client the stub accepts by default.
	ClientID = "assetdesk-console"

	// AdminRole is the role the console requires.
	AdminRole = "admin"
)

// Config configures a stub backend.
type Config struct {
	Seed Seed

	// SigningKey signs access tokens. Default: a fixed development key.
	SigningKey []byte

	// ClientID is the accepted OAuth2 client. Default: ClientID.
	ClientID string

	// AccessTTL is the access token lifetime. Default: 1 hour.
	AccessTTL time.Duration

	// MaxFailedLogins is how many consecutive bad passwords an account may
	// submit before further attempts are rate limited. Default: 5.
	MaxFailedLogins int

	// LockoutPeriod is how long the rate limit lasts. Default: 1 minute.
	LockoutPeriod time.Duration

	Logger *log.Logger

	// Now overrides the clock.
	Now func() time.Time
}

// session is one identity-provider sign-in.
type session struct {
	id        string
	accountID string
	refresh   string
}

type lockout struct {
	failures int
	until    time.Time
}

// Server is the stub backend.
type Server struct {
	tokens      *tokenIssuer
	clientID    string
	maxFailures int
	lockout     time.Duration
	logger      *log.Logger
	now         func() time.Time

	mu        sync.Mutex
	accounts  map[string]*Account // by ID
	byEmail   map[string]string   // email -> ID
	loans     map[string]*api.Loan
	tickets   map[string]*api.Ticket
	sessions  map[string]*session // by session ID
	refreshes map[string]string   // refresh token -> session ID
	failures  map[string]*lockout // by email
}

// New creates a stub backend from cfg.
func New(cfg Config) *Server {
	if cfg.SigningKey == nil {
		cfg.SigningKey = []byte("assetdesk-stub-development-key")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = ClientID
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.MaxFailedLogins == 0 {
		cfg.MaxFailedLogins = 5
	}
	if cfg.LockoutPeriod == 0 {
		cfg.LockoutPeriod = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = log.DefaultLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		tokens: &tokenIssuer{
			signingKey: cfg.SigningKey,
			issuer:     "assetdesk-stub",
			ttl:        cfg.AccessTTL,
			now:        cfg.Now,
		},
		clientID:    cfg.ClientID,
		maxFailures: cfg.MaxFailedLogins,
		lockout:     cfg.LockoutPeriod,
		logger:      cfg.Logger.With("component", "stub"),
		now:         cfg.Now,
		accounts:    make(map[string]*Account),
		byEmail:     make(map[string]string),
		loans:       make(map[string]*api.Loan),
		tickets:     make(map[string]*api.Ticket),
		sessions:    make(map[string]*session),
		refreshes:   make(map[string]string),
		failures:    make(map[string]*lockout),
	}

	for _, a := range cfg.Seed.Accounts {
		a := a
		if a.Password != "" {
			if err := a.setPassword(a.Password); err != nil {
				s.logger.Warn("seed account cannot sign in", "email", a.Email, "error", err)
			}
		}
		s.accounts[a.ID] = &a
		s.byEmail[strings.ToLower(a.Email)] = a.ID
	}
	for _, l := range cfg.Seed.Loans {
		l := l
		s.loans[l.ID] = &l
	}
	for _, t := range cfg.Seed.Tickets {
		t := t
		s.tickets[t.ID] = &t
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/.well-known/openid-configuration", s.handleDiscovery)

	r.Route("/oauth", func(rr chi.Router) {
		rr.Post("/token", s.handleToken)
		rr.Post("/logout", s.handleLogout)
	})

	r.Post(api.VerifyPath, s.handleVerify)

	r.Group(func(rr chi.Router) {
		rr.Use(s.requireAdmin)

		rr.Route("/loans", func(lr chi.Router) {
			lr.Get("/", s.handleListLoans)
			lr.Get("/{id}", s.handleGetLoan)
			lr.Patch("/{id}", s.handleUpdateLoan)
		})
		rr.Route("/tickets", func(tr chi.Router) {
			tr.Get("/", s.handleListTickets)
			tr.Get("/{id}", s.handleGetTicket)
			tr.Patch("/{id}", s.handleUpdateTicket)
		})
		rr.Route("/users", func(ur chi.Router) {
			ur.Get("/{id}", s.handleGetUser)
			ur.Patch("/{id}", s.handleUpdateUser)
		})
	})

	return r
}

// RevokeSessions ends every identity session of the account with email, as
// an administrator would from the provider console. It reports whether the
// account exists.
func (s *Server) RevokeSessions(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return false
	}
	for sid, sess := range s.sessions {
		if sess.accountID == id {
			s.dropSessionLocked(sid)
		}
	}
	return true
}

// SetRole changes an account's role without ending its sessions.
func (s *Server) SetRole(email, role string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return false
	}
	s.accounts[id].Role = role
	return true
}

// ActiveSessions counts live identity sessions.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) dropSessionLocked(sid string) {
	if sess, ok := s.sessions[sid]; ok {
		delete(s.refreshes, sess.refresh)
		delete(s.sessions, sid)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("stub request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func sortedLoans(m map[string]*api.Loan) []api.Loan {
	out := make([]api.Loan, 0, len(m))
	for _, l := range m {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedTickets(m map[string]*api.Ticket) []api.Ticket {
	out := make([]api.Ticket, 0, len(m))
	for _, t := range m {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
