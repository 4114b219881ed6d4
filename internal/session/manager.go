// Package session owns the console's single source of truth for who is
// signed in.
//
// The Manager merges three asynchronous sources into one state: the initial
// resolution of a stored session, the identity provider's event stream, and a
// periodic liveness check. Every state write goes through one transition
// function. Async steps (login, re-verification) capture the generation when
// they start and commit only if no other transition happened meanwhile and
// their provider session has not been reported ended, so a sign-out always
// wins over an in-flight login, never the reverse. A sign-out event naming a
// session that is already gone, such as the echo of the manager's own
// logout, does not abort an unrelated login.
package session

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/assetdesk/internal/api"
	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
	"github.com/felixgeelhaar/assetdesk/internal/identity"
	"github.com/felixgeelhaar/assetdesk/internal/log"
	"github.com/felixgeelhaar/assetdesk/internal/metrics"
	"github.com/felixgeelhaar/assetdesk/internal/telemetry"
	"github.com/felixgeelhaar/assetdesk/internal/tokencache"
)

const (
	// DefaultLivenessInterval is how often the provider session is confirmed.
	DefaultLivenessInterval = time.Minute

	// DefaultSelfEditLogoutDelay is how long after a critical self edit the
	// forced logout happens.
	DefaultSelfEditLogoutDelay = 1500 * time.Millisecond

	// backgroundTimeout bounds provider and API calls the manager makes on its own.
	backgroundTimeout = 30 * time.Second

	// endedTokensKept bounds how many ended provider sessions are remembered.
	endedTokensKept = 16
)

// Verifier runs the privileged server-side check. *api.Client implements it.
type Verifier interface {
	Verify(ctx context.Context, accessToken string) (*api.User, error)
}

// Options configures a Manager.
type Options struct {
	Provider identity.Provider
	Verifier Verifier

	// Cache mirrors the token across process runs. Default: in-memory.
	Cache tokencache.Cache

	// LivenessInterval defaults to one minute. Negative disables the check.
	LivenessInterval time.Duration

	// SelfEditLogoutDelay defaults to 1.5s.
	SelfEditLogoutDelay time.Duration

	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// Manager owns the session state.
type Manager struct {
	provider      identity.Provider
	verifier      Verifier
	cache         tokencache.Cache
	interval      time.Duration
	selfEditDelay time.Duration
	logger        *log.Logger
	metrics       *metrics.Metrics

	mu   sync.Mutex
	gen  uint64
	snap Snapshot

	// ended holds access tokens whose provider session a SignedOut event
	// reported over, newest last.
	ended []string

	// pending queues committed changes for delivery, in commit order.
	pending      []change
	listeners    map[int]func(Snapshot)
	nextListener int

	// notifyMu serializes delivery. It is never acquired while mu is held.
	notifyMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce   sync.Once
	closeOnce   sync.Once
	unsubscribe func()

	timersMu sync.Mutex
	timers   []*time.Timer
	closed   bool
}

// New creates a Manager in the Resolving state. Call Start to resolve the
// stored session and begin consuming provider events.
func New(opts Options) (*Manager, error) {
	if opts.Provider == nil {
		return nil, apperrors.NewConfigInvalidError("session manager requires an identity provider")
	}
	if opts.Verifier == nil {
		return nil, apperrors.NewConfigInvalidError("session manager requires a verifier")
	}
	if opts.Cache == nil {
		opts.Cache = tokencache.NewMemoryCache()
	}
	if opts.LivenessInterval == 0 {
		opts.LivenessInterval = DefaultLivenessInterval
	}
	if opts.SelfEditLogoutDelay == 0 {
		opts.SelfEditLogoutDelay = DefaultSelfEditLogoutDelay
	}
	if opts.Logger == nil {
		opts.Logger = log.DefaultLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		provider:      opts.Provider,
		verifier:      opts.Verifier,
		cache:         opts.Cache,
		interval:      opts.LivenessInterval,
		selfEditDelay: opts.SelfEditLogoutDelay,
		logger:        opts.Logger.With("component", "session"),
		metrics:       opts.Metrics,
		snap:          Snapshot{State: Resolving, Loading: true},
		listeners:     make(map[int]func(Snapshot)),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start resolves the stored session and starts the event loop. It returns
// the error that prevented an existing session from being restored, or nil
// when there was none or it was restored. Later calls do nothing.
func (m *Manager) Start(ctx context.Context) error {
	var err error
	m.startOnce.Do(func() {
		events, unsubscribe := m.provider.Subscribe()
		m.unsubscribe = unsubscribe

		m.wg.Add(1)
		go m.run(events)

		err = m.resolve(ctx)
	})
	return err
}

// resolve is the initial transition out of Resolving.
func (m *Manager) resolve(ctx context.Context) error {
	ctx, span := telemetry.StartSessionSpan(ctx, "resolve")
	defer span.End()

	gen := m.generation()

	sess, err := m.provider.Session(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("failed to read identity session; starting signed out")
		m.forceLogout("resolve", "", err)
		telemetry.RecordError(span, err)
		return err
	}
	if sess == nil || sess.AccessToken == "" {
		m.forceLogout("resolve", "", nil)
		telemetry.RecordSuccess(span, attribute.Bool("session.restored", false))
		return nil
	}

	user, err := m.verifier.Verify(ctx, sess.AccessToken)
	if err != nil {
		// Terminate the provider session so the two never drift apart.
		m.signOutProvider(ctx, "restored session failed privileged check")
		m.forceLogout("resolve", "", err)
		telemetry.RecordError(span, err)
		return err
	}

	if !m.authenticate("resolve", gen, user, sess.AccessToken) {
		// The stored session ended while it was being verified.
		m.commit(transition{op: "resolve", guarded: true, expect: gen, bump: true, next: unauthenticated(nil)})
		telemetry.RecordSuccess(span, attribute.Bool("session.restored", false))
		return nil
	}
	telemetry.RecordSuccess(span, attribute.Bool("session.restored", true))
	return nil
}

// Login signs in with the identity provider and runs the privileged check.
// Only a passing check yields Authenticated. A failed check signs the
// provider session out again.
func (m *Manager) Login(ctx context.Context, email, password string) (*api.User, error) {
	ctx, span := telemetry.StartSessionSpan(ctx, "login")
	defer span.End()

	gen := m.generation()

	sess, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		m.logger.WithError(err).Info("sign-in rejected by identity provider", "email", email)
		telemetry.RecordError(span, err)
		return nil, err
	}

	user, err := m.verifier.Verify(ctx, sess.AccessToken)
	if err != nil {
		m.signOutProvider(ctx, "privileged check failed after sign-in")
		err = loginDenial(err)
		m.forceLogout("login", "", err)
		telemetry.RecordError(span, err)
		return nil, err
	}

	if !m.authenticate("login", gen, user, sess.AccessToken) {
		if m.State() != Authenticated {
			m.signOutProvider(ctx, "login superseded by sign-out")
		}
		err := apperrors.New(apperrors.ErrCodeNotAuthenticated, "signed out while login was in progress").
			WithSuggestion("Sign in again")
		telemetry.RecordError(span, err)
		return nil, err
	}

	m.logger.WithToken(sess.AccessToken).Info("signed in", "user_id", user.ID, "role", user.Role)
	telemetry.RecordSuccess(span, attribute.String("user.role", user.Role))
	u := *user
	return &u, nil
}

// Logout signs out of the identity provider and clears the local session
// even when the provider call fails. The provider error is returned.
func (m *Manager) Logout(ctx context.Context) error {
	ctx, span := telemetry.StartSessionSpan(ctx, "logout")
	defer span.End()

	err := m.provider.SignOut(ctx)
	m.forceLogout("logout", "", nil)

	if err != nil {
		m.logger.WithError(err).Warn("identity sign-out failed; local session cleared")
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.RecordSuccess(span)
	return nil
}

// Token returns a fresh access token for an API call. The provider may have
// rotated the token silently, so its current session is read first and the
// cache is updated to match.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if !m.Authenticated() {
		return "", apperrors.NewNotAuthenticatedError("", "")
	}

	sess, err := m.provider.Session(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil || sess.AccessToken == "" {
		return "", nil
	}

	m.updateToken(sess.AccessToken)
	return sess.AccessToken, nil
}

// CachedToken returns the last known token without any I/O. It may be one
// rotation behind. While resolving, the durable cache bridges the gap.
func (m *Manager) CachedToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.snap.Token != "" {
		return m.snap.Token
	}
	if m.snap.State == Resolving {
		token, err := m.cache.Load()
		if err == nil {
			return token
		}
	}
	return ""
}

// RefreshToken forces a token rotation. It returns an empty token when the
// provider no longer has a session.
func (m *Manager) RefreshToken(ctx context.Context) (string, error) {
	sess, err := m.provider.Refresh(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", nil
	}
	m.updateToken(sess.AccessToken)
	return sess.AccessToken, nil
}

// Authenticated reports whether a user is signed in.
func (m *Manager) Authenticated() bool {
	return m.State() == Authenticated
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.State
}

// Snapshot returns the current session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.clone()
}

// User returns the signed-in user, or nil.
func (m *Manager) User() *api.User {
	return m.Snapshot().User
}

// OnChange registers fn to be called after every state change, in commit
// order. fn must not call Login, Logout or Close synchronously. The returned
// function unregisters it.
func (m *Manager) OnChange(fn func(Snapshot)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// AfterSelfEdit applies the self-edit rule: when userID is the signed-in user
// and change touches a credential-relevant field, a logout is scheduled
// shortly after. It reports whether one was scheduled.
func (m *Manager) AfterSelfEdit(userID string, change AccountChange) bool {
	user := m.User()
	if user == nil || user.ID != userID || !RequiresLogout(change) {
		return false
	}

	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if m.closed {
		return false
	}

	m.logger.Info("own account changed; signing out", "user_id", userID, "delay", m.selfEditDelay.String())
	m.timers = append(m.timers, time.AfterFunc(m.selfEditDelay, func() {
		ctx, cancel := context.WithTimeout(m.ctx, backgroundTimeout)
		defer cancel()
		_ = m.Logout(ctx)
	}))
	return true
}

// Close stops the event loop, the liveness check and any scheduled logout.
// It is safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.timersMu.Lock()
		m.closed = true
		for _, t := range m.timers {
			t.Stop()
		}
		m.timers = nil
		m.timersMu.Unlock()

		m.cancel()
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		m.wg.Wait()
	})
}

// run consumes provider events and the liveness ticker.
func (m *Manager) run(events <-chan identity.Event) {
	defer m.wg.Done()

	var tick <-chan time.Time
	if m.interval > 0 {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-m.ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(e)
		case <-tick:
			m.checkLiveness()
		}
	}
}

func (m *Manager) handleEvent(e identity.Event) {
	// Counted once handled, so the count orders after the event's effect.
	defer func() {
		if m.metrics != nil {
			m.metrics.IdentityEvents.WithLabelValues(string(e.Type)).Inc()
		}
	}()

	switch e.Type {
	case identity.SignedOut:
		m.providerSignedOut(e.Session)

	case identity.SignedIn:
		if e.Session != nil {
			m.updateToken(e.Session.AccessToken)
		}

	case identity.TokenRefreshed:
		if e.Session == nil || !m.updateToken(e.Session.AccessToken) {
			return
		}
		gen := m.generation()
		token := e.Session.AccessToken
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.reverify(gen, token)
		}()
	}
}

// providerSignedOut applies a SignedOut event. An event that does not say
// which session ended signs out unconditionally. Otherwise the ended token is
// remembered so an in-flight login or restore of that session cannot commit;
// the current session ends only when it is the one reported, or when the
// provider confirms it is gone.
func (m *Manager) providerSignedOut(ended *identity.Session) {
	if ended == nil || ended.AccessToken == "" {
		m.forceLogout("signed_out_event", "identity provider signed out", nil)
		return
	}

	m.mu.Lock()
	m.ended = append(m.ended, ended.AccessToken)
	if len(m.ended) > endedTokensKept {
		m.ended = m.ended[len(m.ended)-endedTokensKept:]
	}
	authed := m.snap.State == Authenticated
	current := m.snap.Token
	m.mu.Unlock()

	switch {
	case !authed:
	case current == ended.AccessToken:
		m.forceLogout("signed_out_event", "identity provider signed out", nil)
	default:
		// The token may have rotated without an event reaching us.
		m.checkLiveness()
	}
}

// endedLocked reports whether token belongs to a session reported ended.
func (m *Manager) endedLocked(token string) bool {
	for _, t := range m.ended {
		if t == token {
			return true
		}
	}
	return false
}

// reverify re-runs the privileged check after a token rotation. A token the
// server no longer accepts clears the user; transient failures do not.
func (m *Manager) reverify(gen uint64, token string) {
	ctx, cancel := context.WithTimeout(m.ctx, backgroundTimeout)
	defer cancel()

	ctx, span := telemetry.StartSessionSpan(ctx, "reverify")
	defer span.End()

	user, err := m.verifier.Verify(ctx, token)
	if err != nil {
		telemetry.RecordError(span, err)
		if !revoked(err) {
			m.logger.WithError(err).Warn("re-verification after token refresh failed; keeping session")
			return
		}
		if m.generation() != gen {
			return
		}
		m.logger.WithError(err).Warn("refreshed token no longer passes privileged check")
		m.signOutProvider(ctx, "refreshed token revoked")
		m.forceLogout("reverify", "privileged check failed after token refresh", err)
		return
	}

	m.commit(transition{op: "reverify", guarded: true, expect: gen, authOnly: true, next: func(cur Snapshot) Snapshot {
		cur.User = user
		return cur
	}})
	telemetry.RecordSuccess(span)
}

// checkLiveness confirms the provider session still exists.
func (m *Manager) checkLiveness() {
	if !m.Authenticated() {
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, backgroundTimeout)
	defer cancel()

	ctx, span := telemetry.StartSessionSpan(ctx, "liveness")
	defer span.End()

	sess, err := m.provider.Session(ctx)
	switch {
	case err != nil:
		m.recordCheck("error")
		m.logger.WithError(err).Warn("liveness check failed; keeping session")
		telemetry.RecordError(span, err)
	case sess == nil || sess.AccessToken == "":
		m.recordCheck("expired")
		m.forceLogout("liveness", "identity session no longer present",
			apperrors.New(apperrors.ErrCodeSessionExpired, "identity session expired"))
		telemetry.RecordSuccess(span, attribute.Bool("session.present", false))
	default:
		m.recordCheck("ok")
		m.updateToken(sess.AccessToken)
		telemetry.RecordSuccess(span, attribute.Bool("session.present", true))
	}
}

func (m *Manager) recordCheck(result string) {
	if m.metrics != nil {
		m.metrics.SessionChecks.WithLabelValues(result).Inc()
	}
}

// updateToken records a rotated token while a user is signed in. It reports
// whether the session is authenticated. Token rotation does not advance the
// generation.
func (m *Manager) updateToken(token string) bool {
	if token == "" {
		return false
	}
	applied, _ := m.commit(transition{op: "token", authOnly: true, next: func(cur Snapshot) Snapshot {
		cur.Token = token
		return cur
	}})
	return applied
}

func (m *Manager) signOutProvider(ctx context.Context, reason string) {
	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.WithError(err).Warn("failed to terminate identity session", "reason", reason)
	}
}

func (m *Manager) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// transition describes one state write.
type transition struct {
	op string

	// guarded transitions apply only if the generation still equals expect.
	guarded bool
	expect  uint64

	// authOnly transitions apply only while Authenticated.
	authOnly bool

	// session, when set, is the access token the transition signs in with.
	// It does not apply once that provider session was reported ended.
	session string

	// bump advances the generation, invalidating every in-flight guarded
	// transition. Token and user refreshes do not bump.
	bump bool

	next func(cur Snapshot) Snapshot
}

// change is a committed transition awaiting delivery to listeners.
type change struct {
	op         string
	prev, next Snapshot
}

// commit is the single place session state changes. It reports whether the
// transition applied and whether the visible state changed. A change is
// delivered to listeners before commit returns.
func (m *Manager) commit(t transition) (applied, changed bool) {
	m.mu.Lock()

	if (t.guarded && m.gen != t.expect) ||
		(t.authOnly && m.snap.State != Authenticated) ||
		(t.session != "" && m.endedLocked(t.session)) {
		m.mu.Unlock()
		m.logger.Debug("discarding stale session transition", "op", t.op)
		return false, false
	}

	prev := m.snap
	next := t.next(prev)
	if t.bump {
		m.gen++
	}
	m.snap = next

	// The durable cache is written under mu so it never lags a later transition.
	if prev.Token != next.Token || next.State == Unauthenticated {
		m.syncCache(next.Token)
	}

	changed = prev.State != next.State || prev.Token != next.Token ||
		prev.Loading != next.Loading || !sameUser(prev.User, next.User)
	if changed {
		m.pending = append(m.pending, change{op: t.op, prev: prev, next: next.clone()})
	}
	m.mu.Unlock()

	if changed {
		m.deliver()
	}
	return true, changed
}

// deliver hands queued changes to listeners in commit order. Whichever
// committer holds notifyMu drains the queue, so a change queued behind a
// running listener is delivered by the time its own commit returns. mu is
// released while listeners run; they may read the session freely.
func (m *Manager) deliver() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return
		}
		c := m.pending[0]
		m.pending = m.pending[1:]
		listeners := make([]func(Snapshot), 0, len(m.listeners))
		for _, fn := range m.listeners {
			listeners = append(listeners, fn)
		}
		m.mu.Unlock()

		if c.prev.State != c.next.State {
			m.metrics.RecordTransition(c.prev.State.String(), c.next.State.String())
			m.logger.Debug("session transition", "op", c.op, "from", c.prev.State.String(), "to", c.next.State.String())
		}
		for _, fn := range listeners {
			fn(c.next.clone())
		}
	}
}

// authenticate commits a successful privileged check computed against gen.
func (m *Manager) authenticate(op string, gen uint64, user *api.User, token string) bool {
	applied, _ := m.commit(transition{op: op, guarded: true, expect: gen, session: token, bump: true, next: authenticated(user, token)})
	return applied
}

// forceLogout moves to Unauthenticated unconditionally and aborts every
// in-flight login or re-verification.
func (m *Manager) forceLogout(op, reason string, cause error) {
	_, changed := m.commit(transition{op: op, bump: true, next: unauthenticated(cause)})
	if changed && reason != "" {
		m.logger.Info("session ended", "reason", reason)
	}
}

func (m *Manager) syncCache(token string) {
	var err error
	if token == "" {
		err = m.cache.Clear()
	} else {
		err = m.cache.Store(token)
	}
	if err != nil {
		m.logger.WithError(err).Warn("failed to update token cache")
	}
}

func authenticated(user *api.User, token string) func(Snapshot) Snapshot {
	return func(Snapshot) Snapshot {
		u := *user
		return Snapshot{State: Authenticated, User: &u, Token: token}
	}
}

func unauthenticated(reason error) func(Snapshot) Snapshot {
	return func(Snapshot) Snapshot {
		return Snapshot{State: Unauthenticated, Reason: reason}
	}
}

func sameUser(a, b *api.User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// revoked reports whether a verification failure means the server no longer
// accepts the token or the account.
func revoked(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeSessionExpired, apperrors.ErrCodeInsufficientPrivilege, apperrors.ErrCodeInactiveAccount:
		return true
	}
	return false
}

// loginDenial maps a privileged-check failure during login. A token the
// server rejects right after sign-in is reported as bad credentials.
func loginDenial(err error) error {
	if apperrors.Is(err, apperrors.ErrCodeSessionExpired) {
		return apperrors.Wrap(apperrors.ErrCodeInvalidCredentials, "server rejected the identity provider token", err)
	}
	return err
}
