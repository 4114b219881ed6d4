package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
	"github.com/felixgeelhaar/assetdesk/internal/log"
)

// Config holds OAuth2 identity provider configuration.
type Config struct {
	// TokenURL is the OAuth2 token endpoint (password and refresh_token grants).
	TokenURL string

	// LogoutURL revokes the session. Optional.
	LogoutURL string

	ClientID     string
	ClientSecret string
	Scopes       []string

	// HTTPClient is used for all provider calls. Default: 30s timeout.
	HTTPClient *http.Client

	// Store persists the session. Default: in-memory.
	Store Store

	Logger *log.Logger

	// ExpirySkew refreshes tokens this long before they expire. Default: 30s.
	ExpirySkew time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// OAuth2Provider implements Provider with the OAuth2 resource-owner password
// grant for sign-in and refresh-token rotation for renewals.
//
// Thread-safe: refreshes are serialized so concurrent callers never spend the
// same refresh token twice.
type OAuth2Provider struct {
	oauth      *oauth2.Config
	logoutURL  string
	httpClient *http.Client
	store      Store
	logger     *log.Logger
	skew       time.Duration
	now        func() time.Time
	broker     *Broker

	refreshMu sync.Mutex
}

// NewOAuth2Provider creates a provider from cfg.
func NewOAuth2Provider(cfg Config) (*OAuth2Provider, error) {
	if cfg.TokenURL == "" {
		return nil, apperrors.NewConfigInvalidError("identity token URL is required")
	}
	if cfg.ClientID == "" {
		return nil, apperrors.NewConfigInvalidError("identity client ID is required")
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.DefaultLogger()
	}
	if cfg.ExpirySkew == 0 {
		cfg.ExpirySkew = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := cfg.Logger.With("component", "identity")

	return &OAuth2Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL: cfg.TokenURL,
				// A single attempt per call: auto-detection would send a
				// failed sign-in twice and double-count rate limits.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		logoutURL:  cfg.LogoutURL,
		httpClient: cfg.HTTPClient,
		store:      cfg.Store,
		logger:     logger,
		skew:       cfg.ExpirySkew,
		now:        cfg.Now,
		broker: NewBroker(func(e Event) {
			logger.Warn("identity event dropped for slow subscriber", "event", string(e.Type))
		}),
	}, nil
}

// SignIn authenticates with the password grant.
func (p *OAuth2Provider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	tok, err := p.oauth.PasswordCredentialsToken(p.clientContext(ctx), email, password)
	if err != nil {
		return nil, classifySignInError(err, p.oauth.Endpoint.TokenURL)
	}

	session := p.sessionFromToken(tok)
	if err := p.store.Save(session); err != nil {
		return nil, err
	}

	p.logger.WithToken(session.AccessToken).Info("identity sign-in succeeded", "email", email)
	p.broker.Publish(Event{Type: SignedIn, Session: session})
	return session, nil
}

// SignOut revokes the session remotely (when a logout URL is configured) and
// always clears the stored session.
func (p *OAuth2Provider) SignOut(ctx context.Context) error {
	session, loadErr := p.store.Load()

	var remoteErr error
	if session != nil && p.logoutURL != "" {
		remoteErr = p.revoke(ctx, session.AccessToken)
	}

	clearErr := p.store.Clear()
	if session != nil {
		p.broker.Publish(Event{Type: SignedOut, Session: session})
	}

	switch {
	case remoteErr != nil:
		p.logger.WithError(remoteErr).Warn("identity sign-out request failed; local session cleared")
		return remoteErr
	case clearErr != nil:
		return clearErr
	default:
		return loadErr
	}
}

// Session returns the stored session, refreshing it when it is about to expire.
func (p *OAuth2Provider) Session(ctx context.Context) (*Session, error) {
	session, err := p.store.Load()
	if err != nil || session == nil {
		return nil, err
	}

	if !session.ExpiresWithin(p.now(), p.skew) {
		return session, nil
	}

	if session.RefreshToken == "" {
		p.drop(session, "access token expired without refresh token")
		return nil, nil
	}

	return p.Refresh(ctx)
}

// Refresh rotates the access token using the stored refresh token.
func (p *OAuth2Provider) Refresh(ctx context.Context) (*Session, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	current, err := p.store.Load()
	if err != nil || current == nil {
		return nil, err
	}
	if current.RefreshToken == "" {
		p.drop(current, "no refresh token")
		return nil, nil
	}

	// An empty access token forces the token source to refresh.
	src := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: current.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		if isGrantRejected(err) {
			p.drop(current, "refresh token rejected")
			return nil, nil
		}
		return nil, classifyTransportError(err, http.MethodPost, p.oauth.Endpoint.TokenURL)
	}

	session := p.sessionFromToken(tok)
	if session.RefreshToken == "" {
		session.RefreshToken = current.RefreshToken
	}
	if err := p.store.Save(session); err != nil {
		return nil, err
	}

	p.logger.WithToken(session.AccessToken).Debug("identity token refreshed")
	p.broker.Publish(Event{Type: TokenRefreshed, Session: session})
	return session, nil
}

// Subscribe registers for provider events.
func (p *OAuth2Provider) Subscribe() (<-chan Event, func()) {
	return p.broker.Subscribe()
}

// drop clears a session the provider no longer honours and announces it.
func (p *OAuth2Provider) drop(session *Session, reason string) {
	if err := p.store.Clear(); err != nil {
		p.logger.WithError(err).Warn("failed to clear identity session")
	}
	p.logger.Info("identity session ended", "reason", reason)
	p.broker.Publish(Event{Type: SignedOut, Session: session})
}

func (p *OAuth2Provider) revoke(ctx context.Context, accessToken string) error {
	form := url.Values{
		"token":           {accessToken},
		"token_type_hint": {"access_token"},
		"client_id":       {p.oauth.ClientID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.logoutURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create sign-out request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err, http.MethodPost, p.logoutURL)
	}
	defer resp.Body.Close()

	// An already-invalid token is as signed out as it gets.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusUnauthorized {
		return apperrors.NewServerError(http.MethodPost, p.logoutURL, resp.StatusCode, "identity sign-out failed")
	}
	return nil
}

func (p *OAuth2Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *OAuth2Provider) sessionFromToken(tok *oauth2.Token) *Session {
	session := &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}

	if claims, err := ParseClaims(tok.AccessToken); err == nil {
		session.Subject = claims.Subject
		session.Email = claims.Email
		if session.ExpiresAt.IsZero() {
			session.ExpiresAt = claims.ExpiresAt
		}
	}
	return session
}

// classifySignInError maps provider failures to the login categories. The
// provider's own wording is kept only as the wrapped cause.
func classifySignInError(err error, tokenURL string) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return classifyTransportError(err, http.MethodPost, tokenURL)
	}

	status := 0
	if retrieveErr.Response != nil {
		status = retrieveErr.Response.StatusCode
	}
	code := strings.ToLower(retrieveErr.ErrorCode)
	desc := strings.ToLower(retrieveErr.ErrorDescription)

	switch {
	case status == http.StatusTooManyRequests || code == "rate_limited" || strings.Contains(desc, "rate limit"):
		return apperrors.Wrap(apperrors.ErrCodeRateLimited, "identity provider rate limited sign-in", err).
			WithSuggestion("Wait a minute before trying again")
	case code == "email_not_confirmed" || strings.Contains(desc, "not confirmed"):
		return apperrors.Wrap(apperrors.ErrCodeUnconfirmedAccount, "account email is not confirmed", err).
			WithSuggestion("Follow the confirmation link sent to your email")
	case code == "user_not_found" || strings.Contains(desc, "user not found"):
		return apperrors.Wrap(apperrors.ErrCodeUnknownAccount, "no account for this email", err).
			WithSuggestion("Check the email address or ask an administrator for an account")
	case code == "invalid_grant" || code == "invalid_credentials" ||
		status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return apperrors.Wrap(apperrors.ErrCodeInvalidCredentials, "identity provider rejected the credentials", err)
	default:
		if status == 0 {
			status = http.StatusBadGateway
		}
		e := apperrors.NewServerError(http.MethodPost, tokenURL, status, "identity provider sign-in failed")
		e.Cause = err
		return e
	}
}

// isGrantRejected reports whether a refresh failed because the provider no
// longer accepts the refresh token, as opposed to being unreachable.
func isGrantRejected(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.ErrorCode == "invalid_grant" {
		return true
	}
	if retrieveErr.Response != nil {
		code := retrieveErr.Response.StatusCode
		return code == http.StatusBadRequest || code == http.StatusUnauthorized
	}
	return false
}

func classifyTransportError(err error, method, endpoint string) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		e := apperrors.NewServerError(method, endpoint, retrieveErr.Response.StatusCode, "identity provider request failed")
		e.Cause = err
		return e
	}
	return apperrors.NewNetworkError(method, endpoint, err)
}

var _ Provider = (*OAuth2Provider)(nil)
