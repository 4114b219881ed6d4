package stub

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/assetdesk/internal/api"
	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
	"github.com/felixgeelhaar/assetdesk/internal/fetch"
	"github.com/felixgeelhaar/assetdesk/internal/identity"
	"github.com/felixgeelhaar/assetdesk/internal/log"
	appsession "github.com/felixgeelhaar/assetdesk/internal/session"
	"github.com/felixgeelhaar/assetdesk/internal/tokencache"
)

// console is the client core wired against a stub backend.
type console struct {
	stub     *Server
	server   *httptest.Server
	provider *identity.OAuth2Provider
	client   *api.Client
	session  *appsession.Manager
	cache    *tokencache.MemoryCache
}

func newConsole(t *testing.T, mutate ...func(*Config)) *console {
	t.Helper()
	s, ts := newStub(t, append([]func(*Config){func(c *Config) { c.Now = time.Now }}, mutate...)...)

	endpoints, err := identity.Discover(context.Background(), ts.URL, ts.Client())
	require.NoError(t, err)

	provider, err := identity.NewOAuth2Provider(identity.Config{
		TokenURL:   endpoints.TokenURL,
		LogoutURL:  endpoints.LogoutURL,
		ClientID:   ClientID,
		HTTPClient: ts.Client(),
		Logger:     log.Discard(),
	})
	require.NoError(t, err)

	client, err := api.NewClient(api.Options{
		BaseURL:      ts.URL,
		HTTPClient:   ts.Client(),
		Connectivity: api.ConnectivityFunc(func(context.Context) bool { return true }),
		Logger:       log.Discard(),
	})
	require.NoError(t, err)

	cache := tokencache.NewMemoryCache()
	mgr, err := appsession.New(appsession.Options{
		Provider:         provider,
		Verifier:         client,
		Cache:            cache,
		LivenessInterval: -1,
		Logger:           log.Discard(),
	})
	require.NoError(t, err)
	client.SetCredentials(mgr)
	t.Cleanup(mgr.Close)

	require.NoError(t, mgr.Start(context.Background()))
	return &console{stub: s, server: ts, provider: provider, client: client, session: mgr, cache: cache}
}

func TestConsoleSignInAndBrowse(t *testing.T) {
	c := newConsole(t)
	ctx := context.Background()
	require.Equal(t, appsession.Unauthenticated, c.session.State())

	user, err := c.session.Login(ctx, "admin@example.com", "admin-pass")
	require.NoError(t, err)
	assert.Equal(t, "u-admin", user.ID)

	loans, err := c.client.ListLoans(ctx, api.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, loans, 4)

	updated, err := c.client.UpdateLoanStatus(ctx, "loan-1", "returned")
	require.NoError(t, err)
	assert.Equal(t, "returned", updated.Status)
	assert.NotEmpty(t, updated.ActualCheckinDate)

	require.NoError(t, c.session.Logout(ctx))
	assert.Zero(t, c.stub.ActiveSessions())

	_, err = c.client.ListLoans(ctx, api.ListOptions{})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotAuthenticated))
}

func TestConsoleLoginDenials(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		want     apperrors.ErrorCode
	}{
		{"wrong password", "admin@example.com", "nope", apperrors.ErrCodeInvalidCredentials},
		{"unknown account", "ghost@example.com", "x", apperrors.ErrCodeUnknownAccount},
		{"unconfirmed account", "new@example.com", "new-pass", apperrors.ErrCodeUnconfirmedAccount},
		{"missing console role", "tech@example.com", "tech-pass", apperrors.ErrCodeInsufficientPrivilege},
		{"deactivated account", "former@example.com", "former-pass", apperrors.ErrCodeInactiveAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newConsole(t)

			_, err := c.session.Login(context.Background(), tt.email, tt.password)
			assert.Equal(t, tt.want, apperrors.CodeOf(err))
			assert.True(t, apperrors.IsLoginDenial(err))
			assert.Equal(t, appsession.Unauthenticated, c.session.State())
			assert.Zero(t, c.stub.ActiveSessions(), "no provider session is left behind")
		})
	}
}

func TestConsoleRateLimited(t *testing.T) {
	c := newConsole(t, func(cfg *Config) { cfg.MaxFailedLogins = 1 })

	_, err := c.session.Login(context.Background(), "admin@example.com", "wrong")
	require.Error(t, err)

	_, err = c.session.Login(context.Background(), "admin@example.com", "admin-pass")
	assert.Equal(t, apperrors.ErrCodeRateLimited, apperrors.CodeOf(err))
}

func TestConsoleServerSideRevocation(t *testing.T) {
	c := newConsole(t)
	ctx := context.Background()

	_, err := c.session.Login(ctx, "admin@example.com", "admin-pass")
	require.NoError(t, err)
	require.True(t, c.stub.RevokeSessions("admin@example.com"))

	// The 401 triggers one refresh, which the provider rejects.
	_, err = c.client.ListLoans(ctx, api.ListOptions{})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeSessionExpired))

	assert.Eventually(t, func() bool {
		return c.session.State() == appsession.Unauthenticated
	}, time.Second, 5*time.Millisecond)

	tok, err := c.cache.Load()
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestConsoleRoleRevokedAtRefresh(t *testing.T) {
	c := newConsole(t)
	ctx := context.Background()

	_, err := c.session.Login(ctx, "admin@example.com", "admin-pass")
	require.NoError(t, err)

	require.True(t, c.stub.SetRole("admin@example.com", "technician"))
	_, err = c.session.RefreshToken(ctx)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return c.session.State() == appsession.Unauthenticated
	}, time.Second, 5*time.Millisecond)
	assert.True(t, apperrors.Is(c.session.Snapshot().Reason, apperrors.ErrCodeInsufficientPrivilege))
}

func TestConsoleSelfEditForcesLogout(t *testing.T) {
	c := newConsole(t)
	ctx := context.Background()

	me, err := c.session.Login(ctx, "admin@example.com", "admin-pass")
	require.NoError(t, err)

	password := "rotated-pass"
	update := api.UserUpdate{Password: &password}
	_, err = c.client.UpdateUser(ctx, me.ID, update)
	require.NoError(t, err)

	assert.True(t, c.session.AfterSelfEdit(me.ID, appsession.ChangeBetween(*me, update)))
	assert.Eventually(t, func() bool {
		return c.session.State() == appsession.Unauthenticated
	}, 3*time.Second, 10*time.Millisecond)

	_, err = c.session.Login(ctx, "admin@example.com", "rotated-pass")
	assert.NoError(t, err)
}

func TestConsoleFetcher(t *testing.T) {
	c := newConsole(t)
	ctx := context.Background()

	f := fetch.New[[]api.Ticket](c.client, c.session, fetch.Options{Resource: "tickets", Logger: log.Discard()})
	defer f.Close()

	desc := fetch.Get("/tickets", nil)
	<-f.Run(desc)
	assert.True(t, apperrors.Is(f.Snapshot().Err, apperrors.ErrCodeNotAuthenticated))

	_, err := c.session.Login(ctx, "admin@example.com", "admin-pass")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.Snapshot().Data) == 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.session.Logout(ctx))
	assert.Nil(t, f.Snapshot().Data)
}
