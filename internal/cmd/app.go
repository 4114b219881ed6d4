package cmd

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/assetdesk/internal/api"
	"github.com/felixgeelhaar/assetdesk/internal/config"
	"github.com/felixgeelhaar/assetdesk/internal/identity"
	"github.com/felixgeelhaar/assetdesk/internal/log"
	"github.com/felixgeelhaar/assetdesk/internal/metrics"
	"github.com/felixgeelhaar/assetdesk/internal/session"
	"github.com/felixgeelhaar/assetdesk/internal/telemetry"
	"github.com/felixgeelhaar/assetdesk/internal/tokencache"
	"github.com/felixgeelhaar/assetdesk/internal/ux"
)

// console is the client core wired from configuration.
type console struct {
	cmdCtx   *CommandContext
	cfg      *config.Config
	logger   *log.Logger
	metrics  *metrics.Metrics
	provider *identity.OAuth2Provider
	client   *api.Client
	session  *session.Manager
	cache    *tokencache.FileCache

	cleanup []func()
}

// consoleOptions tunes the wiring per command.
type consoleOptions struct {
	// watch keeps the liveness check running; one-shot commands disable it.
	watch bool
}

// loadConsole builds the console for cmd and resolves the stored session.
// Callers must defer Close.
func loadConsole(cmd *cobra.Command, opts consoleOptions) (*console, error) {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(cmdCtx.ConfigPath)
	if err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	logger, m, telemetryCleanup := setupObservability(ctx, cfg, cmdCtx)
	c := &console{
		cmdCtx:  cmdCtx,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		cleanup: []func(){telemetryCleanup},
	}

	// Spans started by the client and session nest under the command span.
	ctx, span := telemetry.StartCommandSpan(ctx, cmd.CommandPath())
	cmd.SetContext(ctx)
	c.cleanup = append(c.cleanup, func() { span.End() })

	httpClient := &http.Client{Timeout: cfg.API.Timeout}

	endpoints, err := resolveEndpoints(ctx, cfg, httpClient)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.provider, err = identity.NewOAuth2Provider(identity.Config{
		TokenURL:     endpoints.TokenURL,
		LogoutURL:    endpoints.LogoutURL,
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ClientSecret,
		Scopes:       cfg.Identity.Scopes,
		HTTPClient:   httpClient,
		Store:        identity.NewFileStore(cfg.Session.IdentityStore),
		Logger:       logger,
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	c.client, err = api.NewClient(api.Options{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    cfg.API.Timeout,
		HTTPClient: httpClient,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	liveness := time.Duration(-1)
	if opts.watch {
		liveness = cfg.Session.LivenessInterval
	}

	c.cache = tokencache.NewFileCache(cfg.Session.TokenCache)
	c.session, err = session.New(session.Options{
		Provider:            c.provider,
		Verifier:            c.client,
		Cache:               c.cache,
		LivenessInterval:    liveness,
		SelfEditLogoutDelay: cfg.Session.SelfEditLogoutDelay,
		Logger:              logger,
		Metrics:             m,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.client.SetCredentials(c.session)
	c.cleanup = append(c.cleanup, c.session.Close)

	if err := c.session.Start(ctx); err != nil {
		// The session is now signed out; commands report that themselves.
		logger.WithError(err).Debug("stored session could not be restored")
	}
	return c, nil
}

// resolveEndpoints uses discovery when an issuer is configured.
func resolveEndpoints(ctx context.Context, cfg *config.Config, client *http.Client) (*identity.Endpoints, error) {
	if cfg.Identity.Issuer != "" {
		return identity.Discover(ctx, cfg.Identity.Issuer, client)
	}
	return &identity.Endpoints{
		TokenURL:  cfg.Identity.TokenURL,
		LogoutURL: cfg.Identity.LogoutURL,
	}, nil
}

// Close releases the session and flushes traces, in reverse order of setup.
func (c *console) Close() {
	for i := len(c.cleanup) - 1; i >= 0; i-- {
		c.cleanup[i]()
	}
	c.cleanup = nil
}

// print writes data in the selected output format.
func (c *console) print(cmd *cobra.Command, data any) error {
	formatter, err := ux.NewFormatter(c.cmdCtx.Format, &ux.FormatterOptions{
		Writer:  cmd.OutOrStdout(),
		NoColor: c.cmdCtx.NoColor || os.Getenv("NO_COLOR") != "",
	})
	if err != nil {
		return err
	}
	return formatter.Format(data)
}
