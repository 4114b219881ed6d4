package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/assetdesk/internal/log"
	"github.com/felixgeelhaar/assetdesk/internal/stub"
	"github.com/felixgeelhaar/assetdesk/internal/version"
)

var stubCmd = &cobra.Command{
	Use:   "stub",
	Short: "Run a local backend for development",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var stubServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the identity provider and console API on one address",
	Long: `Serve an in-memory backend that speaks the identity provider and
console API protocols.

The default seed has an admin (admin@example.com / admin-pass), a
technician without the console role (tech@example.com / tech-pass), a
deactivated and an unconfirmed account, and a few loans and tickets.
Point the console at it with:

  api:
    base_url: http://127.0.0.1:8080
  identity:
    issuer: http://127.0.0.1:8080
    client_id: assetdesk-console`,
	Args: cobra.NoArgs,
	RunE: runStubServe,
}

func init() {
	stubServeCmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	stubServeCmd.Flags().String("seed", "", "YAML seed file (default: built-in seed)")
	stubServeCmd.Flags().String("signing-key", "", "HMAC key for access tokens (default: a fixed development key)")

	stubCmd.AddCommand(stubServeCmd)
	rootCmd.AddCommand(stubCmd)
}

func runStubServe(cmd *cobra.Command, args []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	addr, _ := cmd.Flags().GetString("addr")
	seedPath, _ := cmd.Flags().GetString("seed")
	signingKey, _ := cmd.Flags().GetString("signing-key")

	level := cmdCtx.LogLevel
	if level == "" {
		level = "info"
	}
	format := cmdCtx.LogFormat
	if format == "" {
		format = "text"
	}
	logger := log.New(log.Config{
		Level:          log.ParseLevel(level),
		Format:         log.ParseFormat(format),
		Output:         log.OutputStderr(),
		ServiceName:    "assetdesk-stub",
		ServiceVersion: version.GetInfo().Version,
	})

	seed := stub.DefaultSeed()
	if seedPath != "" {
		seed, err = stub.LoadSeed(seedPath)
		if err != nil {
			return err
		}
	}

	cfg := stub.Config{Seed: seed, Logger: logger}
	if signingKey != "" {
		cfg.SigningKey = []byte(signingKey)
	}
	backend := stub.New(cfg)

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(l)
	}()
	logger.Info("stub backend listening", "addr", l.Addr().String())
	fmt.Fprintf(cmd.OutOrStdout(), "Stub backend on http://%s (Ctrl+C to stop)\n", l.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-cmd.Context().Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown stub backend: %w", err)
	}
	logger.Info("stub backend stopped")
	return nil
}
