package cmd

import (
	"context"
	"time"

	"github.com/felixgeelhaar/assetdesk/internal/config"
	"github.com/felixgeelhaar/assetdesk/internal/log"
	"github.com/felixgeelhaar/assetdesk/internal/metrics"
	"github.com/felixgeelhaar/assetdesk/internal/telemetry"
	"github.com/felixgeelhaar/assetdesk/internal/version"
)

// setupObservability configures logging, metrics, and optional tracing.
// It returns a cleanup function that should be deferred by the caller.
func setupObservability(ctx context.Context, cfg *config.Config, cmdCtx *CommandContext) (*log.Logger, *metrics.Metrics, func()) {
	logger := setupLogging(cfg, cmdCtx)
	m := metrics.InitDefault()
	telemetryCleanup := setupTelemetry(ctx, cmdCtx, logger)
	return logger, m, telemetryCleanup
}

func setupLogging(cfg *config.Config, cmdCtx *CommandContext) *log.Logger {
	level := cfg.Log.Level
	if cmdCtx.LogLevel != "" {
		level = cmdCtx.LogLevel
	}
	format := cfg.Log.Format
	if cmdCtx.LogFormat != "" {
		format = cmdCtx.LogFormat
	}

	// Logs go to stderr so command output stays pipeable.
	logger := log.New(log.Config{
		Level:          log.ParseLevel(level),
		Format:         log.ParseFormat(format),
		Output:         log.OutputStderr(),
		ServiceName:    "assetdesk",
		ServiceVersion: version.GetInfo().Version,
	})
	log.SetDefaultLogger(logger)
	return logger
}

func setupTelemetry(ctx context.Context, cmdCtx *CommandContext, logger *log.Logger) func() {
	if !cmdCtx.Trace {
		return func() {}
	}

	shutdown, err := telemetry.InitProvider(ctx, telemetry.DebugConfig(version.GetInfo().Version), telemetry.NewLogExporter(logger))
	if err != nil {
		logger.Warn("Failed to initialize tracing", "error", err)
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}
}
