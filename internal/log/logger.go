// Package log is the console's structured logger, a thin layer over slog
// that knows how to describe ConsoleErrors and never writes credentials.
package log

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/felixgeelhaar/assetdesk/internal/errors"
)

// Redacted replaces the value of any attribute whose key names a credential.
const Redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values are never written.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"id_token":      true,
	"client_secret": true,
	"authorization": true,
}

// Logger writes structured log lines.
type Logger struct {
	slog *slog.Logger
}

// New creates a Logger from cfg.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{
		Level:       cfg.Level.slogLevel(),
		AddSource:   cfg.AddSource,
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	if cfg.Format == FormatText {
		handler = slog.NewTextHandler(cfg.Output.Writer(), opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output.Writer(), opts)
	}

	l := slog.New(handler)
	if cfg.ServiceName != "" {
		l = l.With("service", cfg.ServiceName)
	}
	if cfg.ServiceVersion != "" {
		l = l.With("version", cfg.ServiceVersion)
	}
	return &Logger{slog: l}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(Config{Level: LevelError, Output: NewOutput(io.Discard)})
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// With returns a logger that adds args to every line.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

// WithError adds err. A ConsoleError contributes its code, request and
// cause as separate attributes.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	if ce, ok := errors.As(err); ok {
		return l.With(consoleErrorArgs(ce)...)
	}
	return l.With("error", err.Error())
}

// WithToken tags lines with a fingerprint of token, never the token itself.
func (l *Logger) WithToken(token string) *Logger {
	if token == "" {
		return l
	}
	return l.With("token_fp", Fingerprint(token))
}

func consoleErrorArgs(e *errors.ConsoleError) []any {
	args := []any{"error", e.Message, "error_code", string(e.Code)}
	if e.Status != 0 {
		args = append(args, "status", e.Status)
	}
	if e.Endpoint != "" {
		args = append(args, "method", e.Method, "endpoint", e.Endpoint)
	}
	if e.Cause != nil {
		args = append(args, "cause", e.Cause.Error())
	}
	return args
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slog.DebugContext(ctx, msg, args...)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slog.InfoContext(ctx, msg, args...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slog.WarnContext(ctx, msg, args...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slog.ErrorContext(ctx, msg, args...)
}
