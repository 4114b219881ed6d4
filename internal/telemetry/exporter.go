package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/felixgeelhaar/assetdesk/internal/log"
)

// LogExporter writes finished spans to a logger at debug level.
type LogExporter struct {
	logger *log.Logger
}

// NewLogExporter creates an exporter that logs through logger.
func NewLogExporter(logger *log.Logger) *LogExporter {
	return &LogExporter{logger: logger.With("component", "trace")}
}

// ExportSpans logs each span with its duration, status and attributes.
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		args := []any{
			"span", span.Name(),
			"duration_ms", span.EndTime().Sub(span.StartTime()).Milliseconds(),
			"trace_id", span.SpanContext().TraceID().String(),
		}
		for _, kv := range span.Attributes() {
			args = append(args, string(kv.Key), kv.Value.Emit())
		}

		if span.Status().Code == codes.Error {
			e.logger.WarnContext(ctx, "span failed", append(args, "status", span.Status().Description)...)
			continue
		}
		e.logger.DebugContext(ctx, "span finished", args...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *LogExporter) Shutdown(context.Context) error {
	return nil
}
