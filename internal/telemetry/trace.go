package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartCommandSpan creates the root span of one CLI invocation, named after
// the command path ("assetdesk loans list").
func StartCommandSpan(ctx context.Context, cmdName string) (context.Context, trace.Span) {
	tracer := GetTracerProvider().Tracer("commands")
	ctx, span := tracer.Start(ctx, "command."+cmdName)

	span.SetAttributes(
		attribute.String("command", cmdName),
		attribute.String("component", "cli"),
	)

	return ctx, span
}

// StartAPISpan creates a span for one console API call, retries included.
//
// Usage:
//
//	ctx, span := telemetry.StartAPISpan(ctx, http.MethodGet, "/loans")
//	defer span.End()
func StartAPISpan(ctx context.Context, method, path string) (context.Context, trace.Span) {
	tracer := GetTracerProvider().Tracer("api")
	ctx, span := tracer.Start(ctx, "api."+method, trace.WithSpanKind(trace.SpanKindClient))

	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("component", "api"),
	)

	return ctx, span
}

// StartSessionSpan creates a span for a session operation such as login,
// logout or a liveness check.
func StartSessionSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	tracer := GetTracerProvider().Tracer("session")
	ctx, span := tracer.Start(ctx, "session."+operation)

	span.SetAttributes(
		attribute.String("operation", operation),
		attribute.String("component", "session"),
	)

	return ctx, span
}

// StartFetchSpan creates a span for a data fetch of resource.
func StartFetchSpan(ctx context.Context, resource string) (context.Context, trace.Span) {
	tracer := GetTracerProvider().Tracer("fetch")
	ctx, span := tracer.Start(ctx, "fetch."+resource)

	span.SetAttributes(
		attribute.String("resource", resource),
		attribute.String("component", "fetch"),
	)

	return ctx, span
}

// RecordSuccess marks a span as successful with optional result attributes.
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
}

// RecordError marks span failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.Bool("error", true),
	)
}
