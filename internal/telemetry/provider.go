package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// active is the provider the span helpers draw tracers from.
var active struct {
	sync.RWMutex
	provider trace.TracerProvider
	shutdown func(context.Context) error
}

func noShutdown(context.Context) error { return nil }

// InitProvider installs the process-wide tracer provider described by cfg
// and returns its shutdown function. Finished spans go to exporter as they
// end; a nil exporter keeps spans in memory only.
func InitProvider(ctx context.Context, cfg Config, exporter sdktrace.SpanExporter) (func(context.Context) error, error) {
	if !cfg.Enabled {
		install(noop.NewTracerProvider(), noShutdown)
		return noShutdown, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithSyncer(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	install(tp, tp.Shutdown)
	return tp.Shutdown, nil
}

func install(tp trace.TracerProvider, shutdown func(context.Context) error) {
	active.Lock()
	active.provider, active.shutdown = tp, shutdown
	active.Unlock()
	otel.SetTracerProvider(tp)
}

// Shutdown flushes and stops the installed provider.
func Shutdown(ctx context.Context) error {
	active.RLock()
	shutdown := active.shutdown
	active.RUnlock()
	if shutdown == nil {
		return nil
	}
	return shutdown(ctx)
}

// ForceFlush exports any buffered spans.
func ForceFlush(ctx context.Context) error {
	if tp, ok := GetTracerProvider().(*sdktrace.TracerProvider); ok {
		return tp.ForceFlush(ctx)
	}
	return nil
}

// GetTracerProvider returns the installed provider, or a no-op one.
func GetTracerProvider() trace.TracerProvider {
	active.RLock()
	defer active.RUnlock()
	if active.provider == nil {
		return noop.NewTracerProvider()
	}
	return active.provider
}

// SetTracerProvider swaps the provider without touching the otel global.
// Tests use it with an in-memory exporter.
func SetTracerProvider(tp trace.TracerProvider) {
	active.Lock()
	active.provider = tp
	active.Unlock()
}
