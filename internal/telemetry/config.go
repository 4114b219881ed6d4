package telemetry

import sdktrace "go.opentelemetry.io/otel/sdk/trace"

const serviceName = "assetdesk"

// Config selects whether and how console operations are traced.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Enabled false installs a no-op provider.
	Enabled bool

	// SampleRate is the fraction of traces kept. 1 or more keeps all.
	SampleRate float64
}

// DefaultConfig leaves tracing off.
func DefaultConfig() Config {
	return Config{
		ServiceName:    serviceName,
		ServiceVersion: "dev",
		SampleRate:     1,
	}
}

// DebugConfig traces every operation of version. --trace uses it to log
// span timings.
func DebugConfig(version string) Config {
	cfg := DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Enabled = true
	return cfg
}

func (c Config) sampler() sdktrace.Sampler {
	if c.SampleRate >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRate))
}
