package telemetry

import (
	"fmt"
	"time"
)

// Config is the telemetry configuration for a uvfleet process.
type Config struct {
	// ServiceName identifies the process in traces and logs.
	ServiceName string

	// ServiceVersion is the build version reported with telemetry.
	ServiceVersion string

	// Environment is the deployment environment (development, production).
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is the minimum level: trace, debug, info, warn, error, fatal.
	Level string

	// Format is console or json.
	Format string

	// Output is stdout, stderr, or a file path.
	Output string

	// EnableCaller stamps file:line onto every entry.
	EnableCaller bool
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns span export on.
	Enabled bool

	// Exporter is otlp, stdout, or none.
	Exporter string

	// Endpoint is the OTLP collector address, e.g. "localhost:4317".
	Endpoint string

	// SamplingRate samples this fraction of traces (0.0 to 1.0).
	SamplingRate float64

	// ExportTimeout bounds each batch export.
	ExportTimeout time.Duration

	// Insecure disables TLS towards the collector.
	Insecure bool
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metric collection on.
	Enabled bool

	// ListenAddress is where the metrics HTTP server binds.
	ListenAddress string

	// Path is the HTTP path serving metrics.
	Path string

	// Namespace prefixes every metric name.
	Namespace string

	// HistogramBuckets are the latency buckets in seconds. Empty uses
	// the Prometheus defaults.
	HistogramBuckets []float64
}

// EventsConfig configures the event publisher.
type EventsConfig struct {
	// Enabled turns event publishing on.
	Enabled bool

	// BufferSize is the async event buffer capacity.
	BufferSize int

	// FlushInterval is how often buffered events are flushed.
	FlushInterval time.Duration

	// MaxBatchSize caps how many events one flush delivers.
	MaxBatchSize int

	// EnableAsync delivers events from a background goroutine instead
	// of inline on Publish.
	EnableAsync bool
}

// DefaultConfig returns the configuration a plain CLI run starts from:
// console logs, stdout traces, metrics on :9090.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "uvfleet",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			Output:       "stdout",
			EnableCaller: true,
		},
		Tracing: TracingConfig{
			Enabled:       true,
			Exporter:      "stdout",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "uvfleet",
			HistogramBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  100,
			EnableAsync:   true,
		},
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "stdout", "none":
		default:
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}

	return nil
}
