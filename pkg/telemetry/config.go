package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the telemetry settings of a study run.
type Config struct {
	ServiceName    string
	ServiceVersion string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error or fatal.
	Level string

	// Format is console or json.
	Format string

	// Output is stdout, stderr or a file path. Files are appended to.
	Output string

	// Caller adds file:line to every entry.
	Caller bool

	// SampleEvery keeps one entry in N after the first SampleBurst entries
	// of each second. Zero disables sampling.
	SampleEvery uint32
	SampleBurst uint32
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool

	// Exporter is otlp, stdout or none. With none spans are created but
	// never exported.
	Exporter string

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string
	Insecure bool
	Headers  map[string]string

	// SamplingRate is the fraction of runs traced, between 0 and 1.
	SamplingRate float64

	ExportTimeout time.Duration
}

// MetricsConfig configures the Prometheus registry and its HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool
	Namespace     string
	ListenAddress string
	Path          string

	// Buckets are the duration histogram buckets in seconds.
	Buckets []float64
}

// EventsConfig configures the event bus.
type EventsConfig struct {
	Enabled bool

	// Async delivers events on a background goroutine through a buffer of
	// BufferSize events. Publish fails when the buffer is full.
	Async      bool
	BufferSize int
}

// DefaultConfig returns the settings used by the mdao command: console logs
// on stderr, metrics registered but not served, synchronous events and no
// tracing.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "mdao",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:      "stdout",
			Insecure:      true,
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			Namespace:     "mdao",
			ListenAddress: ":9090",
			Path:          "/metrics",
			Buckets:       []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 60},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 1000,
		},
	}
}

var (
	logLevels = map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	traceExporters = map[string]bool{"otlp": true, "stdout": true, "none": true}
)

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.ServiceName != "", "service name is required")
	check(logLevels[c.Logging.Level], "invalid log level %q", c.Logging.Level)
	check(c.Logging.Format == "console" || c.Logging.Format == "json",
		"invalid log format %q (must be console or json)", c.Logging.Format)
	check(c.Logging.Output != "", "log output is required")

	if c.Tracing.Enabled {
		check(traceExporters[c.Tracing.Exporter], "invalid trace exporter %q", c.Tracing.Exporter)
		check(c.Tracing.Exporter != "otlp" || c.Tracing.Endpoint != "",
			"trace endpoint is required for the otlp exporter")
	}
	check(c.Tracing.SamplingRate >= 0 && c.Tracing.SamplingRate <= 1,
		"trace sampling rate must be between 0 and 1, got %g", c.Tracing.SamplingRate)

	if c.Metrics.Enabled {
		check(c.Metrics.ListenAddress != "", "metrics listen address is required")
	}
	if c.Events.Enabled && c.Events.Async {
		check(c.Events.BufferSize > 0, "event buffer size must be positive, got %d", c.Events.BufferSize)
	}

	return errors.Join(errs...)
}
