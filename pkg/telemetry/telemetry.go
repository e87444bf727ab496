package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Telemetry bundles the logger, tracer, metrics and event bus of a run.
// It travels in the context; see WithContext.
type Telemetry struct {
	Config  *Config
	Logger  zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventBus

	logCloser io.Closer
}

type telemetryKey struct{}

// NewTelemetry validates cfg and builds every component.
func NewTelemetry(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	logger, closer, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger = logger.With().Str("service", cfg.ServiceName).Logger()

	tracer, err := NewTracer(ctx, cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		closer.Close()
		return nil, err
	}

	return &Telemetry{
		Config:    cfg,
		Logger:    logger,
		Tracer:    tracer,
		Metrics:   NewMetrics(cfg.Metrics),
		Events:    NewEventBus(cfg.Events),
		logCloser: closer,
	}, nil
}

// WithContext stores t and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext returns the Telemetry stored by WithContext, or nil.
// Every instrumentation helper in this package is a no-op without one.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryKey{}).(*Telemetry)
	return t
}

// StartMetricsServer serves the metrics registry on the configured address.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.Serve()
}

// Shutdown delivers pending events, flushes spans, stops the metrics server
// and closes the log file. Every component is shut down even if an earlier
// one fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Close(ctx),
		t.Tracer.Shutdown(ctx),
		t.Metrics.Close(ctx),
		t.logCloser.Close(),
	)
}
