package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attribute keys.
const (
	AttrRunID     = attribute.Key("mdao.run.id")
	AttrRunStatus = attribute.Key("mdao.run.status")
	AttrStudy     = attribute.Key("mdao.study")
	AttrCaseID    = attribute.Key("mdao.case.id")
	AttrCaseLabel = attribute.Key("mdao.case.label")
	AttrComponent = attribute.Key("mdao.component")
	AttrErrorKind = attribute.Key("mdao.error.kind")
	AttrErrorCode = attribute.Key("mdao.error.code")
)

// Tracer creates the run, case and component spans. The span tree of a run
// is run > case > component.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a tracer provider for cfg. When tracing is disabled the
// provider samples nothing and spans are never recorded.
func NewTracer(ctx context.Context, cfg TracingConfig, service, version string) (*Tracer, error) {
	if !cfg.Enabled {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		return &Tracer{provider: tp, tracer: tp.Tracer(service)}, nil
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceNameKey.String(service),
		semconv.ServiceVersionKey.String(version),
	)

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}

	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s span exporter: %w", cfg.Exporter, err)
	}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp, sdktrace.WithExportTimeout(cfg.ExportTimeout)))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Tracer{provider: tp, tracer: tp.Tracer(service)}, nil
}

// newSpanExporter returns nil for the none exporter. Stdout spans go to
// stderr to keep command output clean.
func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "none":
		return nil, nil
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}
}

func (t *Tracer) startRun(ctx context.Context, runID, study string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "mdao.run",
		trace.WithAttributes(AttrRunID.String(runID), AttrStudy.String(study)))
}

func (t *Tracer) startCase(ctx context.Context, caseID, label string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "mdao.case",
		trace.WithAttributes(AttrCaseID.String(caseID), AttrCaseLabel.String(label)))
}

func (t *Tracer) startComponent(ctx context.Context, component string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "mdao.execute "+component,
		trace.WithAttributes(AttrComponent.String(component)))
}

// endSpan sets the span status from err and ends it.
func endSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	if err != nil {
		kind, code := classify(err)
		span.SetAttributes(AttrErrorKind.String(kind), AttrErrorCode.String(code))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown flushes pending spans and stops the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// TraceID returns the trace ID of the span in ctx, or "" when ctx carries no
// sampled span.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return ""
	}
	return sc.TraceID().String()
}
