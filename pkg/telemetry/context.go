package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/mdao/pkg/engine"
)

// scope is the open span of a run or case.
type scope struct {
	study string
	span  trace.Span
	start time.Time
}

type (
	runScopeKey  struct{}
	caseScopeKey struct{}
)

// WithRunContext opens the span of a run and tags the context logger with
// the run ID and study. Close it with EndRunContext.
func WithRunContext(ctx context.Context, runID, study string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	ctx, span := tel.Tracer.startRun(ctx, runID, study)
	fields := []string{"run_id", runID, "study", study}
	if id := TraceID(ctx); id != "" {
		fields = append(fields, "trace_id", id)
	}
	ctx = tagLogger(ctx, tel.Logger, fields...)

	tel.Metrics.RunStarted()
	_ = tel.Events.Publish(runEvent(EventTypeRunStarted, EventLevelInfo, runID,
		fmt.Sprintf("run %s of %s started", runID, study),
		map[string]interface{}{"study": study}))

	return context.WithValue(ctx, runScopeKey{}, &scope{study: study, span: span, start: time.Now()})
}

// EndRunContext closes the run opened by WithRunContext.
func EndRunContext(ctx context.Context, runID, status string, err error) {
	tel := FromTelemetryContext(ctx)
	s, ok := ctx.Value(runScopeKey{}).(*scope)
	if tel == nil || !ok {
		return
	}

	elapsed := time.Since(s.start)
	endSpan(s.span, err, AttrRunStatus.String(status))
	tel.Metrics.RunFinished(s.study, status, elapsed)

	if err != nil {
		_ = tel.Events.Publish(runEvent(EventTypeRunFailed, EventLevelError, runID,
			fmt.Sprintf("run %s failed: %v", runID, err),
			map[string]interface{}{"reason": err.Error()}))
		return
	}
	_ = tel.Events.Publish(runEvent(EventTypeRunCompleted, EventLevelInfo, runID,
		fmt.Sprintf("run %s %s", runID, status),
		map[string]interface{}{"status": status, "duration": elapsed.Seconds()}))
}

// WithCaseContext opens the span of one case inside a run.
func WithCaseContext(ctx context.Context, runID, caseID, label string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	ctx, span := tel.Tracer.startCase(ctx, caseID, label)
	ctx = tagLogger(ctx, *zerolog.Ctx(ctx), "case_id", caseID, "case", label)

	return context.WithValue(ctx, caseScopeKey{}, &scope{span: span, start: time.Now()})
}

// EndCaseContext closes the case opened by WithCaseContext. A failed case
// does not fail its run, so the failure is published as a warning.
func EndCaseContext(ctx context.Context, runID, driver, caseID, label string, err error) {
	tel := FromTelemetryContext(ctx)
	s, ok := ctx.Value(caseScopeKey{}).(*scope)
	if tel == nil || !ok {
		return
	}

	elapsed := time.Since(s.start)
	endSpan(s.span, err)
	tel.Metrics.CaseFinished(driver, elapsed, err)

	if err != nil {
		_ = tel.Events.Publish(caseEvent(EventTypeCaseFailed, EventLevelWarning, runID, caseID,
			fmt.Sprintf("case %s failed: %v", label, err),
			map[string]interface{}{"label": label, "reason": err.Error()}))
		return
	}
	_ = tel.Events.Publish(caseEvent(EventTypeCaseCompleted, EventLevelInfo, runID, caseID,
		fmt.Sprintf("case %s completed", label),
		map[string]interface{}{"label": label, "duration": elapsed.Seconds()}))
}

// RecordComponentExecution runs fn inside a component span and records its
// duration and outcome.
func RecordComponentExecution(ctx context.Context, component string, fn func(context.Context) error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	ctx, span := tel.Tracer.startComponent(ctx, component)
	start := time.Now()
	err := fn(ctx)
	tel.Metrics.ComponentFinished(component, time.Since(start), err)
	endSpan(span, err)
	return err
}

// tagLogger stores base with the key/value pairs in kv as the context
// logger.
func tagLogger(ctx context.Context, base zerolog.Logger, kv ...string) context.Context {
	lc := base.With()
	for i := 0; i+1 < len(kv); i += 2 {
		lc = lc.Str(kv[i], kv[i+1])
	}
	logger := lc.Logger()
	return logger.WithContext(ctx)
}

// classify returns the error kind and code used as metric labels and span
// attributes.
func classify(err error) (kind, code string) {
	var e *engine.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return string(engine.KindOf(err)), code
}
