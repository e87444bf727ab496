package telemetry

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openfroyo/mdao/pkg/engine"
	"github.com/openfroyo/mdao/pkg/stores"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "default", modify: func(*Config) {}},
		{name: "json to file", modify: func(c *Config) {
			c.Logging.Format = "json"
			c.Logging.Output = "/tmp/mdao.log"
		}},
		{name: "missing service name", modify: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad level", modify: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "log level"},
		{name: "bad format", modify: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "log format"},
		{name: "bad exporter", modify: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: "trace exporter"},
		{name: "otlp without endpoint", modify: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, wantErr: "endpoint"},
		{name: "bad sampling rate", modify: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
		{name: "zero async buffer", modify: func(c *Config) {
			c.Events.Async = true
			c.Events.BufferSize = 0
		}, wantErr: "buffer size"},
		{name: "zero sync buffer", modify: func(c *Config) { c.Events.BufferSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidate_ReportsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServiceName = ""
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{"service name", "log level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	logger, closer, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Debug().Str("driver", "sweep").Msg("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestNewLogger_BadLevel(t *testing.T) {
	if _, _, err := NewLogger(LoggingConfig{Level: "loud", Output: "stderr"}); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics(DefaultConfig().Metrics)

	m.SetParametersRegistered("driver", 3)
	m.RecordParameterAddition("driver", nil)
	m.RecordParameterAddition("driver", errors.New("bad"))
	m.RecordParameterAddition("driver", errors.New("bad"))
	m.RecordParameterSet("driver", nil)
	m.CaseFinished("driver", time.Millisecond, engine.NewValueError("too big", nil).WithCode(engine.ErrCodeBounds))
	m.RunStarted()

	if got := testutil.ToFloat64(m.params.WithLabelValues("driver")); got != 3 {
		t.Errorf("params_registered = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.paramAdds.WithLabelValues("driver", ResultRejected)); got != 2 {
		t.Errorf("rejected additions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.paramAssigns.WithLabelValues("driver", ResultOK)); got != 1 {
		t.Errorf("assignments = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cases.WithLabelValues("driver", ResultFailed)); got != 1 {
		t.Errorf("failed cases = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errs.WithLabelValues("value", engine.ErrCodeBounds)); got != 1 {
		t.Errorf("errors_total{value,bounds} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.inFlightRuns); got != 1 {
		t.Errorf("runs in flight = %v, want 1", got)
	}

	m.RunFinished("study", "completed", time.Second)
	if got := testutil.ToFloat64(m.inFlightRuns); got != 0 {
		t.Errorf("runs in flight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("study", "completed")); got != 1 {
		t.Errorf("completed runs = %v, want 1", got)
	}
}

func TestMetricsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	m.RunStarted()
	m.RunFinished("study", "completed", time.Second)
	m.SetParametersRegistered("driver", 1)
	m.RecordParameterAddition("driver", nil)
	m.RecordParameterSet("driver", nil)
	m.CaseFinished("driver", time.Second, nil)
	m.ComponentFinished("comp", time.Second, nil)
	m.RecordPolicyViolation("bounds", "error")

	if m.Registry() != nil {
		t.Error("expected no registry")
	}
	if err := m.Serve(); err != nil {
		t.Errorf("Serve() error = %v", err)
	}
	if err := m.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestMetricsServe(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.ListenAddress = "127.0.0.1:0"
	m := NewMetrics(cfg)

	if err := m.Serve(); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if err := m.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	// A second Close is a no-op.
	if err := m.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestEventBusSync(t *testing.T) {
	bus := NewEventBus(EventsConfig{Enabled: true})
	defer bus.Close(context.Background())

	var got []Event
	bus.Subscribe(func(e Event) { got = append(got, e) }, func(e Event) bool {
		return MinLevel(EventLevelWarning)(e) && ForRun("run-1")(e)
	})

	_ = bus.Publish(runEvent(EventTypeRunStarted, EventLevelInfo, "run-1", "started", nil))
	_ = bus.Publish(caseEvent(EventTypeCaseFailed, EventLevelWarning, "run-1", "case-1", "boom", nil))
	_ = bus.Publish(caseEvent(EventTypeCaseFailed, EventLevelWarning, "run-2", "case-2", "boom", nil))
	_ = bus.Publish(runEvent(EventTypeRunFailed, EventLevelError, "run-1", "store closed", nil))

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != EventTypeCaseFailed || got[0].CaseID != "case-1" {
		t.Errorf("unexpected first event: %+v", got[0])
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Error("expected ID and timestamp to be set")
	}
	if got[1].Type != EventTypeRunFailed {
		t.Errorf("unexpected second event: %+v", got[1])
	}
}

func TestEventBusAsync(t *testing.T) {
	bus := NewEventBus(EventsConfig{Enabled: true, Async: true, BufferSize: 10})

	var mu sync.Mutex
	var keys []string
	bus.Subscribe(func(e Event) {
		mu.Lock()
		keys = append(keys, e.Data["key"].(string))
		mu.Unlock()
	}, OfType(EventTypeParameterAdded))

	for _, key := range []string{"comp.x", "comp.y", "comp.z"} {
		if err := bus.PublishParameterAdded("driver", key); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	_ = bus.PublishParameterRejected("driver", "comp.w", "no such variable")

	// Close waits for queued events.
	if err := bus.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := bus.PublishParameterAdded("driver", "late"); !errors.Is(err, ErrBusClosed) {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(keys, ",") != "comp.x,comp.y,comp.z" {
		t.Errorf("expected events in publish order, got %v", keys)
	}
}

func TestEventBusDisabled(t *testing.T) {
	bus := NewEventBus(EventsConfig{})
	called := false
	bus.Subscribe(func(Event) { called = true }, nil)

	if err := bus.PublishPolicyViolation("study", "bounds", "too wide"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if called {
		t.Error("disabled bus delivered an event")
	}
}

func TestStoreSink(t *testing.T) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	if err := store.CreateRun(ctx, &stores.Run{ID: "run-1", Study: "s", Driver: "d", Status: stores.RunStatusRunning}); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	bus := NewEventBus(EventsConfig{Enabled: true})
	bus.Subscribe(StoreSink(store, time.Second), nil)

	_ = bus.Publish(caseEvent(EventTypeCaseFailed, EventLevelWarning, "run-1", "case-1", "case first failed: boom", nil))
	_ = bus.PublishParameterAdded("driver", "comp.x")

	events, err := store.GetEvents(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 stored events, got %d", len(events))
	}
	if events[0].RunID == nil || *events[0].RunID != "run-1" {
		t.Errorf("expected run ID run-1, got %v", events[0].RunID)
	}
	if events[0].Level != stores.EventLevelWarning {
		t.Errorf("expected warning level, got %s", events[0].Level)
	}
	if events[1].RunID != nil {
		t.Errorf("expected no run ID, got %v", *events[1].RunID)
	}
	if events[1].Details == nil || !strings.Contains(*events[1].Details, `"key":"comp.x"`) {
		t.Errorf("expected details with the parameter key, got %v", events[1].Details)
	}
}

func TestRunAndCaseContexts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "none"

	tel, err := NewTelemetry(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	var events []string
	tel.Events.Subscribe(func(e Event) { events = append(events, e.Type) }, nil)

	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Fatal("expected telemetry in context")
	}

	ctx = WithRunContext(ctx, "run-1", "study")
	caseCtx := WithCaseContext(ctx, "run-1", "case-1", "first")

	err = RecordComponentExecution(caseCtx, "comp", func(ctx context.Context) error {
		if TraceID(ctx) == "" {
			t.Error("expected a trace ID inside the component span")
		}
		return engine.NewValueError("too big", nil).WithCode(engine.ErrCodeBounds)
	})
	if err == nil {
		t.Fatal("expected component error to be returned")
	}

	EndCaseContext(caseCtx, "run-1", "driver", "case-1", "first", err)
	EndRunContext(ctx, "run-1", "completed", nil)

	m := tel.Metrics
	if got := testutil.ToFloat64(m.components.WithLabelValues("comp", ResultFailed)); got != 1 {
		t.Errorf("failed component executions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errs.WithLabelValues(string(engine.KindValue), engine.ErrCodeBounds)); got != 1 {
		t.Errorf("value errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("study", "completed")); got != 1 {
		t.Errorf("completed runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.inFlightRuns); got != 0 {
		t.Errorf("runs in flight = %v, want 0", got)
	}

	want := []string{EventTypeRunStarted, EventTypeCaseFailed, EventTypeRunCompleted}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestTraceID_TracingDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "error"

	tel, err := NewTelemetry(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	ctx := WithRunContext(tel.WithContext(context.Background()), "run-1", "study")
	if id := TraceID(ctx); id != "" {
		t.Errorf("expected no trace ID with tracing disabled, got %s", id)
	}
	EndRunContext(ctx, "run-1", "completed", nil)
}

func TestContextHelpersWithoutTelemetry(t *testing.T) {
	ctx := context.Background()

	if got := WithRunContext(ctx, "run-1", "study"); got != ctx {
		t.Error("expected context to be returned unchanged")
	}
	EndRunContext(ctx, "run-1", "completed", nil)
	EndCaseContext(ctx, "run-1", "driver", "case-1", "first", nil)

	called := false
	err := RecordComponentExecution(ctx, "comp", func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("expected fn to run without telemetry, err = %v", err)
	}
}
