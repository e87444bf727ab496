package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notable occurrence during a study run.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	RunID     string                 `json:"run_id,omitempty"`
	CaseID    string                 `json:"case_id,omitempty"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted        = "run.started"
	EventTypeRunCompleted      = "run.completed"
	EventTypeRunFailed         = "run.failed"
	EventTypeCaseCompleted     = "case.completed"
	EventTypeCaseFailed        = "case.failed"
	EventTypeParameterAdded    = "parameter.added"
	EventTypeParameterRejected = "parameter.rejected"
	EventTypePolicyViolation   = "policy.violation"
)

// Event levels, in increasing severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var levelRank = map[string]int{EventLevelInfo: 0, EventLevelWarning: 1, EventLevelError: 2}

// EventSubscriber receives published events.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventBus fans events out to subscribers. A synchronous bus delivers on the
// publishing goroutine; an async one delivers in order on a single
// background goroutine.
type EventBus struct {
	cfg EventsConfig

	mu     sync.RWMutex
	subs   []subscription
	closed bool

	queue chan Event
	done  chan struct{}
}

// NewEventBus creates a bus. A disabled bus accepts and drops every event.
func NewEventBus(cfg EventsConfig) *EventBus {
	b := &EventBus{cfg: cfg}
	if cfg.Enabled && cfg.Async {
		b.queue = make(chan Event, cfg.BufferSize)
		b.done = make(chan struct{})
		go b.loop()
	}
	return b
}

func (b *EventBus) loop() {
	defer close(b.done)
	for ev := range b.queue {
		b.deliver(ev)
	}
}

// Subscribe registers fn for the events accepted by filter. A nil filter
// accepts everything.
func (b *EventBus) Subscribe(fn EventSubscriber, filter EventFilter) {
	b.mu.Lock()
	b.subs = append(b.subs, subscription{fn: fn, filter: filter})
	b.mu.Unlock()
}

// Publish stamps the event with an ID and time when missing and delivers it.
// An async bus returns an error instead of blocking when its buffer is full.
func (b *EventBus) Publish(ev Event) error {
	if !b.cfg.Enabled {
		return nil
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	if b.queue == nil {
		b.deliverLocked(ev)
		return nil
	}
	select {
	case b.queue <- ev:
		return nil
	default:
		return fmt.Errorf("event buffer full, dropped %s", ev.Type)
	}
}

func (b *EventBus) deliver(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.deliverLocked(ev)
}

func (b *EventBus) deliverLocked(ev Event) {
	for _, s := range b.subs {
		if s.filter == nil || s.filter(ev) {
			s.fn(ev)
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered or
// ctx to end.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.queue != nil {
		close(b.queue)
	}
	b.mu.Unlock()

	if b.done == nil {
		return nil
	}
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event delivery interrupted: %w", ctx.Err())
	}
}

// PublishParameterAdded reports a parameter accepted by a driver.
func (b *EventBus) PublishParameterAdded(driver, key string) error {
	return b.Publish(Event{
		Type: EventTypeParameterAdded, Source: "params", Level: EventLevelInfo,
		Component: driver,
		Message:   fmt.Sprintf("%s: added parameter %s", driver, key),
		Data:      map[string]interface{}{"key": key},
	})
}

// PublishParameterRejected reports a parameter a driver refused.
func (b *EventBus) PublishParameterRejected(driver, key, reason string) error {
	return b.Publish(Event{
		Type: EventTypeParameterRejected, Source: "params", Level: EventLevelError,
		Component: driver,
		Message:   fmt.Sprintf("%s: rejected parameter %s: %s", driver, key, reason),
		Data:      map[string]interface{}{"key": key, "reason": reason},
	})
}

// PublishPolicyViolation reports a failed study policy check.
func (b *EventBus) PublishPolicyViolation(study, policy, reason string) error {
	return b.Publish(Event{
		Type: EventTypePolicyViolation, Source: "policy", Level: EventLevelError,
		Component: study,
		Message:   fmt.Sprintf("study %s violates %s: %s", study, policy, reason),
		Data:      map[string]interface{}{"policy": policy, "reason": reason},
	})
}

func runEvent(typ, level, runID, msg string, data map[string]interface{}) Event {
	return Event{Type: typ, Source: "driver", Level: level, RunID: runID, Message: msg, Data: data}
}

func caseEvent(typ, level, runID, caseID, msg string, data map[string]interface{}) Event {
	ev := runEvent(typ, level, runID, msg, data)
	ev.CaseID = caseID
	return ev
}

// MinLevel accepts events at level or above.
func MinLevel(level string) EventFilter {
	floor := levelRank[level]
	return func(ev Event) bool { return levelRank[ev.Level] >= floor }
}

// OfType accepts events of the given types.
func OfType(types ...string) EventFilter {
	return func(ev Event) bool {
		for _, t := range types {
			if ev.Type == t {
				return true
			}
		}
		return false
	}
}

// ForRun accepts events of one run.
func ForRun(runID string) EventFilter {
	return func(ev Event) bool { return ev.RunID == runID }
}
