package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is matched by errors.Is for lookups of missing records.
var ErrNotFound = errors.New("not found")

type notFoundError struct{ kind, id string }

func (e *notFoundError) Error() string        { return e.kind + " not found: " + e.id }
func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }

func notFound(kind, id string) error { return &notFoundError{kind: kind, id: id} }

// RunStatus is the lifecycle state of a study run: pending, then running,
// then completed, failed or cancelled.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transition follows s.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents one execution of a study
type Run struct {
	ID          string     `json:"id"`
	Study       string     `json:"study"`
	Driver      string     `json:"driver"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Parameter is a driver parameter as registered for a run
type Parameter struct {
	RunID    string   `json:"run_id"`
	Position int      `json:"position"` // insertion order in the driver
	Key      string   `json:"key"`
	Targets  string   `json:"targets"` // JSON array of target paths
	Low      *float64 `json:"low,omitempty"`
	High     *float64 `json:"high,omitempty"`
	FDStep   *float64 `json:"fd_step,omitempty"`
}

// CaseRecord is a recorded case
type CaseRecord struct {
	ID        string    `json:"id"` // case uuid
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Label     string    `json:"label"`
	Inputs    string    `json:"inputs"`  // JSON array of [name, value] pairs
	Outputs   string    `json:"outputs"` // JSON array of [name, value] pairs
	Msg       string    `json:"msg"`
	CreatedAt time.Time `json:"created_at"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, err *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Parameter operations
	SaveParameters(ctx context.Context, runID string, params []*Parameter) error
	ListParameters(ctx context.Context, runID string) ([]*Parameter, error)

	// Case operations
	AppendCase(ctx context.Context, c *CaseRecord) error
	ListCases(ctx context.Context, runID string) ([]*CaseRecord, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
