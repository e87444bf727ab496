package cases

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Recorder receives cases after they have been run.
type Recorder interface {
	Record(ctx context.Context, c *Case) error
	Close() error
}

// ListRecorder keeps copies of recorded cases in memory.
type ListRecorder struct {
	mu    sync.Mutex
	cases []*Case
}

var _ Recorder = (*ListRecorder)(nil)

// NewListRecorder creates an empty ListRecorder.
func NewListRecorder() *ListRecorder {
	return &ListRecorder{}
}

// Record stores a copy of c.
func (r *ListRecorder) Record(_ context.Context, c *Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cases = append(r.cases, c.Clone())
	return nil
}

// Cases returns the recorded cases in recording order.
func (r *ListRecorder) Cases() []*Case {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Case(nil), r.cases...)
}

// Iterator replays the recorded cases.
func (r *ListRecorder) Iterator() *ListIterator {
	return NewListIterator(r.Cases())
}

// Close is a no-op.
func (r *ListRecorder) Close() error {
	return nil
}

// DumpRecorder writes each case as text.
type DumpRecorder struct {
	mu sync.Mutex
	w  io.Writer
}

var _ Recorder = (*DumpRecorder)(nil)

// NewDumpRecorder creates a recorder writing to w.
func NewDumpRecorder(w io.Writer) *DumpRecorder {
	return &DumpRecorder{w: w}
}

// Record writes c followed by a blank line.
func (r *DumpRecorder) Record(_ context.Context, c *Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := fmt.Fprintln(r.w, c.String()); err != nil {
		return fmt.Errorf("failed to dump case %s: %w", c.UUID, err)
	}
	return nil
}

// Close is a no-op; the writer belongs to the caller.
func (r *DumpRecorder) Close() error {
	return nil
}
