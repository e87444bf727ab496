package engine

import (
	"context"
	"fmt"
	"sync"
)

// NodeFunc executes a single graph node.
type NodeFunc func(ctx context.Context, id string) error

// LevelScheduler executes the nodes of a Graph level by level. Nodes of one
// level do not depend on each other and run concurrently, up to maxParallel
// at a time.
type LevelScheduler struct {
	// maxParallel is the maximum number of concurrent workers
	maxParallel int
}

// NewLevelScheduler creates a scheduler. A maxParallel below one runs nodes
// one at a time.
func NewLevelScheduler(maxParallel int) *LevelScheduler {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &LevelScheduler{maxParallel: maxParallel}
}

// MaxParallel returns the worker limit.
func (s *LevelScheduler) MaxParallel() int {
	return s.maxParallel
}

// Execute runs fn for every node of graph. A level starts only after the
// previous one succeeded; the first failure cancels the rest of its level
// and stops execution.
func (s *LevelScheduler) Execute(ctx context.Context, graph *Graph, fn NodeFunc) error {
	if graph == nil {
		return NewValueError("graph is nil", nil).WithCode(ErrCodeValidation)
	}

	for level := 0; level < graph.Depth; level++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		ids := graph.Level(level)
		if len(ids) == 0 {
			continue
		}

		if err := s.executeLevel(ctx, ids, fn); err != nil {
			return err
		}
	}

	return nil
}

// executeLevel executes all nodes of a level using a worker pool.
func (s *LevelScheduler) executeLevel(ctx context.Context, ids []string, fn NodeFunc) error {
	// A single worker keeps execution on the calling goroutine.
	if s.maxParallel == 1 || len(ids) == 1 {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, id); err != nil {
				return err
			}
		}
		return nil
	}

	levelCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerCount := s.maxParallel
	if len(ids) < workerCount {
		workerCount = len(ids)
	}

	workQueue := make(chan int, len(ids))
	for i := range ids {
		workQueue <- i
	}
	close(workQueue)

	var wg sync.WaitGroup
	errs := make([]error, len(ids))

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for idx := range workQueue {
				if levelCtx.Err() != nil {
					return
				}
				if err := fn(levelCtx, ids[idx]); err != nil {
					errs[idx] = err
					cancel()
				}
			}
		}()
	}

	wg.Wait()

	// Report the first failure in level order so errors are reproducible.
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("level interrupted: %w", err)
	}
	return nil
}
