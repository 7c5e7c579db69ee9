// Package workpool runs independent tasks under a fixed concurrency cap.
//
// Unlike a plain errgroup.WithContext, a failing task never cancels its
// siblings: every task runs to completion and its outcome is reported at
// the task's own index.
package workpool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const (
	// MinConcurrency and MaxConcurrency bound the cap accepted by Run
	MinConcurrency = 1
	MaxConcurrency = 5
)

// Task is one unit of work
type Task func(ctx context.Context) error

// Clamp forces n into [MinConcurrency, MaxConcurrency]
func Clamp(n int) int {
	if n < MinConcurrency {
		return MinConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// Run executes tasks with at most limit of them in flight and returns one
// error slot per task (nil on success). A panicking task is reported as an
// error in its slot.
func Run(ctx context.Context, limit int, tasks []Task) []error {
	errs := make([]error, len(tasks))
	if len(tasks) == 0 {
		return errs
	}

	var g errgroup.Group
	g.SetLimit(Clamp(limit))

	for i, task := range tasks {
		g.Go(func() error {
			errs[i] = runTask(ctx, task)
			// Never report to the group so siblings keep running
			return nil
		})
	}
	_ = g.Wait()

	return errs
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}
