// Package fanout runs indexed tasks on a bounded ants pool behind a join-all
// barrier.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// ErrSkipped marks a task that never ran because a sibling had already failed.
var ErrSkipped = errors.New("fanout: skipped after sibling failure")

// Options tunes a Run.
type Options struct {
	// Limit caps concurrently running tasks. Values < 1 mean one per task.
	Limit int
	// FailFast cancels the task context on the first failure; tasks that
	// have not started yet are skipped with ErrSkipped.
	FailFast bool
}

// Run calls fn for every index in [0, n) and waits for all of them, even
// after a failure. errs[i] is the result of task i. The second return value
// is non-nil only when the pool itself could not be created.
func Run(ctx context.Context, n int, opts Options, fn func(ctx context.Context, i int) error) ([]error, error) {
	if n <= 0 {
		return nil, nil
	}
	limit := opts.Limit
	if limit < 1 || limit > n {
		limit = n
	}

	pool, err := ants.NewPool(limit)
	if err != nil {
		return nil, fmt.Errorf("fanout: create pool: %w", err)
	}
	defer pool.Release()

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("fanout: task %d panicked: %v", i, r)
					if opts.FailFast {
						cancel()
					}
				}
			}()
			if opts.FailFast && taskCtx.Err() != nil && ctx.Err() == nil {
				errs[i] = ErrSkipped
				return
			}
			if err := fn(taskCtx, i); err != nil {
				errs[i] = err
				if opts.FailFast {
					cancel()
				}
			}
		})
		if submitErr != nil {
			errs[i] = fmt.Errorf("fanout: submit task %d: %w", i, submitErr)
			wg.Done()
		}
	}
	wg.Wait()
	return errs, nil
}

// First returns the lowest-indexed error that is not ErrSkipped.
func First(errs []error) error {
	var skipped error
	for _, err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, ErrSkipped):
			if skipped == nil {
				skipped = err
			}
		default:
			return err
		}
	}
	return skipped
}
