package multiagent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"botgate/internal/domain"
)

// TaskResult is the outcome of one fan-out task.
type TaskResult struct {
	ID       string
	Err      error
	Duration time.Duration
}

// FanOutReport collects per-task outcomes, sorted by ID.
type FanOutReport struct {
	Results []TaskResult
}

// Failed returns the results that carry an error.
func (r FanOutReport) Failed() []TaskResult {
	var out []TaskResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

func (r FanOutReport) OK() bool { return len(r.Failed()) == 0 }

// fanOut runs fn once per id, each in its own goroutine with its own timeout.
// A panicking task is reported as an error. A task that ignores its context
// is abandoned when the timeout fires, so it cannot hold up the others.
func fanOut(ctx context.Context, ids []string, timeout time.Duration, fn func(context.Context, string) error) FanOutReport {
	results := make([]TaskResult, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runTask(ctx, id, timeout, fn)
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return FanOutReport{Results: results}
}

func runTask(parent context.Context, id string, timeout time.Duration, fn func(context.Context, string) error) TaskResult {
	start := time.Now()
	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(ctx, id)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = domain.WrapOp("fanout", fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err()))
	}
	return TaskResult{ID: id, Err: err, Duration: time.Since(start)}
}
