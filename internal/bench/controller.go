package bench

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// ErrInvalidSchedule marks controller setup rejections.
var ErrInvalidSchedule = errors.New("bench: invalid schedule")

// ControllerError reports an unusable scheduling setup, the only error class
// the controller itself raises. Request failures are data, not errors.
type ControllerError struct {
	Reason string
}

func (e *ControllerError) Error() string { return "bench: controller: " + e.Reason }

func (e *ControllerError) Unwrap() error { return ErrInvalidSchedule }

// Task performs one unit of work and reports its outcome.
type Task func(ctx context.Context) Outcome

// Controller schedules tasks with a counting semaphore so no more than the
// bound are ever in flight. A slot frees the instant a task completes.
type Controller struct {
	bound    int
	limiter  *rate.Limiter
	inflight atomic.Int64
}

// NewController builds a controller for the given bound. A positive
// ratePerSec additionally paces task launches through a token bucket.
func NewController(bound int, ratePerSec float64) *Controller {
	c := &Controller{bound: bound}
	if ratePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(ratePerSec), bound)
	}
	return c
}

// Inflight reports how many tasks hold a slot right now.
func (c *Controller) Inflight() int64 { return c.inflight.Load() }

// Run schedules n executions of task and hands every outcome to collect,
// which runs on a single goroutine. All n outcomes are delivered before Run
// returns: when ctx is cancelled mid-schedule, the tasks never dispatched
// are reported as timed-out failures rather than silently dropped.
func (c *Controller) Run(ctx context.Context, n int, task Task, collect func(Outcome)) error {
	if c.bound < 1 {
		return &ControllerError{Reason: fmt.Sprintf("concurrency bound %d, need at least 1", c.bound)}
	}
	if n < 0 {
		return &ControllerError{Reason: fmt.Sprintf("negative task count %d", n)}
	}
	if task == nil {
		return &ControllerError{Reason: "nil task"}
	}
	if collect == nil {
		collect = func(Outcome) {}
	}

	sem := make(chan struct{}, c.bound)
	results := make(chan Outcome, c.bound*2)
	var wg sync.WaitGroup

	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for out := range results {
			collect(out)
		}
	}()

	dispatched := 0
	for ; dispatched < n; dispatched++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				break
			}
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			c.inflight.Add(1)
			defer c.inflight.Add(-1)

			results <- task(ctx)
		}()
	}

	// Account for tasks the cancellation cut off before dispatch.
	for i := dispatched; i < n; i++ {
		results <- Outcome{Kind: ErrorTimeout}
	}

	wg.Wait()
	close(results)
	<-collectorDone

	return nil
}
