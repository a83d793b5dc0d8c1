package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"jobmate/discovery-pipeline/internal/antidetect"
)

// runContext is the per-invocation state owned by one Run call. Nothing in
// it is shared with concurrent runs.
type runContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	budget   *antidetect.Budget
	sem      *semaphore.Weighted
	deadline time.Time
}

func newRunContext(parent context.Context, timeout time.Duration, budget *antidetect.Budget, sem *semaphore.Weighted) *runContext {
	ctx, cancel := parent, context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	}
	deadline, _ := ctx.Deadline()
	return &runContext{ctx: ctx, cancel: cancel, budget: budget, sem: sem, deadline: deadline}
}

// expired reports whether the run's deadline has passed.
func (rc *runContext) expired() bool {
	return rc.ctx.Err() != nil
}
