// Package besteffort runs side effects (cache writes, counters, publishes,
// emails, realtime pushes) whose failure must never fail the primary operation.
package besteffort

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/d60-Lab/job-portal/pkg/logger"
)

// Hook receives every swallowed failure (sentry capture in production).
type Hook func(name string, err error)

// Runner logs failures under the side-effect name and forwards them to the hook.
type Runner struct {
	log  *zap.Logger
	hook Hook
}

// New builds a runner; a nil logger falls back to the process logger at call time.
func New(log *zap.Logger, hook Hook) *Runner {
	return &Runner{log: log, hook: hook}
}

// Do runs fn and reports whether it succeeded. Errors and panics are logged, never returned.
func (r *Runner) Do(ctx context.Context, name string, fn func(context.Context) error) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.fail(name, fmt.Errorf("panic: %v", p))
			ok = false
		}
	}()
	if err := fn(ctx); err != nil {
		r.fail(name, err)
		return false
	}
	return true
}

// Go runs fn like Do on its own goroutine with a context detached from ctx's cancellation.
func (r *Runner) Go(ctx context.Context, name string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	go r.Do(ctx, name, fn)
}

func (r *Runner) fail(name string, err error) {
	log := r.log
	if log == nil {
		log = logger.L()
	}
	log.Warn("best-effort side effect failed", zap.String("side_effect", name), zap.Error(err))
	if r.hook != nil {
		r.hook(name, err)
	}
}
