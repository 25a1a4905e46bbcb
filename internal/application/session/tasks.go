package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
)

// Tasks tracks fire-and-forget work started during a page, such as remote
// completion writes, so it can be joined before the page is unloaded.
type Tasks struct {
	mu     sync.Mutex
	group  errgroup.Group
	closed bool
	logger *slog.Logger
}

// NewTasks returns an empty task group.
func NewTasks(l *slog.Logger) *Tasks {
	return &Tasks{logger: logger.OrDefault(l)}
}

// Go starts fn in the background. Errors are logged, never propagated to
// other tasks. It returns false if the group has already been joined.
func (t *Tasks) Go(name string, fn func() error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.group.Go(func() error {
		if err := fn(); err != nil {
			t.logger.Warn("background task failed",
				logger.Operation(name),
				logger.Err(err),
			)
			return err
		}
		return nil
	})
	return true
}

// Wait closes the group and waits for running tasks until ctx is done.
// It returns the first task error, or ctx.Err() if the deadline hit first.
func (t *Tasks) Wait(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- t.group.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await waits for a shared flight result, giving up when ctx is done.
// The flight itself keeps running for the other callers. A deadline is
// reported as shared.ErrTimeout; cancellation stays context.Canceled.
func await[T any](ctx context.Context, ch <-chan singleflight.Result) (T, error) {
	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, shared.WrapError("session", "await", shared.ErrTimeout, "gave up waiting for a shared request", ctx.Err())
		}
		return zero, ctx.Err()
	}
}
