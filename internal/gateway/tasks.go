package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tasks runs follow-up work after a callback has been acknowledged.
//
// Each task gets a context detached from the request (values kept,
// cancellation dropped) and bounded by its own timeout.
type Tasks struct {
	log     *zap.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewTasks creates a task runner. log may be nil.
func NewTasks(log *zap.Logger, timeout time.Duration) *Tasks {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Tasks{log: log, timeout: timeout}
}

// Go schedules fn. It returns false once Drain has been called, in which
// case fn is not run.
func (t *Tasks) Go(ctx context.Context, name string, fn func(ctx context.Context) error) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.log.Warn("task rejected after drain", zap.String("task", name))
		return false
	}
	t.wg.Add(1)
	t.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.log.Error("task panicked", zap.String("task", name), zap.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()
		start := time.Now()
		if err := fn(ctx); err != nil {
			t.log.Error("task failed",
				zap.String("task", name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
		}
	}()
	return true
}

// Drain stops accepting tasks and waits for running ones, or for ctx.
func (t *Tasks) Drain(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.log.Info("background tasks drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
