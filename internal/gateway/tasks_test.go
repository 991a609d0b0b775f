package gateway

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type ctxKey struct{}

func TestTasksOutliveRequestContext(t *testing.T) {
	tasks := NewTasks(nil, time.Second)
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-1"))

	var sawValue atomic.Value
	var sawErr atomic.Value
	release := make(chan struct{})
	ok := tasks.Go(ctx, "follow_up", func(ctx context.Context) error {
		<-release
		sawValue.Store(ctx.Value(ctxKey{}))
		sawErr.Store(ctx.Err() == nil)
		return nil
	})
	require.True(t, ok)
	cancel()
	close(release)

	require.NoError(t, tasks.Drain(context.Background()))
	assert.Equal(t, "req-1", sawValue.Load())
	assert.Equal(t, true, sawErr.Load())
}

func TestTasksTimeoutAndFailureLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	tasks := NewTasks(zap.New(core), 20*time.Millisecond)

	tasks.Go(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	tasks.Go(context.Background(), "boom", func(ctx context.Context) error {
		panic("unexpected")
	})
	require.NoError(t, tasks.Drain(context.Background()))

	failed := logs.FilterMessage("task failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "slow", failed[0].ContextMap()["task"])
	assert.Equal(t, context.DeadlineExceeded.Error(), failed[0].ContextMap()["error"])
	assert.Equal(t, 1, logs.FilterMessage("task panicked").Len())
}

func TestTasksRejectAfterDrain(t *testing.T) {
	tasks := NewTasks(nil, 0)
	require.NoError(t, tasks.Drain(context.Background()))
	ran := false
	assert.False(t, tasks.Go(context.Background(), "late", func(context.Context) error {
		ran = true
		return nil
	}))
	assert.False(t, ran)
}

func TestDrainHonoursDeadline(t *testing.T) {
	tasks := NewTasks(nil, time.Minute)
	release := make(chan struct{})
	defer close(release)
	tasks.Go(context.Background(), "stuck", func(context.Context) error {
		<-release
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tasks.Drain(ctx), context.DeadlineExceeded)
}
