package executor_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"

	"github.com/tigerroll/chunkflow/pkg/batch/engine/executor"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

func newPool(t *testing.T, workers, capacity int) *executor.Pool {
	t.Helper()
	pool, err := executor.NewPool(executor.PoolOptions{Workers: workers, QueueCapacity: capacity, NamePrefix: "batch-partition-"})
	require.NoError(t, err)
	return pool
}

func TestPool_RunsEveryTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := newPool(t, 4, 2)
	var (
		mu    sync.Mutex
		names = map[string]struct{}{}
		ran   = atomic.NewInt32(0)
	)
	for i := 0; i < 50; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(worker string) {
			mu.Lock()
			names[worker] = struct{}{}
			mu.Unlock()
			ran.Inc()
		}))
	}
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.Equal(t, int32(50), ran.Load())
	assert.Equal(t, int64(50), pool.CompletedCount())
	assert.LessOrEqual(t, len(names), 4)
	for name := range names {
		assert.True(t, strings.HasPrefix(name, "batch-partition-"), name)
	}
}

func TestPool_SubmitBlocksWhenBacklogFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := newPool(t, 1, 1)
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, pool.Submit(context.Background(), func(string) {
		close(started)
		<-release
	}))
	<-started
	// Fills the backlog.
	require.NoError(t, pool.Submit(context.Background(), func(string) {}))

	submitted := make(chan error, 1)
	go func() {
		submitted <- pool.Submit(context.Background(), func(string) {})
	}()

	select {
	case <-submitted:
		t.Fatal("Submit returned while the backlog was full")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, pool.ActiveCount())
	assert.Equal(t, 1, pool.QueueLength())

	close(release)
	select {
	case err := <-submitted:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Submit stayed blocked after a worker freed up")
	}
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int64(3), pool.CompletedCount())
}

func TestPool_SubmitHonoursContextWhileBlocked(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := newPool(t, 1, 0)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(string) {
		close(started)
		<-release
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(string) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := newPool(t, 2, 2)
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.ErrorIs(t, pool.Submit(context.Background(), func(string) {}), executor.ErrPoolClosed)
	// Idempotent.
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := newPool(t, 1, 2)
	ran := atomic.NewBool(false)
	require.NoError(t, pool.Submit(context.Background(), func(string) { panic("boom") }))
	require.NoError(t, pool.Submit(context.Background(), func(string) { ran.Store(true) }))
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.True(t, ran.Load())
	assert.Equal(t, int64(2), pool.CompletedCount())
}

func TestNewPool_RejectsInvalidSizes(t *testing.T) {
	_, err := executor.NewPool(executor.PoolOptions{Workers: 0, QueueCapacity: 1})
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)

	_, err = executor.NewPool(executor.PoolOptions{Workers: 1, QueueCapacity: -1})
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}
