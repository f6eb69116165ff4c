package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestManager_ShutsDownInReverseOrder(t *testing.T) {
	m := NewManager(zap.NewNop(), time.Second)

	var mu sync.Mutex
	var order []string
	record := func(name string) ShutdownFunc {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	m.Register("database", record("database"))
	m.Register("scheduler", record("scheduler"))
	m.Register("http", record("http"))

	require.NoError(t, m.Shutdown())
	assert.Equal(t, []string{"http", "scheduler", "database"}, order)
}

func TestManager_CollectsErrorsAndRunsOnce(t *testing.T) {
	m := NewManager(zap.NewNop(), time.Second)

	calls := 0
	m.Register("database", func(context.Context) error { calls++; return nil })
	m.Register("scheduler", func(context.Context) error { return errors.New("drain timed out") })

	err := m.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler: drain timed out")
	assert.Equal(t, 1, calls, "a failing component does not stop the rest")

	assert.Equal(t, err, m.Shutdown())
	assert.Equal(t, 1, calls)
}

func TestManager_WaitForShutdownOnContext(t *testing.T) {
	m := NewManager(zap.NewNop(), time.Second)
	stopped := false
	m.RegisterCloser("store", closerFunc(func() error { stopped = true; return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, m.WaitForShutdown(ctx))
	assert.True(t, stopped)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestInFlightTracker_WaitsForWork(t *testing.T) {
	tracker := NewInFlightTracker("ingest", zap.NewNop())

	release := make(chan struct{})
	started := make(chan struct{})
	go tracker.Run(func() {
		close(started)
		<-release
	})
	<-started

	done := make(chan error, 1)
	go func() { done <- tracker.Shutdown(context.Background()) }()

	assert.Eventually(t, tracker.IsShuttingDown, time.Second, time.Millisecond)
	assert.False(t, tracker.Run(func() { t.Error("new work must not start") }))

	select {
	case <-done:
		t.Fatal("shutdown returned before work finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	assert.NoError(t, <-done)
}

func TestInFlightTracker_ShutdownTimeout(t *testing.T) {
	tracker := NewInFlightTracker("ingest", zap.NewNop())
	require.True(t, tracker.Add())
	defer tracker.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tracker.Shutdown(ctx), context.DeadlineExceeded)
}

func TestBackgroundWorker_StopsOnShutdown(t *testing.T) {
	worker := NewBackgroundWorker("monitor", zap.NewNop())

	exited := make(chan struct{})
	worker.Start(func(ctx context.Context) {
		<-ctx.Done()
		close(exited)
	})

	require.NoError(t, worker.Shutdown(context.Background()))
	select {
	case <-exited:
	default:
		t.Fatal("worker still running")
	}
}
