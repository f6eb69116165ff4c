package resourcemgmt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestTracker() (*GoroutineTracker, *time.Time) {
	gt := NewGoroutineTracker(zap.NewNop(), &Config{
		CheckInterval:    time.Millisecond,
		LeakThreshold:    1000,
		LongRunningLimit: time.Minute,
	})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	gt.now = func() time.Time { return now }
	return gt, &now
}

func TestGoroutineTracker_TrackUntrack(t *testing.T) {
	gt, _ := newTestTracker()

	gt.Track("T1", "settlement_poll")
	gt.Track("T2", "settlement_poll")
	gt.Track("2024-01-01", "statement_ingest")
	assert.Equal(t, 2, gt.Count("settlement_poll"))

	gt.Track("T1", "settlement_poll")
	assert.Equal(t, 2, gt.Count("settlement_poll"), "re-tracking does not duplicate")

	gt.Untrack("T1")
	gt.Untrack("unknown")
	assert.Equal(t, 1, gt.Count("settlement_poll"))
	assert.Equal(t, 1, gt.Count("statement_ingest"))
}

func TestGoroutineTracker_LongRunning(t *testing.T) {
	gt, now := newTestTracker()

	gt.Track("old", "settlement_poll")
	*now = now.Add(30 * time.Second)
	gt.Track("older-than-young", "settlement_poll")
	*now = now.Add(45 * time.Second)
	gt.Track("young", "settlement_poll")

	stale := gt.LongRunning()
	if assert.Len(t, stale, 1) {
		assert.Equal(t, "old", stale[0].ID)
	}

	*now = now.Add(2 * time.Minute)
	stale = gt.LongRunning()
	assert.Len(t, stale, 3)
	assert.Equal(t, "old", stale[0].ID, "oldest first")
}

func TestGoroutineTracker_MonitoringStopsWithContext(t *testing.T) {
	gt, _ := newTestTracker()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		gt.StartMonitoring(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitoring did not stop")
	}
}
