package shutdown

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// InFlightTracker counts running units of work (statement ingestions) and,
// once draining starts, refuses new ones while shutdown waits for the rest
type InFlightTracker struct {
	name   string
	logger *zap.Logger

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

// NewInFlightTracker creates a tracker named for its logs
func NewInFlightTracker(name string, logger *zap.Logger) *InFlightTracker {
	return &InFlightTracker{name: name, logger: logger}
}

// Add admits one unit of work, or returns false once draining
func (t *InFlightTracker) Add() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining {
		return false
	}
	t.wg.Add(1)
	return true
}

// Done releases a unit admitted by Add
func (t *InFlightTracker) Done() { t.wg.Done() }

// Run runs fn as one unit of work. It reports false, without running fn, when
// draining has started.
func (t *InFlightTracker) Run(fn func()) bool {
	if !t.Add() {
		return false
	}
	defer t.Done()
	fn()
	return true
}

// IsShuttingDown reports whether draining has started
func (t *InFlightTracker) IsShuttingDown() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draining
}

// Shutdown starts draining and waits for admitted work or ctx
func (t *InFlightTracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.draining = true
	t.mu.Unlock()

	if err := waitGroupOrDone(ctx, &t.wg); err != nil {
		t.logger.Warn("Gave up waiting for in-flight work", zap.String("tracker", t.name), zap.Error(err))
		return err
	}
	t.logger.Info("In-flight work drained", zap.String("tracker", t.name))
	return nil
}

// BackgroundWorker owns one long-lived loop (leak monitoring, pool
// monitoring) and cancels it on shutdown
type BackgroundWorker struct {
	name   string
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBackgroundWorker creates an idle worker
func NewBackgroundWorker(name string, logger *zap.Logger) *BackgroundWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &BackgroundWorker{name: name, logger: logger, ctx: ctx, cancel: cancel}
}

// Start runs work on its own goroutine; work must return once its ctx ends
func (w *BackgroundWorker) Start(work func(ctx context.Context)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		work(w.ctx)
		w.logger.Debug("Background worker exited", zap.String("worker", w.name))
	}()
}

// Shutdown cancels the loop and waits for it or ctx
func (w *BackgroundWorker) Shutdown(ctx context.Context) error {
	w.cancel()
	if err := waitGroupOrDone(ctx, &w.wg); err != nil {
		w.logger.Warn("Background worker did not stop in time", zap.String("worker", w.name))
		return err
	}
	return nil
}
