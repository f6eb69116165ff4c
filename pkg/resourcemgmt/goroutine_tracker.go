package resourcemgmt

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	processGoroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cashier_goroutines",
		Help: "Goroutines in the process at the last check",
	})

	goroutineGrowthAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cashier_goroutine_growth_alerts_total",
		Help: "Checks that found goroutine growth above the threshold",
	})

	tasksByType = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cashier_tracked_tasks",
		Help: "Tracked background tasks by type",
	}, []string{"type"})

	overdueByType = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cashier_overdue_tasks",
		Help: "Tracked tasks older than the long-running limit by type",
	}, []string{"type"})
)

// TrackedTask is one registered background task, e.g. the polling of one ticket
type TrackedTask struct {
	ID        string
	Type      string
	StartTime time.Time
}

// Config tunes the tracker. LeakThreshold is the growth over the startup
// goroutine count that raises an alert.
type Config struct {
	CheckInterval    time.Duration
	LeakThreshold    int
	LongRunningLimit time.Duration
}

// DefaultConfig is sized for settlement polling: ten queries five seconds
// apart finish well inside two minutes
func DefaultConfig() *Config {
	return &Config{
		CheckInterval:    30 * time.Second,
		LeakThreshold:    500,
		LongRunningLimit: 2 * time.Minute,
	}
}

// GoroutineTracker registers long-lived background tasks by id and reports
// the ones that outlive the configured limit
type GoroutineTracker struct {
	cfg      Config
	baseline int
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.RWMutex
	tasks map[string]TrackedTask
}

// NewGoroutineTracker records the current goroutine count as the baseline
func NewGoroutineTracker(logger *zap.Logger, cfg *Config) *GoroutineTracker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &GoroutineTracker{
		cfg:      *cfg,
		baseline: runtime.NumGoroutine(),
		logger:   logger,
		now:      time.Now,
		tasks:    make(map[string]TrackedTask),
	}
}

// Track registers a task. Tracking an id again restarts its clock.
func (gt *GoroutineTracker) Track(id, taskType string) {
	gt.mu.Lock()
	prev, existed := gt.tasks[id]
	gt.tasks[id] = TrackedTask{ID: id, Type: taskType, StartTime: gt.now()}
	gt.mu.Unlock()

	if existed {
		tasksByType.WithLabelValues(prev.Type).Dec()
	}
	tasksByType.WithLabelValues(taskType).Inc()
}

// Untrack removes a task; unknown ids are ignored
func (gt *GoroutineTracker) Untrack(id string) {
	gt.mu.Lock()
	task, ok := gt.tasks[id]
	delete(gt.tasks, id)
	gt.mu.Unlock()

	if ok {
		tasksByType.WithLabelValues(task.Type).Dec()
	}
}

// Count returns the number of tracked tasks of taskType
func (gt *GoroutineTracker) Count(taskType string) int {
	gt.mu.RLock()
	defer gt.mu.RUnlock()

	n := 0
	for _, task := range gt.tasks {
		if task.Type == taskType {
			n++
		}
	}
	return n
}

// StartMonitoring checks every CheckInterval until ctx is done
func (gt *GoroutineTracker) StartMonitoring(ctx context.Context) {
	ticker := time.NewTicker(gt.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gt.checkGrowth()
			gt.LongRunning()
		}
	}
}

func (gt *GoroutineTracker) checkGrowth() {
	current := runtime.NumGoroutine()
	processGoroutines.Set(float64(current))

	if growth := current - gt.baseline; growth > gt.cfg.LeakThreshold {
		goroutineGrowthAlerts.Inc()
		gt.logger.Warn("Goroutine count grew past threshold",
			zap.Int("current", current),
			zap.Int("baseline", gt.baseline),
			zap.Int("threshold", gt.cfg.LeakThreshold),
		)
	}
}

// LongRunning returns tasks older than LongRunningLimit, oldest first, and
// refreshes the overdue gauge for every tracked type
func (gt *GoroutineTracker) LongRunning() []TrackedTask {
	now := gt.now()
	overdue := map[string]int{}
	var stale []TrackedTask

	gt.mu.RLock()
	for _, task := range gt.tasks {
		if now.Sub(task.StartTime) > gt.cfg.LongRunningLimit {
			stale = append(stale, task)
			overdue[task.Type]++
		} else if _, ok := overdue[task.Type]; !ok {
			overdue[task.Type] = 0
		}
	}
	gt.mu.RUnlock()

	for taskType, n := range overdue {
		overdueByType.WithLabelValues(taskType).Set(float64(n))
	}

	sort.Slice(stale, func(i, j int) bool { return stale[i].StartTime.Before(stale[j].StartTime) })
	for _, task := range stale {
		gt.logger.Warn("Background task overdue",
			zap.String("id", task.ID),
			zap.String("type", task.Type),
			zap.Duration("age", now.Sub(task.StartTime)),
		)
	}
	return stale
}
