package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	shutdownSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cashier_shutdown_seconds",
		Help:    "Wall time of the whole graceful shutdown",
		Buckets: []float64{1, 5, 10, 15, 20, 25, 30},
	})

	stageSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cashier_shutdown_stage_seconds",
		Help:    "Wall time of each shutdown stage by result",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"stage", "result"})
)

// ShutdownFunc stops one component within ctx
type ShutdownFunc func(context.Context) error

type stage struct {
	name string
	stop ShutdownFunc
}

// Manager stops registered components one at a time in reverse registration
// order, all sharing one deadline. Register the ledger first and the HTTP
// servers last so requests stop before the state they touch goes away.
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.Mutex
	stages []stage

	once sync.Once
	err  error
}

// NewManager creates a manager whose whole shutdown is bounded by timeout
func NewManager(logger *zap.Logger, timeout time.Duration) *Manager {
	return &Manager{logger: logger, timeout: timeout}
}

// Register adds a stage
func (m *Manager) Register(name string, fn ShutdownFunc) {
	m.mu.Lock()
	m.stages = append(m.stages, stage{name: name, stop: fn})
	m.mu.Unlock()
}

// RegisterHTTPServer adds an *http.Server (or anything shaped like one)
func (m *Manager) RegisterHTTPServer(name string, server interface{ Shutdown(context.Context) error }) {
	m.Register(name, server.Shutdown)
}

// RegisterCloser adds an io.Closer style component that ignores the deadline
func (m *Manager) RegisterCloser(name string, closer interface{ Close() error }) {
	m.Register(name, func(context.Context) error { return closer.Close() })
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx is done, then shuts down
func (m *Manager) WaitForShutdown(ctx context.Context) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	cause := "context done"
	select {
	case sig := <-sigs:
		cause = sig.String()
	case <-ctx.Done():
	}
	m.logger.Info("Shutting down", zap.String("cause", cause), zap.Duration("timeout", m.timeout))

	return m.Shutdown()
}

// Shutdown runs every stage once. A failing stage does not stop later ones;
// their errors are joined. Repeat calls return the first result.
func (m *Manager) Shutdown() error {
	m.once.Do(func() {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		m.mu.Lock()
		stages := append([]stage(nil), m.stages...)
		m.mu.Unlock()

		var errs []error
		for i := len(stages) - 1; i >= 0; i-- {
			if err := m.run(ctx, stages[i]); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", stages[i].name, err))
			}
		}
		m.err = errors.Join(errs...)

		elapsed := time.Since(start)
		shutdownSeconds.Observe(elapsed.Seconds())
		if m.err != nil {
			m.logger.Error("Shutdown finished with failed stages", zap.Duration("elapsed", elapsed), zap.Error(m.err))
			return
		}
		m.logger.Info("Shutdown complete", zap.Duration("elapsed", elapsed), zap.Int("stages", len(stages)))
	})
	return m.err
}

func (m *Manager) run(ctx context.Context, s stage) error {
	start := time.Now()
	err := s.stop(ctx)

	result := "ok"
	if err != nil {
		result = "error"
		m.logger.Error("Shutdown stage failed", zap.String("stage", s.name), zap.Error(err))
	} else {
		m.logger.Info("Stopped", zap.String("stage", s.name), zap.Duration("elapsed", time.Since(start)))
	}
	stageSeconds.WithLabelValues(s.name, result).Observe(time.Since(start).Seconds())
	return err
}

// waitGroupOrDone waits for wg, giving up with ctx's error when ctx ends first
func waitGroupOrDone(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
