package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kevin07696/cashier-settlement/pkg/encoding"
)

// Health states, worst last
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const checkTimeout = 2 * time.Second

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// CheckFunc reports a dependency problem as an error
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name     string
	check    CheckFunc
	critical bool
}

// HealthChecker runs registered dependency checks. A failing critical check
// (the ledger) makes the service unhealthy; any other failure (a gateway
// domain down) only degrades it.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []namedCheck
	now    func() time.Time
}

// NewHealthChecker creates a HealthChecker with no checks
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{now: time.Now}
}

// Critical registers a check whose failure makes the service unhealthy
func (h *HealthChecker) Critical(name string, check CheckFunc) *HealthChecker {
	return h.add(namedCheck{name: name, check: check, critical: true})
}

// Degrading registers a check whose failure only degrades the service
func (h *HealthChecker) Degrading(name string, check CheckFunc) *HealthChecker {
	return h.add(namedCheck{name: name, check: check})
}

func (h *HealthChecker) add(c namedCheck) *HealthChecker {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
	return h
}

// Check runs every registered check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]namedCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: h.now(),
		Checks:    make(map[string]string, len(checks)),
	}

	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.check(checkCtx)
		cancel()

		if err == nil {
			status.Checks[c.name] = StatusHealthy
			continue
		}
		status.Checks[c.name] = "failing: " + err.Error()
		if c.critical {
			status.Status = StatusUnhealthy
		} else if status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

// HealthHandler answers 503 only when the service is unhealthy
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.Check(r.Context())

		code := http.StatusOK
		if status.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		_ = encoding.WriteJSON(w, code, status)
	}
}
