package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultMaxClients = 10000
	idleAfter         = 5 * time.Minute
)

// KeyFunc derives the rate limiting key for a request
type KeyFunc func(r *http.Request) string

// RemoteHost keys requests by the remote host without the port. Put chi's
// RealIP middleware in front when the server runs behind a proxy.
func RemoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type bucket struct {
	*rate.Limiter
	seen time.Time
}

// RateLimiter gives each client its own token bucket. Buckets idle for five
// minutes are swept; past maxSize clients the least recently seen is dropped.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	key    KeyFunc
	logger *zap.Logger
	now    func() time.Time
	stop   context.CancelFunc

	mu       sync.Mutex
	limiters map[string]*bucket
	maxSize  int
}

// NewRateLimiter allows requestsPerSecond with the given burst per client key
// and starts the sweeper. Call Shutdown to stop it.
func NewRateLimiter(requestsPerSecond float64, burst int, key KeyFunc, logger *zap.Logger) *RateLimiter {
	if key == nil {
		key = RemoteHost
	}
	ctx, cancel := context.WithCancel(context.Background())
	rl := &RateLimiter{
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
		key:      key,
		logger:   logger,
		now:      time.Now,
		stop:     cancel,
		limiters: make(map[string]*bucket),
		maxSize:  defaultMaxClients,
	}
	go rl.sweep(ctx)
	return rl
}

func (rl *RateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(idleAfter)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.cleanup(); n > 0 {
				rl.logger.Debug("Rate limiter swept idle clients", zap.Int("removed", n))
			}
		}
	}
}

// cleanup drops buckets not seen within idleAfter and returns how many went
func (rl *RateLimiter) cleanup() int {
	cutoff := rl.now().Add(-idleAfter)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	before := len(rl.limiters)
	for k, b := range rl.limiters {
		if b.seen.Before(cutoff) {
			delete(rl.limiters, k)
		}
	}
	return before - len(rl.limiters)
}

// Shutdown stops the sweeper; calling it again is a no-op
func (rl *RateLimiter) Shutdown() {
	rl.stop()
}

// Allow reports whether a request for key may proceed now
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	b, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= rl.maxSize {
			rl.dropLeastRecent()
		}
		b = &bucket{Limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = b
	}
	b.seen = now
	rl.mu.Unlock()

	return b.AllowN(now, 1)
}

// dropLeastRecent is called with mu held
func (rl *RateLimiter) dropLeastRecent() {
	var victim string
	var oldest time.Time
	for k, b := range rl.limiters {
		if victim == "" || b.seen.Before(oldest) {
			victim, oldest = k, b.seen
		}
	}
	delete(rl.limiters, victim)
}

// Middleware rejects over-limit requests with 429
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := rl.key(r)
		if rl.Allow(client) {
			next.ServeHTTP(w, r)
			return
		}
		rl.logger.Warn("Rate limit exceeded", zap.String("client", client), zap.String("path", r.URL.Path))
		http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	})
}
