package wxpay

import (
	"context"
	"sync"
	"time"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/kevin07696/cashier-settlement/pkg/observability"
	"go.uber.org/zap"
)

// CircuitState represents the health state of one endpoint
type CircuitState int

const (
	// StateClosed - endpoint is healthy and selectable
	StateClosed CircuitState = iota
	// StateOpen - endpoint failed repeatedly and is skipped until the cool-down ends
	StateOpen
	// StateHalfOpen - cool-down ended, one trial request is allowed through
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Endpoint is one gateway host the client may talk to
type Endpoint struct {
	Host    string
	Primary bool
}

// FailoverPolicy chooses an endpoint per request and learns from reported outcomes.
// Every ChooseEndpoint is followed by exactly one Report or Release for the host.
// Implementations must tolerate concurrent calls from unrelated requests.
type FailoverPolicy interface {
	ChooseEndpoint() (Endpoint, error)
	Report(host string, elapsed time.Duration, err error)
	// Release returns a selection that never reached the endpoint
	Release(host string)
}

// FailoverConfig configures endpoint health tracking
type FailoverConfig struct {
	// MaxFailures is the number of consecutive failures before an endpoint is skipped
	MaxFailures uint32
	// OpenTimeout is how long a failing endpoint is skipped before it is tried again
	OpenTimeout time.Duration
	// MaxTrials is the number of concurrent requests allowed to a half-open endpoint
	MaxTrials uint32
}

// DefaultFailoverConfig returns sensible defaults
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		MaxFailures: 3,
		OpenTimeout: 30 * time.Second,
		MaxTrials:   1,
	}
}

// EndpointStats is a point-in-time copy of one endpoint's statistics
type EndpointStats struct {
	Endpoint            Endpoint
	State               CircuitState
	Requests            uint64
	Failures            uint64
	ConsecutiveFailures uint32
	TotalLatency        time.Duration
	LastError           string
}

// AverageLatency returns the mean reported latency
func (s EndpointStats) AverageLatency() time.Duration {
	if s.Requests == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Requests)
}

type candidate struct {
	mu       sync.Mutex
	endpoint Endpoint
	state    CircuitState
	openedAt time.Time
	trials   uint32
	stats    EndpointStats
}

// DomainFailover prefers the primary endpoint and falls back to alternates while
// the primary's circuit is open. Membership is fixed at construction; only
// per-endpoint statistics change, each under its own lock.
type DomainFailover struct {
	candidates []*candidate
	byHost     map[string]*candidate
	config     FailoverConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewDomainFailover builds a failover table. The first primary endpoint is tried first,
// the rest in the given order.
func NewDomainFailover(endpoints []Endpoint, config FailoverConfig, logger *zap.Logger) (*DomainFailover, error) {
	if len(endpoints) == 0 {
		return nil, domain.NewDomainError(domain.ErrorCodeConfigNoEndpoint, "failover table needs at least one endpoint")
	}
	if config.MaxFailures == 0 {
		config.MaxFailures = 1
	}
	if config.MaxTrials == 0 {
		config.MaxTrials = 1
	}

	f := &DomainFailover{
		byHost: make(map[string]*candidate, len(endpoints)),
		config: config,
		logger: logger,
		now:    time.Now,
	}

	ordered := make([]Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Primary {
			ordered = append(ordered, ep)
		}
	}
	for _, ep := range endpoints {
		if !ep.Primary {
			ordered = append(ordered, ep)
		}
	}

	for _, ep := range ordered {
		if ep.Host == "" {
			return nil, domain.NewDomainError(domain.ErrorCodeConfigNoEndpoint, "endpoint host is empty")
		}
		if _, dup := f.byHost[ep.Host]; dup {
			continue
		}
		c := &candidate{endpoint: ep, state: StateClosed}
		c.stats.Endpoint = ep
		f.candidates = append(f.candidates, c)
		f.byHost[ep.Host] = c
	}

	return f, nil
}

// DefaultEndpoints returns the channel's primary and alternate domains
func DefaultEndpoints(primary, alternate string) []Endpoint {
	endpoints := []Endpoint{{Host: primary, Primary: true}}
	if alternate != "" && alternate != primary {
		endpoints = append(endpoints, Endpoint{Host: alternate})
	}
	return endpoints
}

// ChooseEndpoint returns the first selectable endpoint in preference order
func (f *DomainFailover) ChooseEndpoint() (Endpoint, error) {
	now := f.now()
	for _, c := range f.candidates {
		if c.acquire(now, f.config) {
			return c.endpoint, nil
		}
	}

	f.logger.Warn("All gateway endpoints are cooling down",
		zap.Int("endpoints", len(f.candidates)),
		zap.Duration("open_timeout", f.config.OpenTimeout),
	)
	return Endpoint{}, domain.ErrNoEndpointAvailable
}

// Report records the outcome of one request against host
func (f *DomainFailover) Report(host string, elapsed time.Duration, err error) {
	c, ok := f.byHost[host]
	if !ok {
		return
	}

	from, to := c.record(f.now(), elapsed, err, f.config)
	observability.RecordEndpointOutcome(host, elapsed, err)
	if from != to {
		observability.SetEndpointState(host, int(to))
		f.logger.Warn("Gateway endpoint state changed",
			zap.String("host", host),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.Error(err),
		)
	}
}

// Release gives back a half-open trial slot without touching the statistics
func (f *DomainFailover) Release(host string) {
	if c, ok := f.byHost[host]; ok {
		c.release()
	}
}

// Stats returns a snapshot of every endpoint in preference order
func (f *DomainFailover) Stats() []EndpointStats {
	out := make([]EndpointStats, 0, len(f.candidates))
	for _, c := range f.candidates {
		c.mu.Lock()
		s := c.stats
		s.State = c.state
		c.mu.Unlock()
		out = append(out, s)
	}
	return out
}

// Reachable fails only when every endpoint is open. It does not consume a
// half-open trial.
func (f *DomainFailover) Reachable(context.Context) error {
	for _, s := range f.Stats() {
		if s.State != StateOpen {
			return nil
		}
	}
	return domain.ErrNoEndpointAvailable
}

func (c *candidate) acquire(now time.Time, cfg FailoverConfig) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(c.openedAt) < cfg.OpenTimeout {
			return false
		}
		c.state = StateHalfOpen
		c.trials = 1
		return true
	case StateHalfOpen:
		if c.trials >= cfg.MaxTrials {
			return false
		}
		c.trials++
		return true
	default:
		return false
	}
}

func (c *candidate) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateHalfOpen && c.trials > 0 {
		c.trials--
	}
}

func (c *candidate) record(now time.Time, elapsed time.Duration, err error, cfg FailoverConfig) (from, to CircuitState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	from = c.state
	c.stats.Requests++
	c.stats.TotalLatency += elapsed

	if err != nil {
		c.stats.Failures++
		c.stats.ConsecutiveFailures++
		c.stats.LastError = err.Error()
		switch c.state {
		case StateClosed:
			if c.stats.ConsecutiveFailures >= cfg.MaxFailures {
				c.open(now)
			}
		case StateHalfOpen:
			c.open(now)
		}
		return from, c.state
	}

	c.stats.ConsecutiveFailures = 0
	if c.state == StateHalfOpen {
		c.state = StateClosed
		c.trials = 0
	}
	return from, c.state
}

func (c *candidate) open(now time.Time) {
	c.state = StateOpen
	c.openedAt = now
	c.trials = 0
}
