package wxpay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestFailover(t *testing.T, clock *fakeClock) *DomainFailover {
	t.Helper()
	f, err := NewDomainFailover(
		DefaultEndpoints(PrimaryDomain, AlternateDomain),
		FailoverConfig{MaxFailures: 3, OpenTimeout: 30 * time.Second, MaxTrials: 1},
		zap.NewNop(),
	)
	require.NoError(t, err)
	f.now = clock.Now
	return f
}

func TestNewDomainFailover_Validation(t *testing.T) {
	_, err := NewDomainFailover(nil, DefaultFailoverConfig(), zap.NewNop())
	assert.True(t, domain.IsConfigurationFault(err))

	_, err = NewDomainFailover([]Endpoint{{Host: ""}}, DefaultFailoverConfig(), zap.NewNop())
	assert.True(t, domain.IsConfigurationFault(err))
}

func TestDomainFailover_PrefersPrimary(t *testing.T) {
	f, err := NewDomainFailover(
		[]Endpoint{{Host: AlternateDomain}, {Host: PrimaryDomain, Primary: true}},
		DefaultFailoverConfig(),
		zap.NewNop(),
	)
	require.NoError(t, err)

	ep, err := f.ChooseEndpoint()
	require.NoError(t, err)
	assert.Equal(t, PrimaryDomain, ep.Host)
	assert.True(t, ep.Primary)
}

func TestDomainFailover_SwitchesAndRecovers(t *testing.T) {
	clock := newFakeClock()
	f := newTestFailover(t, clock)
	ioErr := errors.New("dial tcp: i/o timeout")

	for i := 0; i < 3; i++ {
		f.Report(PrimaryDomain, 8*time.Second, ioErr)
	}

	ep, err := f.ChooseEndpoint()
	require.NoError(t, err)
	assert.Equal(t, AlternateDomain, ep.Host, "primary circuit should be open")

	clock.Advance(31 * time.Second)
	ep, err = f.ChooseEndpoint()
	require.NoError(t, err)
	assert.Equal(t, PrimaryDomain, ep.Host, "cool-down over, primary tried")

	// only one trial at a time
	ep, err = f.ChooseEndpoint()
	require.NoError(t, err)
	assert.Equal(t, AlternateDomain, ep.Host)

	f.Report(PrimaryDomain, 120*time.Millisecond, nil)
	ep, err = f.ChooseEndpoint()
	require.NoError(t, err)
	assert.Equal(t, PrimaryDomain, ep.Host)
	assert.Equal(t, StateClosed, f.Stats()[0].State)
}

func TestDomainFailover_FailedTrialReopens(t *testing.T) {
	clock := newFakeClock()
	f := newTestFailover(t, clock)
	ioErr := errors.New("connection refused")

	for i := 0; i < 3; i++ {
		f.Report(PrimaryDomain, time.Second, ioErr)
	}
	clock.Advance(31 * time.Second)

	_, err := f.ChooseEndpoint()
	require.NoError(t, err)
	f.Report(PrimaryDomain, time.Second, ioErr)

	assert.Equal(t, StateOpen, f.Stats()[0].State)
	ep, err := f.ChooseEndpoint()
	require.NoError(t, err)
	assert.Equal(t, AlternateDomain, ep.Host)
}

func TestDomainFailover_ReleaseReturnsTrialSlot(t *testing.T) {
	clock := newFakeClock()
	f := newTestFailover(t, clock)
	ioErr := errors.New("connection refused")

	for i := 0; i < 3; i++ {
		f.Report(PrimaryDomain, time.Second, ioErr)
	}
	clock.Advance(31 * time.Second)

	ep, err := f.ChooseEndpoint()
	require.NoError(t, err)
	require.Equal(t, PrimaryDomain, ep.Host)
	f.Release(ep.Host)

	ep, err = f.ChooseEndpoint()
	require.NoError(t, err)
	assert.Equal(t, PrimaryDomain, ep.Host, "released trial can be taken again")

	before := f.Stats()[0]
	f.Release(PrimaryDomain)
	f.Release(PrimaryDomain)
	f.Release("unknown.example")
	after := f.Stats()[0]
	assert.Equal(t, before.Requests, after.Requests)
	assert.Equal(t, StateHalfOpen, after.State)
}

func TestDomainFailover_NoEndpointAvailable(t *testing.T) {
	clock := newFakeClock()
	f := newTestFailover(t, clock)
	ioErr := errors.New("no route to host")

	for i := 0; i < 3; i++ {
		require.NoError(t, f.Reachable(context.Background()))
		f.Report(PrimaryDomain, time.Second, ioErr)
		f.Report(AlternateDomain, time.Second, ioErr)
	}

	_, err := f.ChooseEndpoint()
	assert.ErrorIs(t, err, domain.ErrNoEndpointAvailable)
	assert.ErrorIs(t, f.Reachable(context.Background()), domain.ErrNoEndpointAvailable)
}

func TestDomainFailover_SuccessResetsConsecutiveFailures(t *testing.T) {
	f := newTestFailover(t, newFakeClock())
	ioErr := errors.New("reset")

	f.Report(PrimaryDomain, time.Second, ioErr)
	f.Report(PrimaryDomain, time.Second, ioErr)
	f.Report(PrimaryDomain, time.Second, nil)
	f.Report(PrimaryDomain, time.Second, ioErr)

	stats := f.Stats()[0]
	assert.Equal(t, StateClosed, stats.State)
	assert.Equal(t, uint64(4), stats.Requests)
	assert.Equal(t, uint64(3), stats.Failures)
	assert.Equal(t, uint32(1), stats.ConsecutiveFailures)
	assert.Equal(t, time.Second, stats.AverageLatency())
	assert.Equal(t, "reset", stats.LastError)
}

func TestDomainFailover_ConcurrentReports(t *testing.T) {
	f := newTestFailover(t, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				f.Report(AlternateDomain, time.Millisecond, nil)
				_, _ = f.ChooseEndpoint()
			}
		}()
	}
	wg.Wait()

	stats := f.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, uint64(1000), stats[1].Requests)
	assert.Equal(t, 1000*time.Millisecond, stats[1].TotalLatency)
}

func TestDomainFailover_UnknownHostIgnored(t *testing.T) {
	f := newTestFailover(t, newFakeClock())
	f.Report("example.invalid", time.Second, errors.New("boom"))

	for _, s := range f.Stats() {
		assert.Zero(t, s.Requests)
	}
}
