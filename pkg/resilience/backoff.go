package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoff grows BaseDelay by Multiplier per attempt up to MaxDelay,
// then spreads the result by ±Jitter (a fraction of the delay)
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     float64
}

// DownloadBackoff paces statement download retries: ~500ms, 1s, 2s, then 4s
func DownloadBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   4 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// NextDelay returns the delay before retry number attempt (0-indexed)
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := math.Min(float64(b.BaseDelay)*math.Pow(b.Multiplier, float64(attempt)), float64(b.MaxDelay))
	d += d * b.Jitter * (2*rand.Float64() - 1)
	if d < 0 {
		return b.BaseDelay
	}
	return time.Duration(d)
}

// BudgetBackoff chooses the pause inside a fixed overall budget: Long while
// more than Long remains, Short after that, and never more than what is left
type BudgetBackoff struct {
	Long  time.Duration
	Short time.Duration
}

// Delay returns the pause before the next attempt given the remaining budget
func (b BudgetBackoff) Delay(remaining time.Duration) time.Duration {
	switch {
	case remaining <= 0:
		return 0
	case remaining > b.Long:
		return b.Long
	case remaining < b.Short:
		return remaining
	default:
		return b.Short
	}
}

// Sleep waits for d or until ctx is done, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
