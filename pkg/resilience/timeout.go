package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines timeout values for the application's timeout hierarchy
//
// Timeout Hierarchy (from outermost to innermost):
//
//	Dispatcher handler (90s)
//	  ↓
//	Remediation / settlement operation (75s)
//	  ↓
//	Card-present budget (60s) / single gateway call (connect 8s + read 10s)
//	  ↓
//	Database Query (2s/5s/30s - based on complexity)
//
//	Statement ingestion cron (5m)
//	  ↓
//	Statement download (2m per attempt)
//
// Each layer completes before its parent times out.
type TimeoutConfig struct {
	// Handler layer timeouts
	HTTPHandler time.Duration // dispatcher request timeout
	CronJob     time.Duration // statement ingestion run

	// Service layer timeouts
	Operation time.Duration // one settlement or remediation operation
	Ingestion time.Duration // fetch, parse and compare one statement

	// External API timeouts
	GatewayCall time.Duration // one gateway round trip
	Download    time.Duration // one statement download attempt
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler: 90 * time.Second,
		CronJob:     5 * time.Minute,

		// Operation must fit a full card-present budget
		Operation: 75 * time.Second,
		Ingestion: 4 * time.Minute,

		GatewayCall: 18 * time.Second,
		Download:    2 * time.Minute,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler: 5 * time.Second,
		CronJob:     8 * time.Second,
		Operation:   4 * time.Second,
		Ingestion:   6 * time.Second,
		GatewayCall: 2 * time.Second,
		Download:    3 * time.Second,
	}
}

// HandlerContext creates a context with timeout for HTTP handlers
func (tc *TimeoutConfig) HandlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.HTTPHandler)
}

// CronContext creates a context with timeout for cron jobs
func (tc *TimeoutConfig) CronContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.CronJob)
}

// OperationContext bounds one settlement or remediation operation
func (tc *TimeoutConfig) OperationContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Operation)
}

// IngestionContext bounds one statement ingestion
func (tc *TimeoutConfig) IngestionContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Ingestion)
}
