package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Card-present retry loop metrics
	posAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_attempts_total",
		Help: "Card-present submission attempts by classification",
	}, []string{
		"classification", // success, declined, ambiguous, channel_fail, error
	})

	posLoopAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pos_loop_attempts",
		Help:    "Attempts used per card-present submission",
		Buckets: []float64{1, 2, 3, 5, 8, 12},
	}, []string{
		"outcome",
	})

	// Settlement polling metrics
	pollingTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_polling_ticks_total",
		Help: "Settlement polling ticks by classification",
	}, []string{
		"outcome", // success, fail, processing, error, cancelled
	})

	pollingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_polling_active",
		Help: "Tickets with a live polling handle",
	})

	pollingFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_polling_finished_total",
		Help: "Polling handles finished by terminal reason",
	}, []string{
		"reason", // success, fail, exhausted, cancelled, superseded
	})

	// Reconciliation metrics
	remediationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_remediations_total",
		Help: "Remediation requests by remedy and outcome",
	}, []string{
		"remedy",
		"outcome", // dealt, deal_failed, not_supported, already_dealt, error
	})

	// Statement ingestion metrics
	statementRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statement_rows_ingested_total",
		Help: "Statement rows parsed into the comparison table",
	}, []string{
		"channel",
	})

	statementIngestionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "statement_ingestion_duration_seconds",
		Help:    "Time to download and parse one statement",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{
		"channel",
		"status", // success, failed
	})
)

// RecordPosAttempt records one card-present submission attempt
func RecordPosAttempt(classification string) {
	posAttemptsTotal.WithLabelValues(classification).Inc()
}

// RecordPosLoop records the number of attempts a card-present submission used
func RecordPosLoop(outcome string, attempts int) {
	posLoopAttempts.WithLabelValues(outcome).Observe(float64(attempts))
}

// RecordPollingTick records one polling tick outcome
func RecordPollingTick(outcome string) {
	pollingTicksTotal.WithLabelValues(outcome).Inc()
}

// PollingStarted marks a new live polling handle
func PollingStarted() {
	pollingActive.Inc()
}

// PollingFinished releases a polling handle
func PollingFinished(reason string) {
	pollingActive.Dec()
	pollingFinishedTotal.WithLabelValues(reason).Inc()
}

// RecordRemediation records one dispatcher decision
func RecordRemediation(remedy, outcome string) {
	remediationsTotal.WithLabelValues(remedy, outcome).Inc()
}

// RecordStatementIngestion records one statement ingestion run
func RecordStatementIngestion(channel, status string, rows int, duration time.Duration) {
	statementRowsTotal.WithLabelValues(channel).Add(float64(rows))
	statementIngestionDuration.WithLabelValues(channel, status).Observe(duration.Seconds())
}
