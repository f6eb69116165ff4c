package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Gateway endpoint metrics
	gatewayEndpointRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_endpoint_requests_total",
			Help: "Requests sent to each gateway endpoint by outcome",
		},
		[]string{"host", "outcome"}, // outcome: ok, error
	)

	gatewayEndpointLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_endpoint_latency_seconds",
			Help:    "Latency of gateway endpoint requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"host"},
	)

	gatewayEndpointState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_endpoint_state",
			Help: "Failover state per endpoint (0=closed, 1=open, 2=half-open)",
		},
		[]string{"host"},
	)

	gatewayOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_operations_total",
			Help: "Gateway operations by return/result outcome",
		},
		[]string{"operation", "outcome"}, // outcome: success, fail, error
	)

	gatewayOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_operation_duration_seconds",
			Help:    "End-to-end duration of gateway operations",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)
)

// RecordEndpointOutcome records one request against a gateway endpoint
func RecordEndpointOutcome(host string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	gatewayEndpointRequests.WithLabelValues(host, outcome).Inc()
	gatewayEndpointLatency.WithLabelValues(host).Observe(elapsed.Seconds())
}

// SetEndpointState publishes an endpoint's failover state
func SetEndpointState(host string, state int) {
	gatewayEndpointState.WithLabelValues(host).Set(float64(state))
}

// RecordGatewayOperation records one logical gateway operation
func RecordGatewayOperation(operation, outcome string, elapsed time.Duration) {
	gatewayOperations.WithLabelValues(operation, outcome).Inc()
	gatewayOperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware records Prometheus metrics for every request, labelled by chi route pattern
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// unmatched paths share one series
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
