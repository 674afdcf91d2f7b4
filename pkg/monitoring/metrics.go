package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Claims pipeline metrics
	claimsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "claims_submitted_total",
			Help: "Total number of claims submitted",
		},
	)

	claimsDecidedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claims_decided_total",
			Help: "Total number of adjudication decisions by outcome",
		},
		[]string{"status", "reason"},
	)

	adjudicationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "claim_adjudication_duration_seconds",
			Help:    "Duration of the validate/resolve/adjudicate pipeline",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)

	// Settlement metrics
	settlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlements_total",
			Help: "Total number of settlement outcomes",
		},
		[]string{"status"},
	)

	settlementRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_retries_total",
			Help: "Total number of automatic settlement retries",
		},
	)

	// Ledger metrics
	ledgerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_calls_total",
			Help: "Total number of ledger contract calls",
		},
		[]string{"operation", "status"},
	)

	ledgerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_call_duration_seconds",
			Help:    "Duration of ledger contract calls in seconds",
			Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		},
		[]string{"operation"},
	)

	// Reference data metrics
	referenceSnapshotVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reference_snapshot_version",
			Help: "Version of the currently published reference snapshot",
		},
	)
)

// MetricsCollector handles Prometheus metrics collection
type MetricsCollector struct{}

// NewMetricsCollector creates a new metrics collector and registers all
// claims engine metrics.
func NewMetricsCollector() *MetricsCollector {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		claimsSubmittedTotal,
		claimsDecidedTotal,
		adjudicationDuration,
		settlementsTotal,
		settlementRetriesTotal,
		ledgerCallsTotal,
		ledgerCallDuration,
		referenceSnapshotVersion,
	)
	return &MetricsCollector{}
}

// RecordHTTPRequest records an HTTP request
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordClaimSubmitted records a claim submission
func (m *MetricsCollector) RecordClaimSubmitted() {
	claimsSubmittedTotal.Inc()
}

// RecordDecision records an adjudication decision
func (m *MetricsCollector) RecordDecision(status, reason string, duration time.Duration) {
	claimsDecidedTotal.WithLabelValues(status, reason).Inc()
	adjudicationDuration.Observe(duration.Seconds())
}

// RecordSettlement records a settlement outcome
func (m *MetricsCollector) RecordSettlement(status string) {
	settlementsTotal.WithLabelValues(status).Inc()
}

// RecordSettlementRetry records an automatic settlement retry
func (m *MetricsCollector) RecordSettlementRetry() {
	settlementRetriesTotal.Inc()
}

// RecordLedgerCall records a ledger contract call
func (m *MetricsCollector) RecordLedgerCall(operation, status string, duration time.Duration) {
	ledgerCallsTotal.WithLabelValues(operation, status).Inc()
	ledgerCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetSnapshotVersion records the active reference snapshot version
func (m *MetricsCollector) SetSnapshotVersion(version int64) {
	referenceSnapshotVersion.Set(float64(version))
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.Handler()
}
