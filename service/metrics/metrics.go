package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Aleo RPC metrics
	rpcCallsTotal   *prometheus.CounterVec
	rpcCallDuration *prometheus.HistogramVec
	rpcRetries      *prometheus.CounterVec

	// Domain reader metrics
	readerFallbacksTotal *prometheus.CounterVec

	// Wallet boundary metrics
	walletCallsTotal   *prometheus.CounterVec
	walletCallDuration *prometheus.HistogramVec

	// Reconciliation metrics
	operationsSubmittedTotal *prometheus.CounterVec
	operationsConfirmedTotal *prometheus.CounterVec
	operationsTimedOutTotal  *prometheus.CounterVec
	confirmationDuration     *prometheus.HistogramVec
	pollTicksTotal           *prometheus.CounterVec
	pendingOperations        *prometheus.GaugeVec

	// HTTP metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aleo_rpc_calls_total",
				Help: "Total number of Aleo RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aleo_rpc_call_duration_seconds",
				Help:    "Duration of Aleo RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		rpcRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aleo_rpc_retries_total",
				Help: "Total number of Aleo RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		readerFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reader_fallbacks_total",
				Help: "Total number of domain reader failures that fell back to a zero value",
			},
			[]string{"reader", "reason"},
		),

		walletCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_calls_total",
				Help: "Total number of wallet boundary calls by call and status",
			},
			[]string{"call", "status"},
		),
		walletCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_call_duration_seconds",
				Help:    "Duration of wallet boundary calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
			},
			[]string{"call"},
		),

		operationsSubmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operations_submitted_total",
				Help: "Total number of operations accepted by the wallet boundary",
			},
			[]string{"kind"},
		),
		operationsConfirmedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operations_confirmed_total",
				Help: "Total number of pending operations confirmed on-chain",
			},
			[]string{"kind"},
		),
		operationsTimedOutTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operations_timed_out_total",
				Help: "Total number of pending operations that exhausted the confirmation budget",
			},
			[]string{"kind"},
		),
		confirmationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "operation_confirmation_duration_seconds",
				Help:    "Time from submission to on-chain confirmation in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 180},
			},
			[]string{"kind"},
		),
		pollTicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_poll_ticks_total",
				Help: "Total number of confirmation poll ticks executed",
			},
			[]string{"kind", "status"},
		),
		pendingOperations: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reconcile_pending_operations",
				Help: "Number of operations currently awaiting confirmation",
			},
			[]string{"address"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"address"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"address", "event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// RPC metric helpers

// RecordRPCCall records an Aleo RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.rpcCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.rpcCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.rpcRetries.WithLabelValues(method, reason).Inc()
}

// Reader metric helpers

// RecordReaderFallback records a domain reader failure that returned a zero value.
func (m *Metrics) RecordReaderFallback(reader, reason string) {
	m.readerFallbacksTotal.WithLabelValues(reader, reason).Inc()
}

// Wallet boundary metric helpers

// RecordWalletCall records a wallet boundary call with duration.
func (m *Metrics) RecordWalletCall(call, status string, duration float64) {
	m.walletCallsTotal.WithLabelValues(call, status).Inc()
	m.walletCallDuration.WithLabelValues(call).Observe(duration)
}

// Reconciliation metric helpers

// RecordOperationSubmitted records an operation accepted by the wallet boundary.
func (m *Metrics) RecordOperationSubmitted(kind string) {
	m.operationsSubmittedTotal.WithLabelValues(kind).Inc()
}

// RecordOperationConfirmed records a confirmed operation and its confirmation latency.
func (m *Metrics) RecordOperationConfirmed(kind string, duration float64) {
	m.operationsConfirmedTotal.WithLabelValues(kind).Inc()
	m.confirmationDuration.WithLabelValues(kind).Observe(duration)
}

// RecordOperationTimedOut records an operation that exhausted its confirmation budget.
func (m *Metrics) RecordOperationTimedOut(kind string) {
	m.operationsTimedOutTotal.WithLabelValues(kind).Inc()
}

// RecordPollTick records a single confirmation poll tick.
func (m *Metrics) RecordPollTick(kind, status string) {
	m.pollTicksTotal.WithLabelValues(kind, status).Inc()
}

// RecordPendingOperations records the current pending-set size for an address.
func (m *Metrics) RecordPendingOperations(address string, count float64) {
	m.pendingOperations.WithLabelValues(address).Set(count)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(address string, delta float64) {
	m.sseActiveConnections.WithLabelValues(address).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(address, eventType string) {
	m.sseEventsSent.WithLabelValues(address, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
