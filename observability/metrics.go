package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type apiMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

type swapMetrics struct {
	ordersCreated   *prometheus.CounterVec
	ordersFilled    *prometheus.CounterVec
	ordersCancelled prometheus.Counter
	fillLatency     *prometheus.HistogramVec
	escrowStates    *prometheus.CounterVec
	swapStates      *prometheus.CounterVec
	partitions      prometheus.Counter
	signerHealth    prometheus.Gauge
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	swapMetricsOnce sync.Once
	swapRegistry    *swapMetrics
)

// API returns the lazily-initialised registry used to record HTTP gateway
// activity.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fusiond",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fusiond",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total HTTP errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fusiond",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an HTTP request.
func (m *apiMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, httpStatusLabel(status)).Inc()
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

func httpStatusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "other"
	}
}

// Swaps returns the registry tracking order, escrow, and coordination
// activity.
func Swaps() *swapMetrics {
	swapMetricsOnce.Do(func() {
		swapRegistry = &swapMetrics{
			ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fusiond",
				Subsystem: "orders",
				Name:      "created_total",
				Help:      "Count of orders created segmented by maker asset.",
			}, []string{"asset"}),
			ordersFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fusiond",
				Subsystem: "orders",
				Name:      "filled_total",
				Help:      "Count of fills segmented by maker asset and fill kind.",
			}, []string{"asset", "kind"}),
			ordersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "fusiond",
				Subsystem: "orders",
				Name:      "cancelled_total",
				Help:      "Count of orders cancelled by their maker.",
			}),
			fillLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fusiond",
				Subsystem: "orders",
				Name:      "fill_duration_seconds",
				Help:      "Latency distribution for fill settlement.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"asset"}),
			escrowStates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fusiond",
				Subsystem: "escrow",
				Name:      "transitions_total",
				Help:      "Escrow state transitions segmented by resulting status.",
			}, []string{"status"}),
			swapStates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fusiond",
				Subsystem: "swaps",
				Name:      "transitions_total",
				Help:      "Swap pairing state transitions segmented by resulting state.",
			}, []string{"state"}),
			partitions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "fusiond",
				Subsystem: "swaps",
				Name:      "partitions_total",
				Help:      "Count of network partition events that extended timelocks.",
			}),
			signerHealth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "fusiond",
				Subsystem: "signer",
				Name:      "healthy",
				Help:      "1 when the signing backend is healthy, 0 otherwise.",
			}),
		}
		prometheus.MustRegister(
			swapRegistry.ordersCreated,
			swapRegistry.ordersFilled,
			swapRegistry.ordersCancelled,
			swapRegistry.fillLatency,
			swapRegistry.escrowStates,
			swapRegistry.swapStates,
			swapRegistry.partitions,
			swapRegistry.signerHealth,
		)
	})
	return swapRegistry
}

// RecordOrderCreated increments the creation counter for the supplied asset.
func (m *swapMetrics) RecordOrderCreated(asset string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(assetLabel(asset)).Inc()
}

// RecordFill records a settled fill. Kind should be "full" or "partial".
func (m *swapMetrics) RecordFill(asset, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "full"
	}
	label := assetLabel(asset)
	m.ordersFilled.WithLabelValues(label, kind).Inc()
	m.fillLatency.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordCancel increments the cancellation counter.
func (m *swapMetrics) RecordCancel() {
	if m == nil {
		return
	}
	m.ordersCancelled.Inc()
}

// RecordEscrowTransition records an escrow entering the supplied status.
func (m *swapMetrics) RecordEscrowTransition(status string) {
	if m == nil {
		return
	}
	m.escrowStates.WithLabelValues(stateLabel(status)).Inc()
}

// RecordSwapTransition records a swap pairing entering the supplied state.
func (m *swapMetrics) RecordSwapTransition(state string) {
	if m == nil {
		return
	}
	m.swapStates.WithLabelValues(stateLabel(state)).Inc()
}

// RecordPartition increments the partition counter.
func (m *swapMetrics) RecordPartition() {
	if m == nil {
		return
	}
	m.partitions.Inc()
}

// SetSignerHealthy publishes the current signer health state.
func (m *swapMetrics) SetSignerHealthy(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.signerHealth.Set(1)
	} else {
		m.signerHealth.Set(0)
	}
}

func assetLabel(asset string) string {
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}

func stateLabel(state string) string {
	normalized := strings.TrimSpace(strings.ToLower(state))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
