package observability

import (
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// Phases reported by the settlement phase gauge, in order.
var settlementPhases = []string{"normal", "initiated", "debt_locked", "reserve_locked"}

// SettlementMetrics records coordinator operations and the settlement
// aggregate after each of them.
type SettlementMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	unbacked   prometheus.Gauge
	phase      *prometheus.GaugeVec
}

type requestMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics

	requestMetricsOnce sync.Once
	requestRegistry    *requestMetrics
)

// Settlement returns the lazily-initialised settlement metrics registered with
// the default prometheus registerer.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = NewSettlementMetrics(prometheus.DefaultRegisterer)
	})
	return settlementRegistry
}

// NewSettlementMetrics builds the collectors and registers them with reg.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	m := &SettlementMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "probity",
			Subsystem: "shutdown",
			Name:      "operations_total",
			Help:      "Settlement coordinator operations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "probity",
			Subsystem: "shutdown",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution of settlement coordinator operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		unbacked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "probity",
			Subsystem: "shutdown",
			Name:      "unbacked_debt",
			Help:      "Unbacked debt tracked by the coordinator, in whole stablecoin units.",
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "probity",
			Subsystem: "shutdown",
			Name:      "phase",
			Help:      "Current settlement phase; the active phase reports 1.",
		}, []string{"phase"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.latency, m.unbacked, m.phase)
	}
	return m
}

// Observe records the outcome of one coordinator operation.
func (m *SettlementMetrics) Observe(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	m.operations.WithLabelValues(operation, outcome(err)).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// SetState publishes the phase and the rad-precision unbacked debt.
func (m *SettlementMetrics) SetState(phase string, unbackedDebt *uint256.Int) {
	if m == nil {
		return
	}
	for _, p := range settlementPhases {
		value := 0.0
		if p == phase {
			value = 1
		}
		m.phase.WithLabelValues(p).Set(value)
	}
	m.unbacked.Set(radToFloat(unbackedDebt))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

var radScale = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(45), nil))

func radToFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(v.ToBig()), radScale).Float64()
	return value
}

// Requests returns the lazily-initialised HTTP request metrics of the operator
// API.
func Requests() *requestMetrics {
	requestMetricsOnce.Do(func() {
		requestRegistry = &requestMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "probity",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Operator API requests segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "probity",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for operator API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "probity",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Operator API requests rejected by the rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			requestRegistry.requests,
			requestRegistry.latency,
			requestRegistry.throttles,
		)
	})
	return requestRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *requestMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *requestMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}
