package observability

import (
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// JSON-RPC method activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openbounty",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openbounty",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "openbounty",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openbounty",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LedgerMetrics tracks ledger operations and treasury totals.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	treasury   *prometheus.GaugeVec
	events     *prometheus.CounterVec
}

// Ledger returns the singleton ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openbounty",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and outcome (ok or error kind).",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "openbounty",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency of ledger operations including lock wait and commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			treasury: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "openbounty",
				Subsystem: "treasury",
				Name:      "totals",
				Help:      "Treasury counters as last observed after a committed operation.",
			}, []string{"counter"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openbounty",
				Subsystem: "ledger",
				Name:      "events_total",
				Help:      "Committed ledger events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.treasury,
			ledgerRegistry.events,
		)
	})
	return ledgerRegistry
}

// ObserveOperation records an operation outcome. outcome is "ok" or the error
// kind that rejected it.
func (m *LedgerMetrics) ObserveOperation(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordEvent counts a committed event.
func (m *LedgerMetrics) RecordEvent(eventType string) {
	if m == nil || eventType == "" {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

// SetTreasuryTotals publishes the treasury counters.
func (m *LedgerMetrics) SetTreasuryTotals(created, completed uint64, fees, reclaimed *big.Int) {
	if m == nil {
		return
	}
	m.treasury.WithLabelValues("bounties_created").Set(float64(created))
	m.treasury.WithLabelValues("bounties_completed").Set(float64(completed))
	m.treasury.WithLabelValues("fees_collected").Set(bigToFloat(fees))
	m.treasury.WithLabelValues("expired_funds_reclaimed").Set(bigToFloat(reclaimed))
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	if math.IsInf(f, 0) {
		return math.MaxFloat64
	}
	return f
}
