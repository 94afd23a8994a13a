package svc

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide Prometheus collectors exported by the service.
// Counters are registered once via metricsOnce, since ServiceContext may be
// constructed more than once across tests within the same process.
type Metrics struct {
	CyclesTotal     *prometheus.CounterVec
	DecisionsTotal  *prometheus.CounterVec
	TradesTotal     *prometheus.CounterVec
	CycleDurationMS prometheus.Histogram
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// NewMetrics returns the shared Metrics instance, registering its collectors on
// first call.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sentinel_cycles_total",
				Help: "Completed trading cycles, by outcome",
			}, []string{"status"}),
			DecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sentinel_decisions_total",
				Help: "LLM decisions produced, by action",
			}, []string{"action"}),
			TradesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sentinel_trade_executions_total",
				Help: "Trade executions submitted to the exchange, by action and outcome",
			}, []string{"action", "status"}),
			CycleDurationMS: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "sentinel_cycle_duration_ms",
				Help:    "Wall-clock duration of a full trading cycle in milliseconds",
				Buckets: prometheus.ExponentialBuckets(50, 2, 12),
			}),
		}
	})
	return metricsInstance
}
