package circuitbreaker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// breakerMetrics holds Prometheus metrics for circuit breakers.
type breakerMetrics struct {
	stateChangesTotal *prometheus.CounterVec
	rejectionsTotal   *prometheus.CounterVec
}

var (
	breakerMetricsInstance *breakerMetrics
	breakerMetricsOnce     sync.Once
)

func getBreakerMetrics() *breakerMetrics {
	breakerMetricsOnce.Do(func() {
		breakerMetricsInstance = newBreakerMetrics()
	})
	return breakerMetricsInstance
}

func newBreakerMetrics() *breakerMetrics {
	return &breakerMetrics{
		stateChangesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "circuitbreaker",
				Name:      "state_changes_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"backend", "from", "to"},
		),
		rejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "circuitbreaker",
				Name:      "rejections_total",
				Help:      "Total number of calls rejected by an open circuit",
			},
			[]string{"backend"},
		),
	}
}
