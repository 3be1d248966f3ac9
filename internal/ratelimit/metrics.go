package ratelimit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for rate limit checks.
type Metrics struct {
	checksTotal *prometheus.CounterVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// getMetrics returns the singleton rate limit metrics instance.
func getMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			checksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "gateway",
					Subsystem: "ratelimit",
					Name:      "checks_total",
					Help:      "Total number of rate limit checks by outcome",
				},
				[]string{"outcome"},
			),
		}
	})
	return metricsInstance
}

// record counts one check outcome.
func (m *Metrics) record(allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.checksTotal.WithLabelValues(outcome).Inc()
}
