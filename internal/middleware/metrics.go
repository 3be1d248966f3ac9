package middleware

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// middlewareMetrics holds Prometheus metrics for the middleware chain.
type middlewareMetrics struct {
	panicsRecovered prometheus.Counter
}

var (
	middlewareMetricsInstance *middlewareMetrics
	middlewareMetricsOnce     sync.Once
)

func getMiddlewareMetrics() *middlewareMetrics {
	middlewareMetricsOnce.Do(func() {
		middlewareMetricsInstance = &middlewareMetrics{
			panicsRecovered: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "http",
				Name:      "panics_recovered_total",
				Help:      "Total number of panics recovered by the middleware chain",
			}),
		}
	})
	return middlewareMetricsInstance
}
