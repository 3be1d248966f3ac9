package proxy

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// proxyMetrics holds Prometheus metrics for backend calls.
type proxyMetrics struct {
	requestsTotal   *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var (
	proxyMetricsInstance *proxyMetrics
	proxyMetricsOnce     sync.Once
)

func getProxyMetrics() *proxyMetrics {
	proxyMetricsOnce.Do(func() {
		proxyMetricsInstance = newProxyMetrics()
	})
	return proxyMetricsInstance
}

func newProxyMetrics() *proxyMetrics {
	return &proxyMetrics{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Total number of backend forwards by outcome",
			},
			[]string{"backend", "outcome"},
		),
		retriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "proxy",
				Name:      "retries_total",
				Help:      "Total number of backend retry attempts",
			},
			[]string{"backend"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Subsystem: "proxy",
				Name:      "request_duration_seconds",
				Help:      "Backend forward duration including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
	}
}

func (m *proxyMetrics) observe(backend, outcome string, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(backend, outcome).Inc()
	m.requestDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}
