package analyst

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type poolMetrics struct {
	opinionSeconds *prometheus.HistogramVec
	fallbacks      *prometheus.CounterVec
}

var (
	poolMetricsOnce     sync.Once
	poolMetricsInstance *poolMetrics
)

func getOrCreatePoolMetrics() *poolMetrics {
	poolMetricsOnce.Do(func() {
		poolMetricsInstance = &poolMetrics{
			opinionSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "quorum_analyst_opinion_seconds",
					Help:    "Time spent collecting one analyst opinion",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"analyst"},
			),
			fallbacks: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quorum_analyst_fallbacks_total",
					Help: "Analyst slots degraded to the fallback opinion",
				},
				[]string{"analyst"},
			),
		}
	})
	return poolMetricsInstance
}
