package snapshot

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type assemblerMetrics struct {
	cacheHits        *prometheus.CounterVec
	partialSnapshots *prometheus.CounterVec
	assembleSeconds  *prometheus.HistogramVec
}

var (
	asmMetrics     *assemblerMetrics
	asmMetricsOnce sync.Once
)

// getOrCreateAssemblerMetrics returns the process-wide snapshot metrics,
// registering them on first use.
func getOrCreateAssemblerMetrics() *assemblerMetrics {
	asmMetricsOnce.Do(func() {
		asmMetrics = &assemblerMetrics{
			cacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "quorum_snapshot_cache_hits_total",
				Help: "Snapshot cache hits by component",
			}, []string{"component"}),
			partialSnapshots: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "quorum_snapshot_partial_total",
				Help: "Snapshots assembled without optional derivatives context",
			}, []string{"pair"}),
			assembleSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "quorum_snapshot_assemble_seconds",
				Help:    "Snapshot assembly latency",
				Buckets: prometheus.DefBuckets,
			}, []string{"pair"}),
		}
	})
	return asmMetrics
}
