package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type schedulerMetrics struct {
	triggers    *prometheus.CounterVec
	skippedBusy *prometheus.CounterVec
}

var (
	schedulerMetricsOnce     sync.Once
	schedulerMetricsInstance *schedulerMetrics
)

func getOrCreateSchedulerMetrics() *schedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetricsInstance = &schedulerMetrics{
			triggers: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "quorum_scheduler_triggers_total",
				Help: "Triggers accepted for dispatch, by cause",
			}, []string{"cause"}),
			skippedBusy: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "quorum_scheduler_skipped_busy_total",
				Help: "Triggers coalesced because a cycle was already in flight",
			}, []string{"pair"}),
		}
	})
	return schedulerMetricsInstance
}
