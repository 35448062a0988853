package guard

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type guardMetrics struct {
	outcomes *prometheus.CounterVec
}

var (
	guardMetricsOnce     sync.Once
	guardMetricsInstance *guardMetrics
)

func getOrCreateGuardMetrics() *guardMetrics {
	guardMetricsOnce.Do(func() {
		guardMetricsInstance = &guardMetrics{
			outcomes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "quorum_guard_outcomes_total",
					Help: "Non-pass guard outcomes by guard and result",
				},
				[]string{"guard", "result"},
			),
		}
	})
	return guardMetricsInstance
}
