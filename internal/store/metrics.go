package store

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type storeMetrics struct {
	inserts        prometheus.Counter
	insertFailures prometheus.Counter
}

var (
	storeMetricsOnce     sync.Once
	storeMetricsInstance *storeMetrics
)

func getOrCreateStoreMetrics() *storeMetrics {
	storeMetricsOnce.Do(func() {
		storeMetricsInstance = &storeMetrics{
			inserts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quorum_store_inserts_total",
				Help: "Decision records mirrored to PostgreSQL",
			}),
			insertFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quorum_store_insert_failures_total",
				Help: "Decision record mirror writes that failed",
			}),
		}
	})
	return storeMetricsInstance
}
