package journal

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type journalMetrics struct {
	writes         prometheus.Counter
	writeFailures  prometheus.Counter
	droppedRecords prometheus.Counter
	pending        prometheus.Gauge
}

var (
	journalMetricsOnce     sync.Once
	journalMetricsInstance *journalMetrics
)

func getOrCreateJournalMetrics() *journalMetrics {
	journalMetricsOnce.Do(func() {
		journalMetricsInstance = &journalMetrics{
			writes: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quorum_journal_writes_total",
				Help: "Journal records written durably",
			}),
			writeFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quorum_journal_write_failures_total",
				Help: "Journal appends that failed and parked their record",
			}),
			droppedRecords: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quorum_journal_dropped_records_total",
				Help: "Parked records dropped because the retry buffer was full",
			}),
			pending: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "quorum_journal_pending_records",
				Help: "Records parked in memory awaiting a successful append",
			}),
		}
	})
	return journalMetricsInstance
}
