package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type engineMetrics struct {
	cycles        *prometheus.CounterVec
	cycleSeconds  *prometheus.HistogramVec
	stage         *prometheus.GaugeVec
	panics        prometheus.Counter
	aborted       prometheus.Counter
	skippedPaused prometheus.Counter
}

var (
	engineMetricsOnce     sync.Once
	engineMetricsInstance *engineMetrics
)

func getOrCreateEngineMetrics() *engineMetrics {
	engineMetricsOnce.Do(func() {
		engineMetricsInstance = &engineMetrics{
			cycles: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "quorum_cycles_total",
				Help: "Completed cycles by pair and outcome (intent, hold, veto, downgrade, error)",
			}, []string{"pair", "outcome"}),
			cycleSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "quorum_cycle_duration_seconds",
				Help:    "End-to-end cycle duration from trigger to journal",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90},
			}, []string{"pair"}),
			stage: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "quorum_cycle_stage",
				Help: "Current pipeline stage per pair (0=IDLE through 7=LOGGING)",
			}, []string{"pair"}),
			panics: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quorum_cycle_panics_total",
				Help: "Cycles that recovered from a panic",
			}),
			aborted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quorum_cycles_aborted_total",
				Help: "Cycles aborted by shutdown before a record was written",
			}),
			skippedPaused: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quorum_cycles_skipped_paused_total",
				Help: "Triggers dropped because trading was paused",
			}),
		}
	})
	return engineMetricsInstance
}
