package providers

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type registryMetrics struct {
	providerErrors  *prometheus.CounterVec
	failovers       *prometheus.CounterVec
	providerHealthy *prometheus.GaugeVec
}

var (
	regMetrics     *registryMetrics
	regMetricsOnce sync.Once
)

// getOrCreateRegistryMetrics returns the process-wide provider metrics,
// registering them on first use.
func getOrCreateRegistryMetrics() *registryMetrics {
	regMetricsOnce.Do(func() {
		regMetrics = &registryMetrics{
			providerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "quorum_provider_errors_total",
				Help: "Provider call failures by provider and error kind",
			}, []string{"provider", "kind"}),
			failovers: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "quorum_provider_failovers_total",
				Help: "Failover steps taken per capability",
			}, []string{"capability"}),
			providerHealthy: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "quorum_provider_healthy",
				Help: "Provider health flag (1 healthy, 0 demoted)",
			}, []string{"provider"}),
		}
	})
	return regMetrics
}
