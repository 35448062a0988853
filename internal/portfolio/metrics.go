package portfolio

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type paperMetrics struct {
	equity   prometheus.Gauge
	cash     prometheus.Gauge
	drawdown prometheus.Gauge
}

var (
	paperMetricsOnce     sync.Once
	paperMetricsInstance *paperMetrics
)

func getOrCreatePaperMetrics() *paperMetrics {
	paperMetricsOnce.Do(func() {
		paperMetricsInstance = &paperMetrics{
			equity: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "quorum_portfolio_equity_quote",
				Help: "Paper portfolio equity in quote currency",
			}),
			cash: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "quorum_portfolio_cash_quote",
				Help: "Paper portfolio free cash in quote currency",
			}),
			drawdown: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "quorum_portfolio_drawdown_from_peak",
				Help: "Paper portfolio drawdown from peak equity as a fraction",
			}),
		}
	})
	return paperMetricsInstance
}
