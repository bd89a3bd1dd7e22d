// Package metrics exposes Prometheus collectors for backtest sweeps.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcome labels for RunsTotal.
const (
	StatusOK     = "ok"
	StatusHalted = "halted"
	StatusFailed = "failed"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradelab_backtest_runs_total",
		Help: "Total number of completed backtest runs by outcome",
	}, []string{"status"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradelab_backtest_run_duration_seconds",
		Help:    "Wall time of a single backtest run",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	RunsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradelab_backtest_runs_in_flight",
		Help: "Number of backtests currently executing",
	})

	BestObjective = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradelab_sweep_best_objective",
		Help: "Best objective value of the most recent sweep",
	}, []string{"objective"})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
