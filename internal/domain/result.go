package domain

import "time"

// Objective names accepted by BacktestMetrics.Value.
const (
	MetricTotalReturnPct = "totalReturnPct"
	MetricMaxDrawdownPct = "maxDrawdownPct"
	MetricSharpeRatio    = "sharpeRatio"
	MetricSortinoRatio   = "sortinoRatio"
	MetricCalmarRatio    = "calmarRatio"
	MetricExpectancy     = "expectancy"
	MetricSQN            = "sqn"
	MetricWinRatePct     = "winRatePct"
	MetricTradeCount     = "tradeCount"
)

// BacktestMetrics are derived from one run's equity curve and trade log.
type BacktestMetrics struct {
	TotalReturnPct float64 `json:"totalReturnPct"`
	MaxDrawdownPct float64 `json:"maxDrawdownPct"`
	SharpeRatio    float64 `json:"sharpeRatio"`
	SortinoRatio   float64 `json:"sortinoRatio"`
	CalmarRatio    float64 `json:"calmarRatio"`
	Expectancy     float64 `json:"expectancy"`
	SQN            float64 `json:"sqn"`
	WinRatePct     float64 `json:"winRatePct"`
	TradeCount     int     `json:"tradeCount"`
}

// Value returns the metric named by objective. The second return value is
// false for an unknown name.
func (m BacktestMetrics) Value(objective string) (float64, bool) {
	switch objective {
	case MetricTotalReturnPct:
		return m.TotalReturnPct, true
	case MetricMaxDrawdownPct:
		return m.MaxDrawdownPct, true
	case MetricSharpeRatio:
		return m.SharpeRatio, true
	case MetricSortinoRatio:
		return m.SortinoRatio, true
	case MetricCalmarRatio:
		return m.CalmarRatio, true
	case MetricExpectancy:
		return m.Expectancy, true
	case MetricSQN:
		return m.SQN, true
	case MetricWinRatePct:
		return m.WinRatePct, true
	case MetricTradeCount:
		return float64(m.TradeCount), true
	default:
		return 0, false
	}
}

// BacktestResult is the terminal output of one simulation.
type BacktestResult struct {
	InitialCapital float64          `json:"initialCapital"`
	FinalCapital   float64          `json:"finalCapital"`
	Metrics        BacktestMetrics  `json:"metrics"`
	Trades         []Trade          `json:"trades"`
	EquityCurve    []EquitySnapshot `json:"equityCurve"`

	// Halted is set when the drawdown kill-switch stopped the run early;
	// HaltedAt is the timestamp of the step that tripped it.
	Halted   bool      `json:"halted"`
	HaltedAt time.Time `json:"haltedAt,omitempty"`
}
