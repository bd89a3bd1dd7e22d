package performance

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tradelab/internal/domain"
)

func curveOf(values ...float64) []domain.EquitySnapshot {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.EquitySnapshot, len(values))
	for i, v := range values {
		out[i] = domain.EquitySnapshot{Timestamp: t0.AddDate(0, 0, i), Cash: v, Equity: v}
	}
	return out
}

func sell(pnl float64) domain.Trade {
	return domain.Trade{Action: domain.ActionSell, RealizedPnL: &pnl}
}

func TestMaxDrawdownPct(t *testing.T) {
	assert.InDelta(t, 50.0, MaxDrawdownPct([]float64{100, 50, 75}), 1e-9)
	assert.Equal(t, 0.0, MaxDrawdownPct([]float64{100, 101, 150, 200}))
	assert.Equal(t, 0.0, MaxDrawdownPct(nil))
}

func TestAnalyze_WinRateIgnoresBuys(t *testing.T) {
	trades := []domain.Trade{
		{Action: domain.ActionBuy},
		sell(10), sell(5), sell(-5),
	}
	m := Analyze(100, curveOf(100, 110), trades)
	assert.InDelta(t, 66.6667, m.WinRatePct, 1e-3)
	assert.InDelta(t, 10.0/3, m.Expectancy, 1e-9)
	assert.Equal(t, 4, m.TradeCount)
	// mean 10/3 over population stddev 6.2361, times sqrt(3)
	assert.InDelta(t, 0.9258201, m.SQN, 1e-6)
}

func TestAnalyze_ZeroVarianceReturns(t *testing.T) {
	// constant 10% growth each step
	m := Analyze(100, curveOf(100, 110, 121, 133.1), nil)
	assert.Equal(t, 0.0, m.SharpeRatio)
	assert.Equal(t, 0.0, m.SortinoRatio)
	assert.Equal(t, 0.0, m.CalmarRatio, "no drawdown")
	assert.False(t, math.IsNaN(m.SharpeRatio) || math.IsInf(m.SharpeRatio, 0))
}

func TestAnalyze_TotalReturn(t *testing.T) {
	m := Analyze(10000, curveOf(10000, 11000, 12000), nil)
	assert.InDelta(t, 20.0, m.TotalReturnPct, 1e-9)

	m = Analyze(0, curveOf(0, 10), nil)
	assert.Equal(t, 0.0, m.TotalReturnPct)

	m = Analyze(100, nil, nil)
	assert.Equal(t, 0.0, m.TotalReturnPct)
	assert.Equal(t, 0.0, m.MaxDrawdownPct)
}

func TestAnalyze_RatiosWithDrawdown(t *testing.T) {
	m := Analyze(100, curveOf(100, 120, 90, 130), nil)
	assert.InDelta(t, 25.0, m.MaxDrawdownPct, 1e-9)
	assert.InDelta(t, 30.0, m.TotalReturnPct, 1e-9)

	// step returns 0.2, -0.25, 4/9: mean 0.131481, population stddev
	// 0.287616, downside stddev 0.117851
	assert.InDelta(t, 7.2569138, m.SharpeRatio, 1e-6)
	assert.InDelta(t, 17.7105116, m.SortinoRatio, 1e-6)
	// 1.3 compounded over 252/4 years, divided by 25
	assert.InEpsilon(t, (math.Pow(1.3, TradingDays/4.0)-1)*100/25, m.CalmarRatio, 1e-9)
	assert.InEpsilon(t, 6.0324142594e7, m.CalmarRatio, 1e-9)
}

func TestSharpeAndSortino_Direct(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.03, 0.00}
	// mean 0.005, population stddev 0.0180278, downside stddev 0.0086603
	assert.InDelta(t, 0.005/math.Sqrt(0.000325)*math.Sqrt(TradingDays), Sharpe(returns), 1e-9)
	assert.InDelta(t, 4.4028, Sharpe(returns), 1e-4)
	assert.InDelta(t, 9.1652, Sortino(returns), 1e-4)
	assert.Equal(t, 0.0, Sharpe(returns[:1]))
}

func TestSQN_Degenerate(t *testing.T) {
	m := Analyze(100, nil, []domain.Trade{sell(5)})
	assert.Equal(t, 0.0, m.SQN)
	m = Analyze(100, nil, []domain.Trade{sell(5), sell(5)})
	assert.Equal(t, 0.0, m.SQN)
	assert.Equal(t, 100.0, m.WinRatePct)
}

func TestAnnualizedReturnPct(t *testing.T) {
	assert.InDelta(t, 10.0, AnnualizedReturnPct(10, TradingDays), 1e-9)
	assert.Equal(t, -100.0, AnnualizedReturnPct(-100, 10))
	assert.Equal(t, 0.0, AnnualizedReturnPct(10, 0))
}
