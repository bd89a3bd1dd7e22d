// Package performance derives risk and return statistics from a run's
// equity curve and trade ledger.
package performance

import (
	"math"

	"tradelab/internal/domain"
)

// TradingDays is the annualisation factor for daily bars.
const TradingDays = 252

const epsilon = 1e-12

// Analyze computes BacktestMetrics. It has no side effects and never
// returns NaN or Inf for degenerate inputs.
func Analyze(initialCapital float64, curve []domain.EquitySnapshot, trades []domain.Trade) domain.BacktestMetrics {
	equity := make([]float64, len(curve))
	for i, s := range curve {
		equity[i] = s.Equity
	}

	m := domain.BacktestMetrics{TradeCount: len(trades)}

	final := initialCapital
	if len(equity) > 0 {
		final = equity[len(equity)-1]
	}
	if initialCapital != 0 {
		m.TotalReturnPct = (final - initialCapital) / initialCapital * 100
	}
	m.MaxDrawdownPct = MaxDrawdownPct(equity)

	returns := StepReturns(equity)
	m.SharpeRatio = Sharpe(returns)
	m.SortinoRatio = Sortino(returns)

	if m.MaxDrawdownPct > 0 {
		m.CalmarRatio = AnnualizedReturnPct(m.TotalReturnPct, len(equity)) / m.MaxDrawdownPct
	}

	pnls := closedPnL(trades)
	m.Expectancy = mean(pnls)
	m.SQN = sqn(pnls)
	m.WinRatePct = winRatePct(pnls)
	return m
}

// MaxDrawdownPct is the deepest peak-to-trough decline of equity, in
// percent.
func MaxDrawdownPct(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	worst := 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak <= 0 {
			continue
		}
		if dd := (e - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return 100 * math.Abs(worst)
}

// StepReturns returns (e[t]-e[t-1])/e[t-1], skipping zero denominators.
func StepReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		out = append(out, (equity[i]-equity[i-1])/equity[i-1])
	}
	return out
}

// Sharpe is the annualised mean over population standard deviation of
// returns.
func Sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd := stddev(returns)
	if sd < epsilon {
		return 0
	}
	return mean(returns) / sd * math.Sqrt(TradingDays)
}

// Sortino uses the population standard deviation of min(r, 0) as the
// denominator.
func Sortino(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	down := make([]float64, len(returns))
	for i, r := range returns {
		down[i] = math.Min(r, 0)
	}
	sd := stddev(down)
	if sd < epsilon {
		return 0
	}
	return mean(returns) / sd * math.Sqrt(TradingDays)
}

// AnnualizedReturnPct compounds totalReturnPct over points/TradingDays
// years.
func AnnualizedReturnPct(totalReturnPct float64, points int) float64 {
	if points <= 0 {
		return 0
	}
	growth := 1 + totalReturnPct/100
	if growth <= 0 {
		return -100
	}
	years := float64(points) / TradingDays
	return (math.Pow(growth, 1/years) - 1) * 100
}

func closedPnL(trades []domain.Trade) []float64 {
	var out []float64
	for _, t := range trades {
		if t.Action == domain.ActionSell && t.RealizedPnL != nil {
			out = append(out, *t.RealizedPnL)
		}
	}
	return out
}

func sqn(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}
	sd := stddev(pnls)
	if sd < epsilon {
		return 0
	}
	return math.Sqrt(float64(len(pnls))) * mean(pnls) / sd
}

func winRatePct(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	wins := 0
	for _, p := range pnls {
		if p > 0 {
			wins++
		}
	}
	return 100 * float64(wins) / float64(len(pnls))
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

// stddev is the population standard deviation.
func stddev(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	m := mean(x)
	var ss float64
	for _, v := range x {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(x)))
}
