// Package risk computes position sizes, stop and target prices, and the
// admission guards a backtest consults before trading. Every method is a
// pure function of the Manager's Config and its arguments.
package risk

import (
	"math"
	"time"

	"tradelab/internal/domain"
	"tradelab/internal/indicator"
)

// ExitReason names why an open position is closed by the engine.
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
)

// Manager applies one immutable Config.
type Manager struct {
	cfg Config
}

// New validates cfg, fills unset periods from DefaultConfig and returns a
// Manager bound to the result.
func New(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg.withDefaults()}, nil
}

// Config returns the resolved policy.
func (m *Manager) Config() Config { return m.cfg }

// ---------------------------------------------------------------------------
// Sizing and stops
// ---------------------------------------------------------------------------

// PositionSize returns the whole-unit quantity whose loss at stopPrice equals
// RiskPerTradePct of equity. It is 0 when entry equals stop.
func (m *Manager) PositionSize(equity, entryPrice, stopPrice float64) float64 {
	perUnit := math.Abs(entryPrice - stopPrice)
	if perUnit == 0 || equity <= 0 {
		return 0
	}
	return math.Floor(equity*m.cfg.RiskPerTradePct/perUnit + 1e-9)
}

// ATRStop places the stop ATRMultiplier ATRs below a long entry or above a
// short one.
func (m *Manager) ATRStop(entryPrice, atr float64, action domain.Action) float64 {
	dist := atr * m.cfg.ATRMultiplier
	if action == domain.ActionSell {
		return entryPrice + dist
	}
	return entryPrice - dist
}

// UpdateTrailingStop ratchets currentStop toward price. A long stop only
// moves up and a short stop only moves down. It returns currentStop
// unchanged when trailing is disabled or atr is unresolved.
func (m *Manager) UpdateTrailingStop(currentStop, high, low, atr float64, action domain.Action) float64 {
	if !m.cfg.TrailingStop || math.IsNaN(atr) {
		return currentStop
	}
	dist := atr * m.cfg.ATRMultiplier
	if action == domain.ActionSell {
		candidate := low + dist
		if currentStop <= 0 {
			return candidate
		}
		return math.Min(currentStop, candidate)
	}
	return math.Max(currentStop, high-dist)
}

// ATRSeries precomputes ATR(ATRPeriod) over candles.
func (m *Manager) ATRSeries(candles []domain.Candle) []float64 {
	h, l, c := indicator.HLC(candles)
	return indicator.ATR(h, l, c, m.cfg.ATRPeriod)
}

// ---------------------------------------------------------------------------
// Guards
// ---------------------------------------------------------------------------

// CheckDrawdown reports a breach when equity sits strictly more than
// MaxDrawdownPct below the high-water mark.
func (m *Manager) CheckDrawdown(currentEquity, highWaterMark float64) bool {
	if m.cfg.MaxDrawdownPct <= 0 || highWaterMark <= 0 {
		return false
	}
	return (currentEquity-highWaterMark)/highWaterMark < -m.cfg.MaxDrawdownPct
}

// CheckExits tests the bar's range against the position's stop and target.
func (m *Manager) CheckExits(c domain.Candle, pos domain.Position) (ExitReason, float64) {
	return CheckExits(c, pos)
}

// CheckExits is the config-independent exit rule. The stop is evaluated
// first, so a bar that reaches both levels exits at the stop. The returned
// price is the level that was hit.
func CheckExits(c domain.Candle, pos domain.Position) (ExitReason, float64) {
	long := pos.IsLong()
	if pos.StopLoss > 0 {
		if (long && c.Low <= pos.StopLoss) || (!long && c.High >= pos.StopLoss) {
			return ExitStopLoss, pos.StopLoss
		}
	}
	if pos.TakeProfit > 0 {
		if (long && c.High >= pos.TakeProfit) || (!long && c.Low <= pos.TakeProfit) {
			return ExitTakeProfit, pos.TakeProfit
		}
	}
	return ExitNone, 0
}

// IsMarketTrending is false only when a resolved ADX(ADXPeriod) is below
// ADXThreshold. Short history counts as trending.
func (m *Manager) IsMarketTrending(candles []domain.Candle) bool {
	if m.cfg.ADXThreshold <= 0 || len(candles) < 2*m.cfg.ADXPeriod {
		return true
	}
	h, l, c := indicator.HLC(candles)
	adx := indicator.Last(indicator.ADX(h, l, c, m.cfg.ADXPeriod))
	if math.IsNaN(adx) {
		return true
	}
	return adx >= m.cfg.ADXThreshold
}

// CheckDailyLoss sums realized PnL of trades on today's calendar day (in
// today's location) and reports a breach when it reaches
// -DailyLossLimitPct of startingEquity.
func (m *Manager) CheckDailyLoss(trades []domain.Trade, startingEquity float64, today time.Time) bool {
	if m.cfg.DailyLossLimitPct <= 0 || startingEquity <= 0 {
		return false
	}
	y, mo, d := today.Date()
	var pnl float64
	for _, t := range trades {
		if t.RealizedPnL == nil {
			continue
		}
		ty, tm, td := t.Timestamp.In(today.Location()).Date()
		if ty == y && tm == mo && td == d {
			pnl += *t.RealizedPnL
		}
	}
	return pnl/startingEquity <= -m.cfg.DailyLossLimitPct
}

// CheckCorrelation reports a breach when the candidate's returns correlate
// above MaxCorrelation with any existing series. Undefined correlations
// are ignored.
func (m *Manager) CheckCorrelation(candidate []float64, existing [][]float64) bool {
	if m.cfg.MaxCorrelation <= 0 {
		return false
	}
	for _, other := range existing {
		if r := indicator.Pearson(candidate, other); !math.IsNaN(r) && r > m.cfg.MaxCorrelation {
			return true
		}
	}
	return false
}

// ReturnsWindow returns the last CorrelationWindow simple returns of the
// closes in candles.
func (m *Manager) ReturnsWindow(candles []domain.Candle) []float64 {
	if n := m.cfg.CorrelationWindow + 1; len(candles) > n {
		candles = candles[len(candles)-n:]
	}
	return indicator.PctReturns(indicator.Closes(candles))
}

// BollingerTakeProfit returns the upper band for a long or the lower band
// for a short. It reports false with fewer than BollingerPeriod candles.
func (m *Manager) BollingerTakeProfit(candles []domain.Candle, action domain.Action) (float64, bool) {
	p := m.cfg.BollingerPeriod
	if len(candles) < p {
		return 0, false
	}
	b := indicator.Bollinger(indicator.Closes(candles[len(candles)-p:]), p, m.cfg.BollingerStdDev)
	v := indicator.Last(b.Upper)
	if action == domain.ActionSell {
		v = indicator.Last(b.Lower)
	}
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// ClipToVolume caps qty at VolumeLimitPct of the bar's volume.
func (m *Manager) ClipToVolume(qty, volume float64) float64 {
	if m.cfg.VolumeLimitPct <= 0 {
		return qty
	}
	limit := math.Floor(m.cfg.VolumeLimitPct*volume + 1e-9)
	if limit < 0 {
		limit = 0
	}
	return math.Min(qty, limit)
}
