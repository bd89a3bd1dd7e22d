package builtins

import (
	"fmt"

	"tradelab/internal/domain"
	"tradelab/internal/indicator"
	"tradelab/internal/strategy"
)

// Register adds every builtin factory to r.
func Register(r *strategy.Registry) {
	r.Register("buy-and-hold", func(p strategy.Params) (strategy.Strategy, error) {
		return NewBuyAndHold(p.Int("entry_bar", 1))
	})
	r.Register("sma-cross", func(p strategy.Params) (strategy.Strategy, error) {
		return NewSMACross(p.Int("short", 10), p.Int("long", 30))
	})
	r.Register("donchian-breakout", func(p strategy.Params) (strategy.Strategy, error) {
		return NewDonchianBreakout(p.Int("entry", 20), p.Int("exit", 10))
	})
	r.Register("rsi-reversion", func(p strategy.Params) (strategy.Strategy, error) {
		return NewRSIReversion(p.Int("period", 14), p.Float("oversold", 30), p.Float("overbought", 70))
	})
}

// NewRegistry returns a registry holding the builtins.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}

// ---------------------------------------------------------------------------
// Buy and hold
// ---------------------------------------------------------------------------

var _ strategy.Strategy = (*BuyAndHold)(nil)

// BuyAndHold buys once, on the entryBar-th candle, and never sells.
type BuyAndHold struct {
	entryBar int
}

// NewBuyAndHold creates a BuyAndHold entering on the entryBar-th candle
// (1-based).
func NewBuyAndHold(entryBar int) (*BuyAndHold, error) {
	if entryBar < 1 {
		return nil, fmt.Errorf("buy-and-hold: entry_bar %d must be >= 1", entryBar)
	}
	return &BuyAndHold{entryBar: entryBar}, nil
}

func (s *BuyAndHold) Name() string { return "buy-and-hold" }

func (s *BuyAndHold) Analyze(history []domain.Candle) domain.Signal {
	last := history[len(history)-1]
	if len(history) == s.entryBar {
		return signal(last, domain.ActionBuy, "entry")
	}
	return domain.Hold(last, "holding")
}

// ---------------------------------------------------------------------------
// Donchian breakout
// ---------------------------------------------------------------------------

var _ strategy.Strategy = (*DonchianBreakout)(nil)

// DonchianBreakout buys a close above the prior entry-bar high and sells a
// close below the prior exit-bar low.
type DonchianBreakout struct {
	entry int
	exit  int
}

// NewDonchianBreakout creates a channel breakout with separate entry and
// exit lookbacks.
func NewDonchianBreakout(entry, exit int) (*DonchianBreakout, error) {
	if entry <= 0 || exit <= 0 {
		return nil, fmt.Errorf("donchian-breakout: periods must be positive, got %d/%d", entry, exit)
	}
	return &DonchianBreakout{entry: entry, exit: exit}, nil
}

func (s *DonchianBreakout) Name() string { return "donchian-breakout" }

func (s *DonchianBreakout) Analyze(history []domain.Candle) domain.Signal {
	last := history[len(history)-1]
	lookback := max(s.entry, s.exit)
	if len(history) < lookback+1 {
		return domain.Hold(last, "warmup")
	}
	// channels over the bars before the current one
	prior := history[len(history)-lookback-1 : len(history)-1]
	h, l, _ := indicator.HLC(prior)

	upper := indicator.Last(indicator.Donchian(h, l, s.entry).Upper)
	lower := indicator.Last(indicator.Donchian(h, l, s.exit).Lower)
	switch {
	case last.Close > upper:
		return signal(last, domain.ActionBuy, "channel breakout")
	case last.Close < lower:
		return signal(last, domain.ActionSell, "channel breakdown")
	}
	return domain.Hold(last, "")
}

// ---------------------------------------------------------------------------
// RSI mean reversion
// ---------------------------------------------------------------------------

var _ strategy.Strategy = (*RSIReversion)(nil)

// RSIReversion buys when RSI falls below oversold and sells when it rises
// above overbought.
type RSIReversion struct {
	period     int
	oversold   float64
	overbought float64
}

// NewRSIReversion creates an RSI mean-reversion strategy.
func NewRSIReversion(period int, oversold, overbought float64) (*RSIReversion, error) {
	if period <= 0 {
		return nil, fmt.Errorf("rsi-reversion: period %d must be positive", period)
	}
	if oversold >= overbought {
		return nil, fmt.Errorf("rsi-reversion: oversold %v must be below overbought %v", oversold, overbought)
	}
	return &RSIReversion{period: period, oversold: oversold, overbought: overbought}, nil
}

func (s *RSIReversion) Name() string { return "rsi-reversion" }

func (s *RSIReversion) Analyze(history []domain.Candle) domain.Signal {
	last := history[len(history)-1]
	if len(history) <= s.period {
		return domain.Hold(last, "warmup")
	}
	rsi := indicator.Last(indicator.RSI(indicator.Closes(history), s.period))
	switch {
	case rsi < s.oversold:
		return signal(last, domain.ActionBuy, fmt.Sprintf("rsi %.1f oversold", rsi))
	case rsi > s.overbought:
		return signal(last, domain.ActionSell, fmt.Sprintf("rsi %.1f overbought", rsi))
	}
	return domain.Hold(last, "")
}
