// Package builtins provides built-in strategy implementations that ship with
// tradelab.
package builtins

import (
	"fmt"

	"tradelab/internal/domain"
	"tradelab/internal/indicator"
	"tradelab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It generates
// a buy signal when the short-period SMA crosses above the long-period SMA,
// and a sell signal when it crosses below.
type SMACross struct {
	shortPeriod int
	longPeriod  int
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int) (*SMACross, error) {
	if short <= 0 || long <= short {
		return nil, fmt.Errorf("sma-cross: need 0 < short < long, got %d/%d", short, long)
	}
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
	}, nil
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Analyze compares the SMAs of the last two bars and signals on a cross.
func (s *SMACross) Analyze(history []domain.Candle) domain.Signal {
	last := history[len(history)-1]
	if len(history) < s.longPeriod+1 {
		return domain.Hold(last, "warmup")
	}

	closes := indicator.Closes(history[len(history)-s.longPeriod-1:])
	fast := indicator.SMA(closes, s.shortPeriod)
	slow := indicator.SMA(closes, s.longPeriod)
	n := len(closes)
	prevDiff := fast[n-2] - slow[n-2]
	curDiff := fast[n-1] - slow[n-1]

	switch {
	case prevDiff <= 0 && curDiff > 0:
		return signal(last, domain.ActionBuy, "sma cross up")
	case prevDiff >= 0 && curDiff < 0:
		return signal(last, domain.ActionSell, "sma cross down")
	}
	return domain.Hold(last, "")
}

func signal(c domain.Candle, action domain.Action, reason string) domain.Signal {
	return domain.Signal{Action: action, Price: c.Close, Timestamp: c.Time, Reason: reason}
}
