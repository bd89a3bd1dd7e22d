// Package slippage adjusts ideal signal prices to the price a fill would
// realistically achieve.
package slippage

import (
	"errors"
	"fmt"
	"strings"

	"tradelab/internal/domain"
)

// ErrUnknownModel is returned by FromConfig for an unrecognised model name.
var ErrUnknownModel = errors.New("unknown slippage model")

// Model maps a base price to an execution price. Buys fill higher and sells
// fill lower; implementations must be pure.
type Model interface {
	Price(base, qty float64, c domain.Candle, action domain.Action) float64
}

// Config selects a model by name. Pct is a fraction for "fixed" and a
// fraction of the bar's high-low range for "range".
type Config struct {
	Model string  `yaml:"model"`
	Pct   float64 `yaml:"pct"`
}

// FromConfig resolves cfg once at construction. An empty name means None.
func FromConfig(cfg Config) (Model, error) {
	if cfg.Pct < 0 {
		return nil, fmt.Errorf("slippage pct %v: must be non-negative", cfg.Pct)
	}
	switch strings.ToLower(cfg.Model) {
	case "", "none":
		return None{}, nil
	case "fixed", "fixed_pct":
		return FixedPct{Pct: cfg.Pct}, nil
	case "range", "range_proportional":
		return RangeProportional{Factor: cfg.Pct}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, cfg.Model)
	}
}

// None fills at the base price.
type None struct{}

func (None) Price(base, _ float64, _ domain.Candle, _ domain.Action) float64 { return base }

// FixedPct moves the price by a constant fraction against the trader.
type FixedPct struct {
	Pct float64
}

func (s FixedPct) Price(base, _ float64, _ domain.Candle, action domain.Action) float64 {
	switch action {
	case domain.ActionBuy:
		return base * (1 + s.Pct)
	case domain.ActionSell:
		return base * (1 - s.Pct)
	}
	return base
}

// RangeProportional moves the price by Factor times the bar's high-low
// range, so volatile bars fill worse.
type RangeProportional struct {
	Factor float64
}

func (s RangeProportional) Price(base, _ float64, c domain.Candle, action domain.Action) float64 {
	rng := c.High - c.Low
	if rng < 0 {
		rng = 0
	}
	switch action {
	case domain.ActionBuy:
		return base + s.Factor*rng
	case domain.ActionSell:
		if p := base - s.Factor*rng; p > 0 {
			return p
		}
		return base
	}
	return base
}
