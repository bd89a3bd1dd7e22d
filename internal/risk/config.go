package risk

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned by Validate for out-of-range settings.
var ErrInvalidConfig = errors.New("invalid risk config")

// Config is the fully resolved risk policy of one run. It is passed by value
// and never mutated after New.
//
// A zero value on an optional guard (MaxDrawdownPct, ADXThreshold,
// DailyLossLimitPct, MaxCorrelation, VolumeLimitPct) disables that guard.
// Percentages are fractions: 0.01 means 1%.
type Config struct {
	RiskPerTradePct        float64 `yaml:"risk_per_trade_pct"`
	MaxDrawdownPct         float64 `yaml:"max_drawdown_pct"`
	ATRMultiplier          float64 `yaml:"atr_multiplier"`
	ATRPeriod              int     `yaml:"atr_period"`
	TrailingStop           bool    `yaml:"trailing_stop"`
	ADXThreshold           float64 `yaml:"adx_threshold"`
	ADXPeriod              int     `yaml:"adx_period"`
	DailyLossLimitPct      float64 `yaml:"daily_loss_limit_pct"`
	MaxCorrelation         float64 `yaml:"max_correlation"`
	MaxSectorExposurePct   float64 `yaml:"max_sector_exposure_pct"` // reserved, not enforced
	VolumeLimitPct         float64 `yaml:"volume_limit_pct"`
	UseBollingerTakeProfit bool    `yaml:"use_bollinger_take_profit"`

	CorrelationWindow int     `yaml:"correlation_window"`
	BollingerPeriod   int     `yaml:"bollinger_period"`
	BollingerStdDev   float64 `yaml:"bollinger_std_dev"`
}

// DefaultConfig returns a conservative policy: 1% risk per trade, 2×ATR(14)
// stops and every optional guard disabled.
func DefaultConfig() Config {
	return Config{
		RiskPerTradePct:   0.01,
		ATRMultiplier:     2,
		ATRPeriod:         14,
		ADXPeriod:         14,
		CorrelationWindow: 30,
		BollingerPeriod:   20,
		BollingerStdDev:   2,
	}
}

// withDefaults fills unset periods and multipliers from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RiskPerTradePct == 0 {
		c.RiskPerTradePct = d.RiskPerTradePct
	}
	if c.ATRMultiplier == 0 {
		c.ATRMultiplier = d.ATRMultiplier
	}
	if c.ATRPeriod == 0 {
		c.ATRPeriod = d.ATRPeriod
	}
	if c.ADXPeriod == 0 {
		c.ADXPeriod = d.ADXPeriod
	}
	if c.CorrelationWindow == 0 {
		c.CorrelationWindow = d.CorrelationWindow
	}
	if c.BollingerPeriod == 0 {
		c.BollingerPeriod = d.BollingerPeriod
	}
	if c.BollingerStdDev == 0 {
		c.BollingerStdDev = d.BollingerStdDev
	}
	return c
}

// Validate reports the first out-of-range field.
func (c Config) Validate() error {
	fractions := []struct {
		name string
		v    float64
	}{
		{"risk_per_trade_pct", c.RiskPerTradePct},
		{"max_drawdown_pct", c.MaxDrawdownPct},
		{"daily_loss_limit_pct", c.DailyLossLimitPct},
		{"max_sector_exposure_pct", c.MaxSectorExposurePct},
		{"volume_limit_pct", c.VolumeLimitPct},
	}
	for _, f := range fractions {
		if f.v < 0 || f.v > 1 {
			return fmt.Errorf("%w: %s = %v, want [0, 1]", ErrInvalidConfig, f.name, f.v)
		}
	}
	if c.MaxCorrelation < 0 || c.MaxCorrelation > 1 {
		return fmt.Errorf("%w: max_correlation = %v, want [0, 1]", ErrInvalidConfig, c.MaxCorrelation)
	}
	if c.ATRMultiplier < 0 || c.ADXThreshold < 0 || c.BollingerStdDev < 0 {
		return fmt.Errorf("%w: multipliers and thresholds must be non-negative", ErrInvalidConfig)
	}
	if c.ATRPeriod < 0 || c.ADXPeriod < 0 || c.CorrelationWindow < 0 || c.BollingerPeriod < 0 {
		return fmt.Errorf("%w: periods must be non-negative", ErrInvalidConfig)
	}
	return nil
}
