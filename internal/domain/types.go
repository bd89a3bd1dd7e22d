// Package domain defines the core value types shared across the simulation
// engine: candles, signals, positions, ledger entries, equity snapshots and
// the result of a backtest run.
package domain

import "time"

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Candle is one OHLCV bar for a fixed interval. Candles are immutable once
// produced by a data source and are ordered by Time per symbol.
type Candle struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Universe maps symbol to its candle series. Series need not share dates.
//
// Auxiliary series are never traded. They give the correlation guard price
// history for symbols the ledger holds but this run does not trade, such as
// positions carried over in a restored or journaled account. A fresh ledger
// only ever holds traded symbols, so there they have no effect.
type Universe struct {
	Series    map[string][]Candle
	Auxiliary map[string][]Candle
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// Action is the decision carried by a Signal or recorded on a Trade.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal is a strategy's decision for the most recent candle. Quantity,
// StopLoss and TakeProfit are optional; zero means "not set".
type Signal struct {
	Action     Action    `json:"action"`
	Price      float64   `json:"price"`
	Timestamp  time.Time `json:"timestamp"`
	Quantity   float64   `json:"quantity,omitempty"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// Hold returns a HOLD signal stamped with the candle's close and time.
func Hold(c Candle, reason string) Signal {
	return Signal{Action: ActionHold, Price: c.Close, Timestamp: c.Time, Reason: reason}
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

// Position is an open holding. Quantity is positive for long and negative
// for short. AveragePrice is the cost basis per unit including fees.
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	StopLoss     float64 `json:"stop_loss,omitempty"`
	TakeProfit   float64 `json:"take_profit,omitempty"`
}

// IsLong reports whether the position holds a positive quantity.
func (p Position) IsLong() bool { return p.Quantity > 0 }

// Trade is an append-only ledger entry. RealizedPnL is set on SELL trades
// only.
type Trade struct {
	Timestamp   time.Time `json:"timestamp"`
	Symbol      string    `json:"symbol"`
	Action      Action    `json:"action"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	Fee         float64   `json:"fee"`
	TotalValue  float64   `json:"total_value"`
	RealizedPnL *float64  `json:"realized_pnl,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// PortfolioState is a read-only snapshot of a ledger.
type PortfolioState struct {
	Cash      float64             `json:"cash"`
	Positions map[string]Position `json:"positions"`
	Trades    []Trade             `json:"trades"`
}

// EquitySnapshot records account value at one simulated step.
type EquitySnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Cash      float64   `json:"cash"`
	Equity    float64   `json:"equity"`
}
