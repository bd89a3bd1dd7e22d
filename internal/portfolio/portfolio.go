// Package portfolio owns cash, open positions and the append-only trade
// ledger for one simulated account.
package portfolio

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"tradelab/internal/domain"
)

// MaxAffordable requests the largest quantity cash allows.
var MaxAffordable = math.Inf(1)

// Ledger is the account interface the engine trades against. Buy and Sell
// report ok=false for economically invalid trades, which are not errors.
type Ledger interface {
	Buy(symbol string, sig domain.Signal) (domain.Trade, bool, error)
	Sell(symbol string, sig domain.Signal) (domain.Trade, bool, error)
	UpdateStop(symbol string, stop float64) error
	Cash() float64
	Position(symbol string) (domain.Position, bool)
	Symbols() []string
	Equity(prices map[string]float64) float64
	TradeCount() int
	TradesSince(n int) []domain.Trade
	State() domain.PortfolioState
}

// Compile-time interface check.
var _ Ledger = (*Portfolio)(nil)

// Fees is a fixed per-trade charge plus a fraction of traded value.
type Fees struct {
	Fixed float64 `yaml:"fixed_fee"`
	Pct   float64 `yaml:"pct_fee"`
}

// BuyDetails is the outcome of sizing a purchase against available cash.
type BuyDetails struct {
	Quantity   float64
	Fee        float64
	TotalCost  float64
	TradeValue float64
}

// SellDetails is the outcome of closing quantity at price.
type SellDetails struct {
	Fee         float64
	TotalCredit float64
	RealizedPnL float64
	TradeValue  float64
}

// Portfolio is the in-memory ledger. It is not safe for concurrent use; a
// run owns its portfolio exclusively.
type Portfolio struct {
	cash      decimal.Decimal
	fees      Fees
	positions map[string]*domain.Position
	trades    []domain.Trade
}

// New creates a Portfolio holding initialCash and charging fees.
func New(initialCash float64, fees Fees) *Portfolio {
	return &Portfolio{
		cash:      decimal.NewFromFloat(initialCash),
		fees:      fees,
		positions: make(map[string]*domain.Position),
	}
}

// Fees returns the fee schedule.
func (p *Portfolio) Fees() Fees { return p.fees }

// CalculateBuyDetails computes the largest whole quantity up to requested
// that availableCash covers after the fixed and percentage fees.
func (p *Portfolio) CalculateBuyDetails(availableCash, price, requested float64) (BuyDetails, bool) {
	if requested <= 0 || price <= 0 || math.IsNaN(requested) {
		return BuyDetails{}, false
	}

	px := decimal.NewFromFloat(price)
	pct := decimal.NewFromFloat(p.fees.Pct)
	fixed := decimal.NewFromFloat(p.fees.Fixed)

	budget := decimal.NewFromFloat(availableCash).Sub(fixed)
	affordable := budget.Div(px.Mul(decimal.NewFromInt(1).Add(pct))).Floor()

	qty := affordable
	if !math.IsInf(requested, 1) {
		if req := decimal.NewFromFloat(requested); req.LessThan(qty) {
			qty = req
		}
	}
	if !qty.IsPositive() {
		return BuyDetails{}, false
	}

	value := px.Mul(qty)
	fee := fixed.Add(value.Mul(pct))
	return BuyDetails{
		Quantity:   qty.InexactFloat64(),
		Fee:        fee.InexactFloat64(),
		TotalCost:  value.Add(fee).InexactFloat64(),
		TradeValue: value.InexactFloat64(),
	}, true
}

// CalculateSellDetails computes proceeds and realized PnL for closing
// quantity at price against the position's cost basis.
func (p *Portfolio) CalculateSellDetails(quantity, price, avgEntryPrice float64) (SellDetails, bool) {
	if quantity <= 0 {
		return SellDetails{}, false
	}
	qty := decimal.NewFromFloat(quantity)
	value := decimal.NewFromFloat(price).Mul(qty)
	fee := decimal.NewFromFloat(p.fees.Fixed).Add(value.Mul(decimal.NewFromFloat(p.fees.Pct)))
	credit := value.Sub(fee)
	pnl := credit.Sub(decimal.NewFromFloat(avgEntryPrice).Mul(qty))
	return SellDetails{
		Fee:         fee.InexactFloat64(),
		TotalCredit: credit.InexactFloat64(),
		RealizedPnL: pnl.InexactFloat64(),
		TradeValue:  value.InexactFloat64(),
	}, true
}

// Buy debits cash for the affordable part of sig.Quantity at sig.Price and
// blends the cost into the symbol's position. Non-zero StopLoss and
// TakeProfit on sig overwrite the position's levels.
func (p *Portfolio) Buy(symbol string, sig domain.Signal) (domain.Trade, bool, error) {
	d, ok := p.CalculateBuyDetails(p.Cash(), sig.Price, sig.Quantity)
	if !ok {
		return domain.Trade{}, false, nil
	}

	p.cash = p.cash.Sub(decimal.NewFromFloat(d.TotalCost))

	pos, exists := p.positions[symbol]
	if !exists {
		pos = &domain.Position{Symbol: symbol}
		p.positions[symbol] = pos
	}
	oldQty := decimal.NewFromFloat(pos.Quantity)
	newQty := oldQty.Add(decimal.NewFromFloat(d.Quantity))
	basis := decimal.NewFromFloat(pos.AveragePrice).Mul(oldQty).Add(decimal.NewFromFloat(d.TotalCost))
	pos.AveragePrice = basis.Div(newQty).InexactFloat64()
	pos.Quantity = newQty.InexactFloat64()
	if sig.StopLoss > 0 {
		pos.StopLoss = sig.StopLoss
	}
	if sig.TakeProfit > 0 {
		pos.TakeProfit = sig.TakeProfit
	}

	t := domain.Trade{
		Timestamp:  sig.Timestamp,
		Symbol:     symbol,
		Action:     domain.ActionBuy,
		Price:      sig.Price,
		Quantity:   d.Quantity,
		Fee:        d.Fee,
		TotalValue: d.TradeValue,
		Reason:     sig.Reason,
	}
	p.trades = append(p.trades, t)
	return t, true, nil
}

// Sell closes min(sig.Quantity, held) of the symbol's position, or all of it
// when sig.Quantity is zero.
func (p *Portfolio) Sell(symbol string, sig domain.Signal) (domain.Trade, bool, error) {
	pos, exists := p.positions[symbol]
	if !exists || pos.Quantity <= 0 {
		return domain.Trade{}, false, nil
	}

	qty := pos.Quantity
	if sig.Quantity > 0 && sig.Quantity < qty {
		qty = sig.Quantity
	}
	d, ok := p.CalculateSellDetails(qty, sig.Price, pos.AveragePrice)
	if !ok {
		return domain.Trade{}, false, nil
	}

	p.cash = p.cash.Add(decimal.NewFromFloat(d.TotalCredit))
	remaining := decimal.NewFromFloat(pos.Quantity).Sub(decimal.NewFromFloat(qty))
	if remaining.IsPositive() {
		pos.Quantity = remaining.InexactFloat64()
	} else {
		delete(p.positions, symbol)
	}

	pnl := d.RealizedPnL
	t := domain.Trade{
		Timestamp:   sig.Timestamp,
		Symbol:      symbol,
		Action:      domain.ActionSell,
		Price:       sig.Price,
		Quantity:    qty,
		Fee:         d.Fee,
		TotalValue:  d.TradeValue,
		RealizedPnL: &pnl,
		Reason:      sig.Reason,
	}
	p.trades = append(p.trades, t)
	return t, true, nil
}

// UpdateStop replaces the stop-loss level of an open position. A symbol
// with no open position is left alone.
func (p *Portfolio) UpdateStop(symbol string, stop float64) error {
	if pos, ok := p.positions[symbol]; ok {
		pos.StopLoss = stop
	}
	return nil
}

// Cash returns available cash.
func (p *Portfolio) Cash() float64 { return p.cash.InexactFloat64() }

// Position returns a copy of the open position for symbol.
func (p *Portfolio) Position(symbol string) (domain.Position, bool) {
	pos, ok := p.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Symbols returns held symbols in sorted order.
func (p *Portfolio) Symbols() []string {
	out := make([]string, 0, len(p.positions))
	for s := range p.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// TotalValue is the single-asset convenience: cash plus the symbol's
// quantity marked at currentPrice.
func (p *Portfolio) TotalValue(currentPrice float64, symbol string) float64 {
	return p.Equity(map[string]float64{symbol: currentPrice})
}

// Equity marks every open position at its price in prices. A symbol with no
// price is marked at its cost basis.
func (p *Portfolio) Equity(prices map[string]float64) float64 {
	total := p.cash
	for sym, pos := range p.positions {
		px, ok := prices[sym]
		if !ok {
			px = pos.AveragePrice
		}
		total = total.Add(decimal.NewFromFloat(pos.Quantity).Mul(decimal.NewFromFloat(px)))
	}
	return total.InexactFloat64()
}

// TradeCount returns the number of executed trades.
func (p *Portfolio) TradeCount() int { return len(p.trades) }

// TradesSince returns a copy of the trades executed after the first n.
func (p *Portfolio) TradesSince(n int) []domain.Trade {
	n = min(max(n, 0), len(p.trades))
	out := make([]domain.Trade, 0, len(p.trades)-n)
	for _, t := range p.trades[n:] {
		if t.RealizedPnL != nil {
			v := *t.RealizedPnL
			t.RealizedPnL = &v
		}
		out = append(out, t)
	}
	return out
}

func (p *Portfolio) holdings() map[string]domain.Position {
	positions := make(map[string]domain.Position, len(p.positions))
	for sym, pos := range p.positions {
		positions[sym] = *pos
	}
	return positions
}

// State returns a defensive copy of cash, positions and trades.
func (p *Portfolio) State() domain.PortfolioState {
	return domain.PortfolioState{
		Cash:      p.Cash(),
		Positions: p.holdings(),
		Trades:    p.TradesSince(0),
	}
}

// Restore replaces the ledger's contents with state. It is used when
// reloading a persisted account.
func (p *Portfolio) Restore(state domain.PortfolioState) {
	p.cash = decimal.NewFromFloat(state.Cash)
	p.positions = make(map[string]*domain.Position, len(state.Positions))
	for sym, pos := range state.Positions {
		pos := pos
		p.positions[sym] = &pos
	}
	p.trades = append([]domain.Trade(nil), state.Trades...)
}
