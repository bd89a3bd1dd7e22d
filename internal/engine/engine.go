// Package engine replays candle series through strategies against a ledger,
// enforcing step ordering, no-look-ahead and the risk policy of a run.
package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"tradelab/internal/domain"
	"tradelab/internal/performance"
	"tradelab/internal/portfolio"
	"tradelab/internal/risk"
	"tradelab/internal/slippage"
	"tradelab/internal/strategy"
)

// ErrEmptySeries is returned when a run is given no candles.
var ErrEmptySeries = errors.New("empty candle series")

// DefaultSymbol labels a single series whose candles carry no symbol.
const DefaultSymbol = "ASSET"

// Guard names used in rejection logs.
const (
	guardRegime      = "regime"
	guardCorrelation = "correlation"
	guardDailyLoss   = "daily_loss"
	guardSizing      = "sizing"
	guardLiquidity   = "liquidity"
)

// Option configures a Backtester.
type Option func(*Backtester)

// WithRiskManager enables sizing, stops and admission guards.
func WithRiskManager(m *risk.Manager) Option {
	return func(b *Backtester) { b.risk = m }
}

// WithSlippage sets the execution price model. The default is slippage.None.
func WithSlippage(m slippage.Model) Option {
	return func(b *Backtester) {
		if m != nil {
			b.slip = m
		}
	}
}

// WithLogger sets the logger used for guard rejections and halts.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backtester) {
		if l != nil {
			b.log = l
		}
	}
}

// WithStrategyFor binds s to symbol in multi-asset runs. Symbols without a
// binding use the default strategy.
func WithStrategyFor(symbol string, s strategy.Strategy) Option {
	return func(b *Backtester) { b.perSymbol[symbol] = s }
}

// Backtester drives one deterministic pass over one or more candle series.
// A Backtester owns its ledger; construct a new one per run.
type Backtester struct {
	strategy  strategy.Strategy
	perSymbol map[string]strategy.Strategy
	ledger    portfolio.Ledger
	risk      *risk.Manager
	slip      slippage.Model
	log       *zap.Logger
}

// New creates a Backtester trading strat against ledger.
func New(strat strategy.Strategy, ledger portfolio.Ledger, opts ...Option) *Backtester {
	b := &Backtester{
		strategy:  strat,
		perSymbol: make(map[string]strategy.Strategy),
		ledger:    ledger,
		slip:      slippage.None{},
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run backtests a single series.
func (b *Backtester) Run(candles []domain.Candle) (domain.BacktestResult, error) {
	if len(candles) == 0 {
		return domain.BacktestResult{}, ErrEmptySeries
	}
	sym := candles[0].Symbol
	if sym == "" {
		sym = DefaultSymbol
	}
	return b.RunUniverse(domain.Universe{Series: map[string][]domain.Candle{sym: candles}})
}

// RunUniverse backtests every series in u. The run steps through the merged,
// sorted set of distinct candle times; at each time only the series with a
// candle stamped at that time advance, in symbol order. Series may start,
// end or skip days independently.
//
// Auxiliary series are never traded. They supply price history for symbols
// the ledger already holds without trading them in this run, such as
// positions carried in a restored or journaled ledger, so the correlation
// guard can compare a candidate against every open position.
func (b *Backtester) RunUniverse(u domain.Universe) (domain.BacktestResult, error) {
	if len(u.Series) == 0 {
		return domain.BacktestResult{}, ErrEmptySeries
	}
	for sym, s := range u.Series {
		if len(s) == 0 {
			return domain.BacktestResult{}, fmt.Errorf("%w: %s", ErrEmptySeries, sym)
		}
		if b.strategyFor(sym) == nil {
			return domain.BacktestResult{}, fmt.Errorf("no strategy for %s", sym)
		}
	}

	r := b.newRun(u)
	for i, t := range r.timeline {
		halted, err := r.step(i, t)
		if err != nil {
			return domain.BacktestResult{}, err
		}
		if halted {
			break
		}
	}
	return r.result(), nil
}

func (b *Backtester) strategyFor(sym string) strategy.Strategy {
	if s, ok := b.perSymbol[sym]; ok {
		return s
	}
	return b.strategy
}

// ---------------------------------------------------------------------------
// Run state
// ---------------------------------------------------------------------------

// run holds the mutable state of one pass. It is discarded afterwards.
type run struct {
	*Backtester

	symbols   []string
	series    map[string][]domain.Candle
	auxiliary map[string][]domain.Candle
	atr       map[string][]float64
	timeline  []time.Time
	cursor    map[string]int

	lastPrice  map[string]float64
	initial    float64
	hwm        float64
	day        time.Time
	dayStart   float64
	firstTrade int

	curve    []domain.EquitySnapshot
	halted   bool
	haltedAt time.Time
}

func (b *Backtester) newRun(u domain.Universe) *run {
	r := &run{
		Backtester: b,
		series:     u.Series,
		auxiliary:  u.Auxiliary,
		atr:        make(map[string][]float64),
		cursor:     make(map[string]int),
		lastPrice:  make(map[string]float64),
	}
	for sym, s := range u.Series {
		r.symbols = append(r.symbols, sym)
		for _, c := range s {
			r.timeline = append(r.timeline, c.Time)
		}
		if b.risk != nil {
			r.atr[sym] = b.risk.ATRSeries(s)
		}
	}
	sort.Strings(r.symbols)
	r.timeline = mergeTimes(r.timeline)

	// Opening equity marks only the series that trade at the first step.
	for _, sym := range r.symbols {
		if s := r.series[sym]; s[0].Time.Equal(r.timeline[0]) {
			r.lastPrice[sym] = s[0].Close
		}
	}
	r.initial = b.ledger.Equity(r.lastPrice)
	r.hwm = r.initial
	r.dayStart = r.initial
	r.firstTrade = b.ledger.TradeCount()
	return r
}

// mergeTimes sorts ts and drops duplicate instants.
func mergeTimes(ts []time.Time) []time.Time {
	sort.Slice(ts, func(a, b int) bool { return ts[a].Before(ts[b]) })
	out := ts[:0]
	for _, t := range ts {
		if len(out) == 0 || !out[len(out)-1].Equal(t) {
			out = append(out, t)
		}
	}
	return out
}

// due returns the symbols whose next unprocessed candle is stamped t, in
// symbol order.
func (r *run) due(t time.Time) []string {
	var out []string
	for _, sym := range r.symbols {
		s, j := r.series[sym], r.cursor[sym]
		// a repeated timestamp within one series is stepped once
		for j < len(s) && s[j].Time.Before(t) {
			j++
		}
		r.cursor[sym] = j
		if j < len(s) && s[j].Time.Equal(t) {
			out = append(out, sym)
		}
	}
	return out
}

// step runs the ordered per-candle algorithm at timeline position i, time
// ts. It reports true when the drawdown kill-switch halted the run.
func (r *run) step(i int, ts time.Time) (bool, error) {
	active := r.due(ts)
	for _, sym := range active {
		r.lastPrice[sym] = r.series[sym][r.cursor[sym]].Close
	}

	if y, m, d := ts.Date(); r.day.IsZero() || !sameDay(r.day, y, m, d) {
		if len(r.curve) > 0 {
			r.dayStart = r.curve[len(r.curve)-1].Equity
		}
		r.day = ts
	}

	// 1. drawdown kill-switch
	if r.risk != nil {
		equity := r.ledger.Equity(r.lastPrice)
		if equity > r.hwm {
			r.hwm = equity
		}
		if r.risk.CheckDrawdown(equity, r.hwm) {
			r.snapshot(ts)
			r.halted, r.haltedAt = true, ts
			r.log.Info("max drawdown breached, halting run",
				zap.Int("step", i),
				zap.Float64("equity", equity),
				zap.Float64("high_water_mark", r.hwm),
			)
			return true, nil
		}
	}

	for _, sym := range active {
		j := r.cursor[sym]
		if err := r.stepAsset(sym, r.series[sym], j); err != nil {
			return false, err
		}
		r.cursor[sym] = j + 1
	}

	// 8. snapshot
	r.snapshot(ts)
	return false, nil
}

// stepAsset runs exit, trailing, strategy, enrichment, liquidity and
// execution for one asset at its own series index i.
func (r *run) stepAsset(sym string, s []domain.Candle, i int) error {
	c := s[i]
	pos, held := r.ledger.Position(sym)

	// 2. exit check
	if held {
		if reason, level := risk.CheckExits(c, pos); reason != risk.ExitNone {
			qty := r.clip(sym, i, pos.Quantity, c)
			if qty <= 0 {
				return nil
			}
			sig := domain.Signal{
				Action:    domain.ActionSell,
				Price:     r.slip.Price(level, qty, c, domain.ActionSell),
				Timestamp: c.Time,
				Quantity:  qty,
				Reason:    string(reason),
			}
			_, _, err := r.ledger.Sell(sym, sig)
			return err
		}

		// 3. trailing stop
		if r.risk != nil && pos.StopLoss > 0 {
			action := domain.ActionBuy
			if !pos.IsLong() {
				action = domain.ActionSell
			}
			if next := r.risk.UpdateTrailingStop(pos.StopLoss, c.High, c.Low, r.atr[sym][i], action); next != pos.StopLoss {
				if err := r.ledger.UpdateStop(sym, next); err != nil {
					return fmt.Errorf("trailing stop %s: %w", sym, err)
				}
			}
		}
	}

	// 4. strategy sees [0..i] only; the capped slice cannot be extended
	// into future candles.
	history := s[: i+1 : i+1]
	sig := r.strategyFor(sym).Analyze(history)

	switch sig.Action {
	case domain.ActionBuy:
		return r.enter(sym, history, i, sig)
	case domain.ActionSell:
		return r.exit(sym, i, c, sig)
	}
	return nil
}

// enter enriches and executes a BUY signal.
func (r *run) enter(sym string, history []domain.Candle, i int, sig domain.Signal) error {
	c := history[i]

	// 5. enrichment
	price := r.slip.Price(sig.Price, sig.Quantity, c, domain.ActionBuy)
	qty := sig.Quantity
	if qty <= 0 {
		qty = portfolio.MaxAffordable
	}
	stop, target := sig.StopLoss, sig.TakeProfit

	if r.risk != nil {
		if guard, ok := r.admit(sym, history, c); !ok {
			r.reject(sym, guard, i)
			return nil
		}

		if stop <= 0 {
			atr := r.atr[sym][i]
			if math.IsNaN(atr) {
				r.reject(sym, guardSizing, i)
				return nil
			}
			stop = r.risk.ATRStop(price, atr, domain.ActionBuy)
		}
		size := r.risk.PositionSize(r.ledger.Equity(r.lastPrice), price, stop)
		if sig.Quantity > 0 {
			size = math.Min(size, sig.Quantity)
		}
		if size <= 0 {
			r.reject(sym, guardSizing, i)
			return nil
		}
		qty = size

		if r.risk.Config().UseBollingerTakeProfit {
			if tp, ok := r.risk.BollingerTakeProfit(history, domain.ActionBuy); ok && tp > price {
				target = tp
			}
		}
	}

	// 6. liquidity
	qty = r.clip(sym, i, qty, c)
	if qty <= 0 {
		return nil
	}

	// 7. execution
	_, _, err := r.ledger.Buy(sym, domain.Signal{
		Action:     domain.ActionBuy,
		Price:      price,
		Timestamp:  c.Time,
		Quantity:   qty,
		StopLoss:   stop,
		TakeProfit: target,
		Reason:     sig.Reason,
	})
	return err
}

// exit executes a strategy SELL against an open position.
func (r *run) exit(sym string, i int, c domain.Candle, sig domain.Signal) error {
	pos, held := r.ledger.Position(sym)
	if !held {
		return nil
	}
	qty := pos.Quantity
	if sig.Quantity > 0 && sig.Quantity < qty {
		qty = sig.Quantity
	}
	qty = r.clip(sym, i, qty, c)
	if qty <= 0 {
		return nil
	}
	_, _, err := r.ledger.Sell(sym, domain.Signal{
		Action:    domain.ActionSell,
		Price:     r.slip.Price(sig.Price, qty, c, domain.ActionSell),
		Timestamp: c.Time,
		Quantity:  qty,
		Reason:    sig.Reason,
	})
	return err
}

// admit evaluates the BUY guards in order: regime, correlation, daily loss.
// It returns the name of the first failing guard.
func (r *run) admit(sym string, history []domain.Candle, c domain.Candle) (string, bool) {
	cfg := r.risk.Config()

	if !r.risk.IsMarketTrending(history) {
		return guardRegime, false
	}

	if cfg.MaxCorrelation > 0 {
		candidate := r.risk.ReturnsWindow(history)
		var existing [][]float64
		for _, heldSym := range r.ledger.Symbols() {
			if heldSym == sym {
				continue
			}
			if other := r.visible(heldSym, c.Time); len(other) > 0 {
				existing = append(existing, r.risk.ReturnsWindow(other))
			}
		}
		if r.risk.CheckCorrelation(candidate, existing) {
			return guardCorrelation, false
		}
	}

	if cfg.DailyLossLimitPct > 0 {
		trades := r.ledger.TradesSince(r.firstTrade)
		if r.risk.CheckDailyLoss(trades, r.dayStart, c.Time) {
			return guardDailyLoss, false
		}
	}
	return "", true
}

// visible returns the traded or auxiliary series of sym restricted to
// candles at or before t.
func (r *run) visible(sym string, t time.Time) []domain.Candle {
	s, ok := r.series[sym]
	if !ok {
		s = r.auxiliary[sym]
	}
	n := sort.Search(len(s), func(j int) bool { return s[j].Time.After(t) })
	return s[:n:n]
}

// clip applies the liquidity guard when a risk manager is configured.
func (r *run) clip(sym string, i int, qty float64, c domain.Candle) float64 {
	if r.risk == nil {
		return qty
	}
	clipped := r.risk.ClipToVolume(qty, c.Volume)
	if clipped < qty {
		r.log.Debug("quantity clipped to volume",
			zap.String("symbol", sym),
			zap.String("guard", guardLiquidity),
			zap.Int("step", i),
			zap.Float64("requested", qty),
			zap.Float64("allowed", clipped),
		)
	}
	return clipped
}

func (r *run) reject(sym, guard string, i int) {
	r.log.Debug("entry rejected",
		zap.String("symbol", sym),
		zap.String("guard", guard),
		zap.Int("step", i),
	)
}

func (r *run) snapshot(ts time.Time) {
	r.curve = append(r.curve, domain.EquitySnapshot{
		Timestamp: ts,
		Cash:      r.ledger.Cash(),
		Equity:    r.ledger.Equity(r.lastPrice),
	})
}

func (r *run) result() domain.BacktestResult {
	trades := r.ledger.TradesSince(r.firstTrade)
	final := r.initial
	if len(r.curve) > 0 {
		final = r.curve[len(r.curve)-1].Equity
	}
	return domain.BacktestResult{
		InitialCapital: r.initial,
		FinalCapital:   final,
		Metrics:        performance.Analyze(r.initial, r.curve, trades),
		Trades:         trades,
		EquityCurve:    r.curve,
		Halted:         r.halted,
		HaltedAt:       r.haltedAt,
	}
}

func sameDay(t time.Time, y int, m time.Month, d int) bool {
	ty, tm, td := t.Date()
	return ty == y && tm == m && td == d
}
