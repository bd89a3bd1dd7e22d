package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelab/internal/domain"
	"tradelab/internal/portfolio"
	"tradelab/internal/risk"
	"tradelab/internal/slippage"
	"tradelab/internal/strategy/builtins"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// series builds daily candles with High=Low=Close unless spread is set.
func series(sym string, spread float64, closes ...float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{
			Symbol: sym,
			Time:   day0.AddDate(0, 0, i),
			Open:   c,
			High:   c + spread,
			Low:    c - spread,
			Close:  c,
			Volume: 1e6,
		}
	}
	return out
}

// scripted emits a fixed signal per step index and records every history
// it was shown.
type scripted struct {
	signals map[int]domain.Signal
	seen    [][]domain.Candle
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Analyze(h []domain.Candle) domain.Signal {
	s.seen = append(s.seen, h)
	last := h[len(h)-1]
	sig, ok := s.signals[len(h)-1]
	if !ok {
		return domain.Hold(last, "")
	}
	sig.Price = last.Close
	sig.Timestamp = last.Time
	return sig
}

func buy(qty, stop, target float64) domain.Signal {
	return domain.Signal{Action: domain.ActionBuy, Quantity: qty, StopLoss: stop, TakeProfit: target}
}

func mustRisk(t *testing.T, cfg risk.Config) *risk.Manager {
	t.Helper()
	m, err := risk.New(cfg)
	require.NoError(t, err)
	return m
}

func TestRun_NoLookAhead(t *testing.T) {
	spy := &scripted{}
	candles := series("X", 0, 10, 11, 12, 13, 14)

	_, err := New(spy, portfolio.New(1000, portfolio.Fees{})).Run(candles)
	require.NoError(t, err)

	require.Len(t, spy.seen, len(candles))
	for i, h := range spy.seen {
		assert.Len(t, h, i+1)
		assert.Equal(t, candles[i], h[len(h)-1])
		assert.Equal(t, i+1, cap(h), "history must not expose later candles")
	}
}

func TestRun_BuyAndHoldEndToEnd(t *testing.T) {
	strat, err := builtins.NewBuyAndHold(1)
	require.NoError(t, err)

	res, err := New(strat, portfolio.New(10000, portfolio.Fees{})).Run(series("X", 0, 100, 110, 120))
	require.NoError(t, err)

	assert.Equal(t, 10000.0, res.InitialCapital)
	assert.InDelta(t, 12000.0, res.FinalCapital, 1e-9)
	assert.InDelta(t, 20.0, res.Metrics.TotalReturnPct, 1e-9)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, 100.0, res.Trades[0].Quantity)
	assert.Equal(t, 100.0, res.Trades[0].Price)
	assert.Len(t, res.EquityCurve, 3)
	assert.False(t, res.Halted)
}

func TestRun_Deterministic(t *testing.T) {
	candles := series("X", 1, 100, 103, 99, 104, 108, 101, 97, 110)
	runOnce := func() domain.BacktestResult {
		strat, err := builtins.NewSMACross(2, 3)
		require.NoError(t, err)
		res, err := New(strat, portfolio.New(5000, portfolio.Fees{Fixed: 1})).Run(candles)
		require.NoError(t, err)
		return res
	}
	assert.Equal(t, runOnce(), runOnce())
}

func TestRun_EmptySeries(t *testing.T) {
	b := New(&scripted{}, portfolio.New(1000, portfolio.Fees{}))

	_, err := b.Run(nil)
	assert.True(t, errors.Is(err, ErrEmptySeries))

	_, err = b.RunUniverse(domain.Universe{Series: map[string][]domain.Candle{"A": series("A", 0, 1), "B": nil}})
	assert.True(t, errors.Is(err, ErrEmptySeries))
}

func TestRun_DrawdownHalts(t *testing.T) {
	strat := &scripted{signals: map[int]domain.Signal{0: buy(0, 99, 0)}}
	rm := mustRisk(t, risk.Config{RiskPerTradePct: 1, MaxDrawdownPct: 0.1})

	candles := series("X", 0, 100, 80, 90, 95)
	res, err := New(strat, portfolio.New(10000, portfolio.Fees{}), WithRiskManager(rm)).Run(candles)
	require.NoError(t, err)

	assert.True(t, res.Halted)
	assert.Equal(t, candles[1].Time, res.HaltedAt)
	assert.Len(t, res.EquityCurve, 2, "no steps after the breach")
	assert.Len(t, strat.seen, 1)
	require.Len(t, res.Trades, 1, "halt does not liquidate")
	assert.InDelta(t, 8000.0, res.FinalCapital, 1e-9)
}

func TestRun_ExitStopBeforeTarget(t *testing.T) {
	strat := &scripted{signals: map[int]domain.Signal{0: buy(0, 95, 110)}}
	candles := series("X", 0, 100, 100, 100)
	candles[1].High, candles[1].Low = 120, 90

	res, err := New(strat, portfolio.New(10000, portfolio.Fees{})).Run(candles)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	exit := res.Trades[1]
	assert.Equal(t, domain.ActionSell, exit.Action)
	assert.Equal(t, 95.0, exit.Price)
	assert.Equal(t, string(risk.ExitStopLoss), exit.Reason)
	assert.InDelta(t, 9500.0, res.FinalCapital, 1e-9)
	assert.Len(t, strat.seen, 2, "strategy skipped on the exit step")
}

func TestRun_TakeProfitExit(t *testing.T) {
	strat := &scripted{signals: map[int]domain.Signal{0: buy(10, 0, 105)}}
	candles := series("X", 0, 100, 104, 100)
	candles[1].High = 106

	res, err := New(strat, portfolio.New(10000, portfolio.Fees{})).Run(candles)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, 105.0, res.Trades[1].Price)
	assert.Equal(t, string(risk.ExitTakeProfit), res.Trades[1].Reason)
}

func TestRun_LiquidityClipsBuy(t *testing.T) {
	strat := &scripted{signals: map[int]domain.Signal{0: buy(0, 99, 0)}}
	rm := mustRisk(t, risk.Config{RiskPerTradePct: 1, VolumeLimitPct: 0.1})

	candles := series("X", 0, 100, 100)
	candles[0].Volume = 500

	res, err := New(strat, portfolio.New(10000, portfolio.Fees{}), WithRiskManager(rm)).Run(candles)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, 50.0, res.Trades[0].Quantity)
}

func TestRun_LiquidityZeroVolumeSkips(t *testing.T) {
	strat := &scripted{signals: map[int]domain.Signal{0: buy(0, 99, 0)}}
	rm := mustRisk(t, risk.Config{RiskPerTradePct: 1, VolumeLimitPct: 0.1})

	candles := series("X", 0, 100)
	candles[0].Volume = 0

	res, err := New(strat, portfolio.New(10000, portfolio.Fees{}), WithRiskManager(rm)).Run(candles)
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
}

func TestRun_ClippedExitLeavesRemainder(t *testing.T) {
	strat := &scripted{signals: map[int]domain.Signal{0: buy(100, 95, 0)}}
	rm := mustRisk(t, risk.Config{RiskPerTradePct: 1, VolumeLimitPct: 0.1})

	candles := series("X", 0, 100, 100, 100)
	candles[1].Low = 90
	candles[1].Volume = 400
	candles[2].Low = 90

	led := portfolio.New(10000, portfolio.Fees{})
	res, err := New(strat, led, WithRiskManager(rm)).Run(candles)
	require.NoError(t, err)

	require.Len(t, res.Trades, 3)
	assert.Equal(t, 40.0, res.Trades[1].Quantity)
	assert.Equal(t, 60.0, res.Trades[2].Quantity)
	_, held := led.Position("X")
	assert.False(t, held)
}

func TestRun_RegimeGuardRejects(t *testing.T) {
	closes := make([]float64, 20)
	signals := map[int]domain.Signal{}
	for i := range closes {
		closes[i] = 100
		if i%2 == 1 {
			closes[i] = 101
		}
		signals[i] = buy(1, 90, 0)
	}
	strat := &scripted{signals: signals}
	rm := mustRisk(t, risk.Config{ADXThreshold: 25, ADXPeriod: 3})

	res, err := New(strat, portfolio.New(10000, portfolio.Fees{}), WithRiskManager(rm)).Run(series("X", 0.5, closes...))
	require.NoError(t, err)

	// entries are admitted only during the ADX warmup
	for _, tr := range res.Trades {
		assert.True(t, tr.Timestamp.Before(day0.AddDate(0, 0, 6)), "trade at %v", tr.Timestamp)
	}
	assert.Less(t, len(res.Trades), 10)
}

func TestRun_DailyLossGuard(t *testing.T) {
	at := func(d, h int) time.Time { return day0.AddDate(0, 0, d).Add(time.Duration(h) * time.Hour) }
	candles := []domain.Candle{
		{Symbol: "X", Time: at(0, 10), Open: 100, High: 100, Low: 100, Close: 100},
		{Symbol: "X", Time: at(0, 11), Open: 95, High: 95, Low: 85, Close: 88},
		{Symbol: "X", Time: at(0, 12), Open: 100, High: 100, Low: 100, Close: 100},
		{Symbol: "X", Time: at(1, 10), Open: 100, High: 100, Low: 100, Close: 100},
	}
	strat := &scripted{signals: map[int]domain.Signal{
		0: buy(100, 90, 0),
		2: buy(10, 80, 0),
		3: buy(10, 80, 0),
	}}
	rm := mustRisk(t, risk.Config{RiskPerTradePct: 1, DailyLossLimitPct: 0.01})

	res, err := New(strat, portfolio.New(10000, portfolio.Fees{}), WithRiskManager(rm)).Run(candles)
	require.NoError(t, err)

	require.Len(t, res.Trades, 3)
	assert.Equal(t, domain.ActionSell, res.Trades[1].Action)
	assert.InDelta(t, -1000.0, *res.Trades[1].RealizedPnL, 1e-9)
	assert.Equal(t, candles[3].Time, res.Trades[2].Timestamp, "next day is admitted again")
}

func TestRun_SizingNeedsStop(t *testing.T) {
	// ATR(14) is unresolved on the first bar and the signal has no stop
	strat := &scripted{signals: map[int]domain.Signal{0: buy(0, 0, 0)}}
	rm := mustRisk(t, risk.DefaultConfig())

	res, err := New(strat, portfolio.New(10000, portfolio.Fees{}), WithRiskManager(rm)).Run(series("X", 1, 100, 101))
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
}

func TestRun_ATRStopAndRiskSizing(t *testing.T) {
	strat := &scripted{signals: map[int]domain.Signal{2: buy(0, 0, 0)}}
	rm := mustRisk(t, risk.Config{RiskPerTradePct: 0.01, ATRPeriod: 2, ATRMultiplier: 2})

	led := portfolio.New(10000, portfolio.Fees{})
	// constant true range of 2
	res, err := New(strat, led, WithRiskManager(rm)).Run(series("X", 1, 100, 100, 100, 100))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	// stop 100 - 2*2 = 96, size floor(100 / 4) = 25
	assert.Equal(t, 25.0, res.Trades[0].Quantity)
	pos, ok := led.Position("X")
	require.True(t, ok)
	assert.Equal(t, 96.0, pos.StopLoss)
}

func TestRun_TrailingStopRatchets(t *testing.T) {
	strat := &scripted{signals: map[int]domain.Signal{1: buy(10, 90, 0)}}
	rm := mustRisk(t, risk.Config{RiskPerTradePct: 1, ATRPeriod: 2, ATRMultiplier: 1, TrailingStop: true})

	led := portfolio.New(10000, portfolio.Fees{})
	_, err := New(strat, led, WithRiskManager(rm)).Run(series("X", 1, 100, 101, 102, 103, 104))
	require.NoError(t, err)

	pos, ok := led.Position("X")
	require.True(t, ok)
	assert.Equal(t, 103.0, pos.StopLoss)
}

func TestRun_BollingerTarget(t *testing.T) {
	closes := make([]float64, 22)
	for i := range closes {
		closes[i] = 100 + float64(i%3)
	}
	strat := &scripted{signals: map[int]domain.Signal{20: buy(1, 90, 0)}}
	rm := mustRisk(t, risk.Config{RiskPerTradePct: 1, UseBollingerTakeProfit: true})

	led := portfolio.New(10000, portfolio.Fees{})
	_, err := New(strat, led, WithRiskManager(rm)).Run(series("X", 0, closes...))
	require.NoError(t, err)

	pos, ok := led.Position("X")
	require.True(t, ok)
	assert.Greater(t, pos.TakeProfit, 101.0)
}

func TestRun_Slippage(t *testing.T) {
	strat, _ := builtins.NewBuyAndHold(1)
	res, err := New(strat, portfolio.New(10000, portfolio.Fees{}),
		WithSlippage(slippage.FixedPct{Pct: 0.01}),
	).Run(series("X", 0, 100, 100))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.InDelta(t, 101.0, res.Trades[0].Price, 1e-9)
	assert.Equal(t, 99.0, res.Trades[0].Quantity)
}

func TestRunUniverse_CorrelationGuard(t *testing.T) {
	a := []float64{100, 102, 101, 104, 103, 106, 105, 108, 107}
	b := make([]float64, len(a))
	for i, v := range a {
		b[i] = 2 * v
	}
	u := domain.Universe{Series: map[string][]domain.Candle{
		"A": series("A", 0, a...),
		"B": series("B", 0, b...),
	}}

	runWith := func(maxCorr float64) domain.BacktestResult {
		sa := &scripted{signals: map[int]domain.Signal{6: buy(10, 100, 0)}}
		sb := &scripted{signals: map[int]domain.Signal{7: buy(10, 200, 0)}}
		rm := mustRisk(t, risk.Config{RiskPerTradePct: 1, MaxCorrelation: maxCorr, CorrelationWindow: 5})
		res, err := New(sa, portfolio.New(100000, portfolio.Fees{}),
			WithStrategyFor("B", sb),
			WithRiskManager(rm),
		).RunUniverse(u)
		require.NoError(t, err)
		return res
	}

	blocked := runWith(0.9)
	require.Len(t, blocked.Trades, 1)
	assert.Equal(t, "A", blocked.Trades[0].Symbol)

	open := runWith(0)
	assert.Len(t, open.Trades, 2)
	assert.Len(t, open.EquityCurve, len(a), "one snapshot per step")
}

func TestRunUniverse_UnevenSeries(t *testing.T) {
	strat, _ := builtins.NewBuyAndHold(1)
	u := domain.Universe{Series: map[string][]domain.Candle{
		"A": series("A", 0, 10, 11, 12, 13),
		"B": series("B", 0, 20, 21),
	}}
	res, err := New(strat, portfolio.New(1000, portfolio.Fees{})).RunUniverse(u)
	require.NoError(t, err)

	assert.Len(t, res.EquityCurve, 4)
	// A buys everything on its first bar, leaving nothing for B
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "A", res.Trades[0].Symbol)
	assert.InDelta(t, 100*13.0, res.FinalCapital, 1e-9)
}

// shifted returns s with every candle moved forward by days.
func shifted(s []domain.Candle, days ...int) []domain.Candle {
	for i := range s {
		s[i].Time = day0.AddDate(0, 0, days[i])
	}
	return s
}

func TestRunUniverse_MisalignedSeriesStayInTimeOrder(t *testing.T) {
	// A trades days 0-4; B starts on day 2 and skips days 3 and 5.
	u := domain.Universe{Series: map[string][]domain.Candle{
		"A": series("A", 0, 10, 11, 12, 13, 14),
		"B": shifted(series("B", 0, 20, 21, 22), 2, 4, 6),
	}}
	sa := &scripted{signals: map[int]domain.Signal{
		0: buy(10, 0, 0),
		1: {Action: domain.ActionSell},
	}}
	sb := &scripted{signals: map[int]domain.Signal{0: buy(10, 0, 0)}}

	res, err := New(sa, portfolio.New(1000, portfolio.Fees{}), WithStrategyFor("B", sb)).RunUniverse(u)
	require.NoError(t, err)

	require.Len(t, res.Trades, 3)
	assert.Equal(t, []time.Time{day0, day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 2)},
		[]time.Time{res.Trades[0].Timestamp, res.Trades[1].Timestamp, res.Trades[2].Timestamp})
	assert.Equal(t, "B", res.Trades[2].Symbol)
	assert.Equal(t, 20.0, res.Trades[2].Price)

	wantDays := []int{0, 1, 2, 3, 4, 6}
	require.Len(t, res.EquityCurve, len(wantDays), "one snapshot per distinct candle time")
	for k, d := range wantDays {
		assert.Equal(t, day0.AddDate(0, 0, d), res.EquityCurve[k].Timestamp)
	}
	// B is only marked once its own candle has been seen
	assert.InDelta(t, 1010.0, res.EquityCurve[1].Equity, 1e-9)
	assert.InDelta(t, 1010.0, res.EquityCurve[3].Equity, 1e-9)
	assert.InDelta(t, 810.0+10*22, res.FinalCapital, 1e-9)

	require.Len(t, sa.seen, 5)
	require.Len(t, sb.seen, 3)
	for i, h := range sb.seen {
		assert.Len(t, h, i+1)
		assert.Equal(t, u.Series["B"][i], h[len(h)-1])
	}
}

// stopFailJournal accepts trades but fails every holdings-only rewrite.
type stopFailJournal struct{}

var errJournal = errors.New("journal unavailable")

func (stopFailJournal) RecordTrade(context.Context, string, domain.Trade, float64, map[string]domain.Position) error {
	return nil
}

func (stopFailJournal) SaveHoldings(context.Context, string, float64, map[string]domain.Position) error {
	return errJournal
}

func (stopFailJournal) LoadLedger(context.Context, string) (domain.PortfolioState, bool, error) {
	return domain.PortfolioState{}, false, nil
}

func TestRun_TrailingStopJournalErrorFailsRun(t *testing.T) {
	strat := &scripted{signals: map[int]domain.Signal{1: buy(10, 90, 0)}}
	rm := mustRisk(t, risk.Config{RiskPerTradePct: 1, ATRPeriod: 2, ATRMultiplier: 1, TrailingStop: true})

	led := portfolio.NewPersistent(portfolio.New(10000, portfolio.Fees{}), stopFailJournal{}, "acct", time.Second)
	_, err := New(strat, led, WithRiskManager(rm)).Run(series("X", 1, 100, 101, 102, 103, 104))
	require.Error(t, err)
	assert.ErrorIs(t, err, errJournal)
}

func TestRunUniverse_AuxiliaryCoversCarriedPosition(t *testing.T) {
	a := []float64{100, 102, 101, 104, 103, 106, 105, 108, 107}
	h := make([]float64, len(a))
	for i, v := range a {
		h[i] = v / 2
	}

	runWith := func(aux map[string][]domain.Candle) domain.BacktestResult {
		// H was bought in an earlier session and is not traded here
		led := portfolio.New(0, portfolio.Fees{})
		led.Restore(domain.PortfolioState{
			Cash:      100000,
			Positions: map[string]domain.Position{"H": {Symbol: "H", Quantity: 10, AveragePrice: 50}},
		})
		strat := &scripted{signals: map[int]domain.Signal{6: buy(10, 100, 0)}}
		rm := mustRisk(t, risk.Config{RiskPerTradePct: 1, MaxCorrelation: 0.9, CorrelationWindow: 5})
		res, err := New(strat, led, WithRiskManager(rm)).RunUniverse(domain.Universe{
			Series:    map[string][]domain.Candle{"A": series("A", 0, a...)},
			Auxiliary: aux,
		})
		require.NoError(t, err)
		return res
	}

	blocked := runWith(map[string][]domain.Candle{"H": series("H", 0, h...)})
	assert.Empty(t, blocked.Trades, "entry correlated with the carried position")

	unseen := runWith(nil)
	assert.Len(t, unseen.Trades, 1, "without history the carried position cannot be compared")
}

// stateCounter counts full-state copies taken through the ledger.
type stateCounter struct {
	*portfolio.Portfolio
	states int
}

func (c *stateCounter) State() domain.PortfolioState {
	c.states++
	return c.Portfolio.State()
}

func TestRun_GuardsDoNotCopyLedgerState(t *testing.T) {
	signals := map[int]domain.Signal{}
	for i := 0; i < 30; i++ {
		signals[i] = buy(1, 90, 0)
	}
	led := &stateCounter{Portfolio: portfolio.New(100000, portfolio.Fees{})}
	rm := mustRisk(t, risk.Config{RiskPerTradePct: 1, MaxCorrelation: 0.9, DailyLossLimitPct: 0.05})

	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	res, err := New(&scripted{signals: signals}, led, WithRiskManager(rm)).Run(series("X", 1, closes...))
	require.NoError(t, err)

	assert.Len(t, res.Trades, 30)
	assert.Zero(t, led.states)
}
