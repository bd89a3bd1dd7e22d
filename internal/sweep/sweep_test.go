package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradelab/internal/domain"
	"tradelab/internal/engine"
	"tradelab/internal/strategy"
	"tradelab/internal/strategy/builtins"
)

func universe(closes ...float64) domain.Universe {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, len(closes))
	for i, c := range closes {
		candles[i] = domain.Candle{
			Symbol: "X", Time: start.AddDate(0, 0, i),
			Open: c, High: c, Low: c, Close: c, Volume: 1e6,
		}
	}
	return domain.Universe{Series: map[string][]domain.Candle{"X": candles}}
}

func newSweeper(t *testing.T, objective string, workers int) *Sweeper {
	t.Helper()
	runner := engine.NewRunner(nil, builtins.NewRegistry())
	s, err := New(runner, Config{Workers: workers, Objective: objective}, zap.NewNop())
	require.NoError(t, err)
	return s
}

var buyAndHold = engine.RunSpec{Strategy: "buy-and-hold", InitialCapital: 10000}

func entryBars(o []Outcome) []float64 {
	out := make([]float64, len(o))
	for i, x := range o {
		out[i] = x.Params["entry_bar"]
	}
	return out
}

func TestCombinations(t *testing.T) {
	base := strategy.Params{"x": 1}
	combos := Grid{"short": {5, 10}, "long": {20, 30}}.Combinations(base)

	require.Len(t, combos, 4)
	assert.Equal(t, strategy.Params{"x": 1, "long": 20, "short": 5}, combos[0])
	assert.Equal(t, strategy.Params{"x": 1, "long": 20, "short": 10}, combos[1])
	assert.Equal(t, strategy.Params{"x": 1, "long": 30, "short": 5}, combos[2])
	assert.Equal(t, strategy.Params{"x": 1, "long": 30, "short": 10}, combos[3])
	assert.Equal(t, strategy.Params{"x": 1}, base, "base must not be mutated")

	assert.Equal(t, []strategy.Params{{"x": 1}}, Grid{}.Combinations(base))
	assert.Equal(t, []strategy.Params{{}}, Grid{"empty": nil}.Combinations(nil))
}

func TestSweep_RanksDescending(t *testing.T) {
	s := newSweeper(t, domain.MetricTotalReturnPct, 3)

	out, err := s.Run(context.Background(), buyAndHold, universe(100, 110, 120, 130),
		Grid{"entry_bar": {3, 0, 1, 2}})
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.Equal(t, []float64{1, 2, 3, 0}, entryBars(out))
	assert.InDelta(t, 30.0, out[0].Score, 1e-9)
	assert.InDelta(t, 18.0, out[1].Score, 1e-9)
	assert.InDelta(t, 8.3, out[2].Score, 1e-9)
	assert.Error(t, out[3].Err, "entry_bar 0 is rejected by the strategy factory")
	assert.False(t, out[3].Halted())
}

func TestSweep_DrawdownRanksAscending(t *testing.T) {
	s := newSweeper(t, domain.MetricMaxDrawdownPct, 2)

	out, err := s.Run(context.Background(), buyAndHold, universe(100, 90, 80, 70),
		Grid{"entry_bar": {1, 2, 3}})
	require.NoError(t, err)

	assert.Equal(t, []float64{3, 2, 1}, entryBars(out))
	assert.InDelta(t, 12.5, out[0].Score, 1e-9)
	assert.InDelta(t, 30.0, out[2].Score, 1e-9)
}

func TestSweep_IndependentRuns(t *testing.T) {
	one := newSweeper(t, domain.MetricTotalReturnPct, 1)
	many := newSweeper(t, domain.MetricTotalReturnPct, 8)
	u := universe(100, 105, 95, 120, 118, 125)
	grid := Grid{"entry_bar": {1, 2, 3, 4, 5, 6}}

	a, err := one.Run(context.Background(), buyAndHold, u, grid)
	require.NoError(t, err)
	b, err := many.Run(context.Background(), buyAndHold, u, grid)
	require.NoError(t, err)

	require.Len(t, b, len(a))
	for i := range a {
		assert.Equal(t, a[i].Params, b[i].Params)
		assert.Equal(t, a[i].Result.FinalCapital, b[i].Result.FinalCapital)
		assert.Len(t, a[i].Result.Trades, 1, "each run starts from a fresh ledger")
	}
}

func TestSweep_Errors(t *testing.T) {
	_, err := New(engine.NewRunner(nil, builtins.NewRegistry()), Config{Objective: "profit"}, nil)
	assert.ErrorIs(t, err, ErrUnknownObjective)

	s := newSweeper(t, domain.MetricSharpeRatio, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Run(ctx, buyAndHold, universe(1, 2, 3), Grid{"entry_bar": {1, 2}})
	assert.ErrorIs(t, err, context.Canceled)
}
