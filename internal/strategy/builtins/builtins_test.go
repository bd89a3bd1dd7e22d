package builtins

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelab/internal/domain"
	"tradelab/internal/strategy"
)

func candles(closes ...float64) []domain.Candle {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{Symbol: "X", Time: t0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return out
}

// actions replays s over every prefix of series.
func actions(s strategy.Strategy, series []domain.Candle) []domain.Action {
	out := make([]domain.Action, len(series))
	for i := range series {
		out[i] = s.Analyze(series[:i+1]).Action
	}
	return out
}

func TestRegistryHasBuiltins(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"buy-and-hold", "donchian-breakout", "rsi-reversion", "sma-cross"}, r.List())

	s, err := r.New("sma-cross", strategy.Params{"short": 2, "long": 4})
	require.NoError(t, err)
	assert.Equal(t, "sma-cross", s.Name())

	_, err = r.New("sma-cross", strategy.Params{"short": 5, "long": 4})
	assert.Error(t, err)
}

func TestBuyAndHold(t *testing.T) {
	s, err := NewBuyAndHold(1)
	require.NoError(t, err)
	got := actions(s, candles(100, 110, 120))
	assert.Equal(t, []domain.Action{domain.ActionBuy, domain.ActionHold, domain.ActionHold}, got)

	sig := s.Analyze(candles(100))
	assert.Equal(t, 100.0, sig.Price)
}

func TestSMACross(t *testing.T) {
	s, err := NewSMACross(2, 3)
	require.NoError(t, err)

	series := candles(10, 9, 8, 7, 10, 12, 9, 5)
	got := actions(s, series)
	// index 4: fast (7+10)/2=8.5 > slow (8+7+10)/3=8.33 after being below
	assert.Equal(t, domain.ActionBuy, got[4])
	assert.Equal(t, domain.ActionHold, got[5])
	assert.Equal(t, domain.ActionSell, got[7])
	for _, a := range got[:4] {
		assert.Equal(t, domain.ActionHold, a)
	}
}

func TestDonchianBreakout(t *testing.T) {
	s, err := NewDonchianBreakout(3, 2)
	require.NoError(t, err)
	got := actions(s, candles(10, 11, 10, 12, 11, 9))
	assert.Equal(t, domain.ActionHold, got[2], "warmup")
	assert.Equal(t, domain.ActionBuy, got[3])
	assert.Equal(t, domain.ActionHold, got[4])
	assert.Equal(t, domain.ActionSell, got[5])
}

func TestRSIReversion(t *testing.T) {
	s, err := NewRSIReversion(3, 30, 70)
	require.NoError(t, err)

	up := actions(s, candles(1, 2, 3, 4, 5))
	assert.Equal(t, domain.ActionHold, up[2])
	assert.Equal(t, domain.ActionSell, up[4])

	down := actions(s, candles(5, 4, 3, 2, 1))
	assert.Equal(t, domain.ActionBuy, down[4])

	_, err = NewRSIReversion(3, 70, 30)
	assert.Error(t, err)
}
