package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradelab/internal/domain"
	"tradelab/internal/engine"
	"tradelab/internal/store"
	"tradelab/internal/strategy/builtins"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	candles := store.NewParquetStore(t.TempDir())
	day0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	var bars []domain.Candle
	for i, c := range []float64{100, 110, 120} {
		bars = append(bars, domain.Candle{
			Symbol: "AAPL", Time: day0.AddDate(0, 0, i),
			Open: c, High: c, Low: c, Close: c, Volume: 1e6,
		})
	}
	require.NoError(t, candles.WriteCandles(context.Background(), bars))

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	runner := engine.NewRunner(candles, builtins.NewRegistry(), engine.WithRunStore(db))
	base := engine.RunSpec{Strategy: "buy-and-hold", InitialCapital: 10000, Account: "ignored"}
	srv := httptest.NewServer(NewServer(db, candles, runner, base, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/runs", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestServer_CreateGetList(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv, `{"symbols":["aapl"],"start":"2024-01-01","end":"2024-01-10"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[RunJSON](t, resp)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "buy-and-hold", created.Strategy)
	assert.Equal(t, []string{"AAPL"}, created.Symbols)
	assert.Equal(t, 12000.0, created.Result.FinalCapital)

	resp = get(t, srv, "/api/runs/"+created.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[RunJSON](t, resp)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.Result.FinalCapital, got.Result.FinalCapital)
	assert.Len(t, got.Result.Trades, 1)

	resp = get(t, srv, "/api/runs?limit=10")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]RunSummaryJSON](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
	assert.InDelta(t, 20.0, list[0].Metrics.TotalReturnPct, 1e-9)
}

func TestServer_CreateErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"symbols":`, http.StatusBadRequest},
		{"unknown field", `{"symbols":["AAPL"],"start":"2024-01-01","leverage":3}`, http.StatusBadRequest},
		{"missing start", `{"symbols":["AAPL"]}`, http.StatusBadRequest},
		{"no symbols", `{"start":"2024-01-01"}`, http.StatusBadRequest},
		{"inverted window", `{"symbols":["AAPL"],"start":"2024-02-01","end":"2024-01-01"}`, http.StatusBadRequest},
		{"unknown strategy", `{"strategy":"martingale","symbols":["AAPL"],"start":"2024-01-01","end":"2024-01-10"}`, http.StatusBadRequest},
		{"invalid params", `{"params":{"entry_bar":0},"symbols":["AAPL"],"start":"2024-01-01","end":"2024-01-10"}`, http.StatusBadRequest},
		{"no data", `{"symbols":["NOPE"],"start":"2024-01-01","end":"2024-01-10"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			body := decode[map[string]string](t, resp)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestServer_GetRunNotFound(t *testing.T) {
	srv := newTestServer(t)
	resp := get(t, srv, "/api/runs/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ListRunsBadLimit(t *testing.T) {
	srv := newTestServer(t)
	resp := get(t, srv, "/api/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = get(t, srv, "/api/runs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]RunSummaryJSON](t, resp))
}

func TestServer_SymbolsHealthMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp := get(t, srv, "/api/symbols")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"AAPL"}, decode[[]string](t, resp))

	resp = get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	post(t, srv, `{"symbols":["AAPL"],"start":"2024-01-01","end":"2024-01-10"}`)
	resp = get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tradelab_backtest_runs_total")
}

func TestServer_CORSPreflight(t *testing.T) {
	srv := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/runs", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
