package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tradelab.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ALPACA_API_KEY", "ALPACA_API_SECRET", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
		"DATA_DIR", "SQLITE_PATH", "LOG_LEVEL", "TRADELAB_INITIAL_CAPITAL", "TRADELAB_HTTP_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/tradelab/data"
  sqlite_path: "/tmp/tradelab/tradelab.db"
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  data_url: "https://data.alpaca.markets"
logging:
  level: "debug"
  format: "json"
backtest:
  initial_capital: 25000
  fixed_fee: 1
  pct_fee: 0.001
  slippage:
    model: fixed
    pct: 0.0005
  strategy:
    name: sma-cross
    params:
      short: 5
      long: 20
  symbols: [AAPL, MSFT]
  start: "2020-01-01"
  end: "2020-12-31"
risk:
  risk_per_trade_pct: 0.02
  max_drawdown_pct: 0.2
  trailing_stop: true
  volume_limit_pct: 0.1
sweep:
  workers: 4
  objective: sortinoRatio
  grid:
    short: [5, 10]
    long: [20, 50, 100]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/tradelab/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/tradelab/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/tradelab/tradelab.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/tradelab/tradelab.db")
	}

	// -- Alpaca --
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Alpaca.Feed != "sip" {
		t.Errorf("Alpaca.Feed = %q, want default %q", cfg.Alpaca.Feed, "sip")
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}

	// -- Backtest --
	bt := cfg.Backtest
	if bt.InitialCapital != 25000 {
		t.Errorf("Backtest.InitialCapital = %v, want 25000", bt.InitialCapital)
	}
	if bt.Fees.Fixed != 1 || bt.Fees.Pct != 0.001 {
		t.Errorf("Backtest.Fees = %+v, want fixed 1 pct 0.001", bt.Fees)
	}
	if bt.Slippage.Model != "fixed" || bt.Slippage.Pct != 0.0005 {
		t.Errorf("Backtest.Slippage = %+v, want fixed 0.0005", bt.Slippage)
	}
	if bt.Strategy.Name != "sma-cross" || bt.Strategy.Params["long"] != 20 {
		t.Errorf("Backtest.Strategy = %+v, want sma-cross long 20", bt.Strategy)
	}
	if len(bt.Symbols) != 2 || bt.Symbols[1] != "MSFT" {
		t.Errorf("Backtest.Symbols = %v, want [AAPL MSFT]", bt.Symbols)
	}

	// -- Risk --
	if cfg.Risk == nil {
		t.Fatal("Risk = nil, want a risk section")
	}
	if cfg.Risk.MaxDrawdownPct != 0.2 || !cfg.Risk.TrailingStop {
		t.Errorf("Risk = %+v, want max drawdown 0.2 with trailing stop", *cfg.Risk)
	}

	// -- Sweep --
	if cfg.Sweep.Workers != 4 {
		t.Errorf("Sweep.Workers = %d, want 4", cfg.Sweep.Workers)
	}
	if cfg.Sweep.Objective != "sortinoRatio" {
		t.Errorf("Sweep.Objective = %q, want %q", cfg.Sweep.Objective, "sortinoRatio")
	}
	if len(cfg.Sweep.Grid["long"]) != 3 {
		t.Errorf("Sweep.Grid[long] = %v, want 3 values", cfg.Sweep.Grid["long"])
	}
}

func TestLoadNoFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}
	if cfg.Risk != nil {
		t.Errorf("Risk = %+v, want nil (simple mode)", *cfg.Risk)
	}
	if cfg.Backtest.InitialCapital != 10000 {
		t.Errorf("Backtest.InitialCapital = %v, want 10000", cfg.Backtest.InitialCapital)
	}
	if cfg.Backtest.Strategy.Name != "buy-and-hold" {
		t.Errorf("Backtest.Strategy.Name = %q, want buy-and-hold", cfg.Backtest.Strategy.Name)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("TRADELAB_INITIAL_CAPITAL", "5000")
	t.Setenv("TRADELAB_HTTP_ADDR", "127.0.0.1:9000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Backtest.InitialCapital != 5000 {
		t.Errorf("Backtest.InitialCapital = %v, want 5000 (env override)", cfg.Backtest.InitialCapital)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("Server.Addr = %q, want %q (env override)", cfg.Server.Addr, "127.0.0.1:9000")
	}

	// The canonical SDK names win.
	t.Setenv("APCA_API_KEY_ID", "apca-key")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "apca-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (APCA override)", cfg.Alpaca.APIKey, "apca-key")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		content string
	}{
		{"bad risk", "risk:\n  risk_per_trade_pct: 1.5\n"},
		{"non-positive capital", "backtest:\n  initial_capital: -1\n"},
		{"bad yaml", "backtest: [unterminated\n"},
	}
	for _, tt := range tests {
		if _, err := Load(writeConfig(t, tt.content)); err == nil {
			t.Errorf("%s: Load() returned nil error", tt.name)
		}
	}

	t.Setenv("TRADELAB_INITIAL_CAPITAL", "lots")
	if _, err := Load(""); err == nil {
		t.Error("Load() accepted a non-numeric TRADELAB_INITIAL_CAPITAL")
	}
}

func TestBacktestWindow(t *testing.T) {
	start, end, err := Backtest{Start: "2024-01-02", End: "2024-01-05"}.Window()
	if err != nil {
		t.Fatalf("Window() returned error: %v", err)
	}
	if want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	// End covers the candle stamped at midnight of the named day.
	if day := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC); end.Before(day) {
		t.Errorf("end = %v, want on or after %v", end, day)
	}

	if _, _, err := (Backtest{Start: "2024-02-01", End: "2024-01-01"}).Window(); err == nil {
		t.Error("Window() accepted end before start")
	}
	if _, _, err := (Backtest{Start: "01/02/2024"}).Window(); err == nil {
		t.Error("Window() accepted a malformed start")
	}
}
