// Package config loads tradelab settings from YAML, an optional .env file
// and environment variables, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tradelab/internal/domain"
	"tradelab/internal/portfolio"
	"tradelab/internal/risk"
	"tradelab/internal/slippage"
)

// DateLayout is the format of backtest window bounds.
const DateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tradelab.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Logging  Logging  `yaml:"logging"`
	Backtest Backtest `yaml:"backtest"`
	Sweep    Sweep    `yaml:"sweep"`
	Server   Server   `yaml:"server"`

	// Risk enables the risk manager when present. A nil Risk runs in
	// simple mode.
	Risk *risk.Config `yaml:"risk"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`

	RateLimitPerMin int `yaml:"rate_limit_per_min"`
	BatchSize       int `yaml:"batch_size"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Backtest describes a single run.
type Backtest struct {
	InitialCapital float64         `yaml:"initial_capital"`
	Fees           portfolio.Fees  `yaml:",inline"`
	Slippage       slippage.Config `yaml:"slippage"`
	Strategy       StrategyConfig  `yaml:"strategy"`

	Symbols   []string `yaml:"symbols"`
	Auxiliary []string `yaml:"auxiliary"`
	Start     string   `yaml:"start"`
	End       string   `yaml:"end"`

	// Account journals the ledger to SQLite under this name when set.
	Account string `yaml:"account"`
	// Persist saves each completed run to the run store.
	Persist bool `yaml:"persist"`
}

// StrategyConfig names a registered strategy and its parameters.
type StrategyConfig struct {
	Name   string             `yaml:"name"`
	Params map[string]float64 `yaml:"params"`
}

// Sweep controls grid parameter sweeps.
type Sweep struct {
	Workers     int                  `yaml:"workers"`
	Objective   string               `yaml:"objective"`
	MetricsAddr string               `yaml:"metrics_addr"`
	Grid        map[string][]float64 `yaml:"grid"`
}

// Server configures the runs HTTP API.
type Server struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/tradelab.db",
		},
		Alpaca: Alpaca{
			Feed:            "sip",
			RateLimitPerMin: 200,
			BatchSize:       100,
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
		Backtest: Backtest{
			InitialCapital: 10000,
			Strategy:       StrategyConfig{Name: "buy-and-hold"},
		},
		Sweep: Sweep{
			Workers:   runtime.NumCPU(),
			Objective: domain.MetricSharpeRatio,
		},
		Server: Server{Addr: ":8080"},
	}
}

// Window parses the backtest window. An empty Start means the zero time and
// an empty End means now; End covers the whole named day.
func (b Backtest) Window() (start, end time.Time, err error) {
	if b.Start != "" {
		if start, err = time.Parse(DateLayout, b.Start); err != nil {
			return start, end, fmt.Errorf("parsing start %q: %w", b.Start, err)
		}
	}
	end = time.Now().UTC()
	if b.End != "" {
		if end, err = time.Parse(DateLayout, b.End); err != nil {
			return start, end, fmt.Errorf("parsing end %q: %w", b.End, err)
		}
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("window end %s before start %s", b.End, b.Start)
	}
	return start, end, nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over Default,
// loads a .env file from the working directory if one exists, and then
// applies environment variable overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	// Load environment variables from .env file
	_ = godotenv.Load()

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if cfg.Risk != nil {
		if err := cfg.Risk.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Backtest.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial_capital %v: must be positive", cfg.Backtest.InitialCapital)
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("TRADELAB_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("TRADELAB_INITIAL_CAPITAL"); v != "" {
		capital, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TRADELAB_INITIAL_CAPITAL %q: %w", v, err)
		}
		cfg.Backtest.InitialCapital = capital
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}
