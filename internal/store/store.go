// Package store defines storage interfaces for candles, persisted backtest
// runs and account ledgers, with Parquet and SQLite implementations.
package store

import (
	"context"
	"errors"
	"time"

	"tradelab/internal/domain"
)

// ErrRunNotFound is returned by GetRun for an unknown ID.
var ErrRunNotFound = errors.New("run not found")

// CandleStore persists and retrieves OHLCV candles.
type CandleStore interface {
	// WriteCandles persists a batch of candles, replacing any stored candle
	// with the same symbol and time.
	WriteCandles(ctx context.Context, candles []domain.Candle) error

	// ReadCandles returns candles for symbol within [start, end], ordered by
	// time.
	ReadCandles(ctx context.Context, symbol string, start, end time.Time) ([]domain.Candle, error)

	// ListSymbols returns all distinct symbols with stored candles.
	ListSymbols(ctx context.Context) ([]string, error)
}

// RunRecord is one persisted backtest.
type RunRecord struct {
	ID        string
	CreatedAt time.Time
	Strategy  string
	Params    map[string]float64
	Symbols   []string
	Result    domain.BacktestResult
}

// RunSummary is the listing view of a RunRecord.
type RunSummary struct {
	ID           string
	CreatedAt    time.Time
	Strategy     string
	Symbols      []string
	FinalCapital float64
	Metrics      domain.BacktestMetrics
	Halted       bool
}

// RunStore persists and retrieves backtest runs.
type RunStore interface {
	// SaveRun stores rec, assigning an ID and creation time when unset.
	SaveRun(ctx context.Context, rec *RunRecord) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
}
