package store

import (
	"fmt"
	"path/filepath"
	"time"

	"tradelab/internal/domain"
)

// TradeExportRecord is the Parquet schema of an exported trade ledger.
type TradeExportRecord struct {
	RunID       string   `parquet:"run_id"`
	Timestamp   int64    `parquet:"timestamp,timestamp(millisecond)"`
	Symbol      string   `parquet:"symbol"`
	Action      string   `parquet:"action"`
	Price       float64  `parquet:"price"`
	Quantity    float64  `parquet:"quantity"`
	Fee         float64  `parquet:"fee"`
	TotalValue  float64  `parquet:"total_value"`
	RealizedPnL *float64 `parquet:"realized_pnl,optional"`
	Reason      string   `parquet:"reason"`
}

// EquityExportRecord is the Parquet schema of an exported equity curve.
type EquityExportRecord struct {
	RunID     string  `parquet:"run_id"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"`
	Cash      float64 `parquet:"cash"`
	Equity    float64 `parquet:"equity"`
}

// ExportResult writes res as <dir>/<runID>/trades.parquet and
// <dir>/<runID>/equity.parquet and returns the directory written.
func ExportResult(dir, runID string, res domain.BacktestResult) (string, error) {
	out := filepath.Join(dir, runID)

	trades := make([]TradeExportRecord, len(res.Trades))
	for i, t := range res.Trades {
		trades[i] = TradeExportRecord{
			RunID:       runID,
			Timestamp:   t.Timestamp.UnixMilli(),
			Symbol:      t.Symbol,
			Action:      string(t.Action),
			Price:       t.Price,
			Quantity:    t.Quantity,
			Fee:         t.Fee,
			TotalValue:  t.TotalValue,
			RealizedPnL: t.RealizedPnL,
			Reason:      t.Reason,
		}
	}
	if err := writeParquetFile(filepath.Join(out, "trades.parquet"), trades); err != nil {
		return "", fmt.Errorf("exporting trades: %w", err)
	}

	equity := make([]EquityExportRecord, len(res.EquityCurve))
	for i, s := range res.EquityCurve {
		equity[i] = EquityExportRecord{
			RunID:     runID,
			Timestamp: s.Timestamp.UnixMilli(),
			Cash:      s.Cash,
			Equity:    s.Equity,
		}
	}
	if err := writeParquetFile(filepath.Join(out, "equity.parquet"), equity); err != nil {
		return "", fmt.Errorf("exporting equity curve: %w", err)
	}
	return out, nil
}

// ReadExportedTrades loads a trades.parquet written by ExportResult.
func ReadExportedTrades(path string) ([]domain.Trade, error) {
	records, err := readParquetFile[TradeExportRecord](path)
	if err != nil {
		return nil, err
	}
	trades := make([]domain.Trade, len(records))
	for i, r := range records {
		trades[i] = domain.Trade{
			Timestamp:   time.UnixMilli(r.Timestamp).UTC(),
			Symbol:      r.Symbol,
			Action:      domain.Action(r.Action),
			Price:       r.Price,
			Quantity:    r.Quantity,
			Fee:         r.Fee,
			TotalValue:  r.TotalValue,
			RealizedPnL: r.RealizedPnL,
			Reason:      r.Reason,
		}
	}
	return trades, nil
}
