package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradelab/internal/domain"
	"tradelab/internal/portfolio"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RunStore = (*SQLiteStore)(nil)
var _ portfolio.Journal = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore and portfolio.Journal backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Sweeps persist from many goroutines; serialize writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    strategy TEXT NOT NULL,
    params TEXT NOT NULL,
    symbols TEXT NOT NULL,
    initial_capital REAL NOT NULL,
    final_capital REAL NOT NULL,
    metrics TEXT NOT NULL,
    halted INTEGER NOT NULL DEFAULT 0,
    halted_at INTEGER,
    trades TEXT NOT NULL,
    equity_curve TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

CREATE TABLE IF NOT EXISTS ledgers (
    account TEXT PRIMARY KEY,
    cash REAL NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_positions (
    account TEXT NOT NULL REFERENCES ledgers(account) ON DELETE CASCADE,
    symbol TEXT NOT NULL,
    quantity REAL NOT NULL,
    average_price REAL NOT NULL,
    stop_loss REAL NOT NULL DEFAULT 0,
    take_profit REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (account, symbol)
);

CREATE TABLE IF NOT EXISTS ledger_trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account TEXT NOT NULL,
    ts INTEGER NOT NULL,
    symbol TEXT NOT NULL,
    action TEXT NOT NULL,
    price REAL NOT NULL,
    quantity REAL NOT NULL,
    fee REAL NOT NULL,
    total_value REAL NOT NULL,
    realized_pnl REAL,
    reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_ledger_trades_account ON ledger_trades(account, id);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts a run. Result slices and metrics are stored as JSON.
func (s *SQLiteStore) SaveRun(ctx context.Context, rec *RunRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	blobs := make([]string, 0, 5)
	for _, v := range []any{rec.Params, rec.Symbols, rec.Result.Metrics, rec.Result.Trades, rec.Result.EquityCurve} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding run %s: %w", rec.ID, err)
		}
		blobs = append(blobs, string(b))
	}

	var haltedAt sql.NullInt64
	if rec.Result.Halted {
		haltedAt = sql.NullInt64{Int64: rec.Result.HaltedAt.UnixNano(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (id, created_at, strategy, params, symbols, initial_capital, final_capital,
                  metrics, halted, halted_at, trades, equity_curve)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, rec.ID, rec.CreatedAt.UnixNano(), rec.Strategy, blobs[0], blobs[1],
		rec.Result.InitialCapital, rec.Result.FinalCapital, blobs[2],
		rec.Result.Halted, haltedAt, blobs[3], blobs[4])
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, created_at, strategy, params, symbols, initial_capital, final_capital,
       metrics, halted, halted_at, trades, equity_curve
FROM runs WHERE id = ?
`, id)

	var (
		rec                                   RunRecord
		created                               int64
		params, symbols, metrics, trades, eqc string
		haltedAt                              sql.NullInt64
	)
	err := row.Scan(&rec.ID, &created, &rec.Strategy, &params, &symbols,
		&rec.Result.InitialCapital, &rec.Result.FinalCapital, &metrics,
		&rec.Result.Halted, &haltedAt, &trades, &eqc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select run: %w", err)
	}

	rec.CreatedAt = time.Unix(0, created).UTC()
	if haltedAt.Valid {
		rec.Result.HaltedAt = time.Unix(0, haltedAt.Int64).UTC()
	}
	decode := []struct {
		src string
		dst any
	}{
		{params, &rec.Params},
		{symbols, &rec.Symbols},
		{metrics, &rec.Result.Metrics},
		{trades, &rec.Result.Trades},
		{eqc, &rec.Result.EquityCurve},
	}
	for _, d := range decode {
		if err := json.Unmarshal([]byte(d.src), d.dst); err != nil {
			return nil, fmt.Errorf("decoding run %s: %w", id, err)
		}
	}
	return &rec, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, created_at, strategy, symbols, final_capital, metrics, halted
FROM runs ORDER BY created_at DESC, id LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			sum              RunSummary
			created          int64
			symbols, metrics string
		)
		if err := rows.Scan(&sum.ID, &created, &sum.Strategy, &symbols, &sum.FinalCapital, &metrics, &sum.Halted); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		sum.CreatedAt = time.Unix(0, created).UTC()
		if err := json.Unmarshal([]byte(symbols), &sum.Symbols); err != nil {
			return nil, fmt.Errorf("decoding run %s symbols: %w", sum.ID, err)
		}
		if err := json.Unmarshal([]byte(metrics), &sum.Metrics); err != nil {
			return nil, fmt.Errorf("decoding run %s metrics: %w", sum.ID, err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// portfolio.Journal implementation
// ---------------------------------------------------------------------------

// RecordTrade appends one executed trade for account and replaces its cash
// and open positions in a single transaction.
func (s *SQLiteStore) RecordTrade(ctx context.Context, account string, t domain.Trade, cash float64, positions map[string]domain.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var pnl sql.NullFloat64
	if t.RealizedPnL != nil {
		pnl = sql.NullFloat64{Float64: *t.RealizedPnL, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO ledger_trades (account, ts, symbol, action, price, quantity, fee, total_value, realized_pnl, reason)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, account, t.Timestamp.UnixNano(), t.Symbol, string(t.Action), t.Price, t.Quantity, t.Fee, t.TotalValue, pnl, t.Reason); err != nil {
		return fmt.Errorf("insert ledger trade: %w", err)
	}
	if err := writeHoldings(ctx, tx, account, cash, positions); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveHoldings replaces the stored cash and open positions of account.
func (s *SQLiteStore) SaveHoldings(ctx context.Context, account string, cash float64, positions map[string]domain.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := writeHoldings(ctx, tx, account, cash, positions); err != nil {
		return err
	}
	return tx.Commit()
}

func writeHoldings(ctx context.Context, tx *sql.Tx, account string, cash float64, positions map[string]domain.Position) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO ledgers (account, cash, updated_at) VALUES (?, ?, ?)
ON CONFLICT(account) DO UPDATE SET cash=excluded.cash, updated_at=excluded.updated_at
`, account, cash, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("upsert ledger: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_positions WHERE account = ?`, account); err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}
	for sym, p := range positions {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO ledger_positions (account, symbol, quantity, average_price, stop_loss, take_profit)
VALUES (?, ?, ?, ?, ?, ?)
`, account, sym, p.Quantity, p.AveragePrice, p.StopLoss, p.TakeProfit); err != nil {
			return fmt.Errorf("insert position %s: %w", sym, err)
		}
	}
	return nil
}

// LoadLedger returns the stored state of account.
func (s *SQLiteStore) LoadLedger(ctx context.Context, account string) (domain.PortfolioState, bool, error) {
	state := domain.PortfolioState{Positions: make(map[string]domain.Position)}

	err := s.db.QueryRowContext(ctx, `SELECT cash FROM ledgers WHERE account = ?`, account).Scan(&state.Cash)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PortfolioState{}, false, nil
	}
	if err != nil {
		return domain.PortfolioState{}, false, fmt.Errorf("select ledger: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT symbol, quantity, average_price, stop_loss, take_profit
FROM ledger_positions WHERE account = ?
`, account)
	if err != nil {
		return domain.PortfolioState{}, false, fmt.Errorf("select positions: %w", err)
	}
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.Symbol, &p.Quantity, &p.AveragePrice, &p.StopLoss, &p.TakeProfit); err != nil {
			rows.Close()
			return domain.PortfolioState{}, false, fmt.Errorf("scan position: %w", err)
		}
		state.Positions[p.Symbol] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.PortfolioState{}, false, err
	}

	rows, err = s.db.QueryContext(ctx, `
SELECT ts, symbol, action, price, quantity, fee, total_value, realized_pnl, reason
FROM ledger_trades WHERE account = ? ORDER BY id
`, account)
	if err != nil {
		return domain.PortfolioState{}, false, fmt.Errorf("select trades: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t      domain.Trade
			ts     int64
			action string
			pnl    sql.NullFloat64
		)
		if err := rows.Scan(&ts, &t.Symbol, &action, &t.Price, &t.Quantity, &t.Fee, &t.TotalValue, &pnl, &t.Reason); err != nil {
			return domain.PortfolioState{}, false, fmt.Errorf("scan trade: %w", err)
		}
		t.Timestamp = time.Unix(0, ts).UTC()
		t.Action = domain.Action(action)
		if pnl.Valid {
			v := pnl.Float64
			t.RealizedPnL = &v
		}
		state.Trades = append(state.Trades, t)
	}
	return state, true, rows.Err()
}
