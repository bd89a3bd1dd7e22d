package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradelab/internal/domain"
	"tradelab/internal/portfolio"
	"tradelab/internal/risk"
	"tradelab/internal/slippage"
	"tradelab/internal/store"
	"tradelab/internal/strategy"
)

// ErrNoData is returned when the store holds no candles for a requested
// symbol and window.
var ErrNoData = errors.New("no candles in window")

// RunSpec fully describes one backtest. A spec is a value; the Runner
// builds fresh collaborators from it on every call.
type RunSpec struct {
	Strategy string
	Params   strategy.Params

	Symbols   []string
	Auxiliary []string
	Start     time.Time
	End       time.Time

	InitialCapital float64
	Fees           portfolio.Fees
	Slippage       slippage.Config

	// Risk enables the risk manager. Nil runs in simple mode.
	Risk *risk.Config

	// Account selects a journaled ledger. It requires a Runner built with
	// WithJournal.
	Account string
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunStore lets Run persist completed runs.
func WithRunStore(s store.RunStore) RunnerOption {
	return func(r *Runner) { r.runs = s }
}

// WithJournal enables journaled ledgers for specs that name an Account.
func WithJournal(j portfolio.Journal) RunnerOption {
	return func(r *Runner) { r.journal = j }
}

// WithRunnerLogger sets the logger handed to every Backtester.
func WithRunnerLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// Runner loads candles, resolves strategies by name and executes
// RunSpecs. It is safe for concurrent use when its stores are.
type Runner struct {
	candles  store.CandleStore
	registry *strategy.Registry
	runs     store.RunStore
	journal  portfolio.Journal
	log      *zap.Logger
}

// NewRunner creates a Runner reading candles from candles and strategies
// from registry.
func NewRunner(candles store.CandleStore, registry *strategy.Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		candles:  candles,
		registry: registry,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reads the traded and auxiliary series of spec from the candle store.
// A traded symbol without candles in the window yields ErrNoData; auxiliary
// symbols without data are skipped.
func (r *Runner) Load(ctx context.Context, spec RunSpec) (domain.Universe, error) {
	if len(spec.Symbols) == 0 {
		return domain.Universe{}, fmt.Errorf("%w: no symbols", ErrEmptySeries)
	}
	u := domain.Universe{
		Series:    make(map[string][]domain.Candle, len(spec.Symbols)),
		Auxiliary: make(map[string][]domain.Candle, len(spec.Auxiliary)),
	}
	for _, sym := range spec.Symbols {
		candles, err := r.candles.ReadCandles(ctx, sym, spec.Start, spec.End)
		if err != nil {
			return domain.Universe{}, fmt.Errorf("loading %s: %w", sym, err)
		}
		if len(candles) == 0 {
			return domain.Universe{}, fmt.Errorf("%w: %s %s..%s", ErrNoData, sym,
				spec.Start.Format(time.DateOnly), spec.End.Format(time.DateOnly))
		}
		u.Series[strings.ToUpper(sym)] = candles
	}
	for _, sym := range spec.Auxiliary {
		candles, err := r.candles.ReadCandles(ctx, sym, spec.Start, spec.End)
		if err != nil {
			return domain.Universe{}, fmt.Errorf("loading auxiliary %s: %w", sym, err)
		}
		if len(candles) == 0 {
			r.log.Warn("auxiliary series has no data", zap.String("symbol", sym))
			continue
		}
		u.Auxiliary[strings.ToUpper(sym)] = candles
	}
	return u, nil
}

// Backtest runs spec over an already loaded universe with a fresh strategy,
// ledger and risk manager.
func (r *Runner) Backtest(ctx context.Context, spec RunSpec, u domain.Universe) (domain.BacktestResult, error) {
	if len(u.Series) == 0 {
		return domain.BacktestResult{}, ErrEmptySeries
	}
	strat, err := r.registry.New(spec.Strategy, spec.Params)
	if err != nil {
		return domain.BacktestResult{}, err
	}
	ledger, err := r.ledger(ctx, spec)
	if err != nil {
		return domain.BacktestResult{}, err
	}
	slip, err := slippage.FromConfig(spec.Slippage)
	if err != nil {
		return domain.BacktestResult{}, err
	}

	opts := []Option{WithSlippage(slip), WithLogger(r.log)}
	if spec.Risk != nil {
		rm, err := risk.New(*spec.Risk)
		if err != nil {
			return domain.BacktestResult{}, err
		}
		opts = append(opts, WithRiskManager(rm))
	}

	// One strategy instance per symbol.
	symbols := make([]string, 0, len(u.Series))
	for sym := range u.Series {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols[1:] {
		s, err := r.registry.New(spec.Strategy, spec.Params)
		if err != nil {
			return domain.BacktestResult{}, err
		}
		opts = append(opts, WithStrategyFor(sym, s))
	}

	return New(strat, ledger, opts...).RunUniverse(u)
}

// Run loads, backtests and, when a RunStore is configured, persists spec.
// The returned record has an ID only when it was persisted.
func (r *Runner) Run(ctx context.Context, spec RunSpec) (*store.RunRecord, error) {
	u, err := r.Load(ctx, spec)
	if err != nil {
		return nil, err
	}
	res, err := r.Backtest(ctx, spec, u)
	if err != nil {
		return nil, err
	}

	rec := &store.RunRecord{
		Strategy: spec.Strategy,
		Params:   spec.Params,
		Symbols:  spec.Symbols,
		Result:   res,
	}
	if r.runs != nil {
		if err := r.runs.SaveRun(ctx, rec); err != nil {
			return nil, fmt.Errorf("saving run: %w", err)
		}
		r.log.Info("run saved",
			zap.String("id", rec.ID),
			zap.String("strategy", spec.Strategy),
			zap.Float64("final_capital", res.FinalCapital),
		)
	}
	return rec, nil
}

func (r *Runner) ledger(ctx context.Context, spec RunSpec) (portfolio.Ledger, error) {
	if spec.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital %v: must be positive", spec.InitialCapital)
	}
	mem := portfolio.New(spec.InitialCapital, spec.Fees)
	if spec.Account == "" {
		return mem, nil
	}
	if r.journal == nil {
		return nil, fmt.Errorf("account %q requested without a journal", spec.Account)
	}
	p := portfolio.NewPersistent(mem, r.journal, spec.Account, 0)
	if err := p.Reload(ctx); err != nil {
		return nil, err
	}
	return p, nil
}
