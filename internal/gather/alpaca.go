package gather

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"go.uber.org/zap"

	"tradelab/internal/domain"
	"tradelab/internal/store"
	"tradelab/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ Gatherer = (*AlpacaDaily)(nil)
var _ BarsClient = (*marketdata.Client)(nil)

// BarsClient is the subset of the Alpaca market-data client used here.
type BarsClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// AlpacaConfig holds credentials and fetch parameters.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	DataURL   string
	Feed      string

	BatchSize       int // symbols per API call
	MaxWorkers      int // concurrent batches
	RateLimitPerMin int
	MaxAttempts     int
	RetryDelay      time.Duration
	ProgressDir     string // resumability state; empty disables it
}

// ---------------------------------------------------------------------------
// AlpacaDaily: daily OHLCV bars from the Alpaca market-data API.
// ---------------------------------------------------------------------------

// AlpacaDaily fetches daily bars for a fixed symbol list and window and
// writes them to a CandleStore. Symbols that return no data are remembered
// so an interrupted fetch of the same window resumes where it stopped.
type AlpacaDaily struct {
	client  BarsClient
	store   store.CandleStore
	cfg     AlpacaConfig
	symbols []string
	window  DateRange
	limiter *util.RateLimiter
	log     *zap.Logger
}

// NewAlpacaDaily creates an AlpacaDaily using the official market-data
// client.
func NewAlpacaDaily(cfg AlpacaConfig, s store.CandleStore, symbols []string, window DateRange, logger *zap.Logger) *AlpacaDaily {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	return NewAlpacaDailyWithClient(marketdata.NewClient(opts), cfg, s, symbols, window, logger)
}

// NewAlpacaDailyWithClient creates an AlpacaDaily over an arbitrary client.
func NewAlpacaDailyWithClient(client BarsClient, cfg AlpacaConfig, s store.CandleStore, symbols []string, window DateRange, logger *zap.Logger) *AlpacaDaily {
	if cfg.Feed == "" {
		cfg.Feed = "sip"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 200
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	upper := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if _, dup := seen[sym]; sym == "" || dup {
			continue
		}
		seen[sym] = struct{}{}
		upper = append(upper, sym)
	}
	sort.Strings(upper)

	return &AlpacaDaily{
		client:  client,
		store:   s,
		cfg:     cfg,
		symbols: upper,
		window:  window,
		limiter: util.NewRateLimiter(cfg.RateLimitPerMin, cfg.MaxWorkers),
		log:     logger.With(zap.String("gatherer", "alpaca-daily")),
	}
}

// Name returns the gatherer identifier.
func (g *AlpacaDaily) Name() string { return "alpaca-daily" }

// Run fetches every symbol in batches on a bounded pool of workers. Failed
// batches are retried with backoff; a batch that still fails is logged and
// the run reports an error after the remaining batches finish.
func (g *AlpacaDaily) Run(ctx context.Context) error {
	if err := g.window.Validate(); err != nil {
		return err
	}
	key := g.window.Start.Format(time.DateOnly) + ".." + g.window.End.Format(time.DateOnly)

	var tracker *progressTracker
	if g.cfg.ProgressDir != "" {
		var err error
		tracker, err = newProgressTracker(filepath.Join(g.cfg.ProgressDir, "alpaca-daily"))
		if err != nil {
			return fmt.Errorf("creating progress tracker: %w", err)
		}
		defer tracker.Close()

		if last := tracker.LastCompleted(); last != "" && last != key {
			if err := tracker.Reset(); err != nil {
				return fmt.Errorf("resetting tracker: %w", err)
			}
		}
	}

	var remaining []string
	for _, sym := range g.symbols {
		if tracker != nil && tracker.IsTriedEmpty(sym) {
			continue
		}
		remaining = append(remaining, sym)
	}

	var batches [][]string
	for i := 0; i < len(remaining); i += g.cfg.BatchSize {
		batches = append(batches, remaining[i:min(i+g.cfg.BatchSize, len(remaining))])
	}

	g.log.Info("starting fetch",
		zap.String("window", key),
		zap.Int("symbols", len(g.symbols)),
		zap.Int("remaining", len(remaining)),
		zap.Int("batches", len(batches)),
	)

	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg        sync.WaitGroup
		totalHits atomic.Int64
		totalMiss atomic.Int64
		failed    atomic.Int64
		runStart  = time.Now()
	)

	workers := min(g.cfg.MaxWorkers, len(batches))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIdx := range batchCh {
				if ctx.Err() != nil {
					return
				}
				batch := batches[batchIdx]
				hits, empty, err := g.fetchBatch(ctx, batch)
				if err != nil {
					failed.Add(1)
					g.log.Error("batch failed",
						zap.String("batch", fmt.Sprintf("%d/%d", batchIdx+1, len(batches))),
						zap.Error(err),
					)
					continue
				}
				if tracker != nil && len(empty) > 0 {
					if err := tracker.MarkEmpty(empty); err != nil {
						g.log.Error("marking empty failed", zap.Error(err))
					}
				}
				totalHits.Add(int64(hits))
				totalMiss.Add(int64(len(empty)))

				g.log.Debug("batch done",
					zap.String("batch", fmt.Sprintf("%d/%d", batchIdx+1, len(batches))),
					zap.Int("hits", hits),
					zap.Int("empty", len(empty)),
				)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d batches failed", n, len(batches))
	}
	if tracker != nil {
		if err := tracker.MarkCompleted(key); err != nil {
			return fmt.Errorf("marking completed: %w", err)
		}
	}

	g.log.Info("fetch complete",
		zap.Int64("hits", totalHits.Load()),
		zap.Int64("empty", totalMiss.Load()),
		zap.Duration("elapsed", time.Since(runStart).Round(time.Millisecond)),
	)
	return nil
}

// fetchBatch fetches, converts and stores one batch. It returns the number
// of symbols with data and the symbols without.
func (g *AlpacaDaily) fetchBatch(ctx context.Context, batch []string) (int, []string, error) {
	var candles []domain.Candle
	backoff := util.Backoff{
		Attempts: g.cfg.MaxAttempts,
		Base:     g.cfg.RetryDelay,
		Max:      30 * time.Second,
		OnRetry: func(n int, err error, wait time.Duration) {
			g.log.Warn("batch attempt failed",
				zap.Int("attempt", n),
				zap.Strings("symbols", batch[:min(3, len(batch))]),
				zap.Duration("retry_in", wait),
				zap.Error(err),
			)
		},
	}
	err := util.Retry(ctx, backoff, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var ferr error
		candles, ferr = g.fetchMultiBars(ctx, batch)
		return ferr
	})
	if err != nil {
		return 0, nil, err
	}

	hitSymbols := make(map[string]struct{})
	for _, c := range candles {
		hitSymbols[c.Symbol] = struct{}{}
	}
	var empty []string
	for _, sym := range batch {
		if _, hit := hitSymbols[sym]; !hit {
			empty = append(empty, sym)
		}
	}

	if len(candles) > 0 {
		if err := g.store.WriteCandles(ctx, candles); err != nil {
			return 0, nil, fmt.Errorf("writing candles: %w", err)
		}
	}
	return len(hitSymbols), empty, nil
}

// fetchMultiBars fetches daily bars for multiple symbols in a single API call.
func (g *AlpacaDaily) fetchMultiBars(ctx context.Context, symbols []string) ([]domain.Candle, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	multiBars, err := g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     g.window.Start,
		End:       g.window.End,
		Feed:      marketdata.Feed(g.cfg.Feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var candles []domain.Candle
	for symbol, bars := range multiBars {
		for _, b := range bars {
			candles = append(candles, domain.Candle{
				Symbol: strings.ToUpper(symbol),
				Time:   b.Timestamp.UTC(),
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: float64(b.Volume),
			})
		}
	}
	return candles, nil
}
