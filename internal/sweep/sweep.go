// Package sweep runs a grid of independent backtests over strategy
// parameters on a bounded worker pool and ranks them by an objective metric.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradelab/internal/domain"
	"tradelab/internal/engine"
	"tradelab/internal/metrics"
	"tradelab/internal/strategy"
)

// ErrUnknownObjective is returned for an objective that names no metric.
var ErrUnknownObjective = errors.New("unknown objective")

// Grid maps a parameter name to the values it takes.
type Grid map[string][]float64

// Combinations expands g over base into its cartesian product. Parameter
// names are iterated in sorted order with the last name varying fastest, so
// the order is stable across calls. An empty grid yields base alone.
func (g Grid) Combinations(base strategy.Params) []strategy.Params {
	names := make([]string, 0, len(g))
	for name, values := range g {
		if len(values) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	combos := []strategy.Params{clone(base)}
	for _, name := range names {
		next := make([]strategy.Params, 0, len(combos)*len(g[name]))
		for _, c := range combos {
			for _, v := range g[name] {
				p := clone(c)
				p[name] = v
				next = append(next, p)
			}
		}
		combos = next
	}
	return combos
}

func clone(p strategy.Params) strategy.Params {
	out := make(strategy.Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Config controls a Sweeper.
type Config struct {
	Workers   int
	Objective string
}

// Outcome is one grid point. Err is set when the run could not be built or
// executed; such outcomes rank last.
type Outcome struct {
	Params strategy.Params
	Result domain.BacktestResult
	Score  float64
	Err    error
}

// Halted reports whether the run completed but was stopped by the drawdown
// kill-switch.
func (o Outcome) Halted() bool { return o.Err == nil && o.Result.Halted }

// Sweeper executes grids through a Runner.
type Sweeper struct {
	runner *engine.Runner
	cfg    Config
	log    *zap.Logger
}

// New creates a Sweeper. Workers defaults to 1.
func New(runner *engine.Runner, cfg Config, logger *zap.Logger) (*Sweeper, error) {
	if _, ok := (domain.BacktestMetrics{}).Value(cfg.Objective); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownObjective, cfg.Objective)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{runner: runner, cfg: cfg, log: logger}, nil
}

// Run backtests every combination of grid over base.Params against u and
// returns the outcomes ranked by the objective, best first. Lower is better
// for maxDrawdownPct and higher for every other metric. Each combination
// gets its own strategy, ledger and risk manager; base.Account is ignored.
func (s *Sweeper) Run(ctx context.Context, base engine.RunSpec, u domain.Universe, grid Grid) ([]Outcome, error) {
	combos := grid.Combinations(base.Params)
	outcomes := make([]Outcome, len(combos))

	jobs := make(chan int, len(combos))
	for i := range combos {
		jobs <- i
	}
	close(jobs)

	workers := min(s.cfg.Workers, len(combos))
	s.log.Info("starting sweep",
		zap.Int("combinations", len(combos)),
		zap.Int("workers", workers),
		zap.String("objective", s.cfg.Objective),
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for idx := range jobs {
				if ctx.Err() != nil {
					return
				}
				outcomes[idx] = s.runOne(ctx, id, base, combos[idx], u)
			}
		}(w)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.rank(outcomes)
	if len(outcomes) > 0 && outcomes[0].Err == nil {
		metrics.BestObjective.WithLabelValues(s.cfg.Objective).Set(outcomes[0].Score)
	}
	return outcomes, nil
}

func (s *Sweeper) runOne(ctx context.Context, workerID int, base engine.RunSpec, params strategy.Params, u domain.Universe) Outcome {
	spec := base
	spec.Params = params
	spec.Account = ""

	metrics.RunsInFlight.Inc()
	start := time.Now()
	res, err := s.runner.Backtest(ctx, spec, u)
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	metrics.RunsInFlight.Dec()

	if err != nil {
		metrics.RunsTotal.WithLabelValues(metrics.StatusFailed).Inc()
		s.log.Warn("sweep run failed",
			zap.Int("worker_id", workerID),
			zap.Any("params", params),
			zap.Error(err),
		)
		return Outcome{Params: params, Err: err}
	}

	status := metrics.StatusOK
	if res.Halted {
		status = metrics.StatusHalted
	}
	metrics.RunsTotal.WithLabelValues(status).Inc()

	score, _ := res.Metrics.Value(s.cfg.Objective)
	return Outcome{Params: params, Result: res, Score: score}
}

// rank orders outcomes best first. Ties keep grid order.
func (s *Sweeper) rank(outcomes []Outcome) {
	ascending := s.cfg.Objective == domain.MetricMaxDrawdownPct
	sort.SliceStable(outcomes, func(i, j int) bool {
		a, b := outcomes[i], outcomes[j]
		if (a.Err == nil) != (b.Err == nil) {
			return a.Err == nil
		}
		if a.Err != nil {
			return false
		}
		// NaN scores rank after every real one.
		if na, nb := math.IsNaN(a.Score), math.IsNaN(b.Score); na || nb {
			return !na && nb
		}
		if ascending {
			return a.Score < b.Score
		}
		return a.Score > b.Score
	})
}
