package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tradelab/internal/engine"
	"tradelab/internal/metrics"
	"tradelab/internal/strategy/builtins"
	"tradelab/internal/sweep"
)

// parseGrid reads name=v1,v2,... entries.
func parseGrid(entries []string) (sweep.Grid, error) {
	grid := make(sweep.Grid, len(entries))
	for _, e := range entries {
		name, values, ok := strings.Cut(e, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || values == "" {
			return nil, fmt.Errorf("grid entry %q: want name=v1,v2", e)
		}
		for _, v := range strings.Split(values, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("grid entry %q: %w", e, err)
			}
			grid[name] = append(grid[name], f)
		}
	}
	return grid, nil
}

// serveMetrics exposes /metrics on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
}

func newSweepCmd(a *app) *cobra.Command {
	var (
		flags       runFlags
		gridEntries []string
		workers     int
		objective   string
		metricsAddr string
		top         int
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a grid parameter sweep",
		Long: `Backtest every combination of a parameter grid and rank the results.
Example: tradelab sweep --strategy sma-cross --grid short=5,10,20 --grid long=50,100 --symbols AAPL`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bt := a.cfg.Backtest
			rc, err := flags.apply(&bt, a.cfg.Risk)
			if err != nil {
				return err
			}
			spec, err := buildSpec(bt, rc)
			if err != nil {
				return err
			}

			grid := sweep.Grid(a.cfg.Sweep.Grid)
			if len(gridEntries) > 0 {
				if grid, err = parseGrid(gridEntries); err != nil {
					return err
				}
			}
			scfg := sweep.Config{Workers: a.cfg.Sweep.Workers, Objective: a.cfg.Sweep.Objective}
			if workers > 0 {
				scfg.Workers = workers
			}
			if objective != "" {
				scfg.Objective = objective
			}
			if metricsAddr == "" {
				metricsAddr = a.cfg.Sweep.MetricsAddr
			}

			ctx := cmd.Context()
			if metricsAddr != "" {
				serveMetrics(ctx, metricsAddr, a.log)
			}

			runner := engine.NewRunner(a.candles(), builtins.NewRegistry(), engine.WithRunnerLogger(a.log))
			sw, err := sweep.New(runner, scfg, a.log)
			if err != nil {
				return err
			}
			u, err := runner.Load(ctx, spec)
			if err != nil {
				return err
			}
			outcomes, err := sw.Run(ctx, spec, u, grid)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSweep(outcomes, scfg.Objective, top))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringArrayVar(&gridEntries, "grid", nil, "parameter values name=v1,v2,... (repeatable; replaces sweep.grid)")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent backtests (default sweep.workers)")
	cmd.Flags().StringVar(&objective, "objective", "", "metric to rank by (default sweep.objective)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().IntVar(&top, "top", 10, "rows to print; 0 prints all")
	return cmd
}
