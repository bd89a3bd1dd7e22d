package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradelab/internal/config"
	"tradelab/internal/engine"
	"tradelab/internal/httpapi"
	"tradelab/internal/risk"
	"tradelab/internal/strategy"
	"tradelab/internal/strategy/builtins"
)

// serveDefaults is the RunSpec a POST /api/runs request is merged over.
func serveDefaults(bt config.Backtest, rc *risk.Config) engine.RunSpec {
	return engine.RunSpec{
		Strategy:       bt.Strategy.Name,
		Params:         strategy.Params(bt.Strategy.Params),
		Symbols:        bt.Symbols,
		Auxiliary:      bt.Auxiliary,
		InitialCapital: bt.InitialCapital,
		Fees:           bt.Fees,
		Slippage:       bt.Slippage,
		Risk:           rc,
	}
}

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve persisted runs and accept new backtests over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			db, err := a.sqlite()
			if err != nil {
				return err
			}
			defer db.Close()

			candles := a.candles()
			runner := engine.NewRunner(candles, builtins.NewRegistry(),
				engine.WithRunStore(db),
				engine.WithRunnerLogger(a.log),
			)
			api := httpapi.NewServer(db, candles, runner, serveDefaults(a.cfg.Backtest, a.cfg.Risk), a.log)

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           api.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				a.log.Info("http server listening", zap.String("addr", addr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				a.log.Info("shutting down http server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config server.addr)")
	return cmd
}
