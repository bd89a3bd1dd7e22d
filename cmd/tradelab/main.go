// Command tradelab backtests trading strategies over stored candles.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tradelab/internal/config"
	"tradelab/internal/store"
	"tradelab/internal/util"
)

const version = "0.1.0"

// app carries state shared by every subcommand once the root command has
// loaded configuration.
type app struct {
	cfgPath  string
	logLevel string

	cfg *config.Config
	log *zap.Logger
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "tradelab",
		Short:         "tradelab - deterministic strategy backtesting",
		Long:          "tradelab replays stored daily candles through trading strategies under a risk policy and reports performance.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	defaultCfg := os.Getenv("TRADELAB_CONFIG")
	root.PersistentFlags().StringVar(&a.cfgPath, "config", defaultCfg, "configuration file path (env TRADELAB_CONFIG)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newSweepCmd(a))
	root.AddCommand(newFetchCmd(a))
	root.AddCommand(newImportCmd(a))
	root.AddCommand(newRunsCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tradelab %s\n", version)
		},
	})
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	logger, err := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	util.SetDefault(logger)

	a.cfg = cfg
	a.log = logger
	return nil
}

func (a *app) candles() *store.ParquetStore {
	return store.NewParquetStore(a.cfg.Storage.DataDir)
}

func (a *app) sqlite() (*store.SQLiteStore, error) {
	db, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", a.cfg.Storage.SQLitePath, err)
	}
	return db, nil
}
