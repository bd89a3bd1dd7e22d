package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tradelab/internal/config"
	"tradelab/internal/gather"
)

func newFetchCmd(a *app) *cobra.Command {
	var (
		symbolsFile string
		start, end  string
		workers     int
	)

	cmd := &cobra.Command{
		Use:   "fetch [SYMBOL...]",
		Short: "Download daily candles from Alpaca",
		Long: `Download daily bars from the Alpaca market-data API into the Parquet store.
Example: tradelab fetch AAPL MSFT --start 2020-01-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			symbols := append([]string(nil), args...)
			if symbolsFile != "" {
				more, err := gather.LoadCSVSymbols(symbolsFile)
				if err != nil {
					return err
				}
				symbols = append(symbols, more...)
			}
			if len(symbols) == 0 {
				return fmt.Errorf("no symbols: pass them as arguments or --symbols-file")
			}
			if a.cfg.Alpaca.APIKey == "" || a.cfg.Alpaca.APISecret == "" {
				return fmt.Errorf("alpaca credentials missing: set APCA_API_KEY_ID and APCA_API_SECRET_KEY")
			}

			window, err := fetchWindow(start, end)
			if err != nil {
				return err
			}

			g := gather.NewAlpacaDaily(gather.AlpacaConfig{
				APIKey:          a.cfg.Alpaca.APIKey,
				APISecret:       a.cfg.Alpaca.APISecret,
				DataURL:         a.cfg.Alpaca.DataURL,
				Feed:            a.cfg.Alpaca.Feed,
				BatchSize:       a.cfg.Alpaca.BatchSize,
				MaxWorkers:      workers,
				RateLimitPerMin: a.cfg.Alpaca.RateLimitPerMin,
				ProgressDir:     filepath.Join(a.cfg.Storage.DataDir, ".progress"),
			}, a.candles(), symbols, window, a.log)
			return g.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&symbolsFile, "symbols-file", "", "CSV file whose first column lists symbols")
	cmd.Flags().StringVar(&start, "start", "", "first day YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&end, "end", "", "last day YYYY-MM-DD (default yesterday)")
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent batches")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func fetchWindow(start, end string) (gather.DateRange, error) {
	s, err := time.Parse(config.DateLayout, start)
	if err != nil {
		return gather.DateRange{}, fmt.Errorf("parsing --start: %w", err)
	}
	e := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -1)
	if end != "" {
		if e, err = time.Parse(config.DateLayout, end); err != nil {
			return gather.DateRange{}, fmt.Errorf("parsing --end: %w", err)
		}
	}
	r := gather.DateRange{Start: s, End: e}
	return r, r.Validate()
}

func newImportCmd(a *app) *cobra.Command {
	var symbol string

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import candles from a CSV file",
		Long: `Import candles from a CSV file with a time,open,high,low,close,volume header.
The symbol defaults to the file name without extension.
Example: tradelab import spy.csv --symbol SPY`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if symbol == "" {
				symbol = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			return gather.NewCSVImport(path, symbol, a.candles(), a.log).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol to store the candles under")
	return cmd
}
