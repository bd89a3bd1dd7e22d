package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tradelab/internal/config"
	"tradelab/internal/engine"
	"tradelab/internal/risk"
	"tradelab/internal/store"
	"tradelab/internal/strategy"
	"tradelab/internal/strategy/builtins"
)

// runFlags override the backtest section of the configuration.
type runFlags struct {
	strategy  string
	params    map[string]string
	symbols   []string
	auxiliary []string
	start     string
	end       string
	capital   float64
	account   string
	persist   bool
	noRisk    bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.strategy, "strategy", "", "registered strategy name")
	fs.StringToStringVar(&f.params, "param", nil, "strategy parameter name=value (repeatable)")
	fs.StringSliceVar(&f.symbols, "symbols", nil, "symbols to trade")
	fs.StringSliceVar(&f.auxiliary, "aux", nil, "auxiliary symbols for the correlation guard")
	fs.StringVar(&f.start, "start", "", "window start YYYY-MM-DD")
	fs.StringVar(&f.end, "end", "", "window end YYYY-MM-DD (inclusive)")
	fs.Float64Var(&f.capital, "capital", 0, "initial capital")
	fs.StringVar(&f.account, "account", "", "journal the ledger to SQLite under this account")
	fs.BoolVar(&f.persist, "persist", false, "save the run to the run store")
	fs.BoolVar(&f.noRisk, "no-risk", false, "ignore the risk section and run in simple mode")
}

// apply merges the flags into bt and returns the risk policy to use.
func (f *runFlags) apply(bt *config.Backtest, rc *risk.Config) (*risk.Config, error) {
	if f.strategy != "" {
		bt.Strategy.Name = f.strategy
		bt.Strategy.Params = nil
	}
	if len(f.params) > 0 {
		params, err := parseParams(f.params)
		if err != nil {
			return nil, err
		}
		merged := make(map[string]float64, len(bt.Strategy.Params)+len(params))
		for k, v := range bt.Strategy.Params {
			merged[k] = v
		}
		for k, v := range params {
			merged[k] = v
		}
		bt.Strategy.Params = merged
	}
	if len(f.symbols) > 0 {
		bt.Symbols = f.symbols
	}
	if len(f.auxiliary) > 0 {
		bt.Auxiliary = f.auxiliary
	}
	if f.start != "" {
		bt.Start = f.start
	}
	if f.end != "" {
		bt.End = f.end
	}
	if f.capital > 0 {
		bt.InitialCapital = f.capital
	}
	if f.account != "" {
		bt.Account = f.account
	}
	if f.persist {
		bt.Persist = true
	}
	if f.noRisk {
		return nil, nil
	}
	return rc, nil
}

func parseParams(raw map[string]string) (strategy.Params, error) {
	params := make(strategy.Params, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("param %s=%q: %w", k, v, err)
		}
		params[k] = f
	}
	return params, nil
}

// buildSpec turns a resolved backtest section into a RunSpec.
func buildSpec(bt config.Backtest, rc *risk.Config) (engine.RunSpec, error) {
	start, end, err := bt.Window()
	if err != nil {
		return engine.RunSpec{}, err
	}
	if len(bt.Symbols) == 0 {
		return engine.RunSpec{}, fmt.Errorf("no symbols: set backtest.symbols or --symbols")
	}
	return engine.RunSpec{
		Strategy:       bt.Strategy.Name,
		Params:         strategy.Params(bt.Strategy.Params),
		Symbols:        bt.Symbols,
		Auxiliary:      bt.Auxiliary,
		Start:          start,
		End:            end,
		InitialCapital: bt.InitialCapital,
		Fees:           bt.Fees,
		Slippage:       bt.Slippage,
		Risk:           rc,
		Account:        bt.Account,
	}, nil
}

func newRunCmd(a *app) *cobra.Command {
	var (
		flags     runFlags
		exportDir string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single backtest",
		Long: `Run one backtest over candles in the Parquet store.
Example: tradelab run --strategy sma-cross --param short=10 --param long=30 --symbols AAPL --start 2020-01-01`,
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

			opts := []engine.RunnerOption{engine.WithRunnerLogger(a.log)}
			if bt.Persist || bt.Account != "" {
				db, err := a.sqlite()
				if err != nil {
					return err
				}
				defer db.Close()
				if bt.Persist {
					opts = append(opts, engine.WithRunStore(db))
				}
				opts = append(opts, engine.WithJournal(db))
			}

			runner := engine.NewRunner(a.candles(), builtins.NewRegistry(), opts...)
			rec, err := runner.Run(cmd.Context(), spec)
			if err != nil {
				return err
			}

			if exportDir != "" {
				id := rec.ID
				if id == "" {
					id = fmt.Sprintf("%s-%d", spec.Strategy, rec.Result.EquityCurve[0].Timestamp.Unix())
				}
				out, err := store.ExportResult(exportDir, id, rec.Result)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render("exported to "+out))
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRun(rec))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&exportDir, "export", "", "write trades and equity curve as Parquet under this directory")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run as JSON")
	return cmd
}
