package main

import (
	"encoding/json"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func newRunsCmd(a *app) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect persisted backtest runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.sqlite()
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRunList(runs))
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")

	var asJSON bool
	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.sqlite()
			if err != nil {
				return err
			}
			defer db.Close()

			rec, err := db.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
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
	show.Flags().BoolVar(&asJSON, "json", false, "print the run as JSON")

	var browseLimit int
	browse := &cobra.Command{
		Use:   "browse",
		Short: "Browse persisted runs interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.sqlite()
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListRuns(cmd.Context(), browseLimit)
			if err != nil {
				return err
			}
			p := tea.NewProgram(
				newBrowseModel(cmd.Context(), runs, db),
				tea.WithAltScreen(),
				tea.WithMouseCellMotion(),
			)
			_, err = p.Run()
			return err
		},
	}
	browse.Flags().IntVar(&browseLimit, "limit", 200, "maximum runs to load")

	runsCmd.AddCommand(list, show, browse)
	return runsCmd
}
