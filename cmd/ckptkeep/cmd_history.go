package main

import (
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/ckptkeep/internal/history"
	"github.com/mattjoyce/ckptkeep/internal/report"
	"github.com/mattjoyce/ckptkeep/internal/tui"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit   int
		jsonOut bool
		useTUI  bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded cleanup runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.load(); err != nil {
				return err
			}
			store, closeDB, err := a.openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			if useTUI {
				if !isTerminal(os.Stdout) {
					return errors.New("--tui needs a terminal")
				}
				_, err := tea.NewProgram(tui.NewBrowser(store, limit), tea.WithContext(cmd.Context())).Run()
				return err
			}

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			p := report.New(cmd.OutOrStdout())
			if jsonOut {
				if runs == nil {
					runs = []history.Run{}
				}
				return p.JSON(runs)
			}
			p.RunList(runs)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVarP(&limit, "limit", "n", history.DefaultLimit, "Number of runs to show")
	f.BoolVar(&jsonOut, "json", false, "Print runs as JSON")
	f.BoolVar(&useTUI, "tui", false, "Browse runs interactively")
	cmd.MarkFlagsMutuallyExclusive("json", "tui")

	cmd.AddCommand(newHistoryShowCmd(a))
	return cmd
}

func newHistoryShowCmd(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run with its per-directory outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.load(); err != nil {
				return err
			}
			store, closeDB, err := a.openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			run, err := store.Get(cmd.Context(), args[0])
			if errors.Is(err, history.ErrRunNotFound) {
				return fmt.Errorf("run %q not found", args[0])
			}
			if err != nil {
				return err
			}

			p := report.New(cmd.OutOrStdout())
			if jsonOut {
				return p.JSON(run)
			}
			p.RunDetail(run)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the run as JSON")
	return cmd
}
