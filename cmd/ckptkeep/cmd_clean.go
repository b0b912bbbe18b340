package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/ckptkeep/internal/history"
	"github.com/mattjoyce/ckptkeep/internal/log"
	"github.com/mattjoyce/ckptkeep/internal/pipeline"
	"github.com/mattjoyce/ckptkeep/internal/report"
)

func newCleanCmd(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "clean <run-dir>",
		Short: "Run the retention and extraction pipeline on one run directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}

			runner := pipeline.New(cfg.PipelinePolicy(), pipeline.WithLogger(log.WithComponent("pipeline")))
			started := time.Now()
			res, runErr := runner.Run(cmd.Context(), args[0])

			a.record(cmd.Context(), func(ctx context.Context, s *history.Store) (string, error) {
				return s.RecordClean(ctx, args[0], started, res, runErr)
			})
			if runErr != nil {
				return runErr
			}

			p := report.New(cmd.OutOrStdout())
			if jsonOut {
				return p.JSON(res)
			}
			p.CleanResult(res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}
