package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/ckptkeep/internal/batch"
	"github.com/mattjoyce/ckptkeep/internal/history"
	"github.com/mattjoyce/ckptkeep/internal/log"
	"github.com/mattjoyce/ckptkeep/internal/pipeline"
	"github.com/mattjoyce/ckptkeep/internal/report"
	"github.com/mattjoyce/ckptkeep/internal/tui/confirm"
)

func newBatchCmd(a *app) *cobra.Command {
	var flags struct {
		datasetType string
		name        string
		yes         bool
		isolate     bool
		jsonOut     bool
	}

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Clean every run directory of a dataset",
		Long: "batch cleans each subdirectory of <storage.root>/<type>/<name>. Directories\n" +
			"that already hold only weight and preview files are skipped. You are asked\n" +
			"once before anything is deleted.\n\n" +
			"Exit status is 1 when the batch is declined or cancelled, or when directories\n" +
			"were processed and none succeeded. It is 0 when every directory was already\n" +
			"clean or the dataset holds no subdirectories; nothing is reported as an error.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			root := cfg.DatasetRoot(flags.datasetType, flags.name)
			policy := cfg.PipelinePolicy()

			var unit batch.Unit
			if flags.isolate {
				pu, err := batch.NewProcessUnit(a.childArgs()...)
				if err != nil {
					return err
				}
				pu.Stderr = cmd.ErrOrStderr()
				unit = pu
			} else {
				unit = &batch.InProcessUnit{Runner: pipeline.New(policy, pipeline.WithLogger(log.WithComponent("pipeline")))}
			}

			stderr := cmd.ErrOrStderr()
			o := batch.NewOrchestrator(policy, unit, chooseConfirmer(cmd.InOrStdin(), stderr, flags.yes),
				batch.WithLogger(log.WithComponent("batch")),
				batch.WithProgress(func(i, n int, out batch.Outcome) {
					fmt.Fprintf(stderr, "[%d/%d] %s: %s\n", i, n, out.Name, out.Status)
				}),
			)

			sum, runErr := o.Run(cmd.Context(), root)
			if sum == nil {
				return runErr
			}
			if sum.Total > 0 {
				a.record(cmd.Context(), func(ctx context.Context, s *history.Store) (string, error) {
					return s.RecordBatch(ctx, sum)
				})
			}

			p := report.New(cmd.OutOrStdout())
			if flags.jsonOut {
				if err := p.JSON(sum); err != nil {
					return err
				}
			} else {
				p.BatchSummary(sum)
			}

			if errors.Is(runErr, batch.ErrUserCancelled) {
				return exitWith(1, runErr)
			}
			if runErr != nil {
				return runErr
			}
			if code := sum.ExitCode(); code != 0 {
				return exitWith(code, nil)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.datasetType, "type", "", "Dataset type, e.g. common_sense_reasoning (required)")
	f.StringVar(&flags.name, "name", "", "Dataset name; mapped through datasets.<type> when listed (required)")
	f.BoolVarP(&flags.yes, "yes", "y", false, "Do not ask for confirmation")
	f.BoolVar(&flags.isolate, "isolate", false, "Clean each directory in a separate ckptkeep process")
	f.BoolVar(&flags.jsonOut, "json", false, "Print the summary as JSON")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// chooseConfirmer uses the interactive prompt on a terminal and a plain
// line prompt otherwise.
func chooseConfirmer(in io.Reader, out io.Writer, yes bool) batch.Confirmer {
	if yes {
		return batch.AutoConfirm{}
	}
	if f, ok := in.(*os.File); ok && isTerminal(f) {
		return &confirm.Prompt{In: f, Out: out}
	}
	return &batch.LinePrompt{In: in, Out: out}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
