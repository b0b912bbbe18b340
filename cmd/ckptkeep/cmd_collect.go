package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/ckptkeep/internal/log"
	"github.com/mattjoyce/ckptkeep/internal/report"
	"github.com/mattjoyce/ckptkeep/internal/train"
)

func newCollectCmd(a *app) *cobra.Command {
	var flags struct {
		datasetType string
		dataset     string
		jsonOut     bool
	}

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Pretrain and finetune every configured model and rank for a dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			folder := cfg.DatasetName(flags.datasetType, flags.dataset)
			plan := train.Plan{
				Dataset:   flags.dataset,
				ConfigDir: filepath.Join(cfg.Collect.ConfigRoot, folder),
				SaveDir:   cfg.DatasetRoot(flags.datasetType, flags.dataset),
				Models:    cfg.Collect.Models,
				Ranks:     cfg.Collect.Ranks,
			}

			launcher := &train.ScriptLauncher{
				Script: cfg.Collect.TrainScript,
				Dir:    plan.ConfigDir,
				Stdout: cmd.ErrOrStderr(),
				Stderr: cmd.ErrOrStderr(),
			}
			rep, err := train.NewCollector(launcher, train.WithLogger(log.WithComponent("collect"))).Run(cmd.Context(), plan)
			if err != nil && rep == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if flags.jsonOut {
				if jerr := report.New(out).JSON(rep); jerr != nil {
					return jerr
				}
			} else {
				fmt.Fprintf(out, "Dataset     : %s (%s)\n", rep.Dataset, rep.ConfigDir)
				fmt.Fprintf(out, "Pretrained  : %d\n", rep.Pretrained)
				fmt.Fprintf(out, "Resumed     : %d\n", rep.Resumed)
				fmt.Fprintf(out, "Finetuned   : %d\n", rep.Finetuned)
				fmt.Fprintf(out, "Removed     : %d pretrain director%s\n", len(rep.PretrainRemoved), plural(len(rep.PretrainRemoved)))
				for _, f := range rep.Failures {
					if f.Rank > 0 {
						fmt.Fprintf(out, "  FAILED %s rank %d [%s]: %s\n", f.Model, f.Rank, f.Phase, f.Error)
					} else {
						fmt.Fprintf(out, "  FAILED %s [%s]: %s\n", f.Model, f.Phase, f.Error)
					}
				}
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.datasetType, "type", "", "Dataset type, e.g. common_sense_reasoning (required)")
	f.StringVar(&flags.dataset, "dataset", "", "Dataset key, e.g. arcc (required)")
	f.BoolVar(&flags.jsonOut, "json", false, "Print the report as JSON")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
