package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/ckptkeep/internal/log"
	"github.com/mattjoyce/ckptkeep/internal/rename"
	"github.com/mattjoyce/ckptkeep/internal/report"
)

func newRenameCmd(a *app) *cobra.Command {
	var flags struct {
		path    string
		target  string
		sub     string
		jsonOut bool
	}

	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Replace a substring in the names of all files under a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.load(); err != nil {
				return err
			}
			res, err := rename.Files(flags.path, flags.target, flags.sub, log.WithComponent("rename"))
			if err != nil && res == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if flags.jsonOut {
				if jerr := report.New(out).JSON(res); jerr != nil {
					return jerr
				}
				return err
			}
			for _, r := range res.Renamed {
				fmt.Fprintf(out, "rename: %s -> %s\n", r.From, r.To)
			}
			for _, f := range res.Failed {
				fmt.Fprintf(out, "rename failed: %s, error: %s\n", f.Path, f.Error)
			}
			fmt.Fprintf(out, "%d renamed, %d failed\n", len(res.Renamed), len(res.Failed))
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.path, "path", "", "Directory to walk (required)")
	f.StringVar(&flags.target, "target", "", "Substring to replace (required)")
	f.StringVar(&flags.sub, "sub", "", "Replacement")
	f.BoolVar(&flags.jsonOut, "json", false, "Print the result as JSON")
	_ = cmd.MarkFlagRequired("path")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
