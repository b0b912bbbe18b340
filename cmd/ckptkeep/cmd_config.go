package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/ckptkeep/internal/config"
	"github.com/mattjoyce/ckptkeep/internal/doctor"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect, validate and lock the configuration",
	}
	cmd.AddCommand(newConfigCheckCmd(a), newConfigLockCmd(a), newConfigShowCmd(a))
	return cmd
}

func newConfigCheckCmd(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration against this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return exitWith(1, fmt.Errorf("load config: %w", err))
			}

			result := doctor.New(cfg).Validate()
			out := cmd.OutOrStdout()
			if jsonOut {
				s, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
			} else {
				if cfg.SourcePath != "" {
					fmt.Fprintf(out, "Config: %s\n", cfg.SourcePath)
				}
				fmt.Fprint(out, doctor.FormatHuman(result))
			}
			if !result.Valid {
				return exitWith(1, nil)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func newConfigLockCmd(a *app) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Write .checksums for the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.Discover(a.configPath)
			if err != nil {
				return err
			}
			if path == "" {
				return errors.New("no config file found; pass --config")
			}

			rep, err := config.Lock(path, dryRun)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "blake3  %s  %s\n", rep.Hash, rep.ConfigPath)
			if rep.Written {
				fmt.Fprintf(out, "Wrote %s\n", rep.ManifestPath)
			} else {
				fmt.Fprintf(out, "Dry run: %s not written\n", rep.ManifestPath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute hashes without writing .checksums")
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.API.APIKey != "" {
				shown.API.APIKey = "********"
			}
			data, err := yaml.Marshal(&shown)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			out := cmd.OutOrStdout()
			if cfg.SourcePath != "" {
				fmt.Fprintf(out, "# %s\n", cfg.SourcePath)
			} else {
				fmt.Fprintln(out, "# built-in defaults")
			}
			_, err = out.Write(data)
			return err
		},
	}
}
