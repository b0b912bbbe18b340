package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/ckptkeep/internal/api"
	"github.com/mattjoyce/ckptkeep/internal/log"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cleanup history over a read-only HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			if !cfg.API.Enabled {
				return errors.New("API is disabled; set api.enabled: true")
			}
			if listen == "" {
				listen = cfg.API.Listen
			}

			store, closeDB, err := a.openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			srv := api.New(api.Config{Listen: listen, APIKey: cfg.API.APIKey}, store, log.WithComponent("api"))
			if err := srv.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Override api.listen")
	return cmd
}
