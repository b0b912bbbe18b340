package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/ckptkeep/internal/config"
	"github.com/mattjoyce/ckptkeep/internal/history"
	"github.com/mattjoyce/ckptkeep/internal/log"
	"github.com/mattjoyce/ckptkeep/internal/storage"
)

// app holds the root flags and the lazily loaded config shared by every
// subcommand.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	noHistory  bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "ckptkeep",
		Short: "Keep a bounded window of training checkpoints and flatten their weights",
		Long: "ckptkeep reclaims disk space from training runs: it keeps the most recent\n" +
			"checkpoints of each run, moves their weight files into the run directory\n" +
			"and removes everything else.",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Config file or directory (default: $"+config.EnvConfig+", ~/.config/ckptkeep/config.yaml, ./ckptkeep.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "Override service.log_level (debug, info, warn, error)")
	pf.StringVar(&a.logFormat, "log-format", "", "Override service.log_format (text, json)")
	pf.BoolVar(&a.noHistory, "no-history", false, "Do not record this run in the history ledger")
	_ = pf.MarkHidden("no-history")

	root.AddCommand(
		newCleanCmd(a),
		newBatchCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
		newCollectCmd(a),
		newRenameCmd(a),
		newVersionCmd(),
	)
	return root
}

// load discovers and loads the config once, applies the log flag
// overrides and sets up logging.
func (a *app) load() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.LoadDiscovered(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		cfg.Service.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Service.LogFormat = a.logFormat
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	a.cfg = cfg
	return cfg, nil
}

// childArgs are the root flags a re-executed ckptkeep needs to see the same
// config.
func (a *app) childArgs() []string {
	args := []string{"--no-history"}
	if a.cfg != nil && a.cfg.SourcePath != "" {
		args = append(args, "--config", a.cfg.SourcePath)
	}
	if a.logLevel != "" {
		args = append(args, "--log-level", a.logLevel)
	}
	if a.logFormat != "" {
		args = append(args, "--log-format", a.logFormat)
	}
	return args
}

// openHistory opens the ledger for reading.
func (a *app) openHistory(ctx context.Context) (*history.Store, func(), error) {
	db, err := storage.OpenSQLite(ctx, a.cfg.State.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open history: %w", err)
	}
	return history.New(db), func() { _ = db.Close() }, nil
}

// record writes to the ledger when enabled. A ledger failure is logged and
// never fails the command.
func (a *app) record(ctx context.Context, write func(context.Context, *history.Store) (string, error)) {
	if a.noHistory || !a.cfg.State.HistoryEnabled() {
		return
	}
	logger := log.WithComponent("history")

	// Record even when the command was interrupted.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	store, closeDB, err := a.openHistory(ctx)
	if err != nil {
		logger.Warn("history not recorded", "error", err)
		return
	}
	defer closeDB()

	id, err := write(ctx, store)
	if err != nil {
		logger.Warn("history not recorded", "error", err)
		return
	}
	logger.Debug("history recorded", slog.String("run_id", id))
}
