package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattjoyce/ckptkeep/internal/log"
	"github.com/mattjoyce/ckptkeep/internal/runfs"
)

// Phase names one step of a model/rank job.
type Phase string

const (
	PhaseConfig    Phase = "config"
	PhasePretrain  Phase = "pretrain"
	PhaseSaveSteps Phase = "save_steps"
	PhaseFinetune  Phase = "finetune"
	PhaseCleanup   Phase = "cleanup"
)

// Failure is one model/rank step that did not complete. Rank is zero for
// model-level failures.
type Failure struct {
	Model string `json:"model"`
	Rank  int    `json:"rank,omitempty"`
	Phase Phase  `json:"phase"`
	Error string `json:"error"`
}

// Report summarizes a collection run.
type Report struct {
	Dataset         string    `json:"dataset"`
	ConfigDir       string    `json:"config_dir"`
	SaveDir         string    `json:"save_dir"`
	Pretrained      int       `json:"pretrained"`
	Resumed         int       `json:"resumed"`
	Finetuned       int       `json:"finetuned"`
	PretrainRemoved []string  `json:"pretrain_removed,omitempty"`
	Failures        []Failure `json:"failures,omitempty"`
}

func (r *Report) fail(model string, rank int, phase Phase, err error) {
	r.Failures = append(r.Failures, Failure{Model: model, Rank: rank, Phase: phase, Error: err.Error()})
}

// Plan is the fixed input of a collection run.
type Plan struct {
	// Dataset is the short key used in config file names, e.g. arcc.
	Dataset string
	// ConfigDir holds <model>_<dataset>_{pretrain,finetune}.yaml.
	ConfigDir string
	// SaveDir is scanned for *pretrain directories after each model.
	SaveDir string
	Models  []string
	Ranks   []int
}

// Collector runs every model × rank training job for one dataset.
type Collector struct {
	launcher Launcher
	fs       runfs.FS
	logger   *slog.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithFS replaces the filesystem used for pretrain cleanup.
func WithFS(fsys runfs.FS) Option {
	return func(c *Collector) { c.fs = fsys }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

func NewCollector(launcher Launcher, opts ...Option) *Collector {
	c := &Collector{
		launcher: launcher,
		fs:       runfs.OS{},
		logger:   log.WithComponent("collect"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run processes each model in order. A failing model or rank is recorded
// and the next one attempted; only an unusable config directory or a
// cancelled context stops the run.
func (c *Collector) Run(ctx context.Context, plan Plan) (*Report, error) {
	configDir, err := runfs.ResolveDir(plan.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("dataset config folder: %w", err)
	}
	rep := &Report{Dataset: plan.Dataset, ConfigDir: configDir, SaveDir: plan.SaveDir}

	c.logger.Info("starting collection", "dataset", plan.Dataset, "models", plan.Models, "ranks", plan.Ranks)

	for _, model := range plan.Models {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := c.runModel(ctx, plan, configDir, model, rep); err != nil {
			return rep, err
		}
		c.cleanupPretrain(plan.SaveDir, model, rep)
	}

	c.logger.Info("collection complete",
		"dataset", plan.Dataset,
		"pretrained", rep.Pretrained,
		"resumed", rep.Resumed,
		"finetuned", rep.Finetuned,
		"failures", len(rep.Failures),
	)
	return rep, nil
}

// runModel returns an error only when ctx is done.
func (c *Collector) runModel(ctx context.Context, plan Plan, configDir, model string, rep *Report) error {
	logger := c.logger.With("model", model)

	pretrainConfig := fmt.Sprintf("%s_%s_pretrain.yaml", model, plan.Dataset)
	finetuneConfig := fmt.Sprintf("%s_%s_finetune.yaml", model, plan.Dataset)
	for _, name := range []string{pretrainConfig, finetuneConfig} {
		if _, err := os.Stat(filepath.Join(configDir, name)); err != nil {
			logger.Error("config file not found; skipping model", "config", name)
			rep.fail(model, 0, PhaseConfig, fmt.Errorf("config file not found: %s", name))
			return nil
		}
	}

	finetune, err := ReadTrainingConfig(filepath.Join(configDir, finetuneConfig))
	if err != nil {
		logger.Error("read finetune config; skipping model", "error", err)
		rep.fail(model, 0, PhaseConfig, err)
		return nil
	}
	baseResume, err := finetune.ResumePath()
	if err != nil {
		logger.Info("no resume_from_checkpoint; every rank pretrains")
		baseResume = ""
	}

	for _, rank := range plan.Ranks {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.runRank(ctx, configDir, model, rank, pretrainConfig, finetuneConfig, baseResume, rep)
	}
	logger.Info("completed all ranks")
	return nil
}

// runRank records any failure against this rank only. That includes a
// trainer state that cannot be rewritten, which skips the finetune.
func (c *Collector) runRank(ctx context.Context, configDir, model string, rank int, pretrainConfig, finetuneConfig, baseResume string, rep *Report) {
	logger := c.logger.With("model", model, "rank", rank)

	resume := ReplaceRank(baseResume, rank)
	if Resumable(resume) && !filepath.IsAbs(resume) {
		resume = filepath.Join(configDir, resume)
	}

	if Resumable(resume) && isDir(resume) {
		logger.Info("resume checkpoint exists; skipping pretrain", "resume", resume)
		rep.Resumed++
	} else {
		logger.Info("starting pretrain", "config", pretrainConfig, "resume", resume)
		if err := c.launcher.Launch(ctx, pretrainConfig, rank); err != nil {
			logger.Error("pretrain failed", "error", err)
			rep.fail(model, rank, PhasePretrain, err)
			return
		}
		rep.Pretrained++
	}

	if Resumable(resume) {
		statePath := filepath.Join(resume, "trainer_state.json")
		switch err := SetSaveSteps(statePath, 1); {
		case err == nil:
			logger.Info("set save_steps", "path", statePath)
		case errors.Is(err, runfs.ErrPathNotFound):
			logger.Warn("trainer state not found", "path", statePath)
		default:
			logger.Error("update trainer state failed; skipping finetune", "error", err)
			rep.fail(model, rank, PhaseSaveSteps, err)
			return
		}
	}

	logger.Info("starting finetune", "config", finetuneConfig)
	if err := c.launcher.Launch(ctx, finetuneConfig, rank); err != nil {
		logger.Error("finetune failed", "error", err)
		rep.fail(model, rank, PhaseFinetune, err)
		return
	}
	rep.Finetuned++
}

// cleanupPretrain removes <saveDir>/*pretrain directories.
func (c *Collector) cleanupPretrain(saveDir, model string, rep *Report) {
	logger := c.logger.With("save_dir", saveDir)
	if !isDir(saveDir) {
		logger.Warn("save directory does not exist")
		return
	}

	matches, err := filepath.Glob(filepath.Join(saveDir, "*pretrain"))
	if err != nil {
		logger.Error("glob pretrain directories", "error", err)
		return
	}
	if len(matches) == 0 {
		logger.Debug("no pretrain directories to remove")
		return
	}
	for _, dir := range matches {
		if err := c.fs.RemoveAll(dir); err != nil {
			logger.Error("remove pretrain directory failed", "path", dir, "error", err)
			rep.fail(model, 0, PhaseCleanup, err)
			continue
		}
		logger.Info("removed pretrain directory", "path", dir)
		rep.PretrainRemoved = append(rep.PretrainRemoved, dir)
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
