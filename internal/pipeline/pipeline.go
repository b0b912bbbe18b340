// Package pipeline reduces one training run directory to its retained weight
// artifacts and preview images.
//
// A run passes through four stages, strictly in order:
//
//   - prune: delete top-level files that are not previews
//   - delete: remove checkpoint directories older than the retention window
//   - extract: move artifacts out of kept checkpoints, then drop the checkpoint
//   - sweep: remove anything left that is not an artifact or a preview
//
// Failures are per item: a file or directory that cannot be removed or moved
// is logged and recorded in the Result, and the stage moves on. Nothing is
// rolled back.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/ckptkeep/internal/checkpoint"
	"github.com/mattjoyce/ckptkeep/internal/log"
	"github.com/mattjoyce/ckptkeep/internal/runfs"
)

// Runner applies a Policy to run directories.
type Runner struct {
	policy Policy
	fs     runfs.FS
	logger *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithFS swaps the filesystem implementation.
func WithFS(fsys runfs.FS) Option {
	return func(r *Runner) { r.fs = fsys }
}

// WithLogger sets the logger used for stage and item messages.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// New builds a Runner. The policy is validated on every Run.
func New(policy Policy, opts ...Option) *Runner {
	r := &Runner{
		policy: policy,
		fs:     runfs.OS{},
		logger: log.WithComponent("pipeline"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the policy the runner applies.
func (r *Runner) Policy() Policy { return r.policy }

// Run cleans runDir. It returns an error only when the run directory itself
// is unusable or ctx is cancelled; item failures are reported in the Result.
func (r *Runner) Run(ctx context.Context, runDir string) (*Result, error) {
	if err := r.policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	dir, err := runfs.ResolveDir(runDir)
	if err != nil {
		return nil, err
	}

	res := &Result{RunDir: dir, Stage: StageInit}
	logger := r.logger.With("run_dir", dir)

	logger.Info("pruning non-preview files", "stage", "prune")
	if err := r.prune(ctx, logger, res); err != nil {
		return res, err
	}
	res.advance(StagePruned)

	logger.Info("scanning checkpoint directories", "stage", "scan")
	entries, err := checkpoint.Scan(r.fs, dir, r.policy.CheckpointPrefix, logger)
	if err != nil {
		return res, err
	}
	res.Scanned = len(entries)
	res.advance(StageScanned)

	part, err := checkpoint.Select(entries, r.policy.Window)
	if err != nil {
		return res, err
	}
	res.advance(StagePartitioned)
	if part.Empty() {
		logger.Info("no checkpoints found")
	} else {
		res.Cutoff = part.Cutoff
		logger.Info("retention window computed",
			"max_checkpoint", part.Max,
			"window", part.Window,
			"keep_from", part.Cutoff,
			"keep_to", part.Max,
		)
	}

	if err := r.deleteExpired(ctx, logger, part.Delete, res); err != nil {
		return res, err
	}
	res.Kept = len(part.Keep)
	logger.Info("expired checkpoints removed", "stage", "delete", "deleted", res.Deleted, "kept", res.Kept)
	res.advance(StageDeleted)

	if err := r.extract(ctx, logger, part.Keep, res); err != nil {
		return res, err
	}
	logger.Info("artifacts extracted", "stage", "extract", "extracted", res.Extracted)
	res.advance(StageExtracted)

	if err := r.sweep(ctx, logger, part.Delete, res); err != nil {
		return res, err
	}
	res.advance(StageSwept)

	listing, err := runfs.ListNames(r.fs, dir)
	if err != nil {
		return res, err
	}
	res.Listing = listing
	res.advance(StageDone)

	logger.Info("cleanup complete",
		"pruned", res.Pruned,
		"deleted", res.Deleted,
		"extracted", res.Extracted,
		"swept", res.Swept,
		"failures", len(res.Failures),
		"bytes_reclaimed", res.BytesReclaimed,
	)
	return res, nil
}

// sizeOf is best effort; an unreadable tree counts as zero reclaimed bytes.
func (r *Runner) sizeOf(logger *slog.Logger, path string) int64 {
	n, err := r.fs.Size(path)
	if err != nil {
		logger.Debug("size unavailable", "path", path, "error", err)
		return 0
	}
	return n
}
