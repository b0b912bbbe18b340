package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/mattjoyce/ckptkeep/internal/checkpoint"
)

// prune removes every top-level file that is not a preview. Directories are
// left for the later stages.
func (r *Runner) prune(ctx context.Context, logger *slog.Logger, res *Result) error {
	entries, err := r.fs.ReadDir(res.RunDir)
	if err != nil {
		return fmt.Errorf("prune %q: %w", res.RunDir, err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || r.policy.IsPreview(e.Name()) {
			continue
		}
		path := filepath.Join(res.RunDir, e.Name())
		size := r.sizeOf(logger, path)
		if err := r.fs.Remove(path); err != nil {
			logger.Error("failed to delete file", "stage", "prune", "path", path, "error", err)
			res.fail(StagePruned, path, err)
			continue
		}
		res.Pruned++
		res.BytesReclaimed += size
		logger.Debug("deleted file", "stage", "prune", "path", path)
	}
	return nil
}

// deleteExpired removes each checkpoint below the retention cutoff. A failed
// removal never stops the next one.
func (r *Runner) deleteExpired(ctx context.Context, logger *slog.Logger, expired []checkpoint.Entry, res *Result) error {
	for _, e := range expired {
		if err := ctx.Err(); err != nil {
			return err
		}
		size := r.sizeOf(logger, e.Path)
		if err := r.fs.RemoveAll(e.Path); err != nil {
			logger.Error("failed to delete checkpoint", "stage", "delete", "checkpoint", e.Name, "error", err)
			res.fail(StageDeleted, e.Path, err)
			continue
		}
		res.Deleted++
		res.BytesReclaimed += size
		logger.Debug("deleted checkpoint", "stage", "delete", "checkpoint", e.Name)
	}
	return nil
}

// extract flattens the artifacts of each kept checkpoint into the run root,
// then removes the checkpoint directory according to the failure policy.
func (r *Runner) extract(ctx context.Context, logger *slog.Logger, kept []checkpoint.Entry, res *Result) error {
	for _, e := range kept {
		if err := ctx.Err(); err != nil {
			return err
		}
		failed := r.extractOne(ctx, logger, e, res)
		if err := ctx.Err(); err != nil {
			return err
		}

		if len(failed) > 0 && r.policy.ExtractFailure == FailureRetain {
			logger.Warn("keeping checkpoint with unmoved artifacts", "stage", "extract",
				"checkpoint", e.Name, "unmoved", len(failed))
			res.Retained = append(res.Retained, e.Path)
			continue
		}

		size := r.sizeOf(logger, e.Path)
		if err := r.fs.RemoveAll(e.Path); err != nil {
			logger.Error("failed to delete checkpoint", "stage", "extract", "checkpoint", e.Name, "error", err)
			res.fail(StageExtracted, e.Path, err)
			continue
		}
		res.BytesReclaimed += size
		for _, lost := range failed {
			logger.Error("artifact lost with its checkpoint", "stage", "extract", "path", lost)
			res.Lost = append(res.Lost, lost)
		}
		logger.Debug("deleted checkpoint", "stage", "extract", "checkpoint", e.Name)
	}
	return nil
}

// extractOne moves the artifacts of one checkpoint and returns the source
// paths that could not be moved. When the flattened name is already taken,
// typically by a checkpoint sharing the ordinal, the artifact is named after
// the full checkpoint directory instead.
func (r *Runner) extractOne(ctx context.Context, logger *slog.Logger, e checkpoint.Entry, res *Result) []string {
	entries, err := r.fs.ReadDir(e.Path)
	if err != nil {
		logger.Error("failed to list checkpoint", "stage", "extract", "checkpoint", e.Name, "error", err)
		res.fail(StageExtracted, e.Path, err)
		return []string{e.Path}
	}

	var failed []string
	for _, f := range entries {
		if ctx.Err() != nil {
			return failed
		}
		if f.IsDir() || !r.policy.IsArtifact(f.Name()) {
			continue
		}
		src := filepath.Join(e.Path, f.Name())
		dst := filepath.Join(res.RunDir, r.policy.ArtifactName(e.Ordinal, f.Name()))
		err := r.fs.Move(src, dst)
		if alt := filepath.Join(res.RunDir, e.Name+"_"+f.Name()); errors.Is(err, fs.ErrExist) && alt != dst {
			logger.Warn("artifact name taken, using checkpoint name", "stage", "extract", "taken", dst, "to", alt)
			dst = alt
			err = r.fs.Move(src, dst)
		}
		if err != nil {
			logger.Error("failed to move artifact", "stage", "extract", "from", src, "to", dst, "error", err)
			res.fail(StageExtracted, src, err)
			failed = append(failed, src)
			continue
		}
		res.Extracted++
		logger.Debug("moved artifact", "stage", "extract", "from", src, "to", dst)
	}
	return failed
}

// sweep enforces the terminal layout: only artifacts and previews remain,
// apart from checkpoints retained by the failure policy. Artifacts found in
// any other directory, expired checkpoints aside, are either retained with
// their directory or reported lost, following the failure policy.
func (r *Runner) sweep(ctx context.Context, logger *slog.Logger, expired []checkpoint.Entry, res *Result) error {
	entries, err := r.fs.ReadDir(res.RunDir)
	if err != nil {
		return fmt.Errorf("sweep %q: %w", res.RunDir, err)
	}
	retained := make(map[string]bool, len(res.Retained))
	for _, p := range res.Retained {
		retained[p] = true
	}
	discarded := make(map[string]bool, len(expired))
	for _, e := range expired {
		discarded[e.Path] = true
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(res.RunDir, e.Name())
		switch {
		case e.IsDir():
			if retained[path] {
				continue
			}
			var artifacts []string
			if !discarded[path] {
				artifacts = r.artifactsUnder(logger, path)
			}
			if len(artifacts) > 0 && r.policy.ExtractFailure == FailureRetain {
				logger.Warn("keeping directory with artifacts", "stage", "sweep",
					"path", path, "artifacts", len(artifacts))
				res.Retained = append(res.Retained, path)
				continue
			}
			size := r.sizeOf(logger, path)
			if err := r.fs.RemoveAll(path); err != nil {
				logger.Error("failed to delete directory", "stage", "sweep", "path", path, "error", err)
				res.fail(StageSwept, path, err)
				continue
			}
			res.Swept++
			res.BytesReclaimed += size
			for _, lost := range artifacts {
				logger.Error("artifact lost with swept directory", "stage", "sweep", "path", lost)
				res.Lost = append(res.Lost, lost)
			}
			logger.Debug("deleted directory", "stage", "sweep", "path", path)
		case !r.policy.IsTerminal(e.Name()):
			size := r.sizeOf(logger, path)
			if err := r.fs.Remove(path); err != nil {
				logger.Error("failed to delete file", "stage", "sweep", "path", path, "error", err)
				res.fail(StageSwept, path, err)
				continue
			}
			res.Swept++
			res.BytesReclaimed += size
			logger.Debug("deleted file", "stage", "sweep", "path", path)
		}
	}
	return nil
}

// artifactsUnder walks dir and returns every artifact file beneath it.
// Subtrees that cannot be listed are logged and skipped.
func (r *Runner) artifactsUnder(logger *slog.Logger, dir string) []string {
	entries, err := r.fs.ReadDir(dir)
	if err != nil {
		logger.Warn("failed to list directory", "stage", "sweep", "path", dir, "error", err)
		return nil
	}
	var found []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		switch {
		case e.IsDir():
			found = append(found, r.artifactsUnder(logger, path)...)
		case r.policy.IsArtifact(e.Name()):
			found = append(found, path)
		}
	}
	return found
}
