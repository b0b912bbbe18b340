package pipeline

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mattjoyce/ckptkeep/internal/checkpoint"
	"github.com/mattjoyce/ckptkeep/internal/runfs"
)

// FailurePolicy decides what happens to a kept checkpoint directory when one
// of its artifacts could not be moved out.
type FailurePolicy string

const (
	// FailureRemove removes the checkpoint directory regardless. Artifacts
	// whose move failed are lost.
	FailureRemove FailurePolicy = "remove"
	// FailureRetain leaves the directory in place for a later run.
	FailureRetain FailurePolicy = "retain"
)

// Policy is the fixed cleanup policy applied to every run directory.
type Policy struct {
	Window           int
	CheckpointPrefix string
	ArtifactExt      string
	PreviewExts      []string
	ExtractFailure   FailurePolicy
}

// DefaultPolicy keeps the last 100 checkpoints, extracts .safetensors and
// preserves .png previews.
func DefaultPolicy() Policy {
	return Policy{
		Window:           checkpoint.DefaultWindow,
		CheckpointPrefix: checkpoint.DefaultPrefix,
		ArtifactExt:      ".safetensors",
		PreviewExts:      []string{".png"},
		ExtractFailure:   FailureRemove,
	}
}

// Validate reports the first inconsistency in p.
func (p Policy) Validate() error {
	if p.Window < 1 {
		return fmt.Errorf("window must be at least 1, got %d", p.Window)
	}
	if strings.TrimSpace(p.CheckpointPrefix) == "" {
		return fmt.Errorf("checkpoint prefix is empty")
	}
	if !strings.HasPrefix(p.ArtifactExt, ".") || len(p.ArtifactExt) < 2 {
		return fmt.Errorf("artifact extension %q must start with a dot", p.ArtifactExt)
	}
	if len(p.PreviewExts) == 0 {
		return fmt.Errorf("at least one preview extension is required")
	}
	for _, ext := range p.PreviewExts {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("preview extension %q must start with a dot", ext)
		}
		if ext == p.ArtifactExt {
			return fmt.Errorf("preview extension %q collides with the artifact extension", ext)
		}
	}
	switch p.ExtractFailure {
	case FailureRemove, FailureRetain:
	default:
		return fmt.Errorf("extract failure policy must be %q or %q, got %q", FailureRemove, FailureRetain, p.ExtractFailure)
	}
	return nil
}

// IsPreview reports whether name carries a preview extension.
func (p Policy) IsPreview(name string) bool {
	return slices.Contains(p.PreviewExts, filepath.Ext(name))
}

// IsArtifact reports whether name carries the weight-artifact extension.
func (p Policy) IsArtifact(name string) bool {
	return filepath.Ext(name) == p.ArtifactExt
}

// IsTerminal reports whether name may remain at the top of a cleaned run
// directory.
func (p Policy) IsTerminal(name string) bool {
	return p.IsArtifact(name) || p.IsPreview(name)
}

// ArtifactName is the collision-free name an artifact gets in the run root:
// checkpoint-<ordinal>_<filename> under the default prefix.
func (p Policy) ArtifactName(ordinal int, filename string) string {
	return fmt.Sprintf("%s%d_%s", p.CheckpointPrefix, ordinal, filename)
}

// AlreadyClean reports whether dir already satisfies the terminal layout:
// at least one file, every file a preview or artifact, no subdirectories.
func (p Policy) AlreadyClean(fsys runfs.FS, dir string) (bool, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("read %q: %w", dir, err)
	}
	files := 0
	for _, e := range entries {
		if e.IsDir() {
			return false, nil
		}
		if !p.IsTerminal(e.Name()) {
			return false, nil
		}
		files++
	}
	return files > 0, nil
}
