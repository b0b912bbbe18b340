// Package rename bulk-renames files whose names contain a substring.
package rename

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/ckptkeep/internal/runfs"
)

// Renamed is one file that was renamed.
type Renamed struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Failed is one file that could not be renamed.
type Failed struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Result lists what Files did.
type Result struct {
	Renamed []Renamed `json:"renamed"`
	Failed  []Failed  `json:"failed,omitempty"`
}

// Files walks root and renames every regular file whose name contains
// target, replacing all occurrences with sub. Directories keep their names.
// A failed rename is recorded and the walk continues.
func Files(root, target, sub string, logger *slog.Logger) (*Result, error) {
	if target == "" {
		return nil, errors.New("target string is empty")
	}
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("path %q does not exist: %w", root, runfs.ErrPathNotFound)
		}
		return nil, fmt.Errorf("stat %q: %w", root, err)
	}

	res := &Result{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("walk error", "path", path, "error", err)
			res.Failed = append(res.Failed, Failed{Path: path, Error: err.Error()})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.Contains(d.Name(), target) {
			return nil
		}

		dst := filepath.Join(filepath.Dir(path), strings.ReplaceAll(d.Name(), target, sub))
		if err := os.Rename(path, dst); err != nil {
			logger.Error("rename failed", "path", path, "error", err)
			res.Failed = append(res.Failed, Failed{Path: path, Error: err.Error()})
			return nil
		}
		logger.Info("renamed", "from", path, "to", dst)
		res.Renamed = append(res.Renamed, Renamed{From: path, To: dst})
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("walk %q: %w", root, err)
	}
	return res, nil
}
