// Package checkpoint recognizes checkpoint directories inside a run
// directory and decides which of them fall inside the retention window.
package checkpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mattjoyce/ckptkeep/internal/runfs"
)

// DefaultPrefix is the name prefix of checkpoint directories.
const DefaultPrefix = "checkpoint-"

// ErrOrdinalParse reports a checkpoint-shaped name with no usable ordinal.
var ErrOrdinalParse = errors.New("invalid checkpoint ordinal")

// Entry is one recognized checkpoint directory.
type Entry struct {
	Ordinal int
	Name    string
	Path    string
}

// ParseOrdinal extracts the ordinal from name: the decimal field between
// prefix and the next "-". checkpoint-8-final has ordinal 8.
func ParseOrdinal(name, prefix string) (int, error) {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok {
		return 0, fmt.Errorf("%q lacks prefix %q: %w", name, prefix, ErrOrdinalParse)
	}
	field, _, _ := strings.Cut(rest, "-")
	if field == "" || strings.TrimLeft(field, "0123456789") != "" {
		return 0, fmt.Errorf("%q: %w", name, ErrOrdinalParse)
	}
	n, err := strconv.Atoi(field)
	if err != nil {
		return 0, fmt.Errorf("%q: %v: %w", name, err, ErrOrdinalParse)
	}
	return n, nil
}

// Scan lists the immediate subdirectories of runDir whose names start with
// prefix and returns those with a valid ordinal, sorted ascending. Names that
// fail to parse are logged and dropped. Names sharing an ordinal are all
// kept, shortest first, so checkpoint-7 precedes checkpoint-007.
func Scan(fsys runfs.FS, runDir, prefix string, logger *slog.Logger) ([]Entry, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	dirEntries, err := fsys.ReadDir(runDir)
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", runDir, err)
	}

	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() && strings.HasPrefix(de.Name(), prefix) {
			names = append(names, de.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[int]string, len(names))
	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		ordinal, err := ParseOrdinal(name, prefix)
		if err != nil {
			logger.Warn("skipping checkpoint directory", "name", name, "error", err)
			continue
		}
		if first, dup := seen[ordinal]; dup {
			logger.Warn("checkpoint directories share an ordinal", "ordinal", ordinal, "first", first, "name", name)
		} else {
			seen[ordinal] = name
		}
		entries = append(entries, Entry{
			Ordinal: ordinal,
			Name:    name,
			Path:    filepath.Join(runDir, name),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Ordinal != b.Ordinal {
			return a.Ordinal < b.Ordinal
		}
		return len(a.Name) < len(b.Name)
	})
	return entries, nil
}
