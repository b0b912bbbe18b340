// Package runfstest provides an FS that fails chosen operations on chosen
// paths, for exercising per-item failure isolation.
package runfstest

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/mattjoyce/ckptkeep/internal/runfs"
)

// ErrInjected is the cause carried by every injected failure.
var ErrInjected = errors.New("injected failure")

// FaultFS wraps another FS and fails operations registered with Fail.
type FaultFS struct {
	Base runfs.FS

	mu       sync.Mutex
	failures map[string]map[string]bool // op -> cleaned path -> fail
	calls    []Call
}

// Call records one mutating operation attempted through the FS.
type Call struct {
	Op   string
	Path string
}

var _ runfs.FS = (*FaultFS)(nil)

// New wraps runfs.OS.
func New() *FaultFS {
	return &FaultFS{Base: runfs.OS{}, failures: make(map[string]map[string]bool)}
}

// Fail makes op ("remove", "remove-all", "move", "read-dir") fail for path.
func (f *FaultFS) Fail(op, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[op] == nil {
		f.failures[op] = make(map[string]bool)
	}
	f.failures[op][filepath.Clean(path)] = true
}

// Calls returns the mutating operations attempted so far, in order.
func (f *FaultFS) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Attempted reports whether op was attempted on path.
func (f *FaultFS) Attempted(op, path string) bool {
	for _, c := range f.Calls() {
		if c.Op == op && c.Path == filepath.Clean(path) {
			return true
		}
	}
	return false
}

func (f *FaultFS) check(op, path string, record bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clean := filepath.Clean(path)
	if record {
		f.calls = append(f.calls, Call{Op: op, Path: clean})
	}
	if f.failures[op][clean] {
		return &runfs.OpError{Op: op, Path: path, Err: ErrInjected}
	}
	return nil
}

func (f *FaultFS) ReadDir(dir string) ([]fs.DirEntry, error) {
	if err := f.check("read-dir", dir, false); err != nil {
		return nil, err
	}
	return f.Base.ReadDir(dir)
}

func (f *FaultFS) Remove(path string) error {
	if err := f.check("remove", path, true); err != nil {
		return err
	}
	return f.Base.Remove(path)
}

func (f *FaultFS) RemoveAll(path string) error {
	if err := f.check("remove-all", path, true); err != nil {
		return err
	}
	return f.Base.RemoveAll(path)
}

func (f *FaultFS) Move(src, dst string) error {
	if err := f.check("move", src, true); err != nil {
		return err
	}
	return f.Base.Move(src, dst)
}

func (f *FaultFS) Size(path string) (int64, error) {
	return f.Base.Size(path)
}
