package runfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
)

var (
	// ErrPathNotFound reports a run or dataset path that does not exist.
	ErrPathNotFound = errors.New("path not found")
	// ErrNotADirectory reports a path that exists but is not a directory.
	ErrNotADirectory = errors.New("not a directory")
)

// FS is the set of filesystem operations the cleanup stages perform. The
// pipeline only touches disk through it so item failures can be simulated.
type FS interface {
	ReadDir(dir string) ([]fs.DirEntry, error)
	Remove(path string) error
	RemoveAll(path string) error
	Move(src, dst string) error
	Size(path string) (int64, error)
}

// OpError is a failed delete or move of a single item.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// OS is the local-disk FS.
type OS struct{}

var _ FS = OS{}

func (OS) ReadDir(dir string) ([]fs.DirEntry, error) {
	return os.ReadDir(dir)
}

func (OS) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return &OpError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

func (OS) RemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return &OpError{Op: "remove-all", Path: path, Err: err}
	}
	return nil
}

// Move renames src to dst, falling back to copy+remove when the two paths
// sit on different filesystems. An existing dst is never replaced; the error
// then wraps fs.ErrExist.
func (OS) Move(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return &OpError{Op: "move", Path: src, Err: fmt.Errorf("%s: %w", dst, fs.ErrExist)}
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return &OpError{Op: "move", Path: src, Err: err}
	}
	if err := copyFile(src, dst); err != nil {
		_ = os.Remove(dst)
		return &OpError{Op: "move", Path: src, Err: err}
	}
	if err := os.Remove(src); err != nil {
		return &OpError{Op: "move", Path: src, Err: fmt.Errorf("remove source after copy: %w", err)}
	}
	return nil
}

// Size returns the total bytes of regular files under path (or of path
// itself when it is a file).
func (OS) Size(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("size %s: %w", path, err)
	}
	return total, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy data: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync destination: %w", err)
	}
	return out.Close()
}

// ResolveDir cleans path, makes it absolute and checks it is an existing
// directory.
func ResolveDir(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("directory path is empty")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("directory %q does not exist: %w", abs, ErrPathNotFound)
		}
		return "", fmt.Errorf("stat %q: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%q is not a directory: %w", abs, ErrNotADirectory)
	}
	return abs, nil
}

// ListNames returns the sorted names of the immediate children of dir.
func ListNames(fsys FS, dir string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	// os.ReadDir already sorts; fakes may not.
	slices.Sort(names)
	return names, nil
}
