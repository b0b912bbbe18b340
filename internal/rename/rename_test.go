package rename

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ckptkeep/internal/log"
	"github.com/mattjoyce/ckptkeep/internal/runfs"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestFilesRenamesRecursively(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "rank_8_rank_8.safetensors"))
	touch(t, filepath.Join(root, "rank_8_dir", "nested_rank_8.bin"))
	touch(t, filepath.Join(root, "other.txt"))

	res, err := Files(root, "rank_8", "r8", log.Discard())
	require.NoError(t, err)
	assert.Len(t, res.Renamed, 2)
	assert.Empty(t, res.Failed)

	assert.FileExists(t, filepath.Join(root, "r8_r8.safetensors"))
	assert.FileExists(t, filepath.Join(root, "rank_8_dir", "nested_r8.bin"))
	assert.DirExists(t, filepath.Join(root, "rank_8_dir"), "directories keep their names")
	assert.FileExists(t, filepath.Join(root, "other.txt"))
}

func TestFilesNoMatches(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.txt"))

	res, err := Files(root, "zzz", "y", log.Discard())
	require.NoError(t, err)
	assert.Empty(t, res.Renamed)
}

func TestFilesReportsFailuresAndContinues(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	root := t.TempDir()
	locked := filepath.Join(root, "locked")
	touch(t, filepath.Join(locked, "old_a.txt"))
	touch(t, filepath.Join(root, "old_b.txt"))
	require.NoError(t, os.Chmod(locked, 0o555))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	res, err := Files(root, "old", "new", log.Discard())
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, filepath.Join(locked, "old_a.txt"), res.Failed[0].Path)
	assert.FileExists(t, filepath.Join(root, "new_b.txt"))
}

func TestFilesRejectsBadInput(t *testing.T) {
	_, err := Files(filepath.Join(t.TempDir(), "missing"), "a", "b", log.Discard())
	assert.ErrorIs(t, err, runfs.ErrPathNotFound)

	_, err = Files(t.TempDir(), "", "b", log.Discard())
	assert.Error(t, err)
}
