package batch

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ckptkeep/internal/log"
	"github.com/mattjoyce/ckptkeep/internal/pipeline"
)

func TestInProcessUnitReportsPipelineError(t *testing.T) {
	runner := pipeline.New(pipeline.DefaultPolicy(), pipeline.WithLogger(log.Discard()))
	u := &InProcessUnit{Runner: runner}

	out := u.Clean(context.Background(), filepath.Join(t.TempDir(), "gone"))
	assert.Equal(t, StatusFailed, out.Status)
	assert.True(t, strings.HasPrefix(out.Reason, "pipeline failed: "), out.Reason)
}

func TestInProcessUnitRecoversPanic(t *testing.T) {
	u := &InProcessUnit{} // nil runner panics on use

	out := u.Clean(context.Background(), t.TempDir())
	assert.Equal(t, StatusFailed, out.Status)
	assert.True(t, strings.HasPrefix(out.Reason, "unexpected error: "), out.Reason)
}

func TestInProcessUnitSucceeds(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "checkpoint-3"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkpoint-3", "w.safetensors"), []byte("w"), 0o644))

	runner := pipeline.New(pipeline.DefaultPolicy(), pipeline.WithLogger(log.Discard()))
	out := (&InProcessUnit{Runner: runner}).Clean(context.Background(), dir)

	assert.Equal(t, StatusSucceeded, out.Status)
	require.NotNil(t, out.Result)
	assert.Equal(t, []string{"checkpoint-3_w.safetensors"}, out.Result.Listing)
}

func shUnit(script string) *ProcessUnit {
	// sh -c <script> sh clean --json <dir>: the trailing words become $1..$3.
	return &ProcessUnit{Executable: "/bin/sh", Args: []string{"-c", script, "sh"}, Stderr: io.Discard}
}

func TestProcessUnitExitCode(t *testing.T) {
	out := shUnit("exit 3").Clean(context.Background(), t.TempDir())
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, "exit code: 3", out.Reason)
}

func TestProcessUnitStartFailure(t *testing.T) {
	u := &ProcessUnit{Executable: filepath.Join(t.TempDir(), "missing-binary"), Stderr: io.Discard}
	out := u.Clean(context.Background(), t.TempDir())
	assert.Equal(t, StatusFailed, out.Status)
	assert.True(t, strings.HasPrefix(out.Reason, "unexpected error: "), out.Reason)
}

func TestProcessUnitDecodesResult(t *testing.T) {
	out := shUnit(`test "$1" = clean && test "$2" = --json && printf '{"run_dir":"%s","extracted":2}' "$3"`).
		Clean(context.Background(), "/data/run-1")
	require.Equal(t, StatusSucceeded, out.Status, out.Reason)
	require.NotNil(t, out.Result)
	assert.Equal(t, "/data/run-1", out.Result.RunDir)
	assert.Equal(t, 2, out.Result.Extracted)
}

func TestProcessUnitToleratesNonJSONOutput(t *testing.T) {
	out := shUnit("echo done").Clean(context.Background(), t.TempDir())
	assert.Equal(t, StatusSucceeded, out.Status)
	assert.Nil(t, out.Result)
}

func TestProcessUnitPassesStderrThrough(t *testing.T) {
	var stderr bytes.Buffer
	u := shUnit("echo oops >&2; exit 1")
	u.Stderr = &stderr
	out := u.Clean(context.Background(), t.TempDir())
	assert.Equal(t, "exit code: 1", out.Reason)
	assert.Equal(t, "oops\n", stderr.String())
}
