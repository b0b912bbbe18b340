package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ckptkeep/internal/batch"
	"github.com/mattjoyce/ckptkeep/internal/history"
	"github.com/mattjoyce/ckptkeep/internal/pipeline"
)

func TestCleanResult(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	New(&buf).CleanResult(&pipeline.Result{
		RunDir:         "/runs/r1",
		Scanned:        3,
		Deleted:        1,
		Kept:           2,
		Cutoff:         2,
		Extracted:      2,
		BytesReclaimed: 1500,
		Retained:       []string{"/runs/r1/checkpoint-3"},
		Failures:       []pipeline.ItemFailure{{Stage: pipeline.StageExtracted, Path: "/runs/r1/checkpoint-3/a.safetensors", Error: "permission denied"}},
		Listing:        []string{"checkpoint-2_a.safetensors", "checkpoint-3", "train_loss.png"},
	})

	out := buf.String()
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("checkpoint-2_a.safetensors\ncheckpoint-3\ntrain_loss.png\n")), out)
	assert.Contains(t, out, "3 scanned, 1 deleted, 2 kept (cutoff 2)")
	assert.Contains(t, out, "Reclaimed   : 1.5 kB")
	assert.Contains(t, out, "Retained    : 1")
	assert.Contains(t, out, "[extracted] /runs/r1/checkpoint-3/a.safetensors: permission denied")
}

func TestBatchSummary(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	New(&buf).BatchSummary(&batch.Summary{
		Root:      "/data/ARC-c",
		Total:     3,
		Skipped:   1,
		Succeeded: 1,
		Failed:    1,
		Failures:  []batch.Failure{{Name: "r3", Reason: "exit code: 1"}},
		Outcomes: []batch.Outcome{
			{Name: "r1", Status: batch.StatusSkipped},
			{Name: "r2", Status: batch.StatusSucceeded, Result: &pipeline.Result{Extracted: 4, BytesReclaimed: 2_000_000}},
			{Name: "r3", Status: batch.StatusFailed, Reason: "exit code: 1"},
		},
	})

	out := buf.String()
	for _, want := range []string{"Directory", "r1", "skipped", "r2", "2.0 MB", "r3", "exit code: 1",
		"Total: 3  Skipped: 1  Succeeded: 1  Failed: 1", "  - r3: exit code: 1"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "cancelled")
}

func TestBatchSummaryEmptyAndCancelled(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := New(&buf)
	p.BatchSummary(&batch.Summary{Root: "/data/empty"})
	assert.Equal(t, "No subdirectories found in /data/empty\n", buf.String())

	buf.Reset()
	p.BatchSummary(&batch.Summary{Root: "/data/x", Total: 1, Cancelled: true,
		Outcomes: []batch.Outcome{{Name: "r1"}}})
	assert.Contains(t, buf.String(), "Batch cancelled")
}

func TestRunListAndDetail(t *testing.T) {
	t.Parallel()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)
	run := history.Run{
		ID: "0b5c8e1a-1111-2222-3333-444455556666", Kind: history.KindBatch, Target: "/data/ARC-c",
		StartedAt: started, CompletedAt: &completed, Total: 2, Succeeded: 1, Failed: 1, BytesReclaimed: 4096,
		Outcomes: []history.Outcome{
			{Name: "r1", Status: "succeeded", Deleted: 5, Extracted: 2, BytesReclaimed: 4096},
			{Name: "r2", Status: "failed", Reason: "pipeline failed: boom"},
		},
	}

	var buf bytes.Buffer
	p := New(&buf)
	p.RunList([]history.Run{run})
	out := buf.String()
	assert.Contains(t, out, "0b5c8e1a")
	assert.NotContains(t, out, "0b5c8e1a-1111")
	assert.Contains(t, out, "1/0/1")
	assert.Contains(t, out, "4.1 kB")

	buf.Reset()
	p.RunDetail(&run)
	out = buf.String()
	assert.Contains(t, out, "Run ID      : "+run.ID)
	assert.Contains(t, out, "(1m30s)")
	assert.Contains(t, out, "pipeline failed: boom")

	buf.Reset()
	p.RunList(nil)
	assert.Equal(t, "No cleanup runs recorded.\n", buf.String())
}

func TestJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, New(&buf).JSON(&pipeline.Result{RunDir: "/r", Listing: []string{"a"}}))

	var got pipeline.Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "/r", got.RunDir)
	assert.Equal(t, []string{"a"}, got.Listing)
}
