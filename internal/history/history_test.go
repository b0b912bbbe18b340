package history

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ckptkeep/internal/batch"
	"github.com/mattjoyce/ckptkeep/internal/pipeline"
	"github.com/mattjoyce/ckptkeep/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRecordBatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New(openTestDB(t))

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sum := &batch.Summary{
		Root:        "/data/common_sense_reasoning/ARC-c",
		StartedAt:   started,
		CompletedAt: started.Add(time.Minute),
		Total:       3,
		Skipped:     1,
		Succeeded:   1,
		Failed:      1,
		Outcomes: []batch.Outcome{
			{Name: "r0", Path: "/data/common_sense_reasoning/ARC-c/r0", Status: batch.StatusSkipped},
			{Name: "r1", Path: "/data/common_sense_reasoning/ARC-c/r1", Status: batch.StatusSucceeded,
				Result: &pipeline.Result{RunDir: "/data/common_sense_reasoning/ARC-c/r1", Deleted: 4, Extracted: 2, BytesReclaimed: 4096}},
			{Name: "r2", Path: "/data/common_sense_reasoning/ARC-c/r2", Status: batch.StatusFailed, Reason: "exit code: 1"},
		},
	}

	id, err := store.RecordBatch(ctx, sum)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, KindBatch, run.Kind)
	assert.Equal(t, sum.Root, run.Target)
	assert.True(t, run.StartedAt.Equal(started))
	require.NotNil(t, run.CompletedAt)
	assert.True(t, run.CompletedAt.Equal(started.Add(time.Minute)))
	assert.Equal(t, 3, run.Total)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, int64(4096), run.BytesReclaimed)

	require.Len(t, run.Outcomes, 3)
	assert.Equal(t, "r1", run.Outcomes[1].Name)
	assert.Equal(t, 4, run.Outcomes[1].Deleted)
	assert.Equal(t, 2, run.Outcomes[1].Extracted)
	assert.Equal(t, "exit code: 1", run.Outcomes[2].Reason)
	assert.Empty(t, run.Outcomes[0].Reason)
}

func TestRecordCleanFailure(t *testing.T) {
	ctx := context.Background()
	store := New(openTestDB(t))

	id, err := store.RecordClean(ctx, "/runs/x", time.Now(), nil, errors.New("directory \"/runs/x\" does not exist"))
	require.NoError(t, err)

	run, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, KindClean, run.Kind)
	assert.Equal(t, 1, run.Failed)
	require.Len(t, run.Outcomes, 1)
	assert.Equal(t, "x", run.Outcomes[0].Name)
	assert.Equal(t, string(batch.StatusFailed), run.Outcomes[0].Status)
	assert.Contains(t, run.Outcomes[0].Reason, "does not exist")
}

func TestListNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	store := New(openTestDB(t))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		res := &pipeline.Result{RunDir: "/runs/r", BytesReclaimed: int64(i)}
		_, err := store.RecordClean(ctx, "/runs/r", base.Add(time.Duration(i)*time.Hour+time.Duration(i)*time.Millisecond), res, nil)
		require.NoError(t, err)
	}

	runs, err := store.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, int64(4), runs[0].BytesReclaimed)
	assert.Equal(t, int64(3), runs[1].BytesReclaimed)
	assert.Equal(t, int64(2), runs[2].BytesReclaimed)
	assert.Nil(t, runs[0].Outcomes)

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestGetUnknownRun(t *testing.T) {
	_, err := New(openTestDB(t)).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRecordBatchNilSummary(t *testing.T) {
	_, err := New(openTestDB(t)).RecordBatch(context.Background(), nil)
	assert.Error(t, err)
}

func TestRunStatus(t *testing.T) {
	tests := []struct {
		run  Run
		want string
	}{
		{run: Run{Cancelled: true, Succeeded: 2}, want: "cancelled"},
		{run: Run{Failed: 1}, want: "failed"},
		{run: Run{Failed: 1, Succeeded: 1}, want: "succeeded"},
		{run: Run{Skipped: 3}, want: "skipped"},
		{run: Run{}, want: "skipped"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.run.Status(), "%+v", tt.run)
	}
}
