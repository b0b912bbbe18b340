package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ckptkeep/internal/batch"
	"github.com/mattjoyce/ckptkeep/internal/history"
	"github.com/mattjoyce/ckptkeep/internal/log"
	"github.com/mattjoyce/ckptkeep/internal/pipeline"
	"github.com/mattjoyce/ckptkeep/internal/storage"
)

// fakeRuns implements RunReader for error paths.
type fakeRuns struct {
	listFunc func(ctx context.Context, limit int) ([]history.Run, error)
	getFunc  func(ctx context.Context, id string) (*history.Run, error)
}

func (f *fakeRuns) List(ctx context.Context, limit int) ([]history.Run, error) {
	if f.listFunc == nil {
		return nil, nil
	}
	return f.listFunc(ctx, limit)
}

func (f *fakeRuns) Get(ctx context.Context, id string) (*history.Run, error) {
	if f.getFunc == nil {
		return nil, history.ErrRunNotFound
	}
	return f.getFunc(ctx, id)
}

func newHistoryServer(t *testing.T) (*Server, *history.Store) {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := history.New(db)
	return New(Config{APIKey: "k"}, store, log.Discard()), store
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer k")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	t.Parallel()
	s, store := newHistoryServer(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := store.RecordClean(context.Background(), "/runs/r1", started, &pipeline.Result{RunDir: "/runs/r1"}, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.LastRunAt)
	assert.True(t, resp.LastRunAt.Equal(started))
}

func TestHealthzDegradedOnLedgerError(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeRuns{listFunc: func(context.Context, int) ([]history.Run, error) {
		return nil, errors.New("disk I/O error")
	}}, log.Discard())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestListAndGetRuns(t *testing.T) {
	t.Parallel()
	s, store := newHistoryServer(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var lastID string
	for i := 0; i < 3; i++ {
		id, err := store.RecordBatch(ctx, &batch.Summary{
			Root:      "/data/ARC-c",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Total:     1,
			Succeeded: 1,
			Outcomes: []batch.Outcome{{Name: "r1", Path: "/data/ARC-c/r1", Status: batch.StatusSucceeded,
				Result: &pipeline.Result{RunDir: "/data/ARC-c/r1", Extracted: i}}},
		})
		require.NoError(t, err)
		lastID = id
	}

	rec := get(t, s, "/runs?limit=2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list RunsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
	require.Len(t, list.Runs, 2)
	assert.Equal(t, lastID, list.Runs[0].ID)

	rec = get(t, s, "/runs/"+lastID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var run history.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, history.KindBatch, run.Kind)
	require.Len(t, run.Outcomes, 1)
	assert.Equal(t, 2, run.Outcomes[0].Extracted)
}

func TestListRunsEmptyIsArray(t *testing.T) {
	t.Parallel()
	s, _ := newHistoryServer(t)
	rec := get(t, s, "/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[],"count":0}`, rec.Body.String())
}

func TestListRunsRejectsBadLimit(t *testing.T) {
	t.Parallel()
	s, _ := newHistoryServer(t)
	for _, q := range []string{"0", "-3", "ten"} {
		rec := get(t, s, "/runs?limit="+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestListRunsClampsLimit(t *testing.T) {
	t.Parallel()
	var got int
	s := New(Config{}, &fakeRuns{listFunc: func(_ context.Context, limit int) ([]history.Run, error) {
		got = limit
		return nil, nil
	}}, log.Discard())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit=100000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxListLimit, got)
}

func TestGetRunErrors(t *testing.T) {
	t.Parallel()
	s, _ := newHistoryServer(t)
	rec := get(t, s, "/runs/does-not-exist")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	broken := New(Config{}, &fakeRuns{getFunc: func(context.Context, string) (*history.Run, error) {
		return nil, errors.New("database is locked")
	}}, log.Discard())
	rec = httptest.NewRecorder()
	broken.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "locked")
}

func TestStartStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(Config{Listen: "127.0.0.1:0"}, &fakeRuns{}, log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
