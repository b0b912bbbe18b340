// Package history records cleanup runs in the SQLite ledger and reads them
// back for the history command and the status API.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/ckptkeep/internal/batch"
	"github.com/mattjoyce/ckptkeep/internal/pipeline"
)

// DefaultLimit caps List when the caller passes zero.
const DefaultLimit = 20

// Fixed-width UTC timestamps so started_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store reads and writes the ledger.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// RecordClean stores a single-directory clean. runErr is the stage-level
// error, if any; res may be nil when the run directory was unusable.
func (s *Store) RecordClean(ctx context.Context, target string, startedAt time.Time, res *pipeline.Result, runErr error) (string, error) {
	out := outcomeFromResult(target, res)
	if runErr != nil {
		out.Status = string(batch.StatusFailed)
		out.Reason = runErr.Error()
	} else {
		out.Status = string(batch.StatusSucceeded)
	}

	run := Run{
		Kind:      KindClean,
		Target:    target,
		StartedAt: startedAt,
		Total:     1,
	}
	if runErr != nil {
		run.Failed = 1
	} else {
		run.Succeeded = 1
	}
	return s.insert(ctx, run, []Outcome{out})
}

// RecordBatch stores a batch summary with one row per directory.
func (s *Store) RecordBatch(ctx context.Context, sum *batch.Summary) (string, error) {
	if sum == nil {
		return "", fmt.Errorf("batch summary is nil")
	}
	run := Run{
		Kind:      KindBatch,
		Target:    sum.Root,
		StartedAt: sum.StartedAt,
		Total:     sum.Total,
		Skipped:   sum.Skipped,
		Succeeded: sum.Succeeded,
		Failed:    sum.Failed,
		Cancelled: sum.Cancelled,
	}
	if !sum.CompletedAt.IsZero() {
		t := sum.CompletedAt
		run.CompletedAt = &t
	}

	outcomes := make([]Outcome, 0, len(sum.Outcomes))
	for _, o := range sum.Outcomes {
		out := outcomeFromResult(o.Path, o.Result)
		out.Name = o.Name
		out.Status = string(o.Status)
		out.Reason = o.Reason
		outcomes = append(outcomes, out)
	}
	return s.insert(ctx, run, outcomes)
}

func outcomeFromResult(path string, res *pipeline.Result) Outcome {
	out := Outcome{Path: path}
	if res != nil {
		if res.RunDir != "" {
			out.Path = res.RunDir
		}
		out.Deleted = res.Deleted
		out.Extracted = res.Extracted
		out.BytesReclaimed = res.BytesReclaimed
	}
	out.Name = filepath.Base(out.Path)
	return out
}

func (s *Store) insert(ctx context.Context, run Run, outcomes []Outcome) (string, error) {
	id := uuid.NewString()
	now := s.now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	completedAt := now
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO cleanup_run(
  id, kind, target, started_at, completed_at, total, skipped, succeeded, failed, cancelled
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, run.Kind, run.Target,
		run.StartedAt.UTC().Format(timeLayout), completedAt.Format(timeLayout),
		run.Total, run.Skipped, run.Succeeded, run.Failed, boolToInt(run.Cancelled))
	if err != nil {
		return "", fmt.Errorf("insert cleanup run: %w", err)
	}

	recordedAt := now.Format(timeLayout)
	for _, o := range outcomes {
		var reason any
		if o.Reason != "" {
			reason = o.Reason
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO dir_outcome(
  run_id, name, path, status, reason, deleted, extracted, bytes_reclaimed, recorded_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, o.Name, o.Path, o.Status, reason, o.Deleted, o.Extracted, o.BytesReclaimed, recordedAt)
		if err != nil {
			return "", fmt.Errorf("insert outcome for %q: %w", o.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

const runColumns = `
  r.id, r.kind, r.target, r.started_at, r.completed_at,
  r.total, r.skipped, r.succeeded, r.failed, r.cancelled,
  COALESCE((SELECT SUM(o.bytes_reclaimed) FROM dir_outcome o WHERE o.run_id = r.id), 0)`

// List returns the most recent runs, newest first, without outcomes.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT`+runColumns+`
FROM cleanup_run r
ORDER BY r.started_at DESC, r.rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list cleanup runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cleanup runs: %w", err)
	}
	return runs, nil
}

// Get returns one run with its outcomes, or ErrRunNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT`+runColumns+`
FROM cleanup_run r
WHERE r.id = ?;
`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT name, path, status, reason, deleted, extracted, bytes_reclaimed, recorded_at
FROM dir_outcome
WHERE run_id = ?
ORDER BY name ASC;
`, id)
	if err != nil {
		return nil, fmt.Errorf("load outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			o           Outcome
			reason      sql.NullString
			recordedAtS string
		)
		if err := rows.Scan(&o.Name, &o.Path, &o.Status, &reason, &o.Deleted, &o.Extracted, &o.BytesReclaimed, &recordedAtS); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if reason.Valid {
			o.Reason = reason.String
		}
		if t, err := time.Parse(time.RFC3339Nano, recordedAtS); err == nil {
			o.RecordedAt = t
		}
		run.Outcomes = append(run.Outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r            Run
		kindS        string
		startedAtS   string
		completedAtS sql.NullString
		cancelled    int
	)
	err := sc.Scan(
		&r.ID, &kindS, &r.Target, &startedAtS, &completedAtS,
		&r.Total, &r.Skipped, &r.Succeeded, &r.Failed, &cancelled,
		&r.BytesReclaimed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan cleanup run: %w", err)
	}
	r.Kind = Kind(kindS)
	r.Cancelled = cancelled != 0
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		r.StartedAt = t
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			r.CompletedAt = &t
		}
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
