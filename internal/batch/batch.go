// Package batch cleans every run directory under a dataset root.
//
// Directories are handled one at a time in name order. Directories already in
// the terminal layout are skipped without being touched; the rest are shown to
// a Confirmer once, then handed to a Unit each. A failing unit never stops the
// batch.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/mattjoyce/ckptkeep/internal/log"
	"github.com/mattjoyce/ckptkeep/internal/pipeline"
	"github.com/mattjoyce/ckptkeep/internal/runfs"
)

//go:generate mockgen -destination=mocks/mock_batch.go -package=mocks github.com/mattjoyce/ckptkeep/internal/batch Unit,Confirmer

// ErrUserCancelled is returned when the confirmation prompt is declined,
// reaches EOF or is interrupted. Nothing has been modified at that point.
var ErrUserCancelled = errors.New("cancelled by user")

// Status is the outcome class of one directory.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome is what happened to one run directory. Result is nil for skipped
// directories and whenever the unit could not produce one.
type Outcome struct {
	Name   string           `json:"name"`
	Path   string           `json:"path"`
	Status Status           `json:"status"`
	Reason string           `json:"reason,omitempty"`
	Result *pipeline.Result `json:"result,omitempty"`
}

// Succeeded builds a success outcome.
func Succeeded(res *pipeline.Result) Outcome {
	return Outcome{Status: StatusSucceeded, Result: res}
}

// Failed builds a failure outcome with a formatted reason.
func Failed(format string, args ...any) Outcome {
	return Outcome{Status: StatusFailed, Reason: fmt.Sprintf(format, args...)}
}

// Unit cleans a single run directory.
type Unit interface {
	Clean(ctx context.Context, dir string) Outcome
}

// Plan is what the Confirmer is asked to approve.
type Plan struct {
	Root    string
	Pending []string
	Skipped []string
}

// Confirmer gates the batch before any mutation. It returns true to proceed.
type Confirmer interface {
	Confirm(ctx context.Context, plan Plan) (bool, error)
}

// Failure names one failed directory and why.
type Failure struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Summary aggregates a batch.
type Summary struct {
	Root        string    `json:"root"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Total       int       `json:"total"`
	Skipped     int       `json:"skipped"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Cancelled   bool      `json:"cancelled"`
	Failures    []Failure `json:"failures,omitempty"`
	Outcomes    []Outcome `json:"outcomes"`
}

// Processed is the number of directories handed to a unit.
func (s *Summary) Processed() int {
	return s.Succeeded + s.Failed
}

// ExitCode maps the summary to the process exit status: 1 when the batch was
// cancelled or when directories were processed and none succeeded. A batch
// where every directory was skipped exits 0.
func (s *Summary) ExitCode() int {
	if s.Cancelled {
		return 1
	}
	if s.Processed() > 0 && s.Succeeded == 0 {
		return 1
	}
	return 0
}

func (s *Summary) record(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case StatusSkipped:
		s.Skipped++
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
		s.Failures = append(s.Failures, Failure{Name: o.Name, Reason: o.Reason})
	}
}

// ProgressFunc is called after each directory is settled. index is 1-based.
type ProgressFunc func(index, total int, o Outcome)

// Orchestrator runs a Unit over each subdirectory of a dataset root.
type Orchestrator struct {
	policy    pipeline.Policy
	unit      Unit
	confirmer Confirmer
	fs        runfs.FS
	logger    *slog.Logger
	progress  ProgressFunc
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFS swaps the filesystem used for enumeration and the skip check.
func WithFS(fsys runfs.FS) Option {
	return func(o *Orchestrator) { o.fs = fsys }
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithProgress registers a callback for per-directory progress.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// NewOrchestrator builds an Orchestrator. policy decides the skip predicate;
// unit and confirmer are required.
func NewOrchestrator(policy pipeline.Policy, unit Unit, confirmer Confirmer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		policy:    policy,
		unit:      unit,
		confirmer: confirmer,
		fs:        runfs.OS{},
		logger:    log.WithComponent("batch"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run cleans each run directory under root. The returned summary is non-nil
// whenever root itself was usable, including on cancellation.
func (o *Orchestrator) Run(ctx context.Context, root string) (*Summary, error) {
	dir, err := runfs.ResolveDir(root)
	if err != nil {
		return nil, err
	}

	names, err := o.subdirectories(dir)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Root: dir, StartedAt: o.now().UTC(), Total: len(names)}
	defer func() { sum.CompletedAt = o.now().UTC() }()

	if len(names) == 0 {
		o.logger.Info("no subdirectories found", "root", dir)
		return sum, nil
	}
	o.logger.Info("found run directories", "root", dir, "count", len(names))

	settled := 0
	var pending []Outcome
	plan := Plan{Root: dir}
	for _, name := range names {
		path := filepath.Join(dir, name)
		clean, err := o.policy.AlreadyClean(o.fs, path)
		switch {
		case err != nil:
			settled++
			out := Outcome{Name: name, Path: path, Status: StatusFailed, Reason: fmt.Sprintf("unexpected error: %v", err)}
			o.logger.Error("failed to inspect run directory", "name", name, "error", err)
			sum.record(out)
			o.report(settled, len(names), out)
		case clean:
			settled++
			out := Outcome{Name: name, Path: path, Status: StatusSkipped}
			o.logger.Info("already clean, skipping", "name", name)
			sum.record(out)
			plan.Skipped = append(plan.Skipped, name)
			o.report(settled, len(names), out)
		default:
			pending = append(pending, Outcome{Name: name, Path: path})
			plan.Pending = append(plan.Pending, name)
		}
	}

	if len(pending) == 0 {
		o.logger.Info("nothing to clean", "root", dir, "skipped", sum.Skipped)
		return sum, nil
	}

	ok, err := o.confirmer.Confirm(ctx, plan)
	if err != nil || !ok {
		sum.Cancelled = true
		o.logger.Warn("batch cancelled before any changes", "root", dir, "error", err)
		if err != nil {
			return sum, fmt.Errorf("%w: %v", ErrUserCancelled, err)
		}
		return sum, ErrUserCancelled
	}

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			sum.Cancelled = true
			o.logger.Warn("batch interrupted", "root", dir, "remaining", len(names)-settled)
			return sum, err
		}
		settled++
		o.logger.Info("cleaning run directory", "index", settled, "total", len(names), "name", p.Name)

		out := o.unit.Clean(ctx, p.Path)
		out.Name, out.Path = p.Name, p.Path
		if out.Status == StatusFailed {
			o.logger.Error("failed to clean run directory", "name", p.Name, "reason", out.Reason)
		} else {
			out.Status = StatusSucceeded
			o.logger.Info("cleaned run directory", "name", p.Name)
		}
		sum.record(out)
		o.report(settled, len(names), out)
	}

	o.logger.Info("batch complete",
		"root", dir,
		"total", sum.Total,
		"skipped", sum.Skipped,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
	)
	return sum, nil
}

func (o *Orchestrator) subdirectories(dir string) ([]string, error) {
	entries, err := o.fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (o *Orchestrator) report(index, total int, out Outcome) {
	if o.progress != nil {
		o.progress(index, total, out)
	}
}
