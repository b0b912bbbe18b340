package history

import (
	"errors"
	"time"
)

// Kind distinguishes single-directory cleans from dataset batches.
type Kind string

const (
	KindClean Kind = "clean"
	KindBatch Kind = "batch"
)

// ErrRunNotFound is returned by Get for an unknown run ID.
var ErrRunNotFound = errors.New("cleanup run not found")

// Run is one recorded clean or batch invocation.
type Run struct {
	ID             string     `json:"id"`
	Kind           Kind       `json:"kind"`
	Target         string     `json:"target"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Total          int        `json:"total"`
	Skipped        int        `json:"skipped"`
	Succeeded      int        `json:"succeeded"`
	Failed         int        `json:"failed"`
	Cancelled      bool       `json:"cancelled"`
	BytesReclaimed int64      `json:"bytes_reclaimed"`
	Outcomes       []Outcome  `json:"outcomes,omitempty"`
}

// Outcome is the recorded result for one run directory.
type Outcome struct {
	Name           string    `json:"name"`
	Path           string    `json:"path"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	Deleted        int       `json:"deleted"`
	Extracted      int       `json:"extracted"`
	BytesReclaimed int64     `json:"bytes_reclaimed"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Status condenses a run into one word: cancelled, failed when nothing
// succeeded, succeeded, or skipped when there was nothing to do.
func (r Run) Status() string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case r.Failed > 0 && r.Succeeded == 0:
		return "failed"
	case r.Succeeded > 0:
		return "succeeded"
	default:
		return "skipped"
	}
}
