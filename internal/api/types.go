package api

import (
	"time"

	"github.com/mattjoyce/ckptkeep/internal/history"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string     `json:"status"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
}

// RunsResponse is returned by GET /runs.
type RunsResponse struct {
	Runs  []history.Run `json:"runs"`
	Count int           `json:"count"`
}
