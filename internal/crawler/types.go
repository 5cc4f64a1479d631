// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// Status represents the terminal outcome of a crawl task.
type Status string

// Terminal task outcomes recorded in the result sink.
const (
	StatusSuccess Status = "SUCCESS"
	StatusTimeout Status = "TIMEOUT"
	StatusFailed  Status = "FAILED"
)

// Task is a single URL to crawl. Domain is derived once at load time from
// the URL host, case-normalized. Attempts counts dispatches; a task is
// terminal after its first result since there is no per-task retry.
type Task struct {
	URL      string
	Domain   string
	Attempts int
}

// Result is produced exactly once per task reaching a terminal state.
type Result struct {
	URL           string  `json:"url"`
	Status        Status  `json:"status"`
	InitialBytes  int64   `json:"initial_html_bytes"`
	RenderedBytes int64   `json:"rendered_html_bytes"`
	ElapsedSec    float64 `json:"elapsed_sec"`
	Error         string  `json:"error,omitempty"`
}

// Succeeded reports whether the result is a SUCCESS outcome.
func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

// ResourceSnapshot is a point-in-time sample of host utilization. It is
// recomputed on demand and never persisted.
type ResourceSnapshot struct {
	CPUPercent float64
	MemPercent float64
	MemAvailMB float64
	SampledAt  time.Time
}
