package model

import "time"

// SyncMode names a sync strategy.
type SyncMode string

const (
	SyncModeRange    SyncMode = "range"
	SyncModeCrawl    SyncMode = "crawl"
	SyncModeRetrieve SyncMode = "retrieve"
	SyncModeRetry    SyncMode = "retry-failed"
)

// RunStatus represents the state of a sync run.
type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusComplete    RunStatus = "complete"
	RunStatusInterrupted RunStatus = "interrupted"
	RunStatusFailed      RunStatus = "failed"
)

// SyncRun is one invocation of a sync strategy, as recorded in sync_runs.
type SyncRun struct {
	ID          string         `json:"id"`
	Mode        SyncMode       `json:"mode"`
	Status      RunStatus      `json:"status"`
	Params      map[string]any `json:"params,omitempty"`
	Added       int            `json:"added"`
	Checked     int            `json:"checked"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// RunResult is the outcome handed to CompleteRun.
type RunResult struct {
	Status  RunStatus `json:"status"`
	Added   int       `json:"added"`
	Checked int       `json:"checked"`
}

// FailureKind classifies a failed sync of one identifier.
type FailureKind string

const (
	FailureTransport FailureKind = "transport"
	FailureParse     FailureKind = "parse"
	FailureStore     FailureKind = "store"
)

// FailedFetch is an identifier whose last sync attempt failed.
type FailedFetch struct {
	EntryID      int         `json:"entry_id"`
	Kind         FailureKind `json:"kind"`
	Error        string      `json:"error"`
	Attempts     int         `json:"attempts"`
	LastFailedAt time.Time   `json:"last_failed_at"`
}
