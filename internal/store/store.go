// Package store persists mirrored FOIA entries, the sync run log, and the
// failed-fetch queue.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/wvfoia-sync/internal/model"
)

// ErrDuplicate is returned by Insert when an entry with the same id is
// already stored. Callers treat it as "already exists", not as a failure.
var ErrDuplicate = eris.New("store: duplicate entry")

// RunFilter specifies criteria for listing sync runs.
type RunFilter struct {
	Mode   model.SyncMode  `json:"mode,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for the sync engine.
type Store interface {
	// Entries
	Count(ctx context.Context) (int, error)
	Exists(ctx context.Context, id int) (bool, error)
	ExistingIDs(ctx context.Context, lo, hi int) ([]int, error)
	MaxID(ctx context.Context) (int, error)
	Insert(ctx context.Context, rec *model.Record) error
	GetRecord(ctx context.Context, id int) (*model.Record, error)

	// Sync runs
	StartRun(ctx context.Context, mode model.SyncMode, params map[string]any) (*model.SyncRun, error)
	CompleteRun(ctx context.Context, runID string, result model.RunResult) error
	FailRun(ctx context.Context, runID string, result model.RunResult, errMsg string) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error)

	// Failed fetches
	RecordFailure(ctx context.Context, id int, kind model.FailureKind, errMsg string) error
	ListFailures(ctx context.Context, limit int) ([]model.FailedFetch, error)
	ResolveFailure(ctx context.Context, id int) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// entryColumns returns the typed column values for rec. The parser
// guarantees the date keys are present and normalized.
func entryColumns(rec *model.Record) (requestDate, completionDate, entryDate string) {
	requestDate, _ = rec.Get(model.KeyRequestDate)
	completionDate, _ = rec.Get(model.KeyCompletionDate)
	entryDate, _ = rec.Get(model.KeyEntryDate)
	return requestDate, completionDate, entryDate
}
