// Package monitoring watches sync health: run failure rate, the failed-fetch
// queue and how long ago the last complete crawl finished.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/wvfoia-sync/internal/model"
	"github.com/sells-group/wvfoia-sync/internal/store"
)

// maxScan caps how many runs and queued failures one collection reads.
const maxScan = 10000

// Snapshot holds a point-in-time view of sync health.
type Snapshot struct {
	Entries int `json:"entries"`
	MaxID   int `json:"max_id"`

	// Runs started within the lookback window.
	RunsTotal       int     `json:"runs_total"`
	RunsComplete    int     `json:"runs_complete"`
	RunsFailed      int     `json:"runs_failed"`
	RunsInterrupted int     `json:"runs_interrupted"`
	RunsRunning     int     `json:"runs_running"`
	RunFailRate     float64 `json:"run_fail_rate"`
	Added           int     `json:"added"`

	QueueDepth int `json:"queue_depth"`

	// LastCrawlAt is when the most recent complete crawl finished, if any.
	LastCrawlAt *time.Time `json:"last_crawl_at,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the part of the store the collector reads.
type Source interface {
	Count(ctx context.Context) (int, error)
	MaxID(ctx context.Context) (int, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.SyncRun, error)
	ListFailures(ctx context.Context, limit int) ([]model.FailedFetch, error)
}

// Collector gathers snapshots from the store.
type Collector struct {
	src Source
	now func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(src Source) *Collector {
	return &Collector{src: src, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	var err error
	if snap.Entries, err = c.src.Count(ctx); err != nil {
		return nil, eris.Wrap(err, "monitoring: count entries")
	}
	if snap.MaxID, err = c.src.MaxID(ctx); err != nil {
		return nil, eris.Wrap(err, "monitoring: max id")
	}

	runs, err := c.src.ListRuns(ctx, store.RunFilter{Limit: maxScan})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		snap.Added += r.Added
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusInterrupted:
			snap.RunsInterrupted++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
	}
	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}

	crawls, err := c.src.ListRuns(ctx, store.RunFilter{
		Mode:   model.SyncModeCrawl,
		Status: model.RunStatusComplete,
		Limit:  1,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last crawl")
	}
	if len(crawls) > 0 && crawls[0].CompletedAt != nil {
		at := crawls[0].CompletedAt.UTC()
		snap.LastCrawlAt = &at
	}

	failures, err := c.src.ListFailures(ctx, maxScan)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list failures")
	}
	snap.QueueDepth = len(failures)

	return snap, nil
}
