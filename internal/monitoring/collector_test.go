package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/wvfoia-sync/internal/model"
	"github.com/sells-group/wvfoia-sync/internal/store"
)

// fakeSource implements Source for testing.
type fakeSource struct {
	count    int
	maxID    int
	runs     []model.SyncRun
	failures []model.FailedFetch
	listErr  error
}

func (f *fakeSource) Count(context.Context) (int, error) { return f.count, nil }
func (f *fakeSource) MaxID(context.Context) (int, error) { return f.maxID, nil }

func (f *fakeSource) ListRuns(_ context.Context, filter store.RunFilter) ([]model.SyncRun, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.SyncRun
	for _, r := range f.runs {
		if filter.Mode != "" && r.Mode != filter.Mode {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) ListFailures(context.Context, int) ([]model.FailedFetch, error) {
	return f.failures, nil
}

var collectNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func run(mode model.SyncMode, status model.RunStatus, added int, startedAgo time.Duration) model.SyncRun {
	started := collectNow.Add(-startedAgo)
	done := started.Add(time.Minute)
	return model.SyncRun{Mode: mode, Status: status, Added: added, StartedAt: started, CompletedAt: &done}
}

func TestCollector_Collect(t *testing.T) {
	src := &fakeSource{
		count: 120,
		maxID: 49200,
		// Newest first, as the store returns them.
		runs: []model.SyncRun{
			run(model.SyncModeRange, model.RunStatusFailed, 0, time.Hour),
			run(model.SyncModeCrawl, model.RunStatusComplete, 4, 2*time.Hour),
			run(model.SyncModeRange, model.RunStatusInterrupted, 7, 3*time.Hour),
			run(model.SyncModeRange, model.RunStatusComplete, 9, 4*time.Hour),
			run(model.SyncModeCrawl, model.RunStatusComplete, 1, 48*time.Hour),
		},
		failures: []model.FailedFetch{{EntryID: 5}, {EntryID: 6}},
	}
	c := NewCollector(src)
	c.now = func() time.Time { return collectNow }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 120, snap.Entries)
	assert.Equal(t, 49200, snap.MaxID)
	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsInterrupted)
	assert.Equal(t, 20, snap.Added)
	assert.InDelta(t, 1.0/3.0, snap.RunFailRate, 1e-9)
	assert.Equal(t, 2, snap.QueueDepth)
	require.NotNil(t, snap.LastCrawlAt)
	assert.Equal(t, collectNow.Add(-2*time.Hour+time.Minute), *snap.LastCrawlAt)
	assert.Equal(t, collectNow, snap.CollectedAt)
}

func TestCollector_NoRuns(t *testing.T) {
	c := NewCollector(&fakeSource{})
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.RunFailRate)
	assert.Nil(t, snap.LastCrawlAt)
}

func TestCollector_ListError(t *testing.T) {
	c := NewCollector(&fakeSource{listErr: eris.New("db down")})
	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
