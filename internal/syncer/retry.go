package syncer

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/wvfoia-sync/internal/model"
)

// RetryFailed runs the sync step again for up to limit queued failures,
// oldest first. An id leaves the queue once it is added, found to exist, or
// found to be missing remotely; another failure bumps its attempt count.
func (e *Engine) RetryFailed(ctx context.Context, limit int) (Summary, error) {
	failures, err := e.store.ListFailures(ctx, limit)
	if err != nil {
		return Summary{}, eris.Wrap(err, "syncer: list failures")
	}
	if len(failures) == 0 {
		e.reporter.Println("No failed entries to retry.")
		return Summary{}, nil
	}

	params := map[string]any{"queued": len(failures), "limit": limit}
	return e.track(ctx, model.SyncModeRetry, params, func(l *loop) error {
		for i, f := range failures {
			if ctx.Err() != nil {
				return nil
			}

			res := e.syncOne(ctx, f.EntryID)
			last := i == len(failures)-1
			if err := l.record(ctx, res, !last); err != nil {
				return err
			}
		}
		return nil
	})
}
