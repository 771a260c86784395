package syncer

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wvfoia-sync/internal/config"
	"github.com/sells-group/wvfoia-sync/internal/model"
	"github.com/sells-group/wvfoia-sync/internal/sampler"
)

// Range backfills [lo, hi] by sampling unseen ids at random. Bounds given in
// the wrong order are swapped.
//
// Ids already attempted in this run are excluded from sampling along with
// the stored ones, so entries the remote does not have (or that failed and
// were queued for retry) are not drawn again. The run ends when that
// complement is empty or, under the count policy, when the store holds at
// least hi entries.
func (e *Engine) Range(ctx context.Context, lo, hi int) (Summary, error) {
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo < 1 {
		return Summary{}, eris.Errorf("syncer: range must start at 1 or above, got %d", lo)
	}

	stored, err := e.store.ExistingIDs(ctx, lo, hi)
	if err != nil {
		return Summary{}, eris.Wrap(err, "syncer: existing ids")
	}
	unseen := sampler.Remaining(stored, lo, hi)
	e.log.Info("range sync starting",
		zap.Int("lo", lo),
		zap.Int("hi", hi),
		zap.Int("unseen", unseen),
	)

	params := map[string]any{"lo": lo, "hi": hi, "termination": e.termination, "unseen": unseen}
	return e.track(ctx, model.SyncModeRange, params, func(l *loop) error {
		var attempted []int

		for ctx.Err() == nil {
			if e.termination != config.TerminationExhaustive {
				n, err := e.store.Count(ctx)
				if err != nil {
					return eris.Wrap(err, "syncer: count entries")
				}
				if n >= hi {
					e.log.Info("store count reached range end", zap.Int("count", n), zap.Int("hi", hi))
					return nil
				}
			}

			stored, err := e.store.ExistingIDs(ctx, lo, hi)
			if err != nil {
				return eris.Wrap(err, "syncer: existing ids")
			}

			id, err := sampler.SampleUnseen(append(stored, attempted...), lo, hi, e.rng)
			if errors.Is(err, sampler.ErrExhausted) {
				e.reporter.Println("Sync reached end of range.")
				return nil
			}
			if err != nil {
				return err
			}

			res := e.syncOne(ctx, id)
			if res.Outcome != OutcomeAdded {
				attempted = append(attempted, id)
			}
			if err := l.record(ctx, res, true); err != nil {
				return err
			}
		}
		return nil
	})
}
