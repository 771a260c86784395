package syncer

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/wvfoia-sync/internal/fetcher"
)

// Retrieve fetches and prints each id. It never reads or writes the store
// and does not pace, so it is safe to run next to a range or crawl.
// Entries that cannot be retrieved are reported and skipped; the returned
// error counts them. An interrupt stops before the next id and reports how
// many were printed.
func (e *Engine) Retrieve(ctx context.Context, ids []int) error {
	failed := 0
	for i, id := range ids {
		if ctx.Err() != nil {
			e.reporter.RetrieveInterrupted(i, len(ids))
			return nil
		}

		page, err := e.fetch(ctx, id)
		if errors.Is(err, fetcher.ErrNotFound) {
			e.reporter.Missing(id)
			continue
		}
		if err != nil {
			failed++
			e.reporter.Failed(id, err)
			continue
		}

		rec, err := e.parser.Parse(page.Body, id)
		if err != nil {
			failed++
			e.reporter.Failed(id, err)
			continue
		}

		if err := e.reporter.Record(rec, len(ids) > 1); err != nil {
			return eris.Wrap(err, "syncer: write record")
		}
	}

	if failed > 0 {
		return eris.Errorf("syncer: %d of %d entries could not be retrieved", failed, len(ids))
	}
	return nil
}
