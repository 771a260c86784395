package syncer

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wvfoia-sync/internal/model"
)

// CrawlResult is the outcome of a forward crawl.
type CrawlResult struct {
	Summary
	// Watermark is the highest id confirmed to exist when the crawl stopped.
	Watermark int `json:"watermark"`
}

// Crawl walks forward from the watermark, which starts at the larger of the
// configured latest id and the highest stored id. Each existing entry moves
// the watermark to its id. The crawl ends once drift-tolerance consecutive
// ids are missing. A transport failure leaves the watermark alone and the
// same id is probed again after pacing; the circuit breaker bounds how long
// that can go on.
func (e *Engine) Crawl(ctx context.Context) (CrawlResult, error) {
	maxID, err := e.store.MaxID(ctx)
	if err != nil {
		return CrawlResult{}, eris.Wrap(err, "syncer: max stored id")
	}
	watermark := max(e.latestID, maxID)
	e.metrics.SetWatermark(watermark)

	params := map[string]any{"watermark": watermark, "drift_tolerance": e.drift}
	summary, err := e.track(ctx, model.SyncModeCrawl, params, func(l *loop) error {
		misses := 0
		probe := watermark + 1

		for ctx.Err() == nil {
			res := e.syncOne(ctx, probe)

			switch res.Outcome {
			case OutcomeAdded, OutcomeExists:
				watermark = probe
				e.metrics.SetWatermark(watermark)
				misses = 0
				probe = watermark + 1
			case OutcomeMissing:
				misses++
				if misses >= e.drift {
					if err := l.record(ctx, res, false); err != nil {
						return err
					}
					e.reporter.Notice("Latest entry found (#%d). Crawler exiting...", watermark)
					return nil
				}
				probe++
			case OutcomeFailed:
				if res.Kind != model.FailureTransport {
					// The page was served, so the entry exists; it is queued
					// for retry and the crawl moves past it.
					watermark = probe
					e.metrics.SetWatermark(watermark)
					misses = 0
					probe = watermark + 1
				}
			}

			if err := l.record(ctx, res, true); err != nil {
				return err
			}
		}
		return nil
	})

	e.log.Info("crawl stopped", zap.Int("watermark", watermark))
	return CrawlResult{Summary: summary, Watermark: watermark}, err
}
