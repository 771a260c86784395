// Package syncer mirrors FOIA entries into the local store. It implements
// the range, crawl, retrieve and retry-failed strategies on top of one
// shared fetch, parse and persist step.
package syncer

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wvfoia-sync/internal/config"
	"github.com/sells-group/wvfoia-sync/internal/fetcher"
	"github.com/sells-group/wvfoia-sync/internal/metrics"
	"github.com/sells-group/wvfoia-sync/internal/model"
	"github.com/sells-group/wvfoia-sync/internal/resilience"
	"github.com/sells-group/wvfoia-sync/internal/store"
)

// ErrTooManyFailures aborts a strategy after the remote kept failing through
// a full circuit breaker cooldown.
var ErrTooManyFailures = eris.New("syncer: too many consecutive fetch failures")

// RecordParser turns a fetched page into a record.
type RecordParser interface {
	Parse(raw []byte, id int) (*model.Record, error)
}

// Outcome is what happened to one identifier.
type Outcome int

const (
	OutcomeAdded Outcome = iota
	OutcomeExists
	OutcomeMissing
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdded:
		return metrics.OutcomeAdded
	case OutcomeExists:
		return metrics.OutcomeExists
	case OutcomeMissing:
		return metrics.OutcomeMissing
	default:
		return metrics.OutcomeFailed
	}
}

// Result describes one pass of the shared sync step.
type Result struct {
	ID      int
	Outcome Outcome
	Record  *model.Record
	Kind    model.FailureKind
	Err     error
	Elapsed time.Duration
}

// Summary is what a strategy run accomplished.
type Summary struct {
	RunID       string `json:"run_id,omitempty"`
	Added       int    `json:"added"`
	Checked     int    `json:"checked"`
	Failed      int    `json:"failed"`
	Interrupted bool   `json:"interrupted"`
}

func (s Summary) result() model.RunResult {
	status := model.RunStatusComplete
	if s.Interrupted {
		status = model.RunStatusInterrupted
	}
	return model.RunResult{Status: status, Added: s.Added, Checked: s.Checked}
}

// Engine runs sync strategies. It is single-threaded: one strategy per
// Engine at a time.
type Engine struct {
	store    store.Store
	fetcher  fetcher.Fetcher
	parser   RecordParser
	reporter *Reporter
	metrics  *metrics.Metrics

	pacer       Pacer
	retry       resilience.RetryConfig
	breaker     *resilience.CircuitBreaker
	rng         *rand.Rand
	latestID    int
	drift       int
	termination string

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	log   *zap.Logger
}

// New creates an Engine from configuration. st may be nil for an engine
// that only retrieves. m may be nil.
func New(cfg *config.Config, st store.Store, f fetcher.Fetcher, p RecordParser, rep *Reporter, m *metrics.Metrics) *Engine {
	log := zap.L().With(zap.String("component", "syncer"))

	cbCfg := resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)
	cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
		log.Warn("remote circuit state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	lo, hi := cfg.Sync.PaceInterval()
	drift := cfg.Sync.CrawlDriftTolerance
	if drift < 1 {
		drift = 1
	}

	return &Engine{
		store:    st,
		fetcher:  f,
		parser:   p,
		reporter: rep,
		metrics:  m,
		pacer:    NewRandomPacer(lo, hi),
		retry: resilience.FromRetryConfig(
			cfg.Retry.MaxAttempts,
			cfg.Retry.InitialBackoffMs,
			cfg.Retry.MaxBackoffMs,
			cfg.Retry.Multiplier,
			cfg.Retry.JitterFraction,
		),
		breaker:     resilience.NewCircuitBreaker(cbCfg),
		latestID:    cfg.Sync.LatestID,
		drift:       drift,
		termination: cfg.Sync.RangeTermination,
		sleep:       sleep,
		now:         time.Now,
		log:         log,
	}
}

// fetch retrieves one page with the configured retry policy. The request
// itself runs on a context detached from cancellation so an interrupt never
// abandons it mid-flight; ctx still stops further retries.
func (e *Engine) fetch(ctx context.Context, id int) (*fetcher.Page, error) {
	rc := e.retry
	rc.ShouldRetry = func(err error) bool {
		return !errors.Is(err, fetcher.ErrNotFound) && resilience.IsTransient(err)
	}
	rc.OnRetry = resilience.RetryLogger(id)

	inflight := context.WithoutCancel(ctx)
	return resilience.DoVal(ctx, rc, func(context.Context) (*fetcher.Page, error) {
		return e.fetcher.Fetch(inflight, id)
	})
}

// syncOne fetches, parses and persists id. Failures are queued in the
// failed-fetch table and reported through the Result, never returned; any
// other outcome clears id from that table.
func (e *Engine) syncOne(ctx context.Context, id int) Result {
	start := e.now()
	res := e.syncOneInner(ctx, id)
	res.ID = id
	res.Elapsed = e.now().Sub(start)

	e.metrics.ObserveFetch(res.Outcome.String(), res.Elapsed)

	// Only transport failures count against the remote.
	if res.Outcome == OutcomeFailed && res.Kind == model.FailureTransport {
		e.breaker.Record(res.Err)
	} else {
		e.breaker.Record(nil)
	}

	persist := context.WithoutCancel(ctx)
	if res.Outcome == OutcomeFailed {
		e.log.Warn("entry sync failed",
			zap.Int("entry_id", id),
			zap.String("kind", string(res.Kind)),
			zap.Error(res.Err),
		)
		if err := e.store.RecordFailure(persist, id, res.Kind, res.Err.Error()); err != nil {
			e.log.Error("record failed fetch", zap.Int("entry_id", id), zap.Error(err))
		}
		return res
	}

	// Any settled outcome takes id off the failed-fetch queue.
	if err := e.store.ResolveFailure(persist, id); err != nil {
		e.log.Warn("resolve failed fetch", zap.Int("entry_id", id), zap.Error(err))
	}
	return res
}

func (e *Engine) syncOneInner(ctx context.Context, id int) Result {
	page, err := e.fetch(ctx, id)
	if errors.Is(err, fetcher.ErrNotFound) {
		return Result{Outcome: OutcomeMissing}
	}
	if err != nil {
		return Result{Outcome: OutcomeFailed, Kind: model.FailureTransport, Err: err}
	}

	rec, err := e.parser.Parse(page.Body, id)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Kind: model.FailureParse, Err: err}
	}

	// Persist on a detached context: once the page is in hand the record
	// is either fully written or not at all, regardless of interrupts.
	persist := context.WithoutCancel(ctx)

	exists, err := e.store.Exists(persist, id)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Kind: model.FailureStore, Err: err}
	}
	if exists {
		return Result{Outcome: OutcomeExists, Record: rec}
	}

	if err := e.store.Insert(persist, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Result{Outcome: OutcomeExists, Record: rec}
		}
		return Result{Outcome: OutcomeFailed, Kind: model.FailureStore, Err: err}
	}
	return Result{Outcome: OutcomeAdded, Record: rec}
}

// loop carries the per-run bookkeeping shared by the store-writing
// strategies.
type loop struct {
	e       *Engine
	summary Summary
	tripped bool
}

// record tallies res, prints its status line and paces. It returns a
// non-nil error when the run must stop: ctx was cancelled during the pause,
// or the remote kept failing after a cooldown.
func (l *loop) record(ctx context.Context, res Result, pace bool) error {
	l.summary.Checked++
	switch res.Outcome {
	case OutcomeAdded:
		l.summary.Added++
	case OutcomeFailed:
		l.summary.Failed++
	}

	var next time.Duration
	if pace {
		next = l.e.pacer.Next()
	}
	l.e.reporter.Status(res, next)

	if l.e.breaker.State() == resilience.CircuitClosed {
		l.tripped = false
	}
	if err := l.checkBreaker(ctx); err != nil {
		return err
	}
	if pace {
		return l.e.sleep(ctx, next)
	}
	return ctx.Err()
}

// checkBreaker waits out one cooldown when the circuit opens. If it opens
// again right after the half-open probe, the run is aborted.
func (l *loop) checkBreaker(ctx context.Context) error {
	if l.e.breaker.State() != resilience.CircuitOpen {
		return nil
	}
	if l.tripped {
		return eris.Wrapf(ErrTooManyFailures, "syncer: %d consecutive failures", l.e.breaker.ConsecutiveFailures())
	}
	l.tripped = true

	wait := l.e.breaker.RetryIn()
	l.e.log.Warn("remote keeps failing, cooling down before one more probe",
		zap.Int("consecutive_failures", l.e.breaker.ConsecutiveFailures()),
		zap.Duration("cooldown", wait),
	)
	l.e.reporter.Notice("remote keeps failing, cooling down for %s", wait.Round(time.Second))
	for {
		if err := l.e.sleep(ctx, wait); err != nil {
			return err
		}
		// Allow moves the circuit to half-open once the timeout has passed.
		if l.e.breaker.Allow() == nil {
			return nil
		}
		wait = l.e.breaker.RetryIn()
	}
}

// track records the run in the sync log around fn. An interrupt is a clean
// stop: it is logged as interrupted, summarized, and not returned as an
// error.
func (e *Engine) track(ctx context.Context, mode model.SyncMode, params map[string]any, fn func(l *loop) error) (Summary, error) {
	persist := context.WithoutCancel(ctx)

	var runID string
	run, err := e.store.StartRun(persist, mode, params)
	if err != nil {
		e.log.Warn("failed to record sync run start", zap.String("mode", string(mode)), zap.Error(err))
	} else {
		runID = run.ID
	}

	l := &loop{e: e}
	l.summary.RunID = runID
	runErr := fn(l)

	if ctx.Err() != nil && (runErr == nil || errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)) {
		l.summary.Interrupted = true
		runErr = nil
		e.reporter.Interrupted(l.summary.Added)
	}

	if runID != "" {
		if runErr != nil {
			err = e.store.FailRun(persist, runID, l.summary.result(), runErr.Error())
		} else {
			err = e.store.CompleteRun(persist, runID, l.summary.result())
		}
		if err != nil {
			e.log.Warn("failed to record sync run end", zap.String("run_id", runID), zap.Error(err))
		}
	}

	e.log.Info("sync run finished",
		zap.String("mode", string(mode)),
		zap.Int("added", l.summary.Added),
		zap.Int("checked", l.summary.Checked),
		zap.Int("failed", l.summary.Failed),
		zap.Bool("interrupted", l.summary.Interrupted),
	)
	return l.summary, runErr
}
