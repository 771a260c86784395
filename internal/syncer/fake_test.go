package syncer

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/wvfoia-sync/internal/fetcher"
	"github.com/sells-group/wvfoia-sync/internal/model"
	"github.com/sells-group/wvfoia-sync/internal/store"
)

// entryHTML renders a minimal entry page with valid dates.
func entryHTML(id int, amended bool) []byte {
	var details string
	if amended {
		details = `<div class="panel-body"><strong>Amended</strong><p>Yes</p></div>`
	}
	return []byte(fmt.Sprintf(`<html><body>
<div class="content-col-label">
	<div class="content-div-var"><strong>Agency:</strong></div>
	<div class="content-div-var"><strong>Request Date:</strong></div>
	<div class="content-div-var"><strong>Completion Date:</strong></div>
	<div class="content-div-var"><strong>Entry Date:</strong></div>
</div>
<div class="content-col-data">
	<div class="content-div-var">Agency %d</div>
	<div class="content-div-var">01/02/2024</div>
	<div class="content-div-var">1/15/2024</div>
	<div class="content-div-var">02/01/2024</div>
</div>
<div class="container-requestitems">
	<div class="panel-body"><strong>Subject</strong><p>Request %d</p></div>
	%s
</div>
</body></html>`, id, id, details))
}

var brokenHTML = []byte(`<html><body><div class="content-col-label"></div></body></html>`)

func transportErr(id, status int) error {
	return &fetcher.TransportError{ID: id, StatusCode: status, Err: eris.Errorf("http %d", status)}
}

// scriptedFetcher serves pages from a map. Queued errors for an id are
// returned first, one per call.
type scriptedFetcher struct {
	mu      sync.Mutex
	pages   map[int][]byte
	errs    map[int][]error
	always  map[int]error
	calls   []int
	onFetch func(id int)
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		pages:  map[int][]byte{},
		errs:   map[int][]error{},
		always: map[int]error{},
	}
}

func (f *scriptedFetcher) withPages(ids ...int) *scriptedFetcher {
	for _, id := range ids {
		f.pages[id] = entryHTML(id, false)
	}
	return f
}

func (f *scriptedFetcher) Fetch(_ context.Context, id int) (*fetcher.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	hook := f.onFetch
	var err error
	if q := f.errs[id]; len(q) > 0 {
		err, f.errs[id] = q[0], q[1:]
	} else if e, ok := f.always[id]; ok {
		err = e
	}
	body, ok := f.pages[id]
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fetcher.ErrNotFound
	}
	return &fetcher.Page{ID: id, StatusCode: 200, Body: body}, nil
}

func (f *scriptedFetcher) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// memStore is an in-memory Store.
type memStore struct {
	mu       sync.Mutex
	records  map[int]*model.Record
	runs     []model.SyncRun
	failures map[int]model.FailedFetch
	inserts  int
}

func newMemStore() *memStore {
	return &memStore{
		records:  map[int]*model.Record{},
		failures: map[int]model.FailedFetch{},
	}
}

func (s *memStore) seed(ids ...int) {
	for _, id := range ids {
		rec := model.NewRecord(id)
		rec.Set(model.KeyRequestDate, "2020-01-01")
		rec.Set(model.KeyCompletionDate, "2020-01-01")
		rec.Set(model.KeyEntryDate, "2020-01-01")
		s.records[id] = rec
	}
}

func (s *memStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

func (s *memStore) Exists(_ context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok, nil
}

func (s *memStore) ExistingIDs(_ context.Context, lo, hi int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int
	for id := range s.records {
		if id >= lo && id <= hi {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *memStore) MaxID(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id := range s.records {
		n = max(n, id)
	}
	return n, nil
}

func (s *memStore) Insert(_ context.Context, rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return store.ErrDuplicate
	}
	s.inserts++
	rec.SyncedAt = time.Now()
	s.records[rec.ID] = rec
	return nil
}

func (s *memStore) GetRecord(_ context.Context, id int) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id], nil
}

func (s *memStore) StartRun(_ context.Context, mode model.SyncMode, params map[string]any) (*model.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := model.SyncRun{ID: uuid.NewString(), Mode: mode, Status: model.RunStatusRunning, Params: params, StartedAt: time.Now()}
	s.runs = append(s.runs, run)
	return &run, nil
}

func (s *memStore) finish(runID string, status model.RunStatus, result model.RunResult, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == runID {
			now := time.Now()
			s.runs[i].Status = status
			s.runs[i].Added = result.Added
			s.runs[i].Checked = result.Checked
			s.runs[i].Error = errMsg
			s.runs[i].CompletedAt = &now
			return nil
		}
	}
	return eris.Errorf("sync run not found: %s", runID)
}

func (s *memStore) CompleteRun(_ context.Context, runID string, result model.RunResult) error {
	status := result.Status
	if status == "" {
		status = model.RunStatusComplete
	}
	return s.finish(runID, status, result, "")
}

func (s *memStore) FailRun(_ context.Context, runID string, result model.RunResult, errMsg string) error {
	return s.finish(runID, model.RunStatusFailed, result, errMsg)
}

func (s *memStore) ListRuns(context.Context, store.RunFilter) ([]model.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.runs), nil
}

func (s *memStore) RecordFailure(_ context.Context, id int, kind model.FailureKind, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.failures[id]
	f.EntryID = id
	f.Kind = kind
	f.Error = errMsg
	f.Attempts++
	f.LastFailedAt = time.Now()
	s.failures[id] = f
	return nil
}

func (s *memStore) ListFailures(_ context.Context, limit int) ([]model.FailedFetch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.FailedFetch
	for _, f := range s.failures {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b model.FailedFetch) int { return a.EntryID - b.EntryID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ResolveFailure(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, id)
	return nil
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }

func (s *memStore) lastRun() model.SyncRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[len(s.runs)-1]
}

// syncBuffer is a bytes.Buffer safe for the reporter and test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
