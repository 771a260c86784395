package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/wvfoia-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Single writer; keeps check-then-insert serialized within the process.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entries (
	id              INTEGER PRIMARY KEY,
	request_date    TEXT NOT NULL,
	completion_date TEXT NOT NULL,
	entry_date      TEXT NOT NULL,
	is_amended      INTEGER NOT NULL DEFAULT 0,
	synced_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS entry_fields (
	entry_id INTEGER NOT NULL REFERENCES entries(id),
	key      TEXT NOT NULL,
	value    TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (entry_id, key)
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	params       TEXT,
	added        INTEGER NOT NULL DEFAULT 0,
	checked      INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS failed_fetches (
	entry_id       INTEGER PRIMARY KEY,
	kind           TEXT NOT NULL,
	error          TEXT NOT NULL,
	attempts       INTEGER NOT NULL DEFAULT 1,
	last_failed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entries_entry_date ON entries(entry_date);
CREATE INDEX IF NOT EXISTS idx_entry_fields_key ON entry_fields(key);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count entries")
	}
	return n, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, id int) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM entries WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: exists %d", id)
	}
	return true, nil
}

func (s *SQLiteStore) ExistingIDs(ctx context.Context, lo, hi int) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM entries WHERE id BETWEEN ? AND ? ORDER BY id`, lo, hi)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: existing ids")
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: existing ids iterate")
}

func (s *SQLiteStore) MaxID(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM entries`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: max id")
	}
	return n, nil
}

// Insert writes rec and its fields in one transaction. A duplicate id
// returns ErrDuplicate and leaves the store unchanged.
func (s *SQLiteStore) Insert(ctx context.Context, rec *model.Record) error {
	now := time.Now().UTC()
	req, comp, entry := entryColumns(rec)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (id, request_date, completion_date, entry_date, is_amended, synced_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, req, comp, entry, rec.AmendedFlag(), now,
	)
	if err != nil {
		if isSQLiteDuplicate(err) {
			return ErrDuplicate
		}
		return eris.Wrapf(err, "sqlite: insert entry %d", rec.ID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entry_fields (entry_id, key, value, position) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare fields")
	}
	defer stmt.Close() //nolint:errcheck

	for i, f := range rec.Fields() {
		if _, err := stmt.ExecContext(ctx, rec.ID, f.Key, f.Value, i); err != nil {
			return eris.Wrapf(err, "sqlite: insert field %s of entry %d", f.Key, rec.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrapf(err, "sqlite: commit entry %d", rec.ID)
	}
	rec.SyncedAt = now
	return nil
}

// GetRecord returns the stored entry, or nil if it is not present.
func (s *SQLiteStore) GetRecord(ctx context.Context, id int) (*model.Record, error) {
	var amended int
	var syncedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT is_amended, synced_at FROM entries WHERE id = ?`, id,
	).Scan(&amended, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entry %d", id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM entry_fields WHERE entry_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get fields %d", id)
	}
	defer rows.Close()

	rec := model.NewRecord(id)
	rec.IsAmended = amended != 0
	rec.SyncedAt = syncedAt
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan field")
		}
		rec.Set(k, v)
	}
	return rec, eris.Wrap(rows.Err(), "sqlite: get fields iterate")
}

func (s *SQLiteStore) StartRun(ctx context.Context, mode model.SyncMode, params map[string]any) (*model.SyncRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, mode, status, params, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(mode), string(model.RunStatusRunning), string(paramsJSON), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert sync run")
	}

	return &model.SyncRun{
		ID:        id,
		Mode:      mode,
		Status:    model.RunStatusRunning,
		Params:    params,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result model.RunResult) error {
	status := result.Status
	if status == "" {
		status = model.RunStatusComplete
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, added = ?, checked = ?, completed_at = ? WHERE id = ?`,
		string(status), result.Added, result.Checked, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete sync run %s", runID)
	}
	return checkRowsAffected(res, "sync run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, result model.RunResult, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, added = ?, checked = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), result.Added, result.Checked, errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail sync run %s", runID)
	}
	return checkRowsAffected(res, "sync run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error) {
	query := `SELECT id, mode, status, params, added, checked, error, started_at, completed_at FROM sync_runs WHERE 1=1`
	var args []any

	if filter.Mode != "" {
		query += ` AND mode = ?`
		args = append(args, string(filter.Mode))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sync runs")
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		var r model.SyncRun
		var params, errMsg sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.Mode, &r.Status, &params, &r.Added, &r.Checked, &errMsg, &r.StartedAt, &completedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync run")
		}
		if params.Valid && params.String != "" && params.String != "null" {
			if err := json.Unmarshal([]byte(params.String), &r.Params); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal params of run %s", r.ID)
			}
		}
		r.Error = errMsg.String
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list sync runs iterate")
}

// RecordFailure queues id for retry, bumping the attempt count if it is
// already queued.
func (s *SQLiteStore) RecordFailure(ctx context.Context, id int, kind model.FailureKind, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failed_fetches (entry_id, kind, error, attempts, last_failed_at) VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT(entry_id) DO UPDATE SET
			kind = excluded.kind,
			error = excluded.error,
			attempts = failed_fetches.attempts + 1,
			last_failed_at = excluded.last_failed_at`,
		id, string(kind), errMsg, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record failure %d", id)
}

func (s *SQLiteStore) ListFailures(ctx context.Context, limit int) ([]model.FailedFetch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, kind, error, attempts, last_failed_at FROM failed_fetches ORDER BY last_failed_at ASC, entry_id ASC LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list failures")
	}
	defer rows.Close()

	var out []model.FailedFetch
	for rows.Next() {
		var f model.FailedFetch
		if err := rows.Scan(&f.EntryID, &f.Kind, &f.Error, &f.Attempts, &f.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list failures iterate")
}

func (s *SQLiteStore) ResolveFailure(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM failed_fetches WHERE entry_id = ?`, id)
	return eris.Wrapf(err, "sqlite: resolve failure %d", id)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func isSQLiteDuplicate(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

