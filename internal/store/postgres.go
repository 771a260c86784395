package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/wvfoia-sync/internal/db"
	"github.com/sells-group/wvfoia-sync/internal/model"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

const pgUniqueViolation = "23505"

var entryFieldColumns = []string{"entry_id", "key", "value", "position"}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// The engine is single-threaded; a small pool is plenty.
	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, s.pool, postgresMigrations, "migrations/postgres")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count entries")
	}
	return n, nil
}

func (s *PostgresStore) Exists(ctx context.Context, id int) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM entries WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: exists %d", id)
	}
	return exists, nil
}

func (s *PostgresStore) ExistingIDs(ctx context.Context, lo, hi int) ([]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM entries WHERE id BETWEEN $1 AND $2 ORDER BY id`, lo, hi)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: existing ids")
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: existing ids iterate")
}

func (s *PostgresStore) MaxID(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM entries`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: max id")
	}
	return n, nil
}

// Insert writes the entry row and COPYs its fields inside one transaction.
func (s *PostgresStore) Insert(ctx context.Context, rec *model.Record) error {
	now := time.Now().UTC()
	dates, err := pgDates(entryColumns(rec))
	if err != nil {
		return eris.Wrapf(err, "postgres: entry %d", rec.ID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin insert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO entries (id, request_date, completion_date, entry_date, is_amended, synced_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, dates[0], dates[1], dates[2], rec.IsAmended, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return eris.Wrapf(err, "postgres: insert entry %d", rec.ID)
	}

	fields := rec.Fields()
	rows := make([][]any, len(fields))
	for i, f := range fields {
		rows[i] = []any{rec.ID, f.Key, f.Value, i}
	}
	if _, err := db.CopyFrom(ctx, tx, "entry_fields", entryFieldColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: insert fields of entry %d", rec.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "postgres: commit entry %d", rec.ID)
	}
	rec.SyncedAt = now
	return nil
}

// GetRecord returns the stored entry, or nil if it is not present.
func (s *PostgresStore) GetRecord(ctx context.Context, id int) (*model.Record, error) {
	rec := model.NewRecord(id)
	err := s.pool.QueryRow(ctx,
		`SELECT is_amended, synced_at FROM entries WHERE id = $1`, id,
	).Scan(&rec.IsAmended, &rec.SyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get entry %d", id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM entry_fields WHERE entry_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get fields %d", id)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan field")
		}
		rec.Set(k, v)
	}
	return rec, eris.Wrap(rows.Err(), "postgres: get fields iterate")
}

func (s *PostgresStore) StartRun(ctx context.Context, mode model.SyncMode, params map[string]any) (*model.SyncRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, mode, status, params, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(mode), string(model.RunStatusRunning), paramsJSON, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert sync run")
	}

	return &model.SyncRun{
		ID:        id,
		Mode:      mode,
		Status:    model.RunStatusRunning,
		Params:    params,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result model.RunResult) error {
	status := result.Status
	if status == "" {
		status = model.RunStatusComplete
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, added = $2, checked = $3, completed_at = $4 WHERE id = $5`,
		string(status), result.Added, result.Checked, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete sync run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("sync run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, result model.RunResult, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, added = $2, checked = $3, error = $4, completed_at = $5 WHERE id = $6`,
		string(model.RunStatusFailed), result.Added, result.Checked, errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail sync run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("sync run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error) {
	query := `SELECT id, mode, status, params, added, checked, error, started_at, completed_at FROM sync_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Mode != "" {
		query += fmt.Sprintf(` AND mode = $%d`, argIdx)
		args = append(args, string(filter.Mode))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sync runs")
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		var r model.SyncRun
		var mode, status string
		var params []byte
		var errMsg *string
		if err := rows.Scan(&r.ID, &mode, &status, &params, &r.Added, &r.Checked, &errMsg, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync run")
		}
		r.Mode = model.SyncMode(mode)
		r.Status = model.RunStatus(status)
		if len(params) > 0 {
			if err := json.Unmarshal(params, &r.Params); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal params of run %s", r.ID)
			}
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list sync runs iterate")
}

func (s *PostgresStore) RecordFailure(ctx context.Context, id int, kind model.FailureKind, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO failed_fetches (entry_id, kind, error, attempts, last_failed_at) VALUES ($1, $2, $3, 1, $4)
		 ON CONFLICT (entry_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			error = EXCLUDED.error,
			attempts = failed_fetches.attempts + 1,
			last_failed_at = EXCLUDED.last_failed_at`,
		id, string(kind), errMsg, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record failure %d", id)
}

func (s *PostgresStore) ListFailures(ctx context.Context, limit int) ([]model.FailedFetch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entry_id, kind, error, attempts, last_failed_at FROM failed_fetches ORDER BY last_failed_at ASC, entry_id ASC LIMIT $1`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list failures")
	}
	defer rows.Close()

	var out []model.FailedFetch
	for rows.Next() {
		var f model.FailedFetch
		var kind string
		if err := rows.Scan(&f.EntryID, &kind, &f.Error, &f.Attempts, &f.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure")
		}
		f.Kind = model.FailureKind(kind)
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list failures iterate")
}

func (s *PostgresStore) ResolveFailure(ctx context.Context, id int) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM failed_fetches WHERE entry_id = $1`, id)
	return eris.Wrapf(err, "postgres: resolve failure %d", id)
}

// pgDates parses the normalized YYYY-MM-DD columns for the DATE type.
func pgDates(request, completion, entry string) ([3]time.Time, error) {
	var out [3]time.Time
	for i, v := range [3]string{request, completion, entry} {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return out, eris.Wrapf(err, "parse date %q", v)
		}
		out[i] = d
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
