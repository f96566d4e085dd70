package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/autumnsgrove/clearing-cli/internal/model"
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
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	topics     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	stages     TEXT,
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS digests (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	markdown     TEXT NOT NULL,
	metadata     TEXT NOT NULL,
	generated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_digests_run_id ON digests(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, topics []string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal topics")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, topics, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(topicsJSON), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Topics:    topics,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunStages(ctx context.Context, runID string, stages map[model.Stage]model.StageCounts) error {
	stagesJSON, err := json.Marshal(stages)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stages")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET stages = ?, updated_at = ? WHERE id = ?`,
		string(stagesJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run stages %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, topics, status, stages, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, topics, status, stages, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveDigest(ctx context.Context, digest *model.Digest) error {
	if digest.ID == "" {
		digest.ID = uuid.New().String()
	}
	if digest.GeneratedAt.IsZero() {
		digest.GeneratedAt = time.Now().UTC()
	}

	metaJSON, err := json.Marshal(digest.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal digest metadata")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO digests (id, run_id, markdown, metadata, generated_at) VALUES (?, ?, ?, ?, ?)`,
		digest.ID, digest.RunID, digest.Markdown, string(metaJSON), digest.GeneratedAt,
	)
	return eris.Wrapf(err, "sqlite: insert digest for run %s", digest.RunID)
}

func (s *SQLiteStore) GetDigest(ctx context.Context, digestID string) (*model.Digest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, markdown, metadata, generated_at FROM digests WHERE id = ?`,
		digestID,
	)
	return scanDigest(row)
}

func (s *SQLiteStore) GetDigestByRun(ctx context.Context, runID string) (*model.Digest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, markdown, metadata, generated_at FROM digests
		 WHERE run_id = ? ORDER BY generated_at DESC LIMIT 1`,
		runID,
	)
	return scanDigest(row)
}

// scannable covers sql.Row and sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var (
		r          model.Run
		topicsJSON string
		stages     sql.NullString
		result     sql.NullString
	)
	err := row.Scan(&r.ID, &topicsJSON, &r.Status, &stages, &result, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "store: run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan run")
	}

	if err := json.Unmarshal([]byte(topicsJSON), &r.Topics); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal topics")
	}

	switch {
	case result.Valid:
		var rr model.RunResult
		if err := json.Unmarshal([]byte(result.String), &rr); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal result")
		}
		r.Result = &rr
	case stages.Valid:
		// In-flight run: surface the stage counts recorded so far.
		rr := model.NewRunResult()
		if err := json.Unmarshal([]byte(stages.String), &rr.Stages); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal stages")
		}
		r.Result = rr
	}

	return &r, nil
}

func scanDigest(row scannable) (*model.Digest, error) {
	var (
		d        model.Digest
		metaJSON string
	)
	err := row.Scan(&d.ID, &d.RunID, &d.Markdown, &metaJSON, &d.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "store: digest")
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan digest")
	}
	if err := json.Unmarshal([]byte(metaJSON), &d.Metadata); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal digest metadata")
	}
	return &d, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "store: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "store: %s %s", entity, id)
	}
	return nil
}
