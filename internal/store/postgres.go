package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/autumnsgrove/clearing-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool used by the store. Tests inject a
// pgxmock pool through it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig tunes the pgx pool.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         UUID PRIMARY KEY,
	topics     JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	stages     JSONB,
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS digests (
	id           UUID PRIMARY KEY,
	run_id       UUID NOT NULL REFERENCES runs(id),
	markdown     TEXT NOT NULL,
	metadata     JSONB NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_digests_run_id ON digests(run_id);
`

// preparedStatements are registered on every new connection so the hot-path
// queries skip the parse step.
var preparedStatements = map[string]string{
	"get_run": `SELECT id, topics, status, stages, result, created_at, updated_at
		FROM runs WHERE id = $1`,
	"update_run_status": `UPDATE runs SET status = $2, updated_at = $3 WHERE id = $1`,
	"update_run_stages": `UPDATE runs SET stages = $2, updated_at = $3 WHERE id = $1`,
}

// NewPostgres connects to Postgres and returns a store backed by a tuned pool.
func NewPostgres(ctx context.Context, dsn string, cfg *PoolConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if cfg != nil {
		if cfg.MaxConns > 0 {
			poolCfg.MaxConns = cfg.MaxConns
		}
		if cfg.MinConns > 0 {
			poolCfg.MinConns = cfg.MinConns
		}
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, topics []string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal topics")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, topics, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, topicsJSON, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Topics:    topics,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $2, updated_at = $3 WHERE id = $1`,
		runID, string(status), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	return checkTagAffected(tag, "run", runID)
}

func (s *PostgresStore) UpdateRunStages(ctx context.Context, runID string, stages map[model.Stage]model.StageCounts) error {
	stagesJSON, err := json.Marshal(stages)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stages")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET stages = $2, updated_at = $3 WHERE id = $1`,
		runID, stagesJSON, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run stages %s", runID)
	}
	return checkTagAffected(tag, "run", runID)
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $2, status = $3, updated_at = $4 WHERE id = $1`,
		runID, resultJSON, string(status), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	return checkTagAffected(tag, "run", runID)
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, topics, status, stages, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	return scanRunPG(row)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, topics, status, stages, result, created_at, updated_at FROM runs`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` WHERE status = $1`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRunPG(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveDigest(ctx context.Context, digest *model.Digest) error {
	if digest.ID == "" {
		digest.ID = uuid.New().String()
	}
	if digest.GeneratedAt.IsZero() {
		digest.GeneratedAt = time.Now().UTC()
	}

	metaJSON, err := json.Marshal(digest.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal digest metadata")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO digests (id, run_id, markdown, metadata, generated_at) VALUES ($1, $2, $3, $4, $5)`,
		digest.ID, digest.RunID, digest.Markdown, metaJSON, digest.GeneratedAt,
	)
	return eris.Wrapf(err, "postgres: insert digest for run %s", digest.RunID)
}

func (s *PostgresStore) GetDigest(ctx context.Context, digestID string) (*model.Digest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, run_id, markdown, metadata, generated_at FROM digests WHERE id = $1`,
		digestID,
	)
	return scanDigestPG(row)
}

func (s *PostgresStore) GetDigestByRun(ctx context.Context, runID string) (*model.Digest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, run_id, markdown, metadata, generated_at FROM digests
		 WHERE run_id = $1 ORDER BY generated_at DESC LIMIT 1`,
		runID,
	)
	return scanDigestPG(row)
}

func scanRunPG(row pgx.Row) (*model.Run, error) {
	var (
		r          model.Run
		topicsJSON []byte
		stages     []byte
		result     []byte
	)
	err := row.Scan(&r.ID, &topicsJSON, &r.Status, &stages, &result, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "store: run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan run")
	}

	if err := json.Unmarshal(topicsJSON, &r.Topics); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal topics")
	}

	switch {
	case result != nil:
		var rr model.RunResult
		if err := json.Unmarshal(result, &rr); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal result")
		}
		r.Result = &rr
	case stages != nil:
		rr := model.NewRunResult()
		if err := json.Unmarshal(stages, &rr.Stages); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal stages")
		}
		r.Result = rr
	}

	return &r, nil
}

func scanDigestPG(row pgx.Row) (*model.Digest, error) {
	var (
		d        model.Digest
		metaJSON []byte
	)
	err := row.Scan(&d.ID, &d.RunID, &d.Markdown, &metaJSON, &d.GeneratedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "store: digest")
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan digest")
	}
	if err := json.Unmarshal(metaJSON, &d.Metadata); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal digest metadata")
	}
	return &d, nil
}

func checkTagAffected(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "store: %s %s", entity, id)
	}
	return nil
}
