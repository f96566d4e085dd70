// Package store persists digest runs and their generated digests.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/autumnsgrove/clearing-cli/internal/model"
)

// ErrNotFound is returned when a requested run or digest does not exist.
var ErrNotFound = eris.New("not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the digest pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, topics []string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunStages(ctx context.Context, runID string, stages map[model.Stage]model.StageCounts) error
	UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Digests
	SaveDigest(ctx context.Context, digest *model.Digest) error
	GetDigest(ctx context.Context, digestID string) (*model.Digest, error)
	GetDigestByRun(ctx context.Context, runID string) (*model.Digest, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures the storage driver.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" mapstructure:"driver"`
	// DSN is the sqlite path or postgres connection string.
	DSN string `yaml:"dsn" mapstructure:"dsn"`
	// Pool tunes the postgres connection pool.
	Pool *PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open creates the configured Store and runs migrations.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		s, err = NewSQLite(cfg.DSN)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DSN, cfg.Pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
