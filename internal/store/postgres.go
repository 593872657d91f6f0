package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/RSGInc/bts-populationsim/internal/db"
)

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
	pool, err := db.NewPool(ctx, connString, poolSize(poolCfg))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: ledger")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func poolSize(cfg *PoolConfig) func(*pgxpool.Config) {
	return func(c *pgxpool.Config) {
		c.MaxConns, c.MinConns = 4, 1
		if cfg == nil {
			return
		}
		if cfg.MaxConns > 0 {
			c.MaxConns = cfg.MaxConns
		}
		if cfg.MinConns > 0 {
			c.MinConns = cfg.MinConns
		}
	}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS batch_runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	batch      TEXT NOT NULL,
	states     TEXT NOT NULL,
	stage      TEXT NOT NULL DEFAULT 'prepare',
	status     TEXT NOT NULL DEFAULT 'running',
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_batch_runs_batch ON batch_runs(batch);
CREATE INDEX IF NOT EXISTS idx_batch_runs_status ON batch_runs(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, batch string, states []string) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO batch_runs (id, batch, states, stage, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, batch, joinStates(states), string(StagePrepare), string(StatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert run for %s", batch)
	}
	return newRun(id, batch, states, now), nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, id string, stage Stage, status Status, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_runs SET stage = $1, status = $2, error = $3, updated_at = $4 WHERE id = $5`,
		string(stage), string(status), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var r Run
	var states, stage, status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, batch, states, stage, status, error, created_at, updated_at FROM batch_runs WHERE id = $1`,
		id,
	).Scan(&r.ID, &r.Batch, &states, &stage, &status, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: get run %s: run not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", id)
	}
	r.States, r.Stage, r.Status = splitStates(states), Stage(stage), Status(status)
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, batch, states, stage, status, error, created_at, updated_at FROM batch_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Batch != "" {
		query += fmt.Sprintf(` AND batch = $%d`, argIdx)
		args = append(args, filter.Batch)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var states, stage, status string
		if err := rows.Scan(&r.ID, &r.Batch, &states, &stage, &status, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.States, r.Stage, r.Status = splitStates(states), Stage(stage), Status(status)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
