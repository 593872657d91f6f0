package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLite_CreateAndGetRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "ca-or", []string{"CA", "OR"})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, StagePrepare, run.Stage)
	assert.Equal(t, StatusRunning, run.Status)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "ca-or", got.Batch)
	assert.Equal(t, []string{"CA", "OR"}, got.States)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestSQLite_UpdateRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "wa", []string{"WA"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateRun(ctx, run.ID, StageEngine, StatusFailed, "synthesizer failed"))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StageEngine, got.Stage)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "synthesizer failed", got.Error)
}

func TestSQLite_UpdateRunNotFound(t *testing.T) {
	s := newTestSQLite(t)
	err := s.UpdateRun(context.Background(), "missing", StageDone, StatusComplete, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_GetRunNotFound(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestSQLite_ListRuns(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a, err := s.CreateRun(ctx, "ca", []string{"CA"})
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, "or", []string{"OR"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateRun(ctx, a.ID, StageDone, StatusComplete, ""))

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	done, err := s.ListRuns(ctx, RunFilter{Status: StatusComplete})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "ca", done[0].Batch)

	byBatch, err := s.ListRuns(ctx, RunFilter{Batch: "or"})
	require.NoError(t, err)
	require.Len(t, byBatch, 1)
	assert.Equal(t, []string{"OR"}, byBatch[0].States)

	limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`INSERT INTO batch_runs`).
		WithArgs(pgxmock.AnyArg(), "ca-or", "CA,OR", "prepare", "running", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "ca-or", []string{"CA", "OR"})
	require.NoError(t, err)
	assert.Equal(t, "ca-or", run.Batch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`UPDATE batch_runs SET stage = \$1`).
		WithArgs("engine", "failed", "boom", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRun(context.Background(), "missing", StageEngine, StatusFailed, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, batch, states, stage, status, error, created_at, updated_at FROM batch_runs WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "batch", "states", "stage", "status", "error", "created_at", "updated_at"}).
			AddRow("r1", "wa", "WA", "validate", "complete", "", now, now))

	run, err := s.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, StageValidate, run.Stage)
	assert.Equal(t, StatusComplete, run.Status)
	assert.Equal(t, []string{"WA"}, run.States)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRunNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`FROM batch_runs WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRunsFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`AND batch = \$1 AND status = \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("ca", "failed", 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "batch", "states", "stage", "status", "error", "created_at", "updated_at"}).
			AddRow("r1", "ca", "CA", "prepare", "failed", "bad", now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{Batch: "ca", Status: StatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "bad", runs[0].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}
