package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RSGInc/bts-populationsim/internal/table"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func seedTable() *table.Table {
	hh := table.MustNew(
		table.Ints("hh_id", 610100000001, 610100000002),
		table.Floats("WGTP", 10.5, 20),
		table.Strings("SERIALNO", "2019HU01", "2019HU02"),
	)
	hh.Col("WGTP").SetNull(1)
	return hh
}

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "test_table", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock := newMock(t)
	mock.ExpectCopyFrom(pgx.Identifier{"popsim", "seed"}, []string{"a"}).WillReturnResult(2)

	n, err := CopyFrom(context.Background(), mock, "popsim.seed", []string{"a"}, [][]any{{1}, {2}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock := newMock(t)
	mock.ExpectCopyFrom(pgx.Identifier{"seed"}, []string{"a"}).WillReturnError(fmt.Errorf("permission denied"))

	_, err := CopyFrom(context.Background(), mock, "seed", []string{"a"}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO seed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRows(t *testing.T) {
	cols, rows := Rows(seedTable())
	assert.Equal(t, []string{"hh_id", "wgtp", "serialno"}, cols)
	assert.Equal(t, []any{int64(610100000001), 10.5, "2019HU01"}, rows[0])
	assert.Nil(t, rows[1][1])
}

func TestSQLType(t *testing.T) {
	assert.Equal(t, "BIGINT", SQLType(table.Int))
	assert.Equal(t, "DOUBLE PRECISION", SQLType(table.Float))
	assert.Equal(t, "TEXT", SQLType(table.String))
}

func TestPublisher_CreateSQL(t *testing.T) {
	p := NewPublisher(nil, "popsim")
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "popsim"."seed" ("batch" TEXT NOT NULL, "hh_id" BIGINT, "wgtp" DOUBLE PRECISION, "serialno" TEXT, PRIMARY KEY ("batch", "hh_id"))`,
		p.createSQL("seed", seedTable(), []string{"batch", "hh_id"}),
	)
}

func TestPublisher_Replace(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("DELETE FROM").WithArgs("ca-or").WillReturnResult(pgxmock.NewResult("DELETE", 7))
	mock.ExpectCopyFrom(pgx.Identifier{"popsim", "seed_households"}, []string{"batch", "hh_id", "wgtp", "serialno"}).WillReturnResult(2)
	mock.ExpectCommit()

	n, err := NewPublisher(mock, "popsim").Replace(context.Background(), "seed_households", "ca-or", seedTable())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublisher_ReplaceBeginFails(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin().WillReturnError(fmt.Errorf("db down"))

	_, err := NewPublisher(mock, "").Replace(context.Background(), "seed_households", "ca-or", seedTable())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}

func TestPublisher_PublishBatch(t *testing.T) {
	mock := newMock(t)
	stats := table.MustNew(
		table.Strings("control_name", "HH_TOTAL"),
		table.Strings("geography", "BG"),
		table.Floats("prmse", 1.5),
	)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("DELETE FROM").WithArgs("ca").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"seed_households"}, []string{"batch", "hh_id", "wgtp", "serialno"}).WillReturnResult(2)
	mock.ExpectCommit()

	mock.ExpectExec(`PRIMARY KEY \("batch", "control_name", "geography"\)`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{TempName(StatsTable)}, []string{"batch", "control_name", "geography", "prmse"}).WillReturnResult(1)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	counts, err := NewPublisher(mock, "").PublishBatch(context.Background(), "ca",
		[]Dataset{{Name: "seed_households", Table: seedTable()}}, stats)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"seed_households": 2, StatsTable: 1}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_Validation(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{Table: "t", Columns: []string{"id"}, ConflictKeys: []string{"id"}}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = BulkUpsert(context.TODO(), nil, UpsertConfig{Table: "t", ConflictKeys: []string{"id"}}, [][]any{{1}})
	assert.ErrorContains(t, err, "no columns specified")

	_, err = BulkUpsert(context.TODO(), nil, UpsertConfig{Table: "t", Columns: []string{"id"}}, [][]any{{1}})
	assert.ErrorContains(t, err, "no conflict keys specified")
}

func TestBulkUpsert_OnlyKeysDoesNothing(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_popsim_keys"}, []string{"id"}).WillReturnResult(1)
	mock.ExpectExec("ON CONFLICT .* DO NOTHING").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{Table: "popsim.keys", Columns: []string{"id"}, ConflictKeys: []string{"id"}}, [][]any{{1}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"simple"`, sanitizeTable("simple"))
	assert.Equal(t, `"popsim"."seed"`, sanitizeTable("popsim.seed"))
	assert.Equal(t, `"id", "name"`, quoteAndJoin([]string{"id", "name"}))
}
