package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/table"
)

// BatchColumn tags every published row with its batch name.
const BatchColumn = "batch"

// StatsTable receives the validation statistics of every batch.
const StatsTable = "populationsim_stats"

var statsKeys = []string{BatchColumn, "control_name", "geography"}

// Dataset is a named table to publish.
type Dataset struct {
	Name  string
	Table *table.Table
}

// Publisher writes batch tables into one schema.
type Publisher struct {
	pool   Pool
	schema string
	log    *zap.Logger
}

// NewPublisher returns a Publisher writing into schema. An empty schema
// uses the search path.
func NewPublisher(pool Pool, schema string) *Publisher {
	return &Publisher{pool: pool, schema: schema, log: zap.L().With(zap.String("component", "publish"))}
}

func (p *Publisher) qualified(name string) string {
	if p.schema == "" {
		return name
	}
	return p.schema + "." + name
}

// createSQL declares a table with the batch column followed by the columns
// of t. keys, when set, form the primary key.
func (p *Publisher) createSQL(name string, t *table.Table, keys []string) string {
	defs := []string{pgx.Identifier{BatchColumn}.Sanitize() + " TEXT NOT NULL"}
	for _, n := range t.Names() {
		defs = append(defs, pgx.Identifier{strings.ToLower(n)}.Sanitize()+" "+SQLType(t.Col(n).Kind()))
	}
	if len(keys) > 0 {
		defs = append(defs, "PRIMARY KEY ("+quoteAndJoin(keys)+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sanitizeTable(p.qualified(name)), strings.Join(defs, ", "))
}

// batchRows prefixes every row of t with batch.
func batchRows(batch string, t *table.Table) ([]string, [][]any) {
	cols, rows := Rows(t)
	for i, r := range rows {
		rows[i] = append([]any{batch}, r...)
	}
	return append([]string{BatchColumn}, cols...), rows
}

// Replace swaps the rows of batch in the named table for the rows of t.
func (p *Publisher) Replace(ctx context.Context, name, batch string, t *table.Table) (int64, error) {
	qualified := p.qualified(name)
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: publish %s: begin tx", qualified)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if p.schema != "" {
		if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{p.schema}.Sanitize()); err != nil {
			return 0, eris.Wrapf(err, "db: create schema %s", p.schema)
		}
	}
	if _, err := tx.Exec(ctx, p.createSQL(name, t, nil)); err != nil {
		return 0, eris.Wrapf(err, "db: create table %s", qualified)
	}
	del := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", sanitizeTable(qualified), pgx.Identifier{BatchColumn}.Sanitize())
	if _, err := tx.Exec(ctx, del, batch); err != nil {
		return 0, eris.Wrapf(err, "db: clear batch %s from %s", batch, qualified)
	}
	cols, rows := batchRows(batch, t)
	n, err := CopyFrom(ctx, tx, qualified, cols, rows)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: publish %s: commit", qualified)
	}
	return n, nil
}

// UpsertStats merges validation statistics keyed by batch, control and
// geography.
func (p *Publisher) UpsertStats(ctx context.Context, batch string, stats *table.Table) (int64, error) {
	qualified := p.qualified(StatsTable)
	if _, err := p.pool.Exec(ctx, p.createSQL(StatsTable, stats, statsKeys)); err != nil {
		return 0, eris.Wrapf(err, "db: create table %s", qualified)
	}
	cols, rows := batchRows(batch, stats)
	return BulkUpsert(ctx, p.pool, UpsertConfig{Table: qualified, Columns: cols, ConflictKeys: statsKeys}, rows)
}

// PublishBatch replaces each dataset of batch, then merges its statistics
// when stats is not nil. It returns the rows written per table.
func (p *Publisher) PublishBatch(ctx context.Context, batch string, sets []Dataset, stats *table.Table) (map[string]int64, error) {
	counts := make(map[string]int64, len(sets)+1)
	for _, ds := range sets {
		n, err := p.Replace(ctx, ds.Name, batch, ds.Table)
		if err != nil {
			return counts, err
		}
		counts[ds.Name] = n
		p.log.Info("published table", zap.String("batch", batch), zap.String("table", ds.Name), zap.Int64("rows", n))
	}
	if stats != nil {
		n, err := p.UpsertStats(ctx, batch, stats)
		if err != nil {
			return counts, err
		}
		counts[StatsTable] = n
	}
	return counts, nil
}
