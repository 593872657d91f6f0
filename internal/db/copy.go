package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/RSGInc/bts-populationsim/internal/table"
)

// Copier is implemented by pools and transactions.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// CopyFrom bulk-inserts rows into a possibly schema-qualified table using
// the COPY protocol.
func CopyFrom(ctx context.Context, c Copier, name string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := c.CopyFrom(ctx, identifier(name), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", name)
	}
	return n, nil
}

// Rows converts t to COPY input. Column names are lowercased and null cells
// become SQL NULL.
func Rows(t *table.Table) ([]string, [][]any) {
	names := t.Names()
	cols := make([]*table.Column, len(names))
	out := make([]string, len(names))
	for i, n := range names {
		cols[i] = t.Col(n)
		out[i] = strings.ToLower(n)
	}
	rows := make([][]any, t.Len())
	for r := range rows {
		row := make([]any, len(cols))
		for j, c := range cols {
			if c.IsNull(r) {
				continue
			}
			switch c.Kind() {
			case table.Int:
				row[j] = c.Int(r)
			case table.Float:
				row[j] = c.Float(r)
			default:
				row[j] = c.Str(r)
			}
		}
		rows[r] = row
	}
	return out, rows
}

// SQLType is the column type used for a table kind.
func SQLType(k table.Kind) string {
	switch k {
	case table.Int:
		return "BIGINT"
	case table.Float:
		return "DOUBLE PRECISION"
	}
	return "TEXT"
}

func identifier(name string) pgx.Identifier {
	if parts := strings.SplitN(name, ".", 2); len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}
	}
	return pgx.Identifier{name}
}
