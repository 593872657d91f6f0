// Package cache persists raw census tables and boundary geometries in a
// local SQLite database so repeated runs only download what is missing.
package cache

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/RSGInc/bts-populationsim/internal/table"
)

// Cache is a SQLite-backed store keyed by (source, geography, state).
type Cache struct {
	db *sql.DB
}

// Open opens the cache database at dsn, configures WAL mode and migrates.
func Open(ctx context.Context, dsn string) (*Cache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "cache: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "cache: exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, migration); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "cache: migrate")
	}
	return &Cache{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS raw_tables (
	source     TEXT NOT NULL,
	geography  TEXT NOT NULL,
	state      TEXT NOT NULL,
	columns    TEXT NOT NULL,
	kinds      TEXT NOT NULL,
	rows       INTEGER NOT NULL,
	data       BLOB NOT NULL,
	fetched_at DATETIME NOT NULL,
	PRIMARY KEY (source, geography, state)
);

CREATE TABLE IF NOT EXISTS features (
	level     TEXT NOT NULL,
	state     TEXT NOT NULL,
	geoid     TEXT NOT NULL,
	attrs     TEXT NOT NULL,
	srid      INTEGER NOT NULL,
	geom      BLOB NOT NULL,
	PRIMARY KEY (level, state, geoid)
);

CREATE TABLE IF NOT EXISTS feature_loads (
	level      TEXT NOT NULL,
	state      TEXT NOT NULL,
	count      INTEGER NOT NULL,
	loaded_at  DATETIME NOT NULL,
	PRIMARY KEY (level, state)
);
`

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Coverage describes what is cached for one (source, geography).
type Coverage struct {
	States  []string
	Columns []string
}

// HasColumns reports whether every name is cached.
func (cv Coverage) HasColumns(names ...string) bool {
	have := make(map[string]bool, len(cv.Columns))
	for _, c := range cv.Columns {
		have[c] = true
	}
	for _, n := range names {
		if !have[n] {
			return false
		}
	}
	return true
}

// MissingStates returns the states in want that are not cached, in order.
func (cv Coverage) MissingStates(want []string) []string {
	have := make(map[string]bool, len(cv.States))
	for _, s := range cv.States {
		have[s] = true
	}
	var out []string
	for _, s := range want {
		if !have[s] {
			out = append(out, s)
		}
	}
	return out
}

// Coverage returns the cached states of a geography and the columns common
// to all of them.
func (c *Cache) Coverage(ctx context.Context, source, geo string) (Coverage, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT state, columns FROM raw_tables WHERE source = ? AND geography = ? ORDER BY state`,
		source, geo,
	)
	if err != nil {
		return Coverage{}, eris.Wrap(err, "cache: query coverage")
	}
	defer rows.Close() //nolint:errcheck

	var cv Coverage
	var common map[string]bool
	var order []string
	for rows.Next() {
		var state, cols string
		if err := rows.Scan(&state, &cols); err != nil {
			return Coverage{}, eris.Wrap(err, "cache: scan coverage")
		}
		cv.States = append(cv.States, state)
		names := strings.Split(cols, ",")
		if common == nil {
			common = make(map[string]bool, len(names))
			for _, n := range names {
				common[n] = true
			}
			order = names
			continue
		}
		present := make(map[string]bool, len(names))
		for _, n := range names {
			present[n] = true
		}
		for n := range common {
			if !present[n] {
				delete(common, n)
			}
		}
	}
	for _, n := range order {
		if common[n] {
			cv.Columns = append(cv.Columns, n)
		}
	}
	return cv, eris.Wrap(rows.Err(), "cache: iterate coverage")
}

// StoreTable replaces the cached table of one state.
func (c *Cache) StoreTable(ctx context.Context, source, geo, state string, t *table.Table) error {
	var buf bytes.Buffer
	if err := table.WriteCSV(&buf, t); err != nil {
		return eris.Wrap(err, "cache: encode table")
	}
	kinds := make([]string, 0, len(t.Names()))
	for _, n := range t.Names() {
		kinds = append(kinds, t.Col(n).Kind().String())
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO raw_tables (source, geography, state, columns, kinds, rows, data, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		source, geo, state, strings.Join(t.Names(), ","), strings.Join(kinds, ","), t.Len(), buf.Bytes(), time.Now().UTC(),
	)
	return eris.Wrapf(err, "cache: store %s/%s/%s", source, geo, state)
}

// LoadTable returns the cached rows of the given states concatenated in
// state order. States that are not cached are skipped.
func (c *Cache) LoadTable(ctx context.Context, source, geo string, states []string) (*table.Table, error) {
	out := table.Empty()
	for _, st := range states {
		var cols, kinds string
		var data []byte
		err := c.db.QueryRowContext(ctx,
			`SELECT columns, kinds, data FROM raw_tables WHERE source = ? AND geography = ? AND state = ?`,
			source, geo, st,
		).Scan(&cols, &kinds, &data)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "cache: load %s/%s/%s", source, geo, st)
		}
		t, err := table.ReadCSV(bytes.NewReader(data), storedSchema(cols, kinds))
		if err != nil {
			return nil, eris.Wrapf(err, "cache: decode %s/%s/%s", source, geo, st)
		}
		if err := out.Append(t); err != nil {
			return nil, eris.Wrapf(err, "cache: combine %s/%s", source, geo)
		}
	}
	return out, nil
}

func storedSchema(cols, kinds string) table.Schema {
	names := strings.Split(cols, ",")
	ks := strings.Split(kinds, ",")
	schema := make(table.Schema, len(names))
	for i, n := range names {
		k := table.String
		if i < len(ks) {
			switch ks[i] {
			case table.Int.String():
				k = table.Int
			case table.Float.String():
				k = table.Float
			}
		}
		schema[i] = table.Field{Name: n, Kind: k, Fill: table.KeepNull}
	}
	return schema
}

// Invalidate drops every cached state of a geography.
func (c *Cache) Invalidate(ctx context.Context, source, geo string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM raw_tables WHERE source = ? AND geography = ?`, source, geo)
	return eris.Wrapf(err, "cache: invalidate %s/%s", source, geo)
}

// Feature is one cached boundary: its id, string attributes and EWKB
// geometry.
type Feature struct {
	GeoID string
	Attrs map[string]string
	SRID  int
	EWKB  []byte
}

// HasFeatures reports whether the features of (level, state) are cached.
func (c *Cache) HasFeatures(ctx context.Context, level, state string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feature_loads WHERE level = ? AND state = ?`, level, state,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "cache: query feature loads")
	}
	return n > 0, nil
}

// StoreFeatures replaces the cached features of (level, state).
func (c *Cache) StoreFeatures(ctx context.Context, level, state string, feats []Feature) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "cache: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM features WHERE level = ? AND state = ?`, level, state); err != nil {
		return eris.Wrap(err, "cache: clear features")
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO features (level, state, geoid, attrs, srid, geom) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "cache: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, f := range feats {
		attrs, err := json.Marshal(f.Attrs)
		if err != nil {
			return eris.Wrap(err, "cache: marshal attrs")
		}
		if _, err := stmt.ExecContext(ctx, level, state, f.GeoID, string(attrs), f.SRID, f.EWKB); err != nil {
			return eris.Wrapf(err, "cache: insert feature %s", f.GeoID)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO feature_loads (level, state, count, loaded_at) VALUES (?, ?, ?, ?)`,
		level, state, len(feats), time.Now().UTC(),
	); err != nil {
		return eris.Wrap(err, "cache: record feature load")
	}
	return eris.Wrap(tx.Commit(), "cache: commit")
}

// LoadFeatures returns the cached features of (level, state) ordered by id.
func (c *Cache) LoadFeatures(ctx context.Context, level, state string) ([]Feature, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT geoid, attrs, srid, geom FROM features WHERE level = ? AND state = ? ORDER BY geoid`,
		level, state,
	)
	if err != nil {
		return nil, eris.Wrap(err, "cache: query features")
	}
	defer rows.Close() //nolint:errcheck

	var out []Feature
	for rows.Next() {
		var f Feature
		var attrs string
		if err := rows.Scan(&f.GeoID, &attrs, &f.SRID, &f.EWKB); err != nil {
			return nil, eris.Wrap(err, "cache: scan feature")
		}
		if err := json.Unmarshal([]byte(attrs), &f.Attrs); err != nil {
			return nil, eris.Wrapf(err, "cache: decode attrs of %s", f.GeoID)
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "cache: iterate features")
}

// InvalidateFeatures drops the cached features of a level.
func (c *Cache) InvalidateFeatures(ctx context.Context, level string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM features WHERE level = ?`, level); err != nil {
		return eris.Wrapf(err, "cache: invalidate features %s", level)
	}
	_, err := c.db.ExecContext(ctx, `DELETE FROM feature_loads WHERE level = ?`, level)
	return eris.Wrapf(err, "cache: invalidate feature loads %s", level)
}
