package table

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
)

// FromRecords builds a table from a header and string records. With a schema,
// only the schema's columns are kept, in schema order, and every schema
// column must be present in the header. Without a schema, column kinds are
// inferred.
func FromRecords(header []string, records [][]string, schema Schema) (*Table, error) {
	if schema == nil {
		return inferRecords(header, records)
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[h] = i
	}
	builders := make([]*fieldBuilder, len(schema))
	idx := make([]int, len(schema))
	for i, f := range schema {
		p, ok := pos[f.Name]
		if !ok {
			return nil, eris.Errorf("table: missing column %q", f.Name)
		}
		idx[i] = p
		builders[i] = newFieldBuilder(f)
	}
	for r, rec := range records {
		for i, b := range builders {
			if idx[i] >= len(rec) {
				return nil, eris.Errorf("table: row %d has %d fields", r, len(rec))
			}
			if err := b.add(rec[idx[i]]); err != nil {
				return nil, err
			}
		}
	}
	cols := make([]*Column, len(builders))
	for i, b := range builders {
		cols[i] = b.col
	}
	if len(cols) == 0 {
		return &Table{index: map[string]int{}}, nil
	}
	return New(cols...)
}

// inferRecords types each column as int, float or string, whichever is the
// narrowest kind that parses every non-empty cell.
func inferRecords(header []string, records [][]string) (*Table, error) {
	cols := make([]*Column, len(header))
	for j, name := range header {
		kind := Int
		for _, rec := range records {
			if j >= len(rec) || rec[j] == "" {
				continue
			}
			if kind == Int {
				if _, err := strconv.ParseInt(rec[j], 10, 64); err == nil {
					continue
				}
				kind = Float
			}
			if _, err := strconv.ParseFloat(rec[j], 64); err != nil {
				kind = String
				break
			}
		}
		b := newFieldBuilder(Field{Name: name, Kind: kind})
		for _, rec := range records {
			v := ""
			if j < len(rec) {
				v = rec[j]
			}
			if err := b.add(v); err != nil {
				return nil, err
			}
		}
		cols[j] = b.col
	}
	if len(cols) == 0 {
		return &Table{index: map[string]int{}}, nil
	}
	return New(cols...)
}

// ReadCSV parses CSV with a header row. See FromRecords for schema handling.
func ReadCSV(r io.Reader, schema Schema) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("table: empty csv")
	}
	if err != nil {
		return nil, eris.Wrap(err, "table: read header")
	}
	if len(header) > 0 {
		header[0] = trimBOM(header[0])
	}
	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "table: read rows")
	}
	return FromRecords(header, records, schema)
}

// ReadCSVFile opens path and parses it with ReadCSV.
func ReadCSVFile(path string, schema Schema) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "table: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	t, err := ReadCSV(f, schema)
	if err != nil {
		return nil, eris.Wrapf(err, "table: parse %s", path)
	}
	return t, nil
}

// WriteCSV writes the table with a header row. Missing values are empty.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Names()); err != nil {
		return eris.Wrap(err, "table: write header")
	}
	rec := make([]string, len(t.cols))
	for i := 0; i < t.rows; i++ {
		for j, c := range t.cols {
			rec[j] = c.Str(i)
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "table: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "table: flush")
}

// WriteCSVFile writes the table to path, creating parent directories.
func WriteCSVFile(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "table: create directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "table: create %s", path)
	}
	if err := WriteCSV(f, t); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrap(f.Close(), "table: close")
}

func trimBOM(s string) string {
	if len(s) >= 3 && s[0] == 0xEF && s[1] == 0xBB && s[2] == 0xBF {
		return s[3:]
	}
	return s
}
