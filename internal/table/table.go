package table

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Table is an ordered set of equal-length columns.
type Table struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// New builds a table from columns of equal length.
func New(cols ...*Column) (*Table, error) {
	t := &Table{index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if i == 0 {
			t.rows = c.Len()
		}
		if err := t.Set(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Empty returns a table with no columns and no rows.
func Empty() *Table {
	return &Table{index: map[string]int{}}
}

// MustNew is New that panics on error. Intended for fixtures.
func MustNew(cols ...*Column) *Table {
	t, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.rows }

// Names returns the column names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.name
	}
	return out
}

// Has reports whether the table has every named column.
func (t *Table) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := t.index[n]; !ok {
			return false
		}
	}
	return true
}

// Col returns the named column or nil.
func (t *Table) Col(name string) *Column {
	i, ok := t.index[name]
	if !ok {
		return nil
	}
	return t.cols[i]
}

// Column returns the named column or an error naming it.
func (t *Table) Column(name string) (*Column, error) {
	c := t.Col(name)
	if c == nil {
		return nil, eris.Errorf("table: missing column %q", name)
	}
	return c, nil
}

// Set adds the column, replacing any existing column of the same name.
func (t *Table) Set(c *Column) error {
	if len(t.cols) > 0 || t.rows > 0 {
		if c.Len() != t.rows {
			return eris.Errorf("table: column %q has %d rows, want %d", c.name, c.Len(), t.rows)
		}
	} else {
		t.rows = c.Len()
	}
	if i, ok := t.index[c.name]; ok {
		t.cols[i] = c
		return nil
	}
	t.index[c.name] = len(t.cols)
	t.cols = append(t.cols, c)
	return nil
}

// Drop removes the named columns; unknown names are ignored.
func (t *Table) Drop(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := t.cols[:0]
	for _, c := range t.cols {
		if !drop[c.name] {
			kept = append(kept, c)
		}
	}
	t.cols = kept
	t.reindex()
}

// Rename renames columns by the given mapping.
func (t *Table) Rename(m map[string]string) error {
	for i, c := range t.cols {
		if to, ok := m[c.name]; ok {
			t.cols[i] = c.Renamed(to)
		}
	}
	seen := make(map[string]bool, len(t.cols))
	for _, c := range t.cols {
		if seen[c.name] {
			return eris.Errorf("table: rename produces duplicate column %q", c.name)
		}
		seen[c.name] = true
	}
	t.reindex()
	return nil
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.cols))
	for i, c := range t.cols {
		t.index[c.name] = i
	}
}

// Take returns a new table holding the given rows in order.
func (t *Table) Take(rows []int) *Table {
	out := &Table{index: make(map[string]int, len(t.cols)), rows: len(rows)}
	for _, c := range t.cols {
		out.index[c.name] = len(out.cols)
		out.cols = append(out.cols, c.take(rows))
	}
	return out
}

// Filter returns the rows for which keep returns true.
func (t *Table) Filter(keep func(i int) bool) *Table {
	var rows []int
	for i := 0; i < t.rows; i++ {
		if keep(i) {
			rows = append(rows, i)
		}
	}
	return t.Take(rows)
}

// Select returns a table with only the named columns, in that order.
func (t *Table) Select(names ...string) (*Table, error) {
	out := &Table{index: make(map[string]int, len(names)), rows: t.rows}
	for _, n := range names {
		c, err := t.Column(n)
		if err != nil {
			return nil, err
		}
		out.index[n] = len(out.cols)
		out.cols = append(out.cols, c)
	}
	return out, nil
}

// Clone deep-copies the table.
func (t *Table) Clone() *Table {
	out := &Table{index: make(map[string]int, len(t.cols)), rows: t.rows}
	for _, c := range t.cols {
		out.index[c.name] = len(out.cols)
		out.cols = append(out.cols, c.Clone())
	}
	return out
}

// Append adds the rows of o. Both tables must have the same column names;
// values are converted to t's column kinds.
func (t *Table) Append(o *Table) error {
	if len(t.cols) == 0 {
		*t = *o.Clone()
		return nil
	}
	if len(o.cols) != len(t.cols) {
		return eris.Errorf("table: append: %d columns, want %d", len(o.cols), len(t.cols))
	}
	src := make([]*Column, len(t.cols))
	for i, c := range t.cols {
		oc := o.Col(c.name)
		if oc == nil {
			return eris.Errorf("table: append: missing column %q", c.name)
		}
		if c.kind == Int && oc.kind == Float {
			promoted, err := c.Convert(Float)
			if err != nil {
				return err
			}
			t.cols[i] = promoted
		} else {
			// columns may be shared with tables built by Select
			t.cols[i] = c.Clone()
		}
		src[i] = oc
	}
	for r := 0; r < o.rows; r++ {
		for i, c := range t.cols {
			c.appendRow(src[i], r)
		}
	}
	t.rows += o.rows
	return nil
}

// NumericNames returns the names of numeric columns, excluding skip.
func (t *Table) NumericNames(skip ...string) []string {
	ex := make(map[string]bool, len(skip))
	for _, s := range skip {
		ex[s] = true
	}
	var out []string
	for _, c := range t.cols {
		if c.Numeric() && !ex[c.name] {
			out = append(out, c.name)
		}
	}
	return out
}

// RowSums sums the named columns per row, skipping missing values.
func (t *Table) RowSums(names ...string) ([]float64, error) {
	out := make([]float64, t.rows)
	for _, n := range names {
		c, err := t.Column(n)
		if err != nil {
			return nil, err
		}
		for i := range out {
			if !c.IsNull(i) {
				out[i] += c.Float(i)
			}
		}
	}
	return out, nil
}

// Keyer builds composite string keys over a fixed set of columns.
type Keyer struct {
	cols []*Column
	sb   strings.Builder
}

// NewKeyer resolves the key columns of t.
func NewKeyer(t *Table, names ...string) (*Keyer, error) {
	k := &Keyer{}
	for _, n := range names {
		c, err := t.Column(n)
		if err != nil {
			return nil, err
		}
		k.cols = append(k.cols, c)
	}
	return k, nil
}

// Key returns the composite key of row i.
func (k *Keyer) Key(i int) string {
	k.sb.Reset()
	for j, c := range k.cols {
		if j > 0 {
			k.sb.WriteByte(0x1f)
		}
		if c.kind == Int && !c.IsNull(i) {
			k.sb.WriteString(strconv.FormatInt(c.ints[i], 10))
			continue
		}
		k.sb.WriteString(c.Str(i))
	}
	return k.sb.String()
}
