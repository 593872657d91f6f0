package table

import (
	"fmt"

	"github.com/rotisserie/eris"
)

type fillMode uint8

const (
	fillKeepNull fillMode = iota
	fillReject
	fillValue
)

// FillPolicy decides what happens to an empty cell when a column is typed.
type FillPolicy struct {
	mode  fillMode
	value string
}

var (
	// KeepNull leaves empty cells as missing values.
	KeepNull = FillPolicy{mode: fillKeepNull}
	// Reject fails table construction on an empty cell.
	Reject = FillPolicy{mode: fillReject}
)

// FillWith substitutes v for empty cells.
func FillWith(v string) FillPolicy {
	return FillPolicy{mode: fillValue, value: v}
}

// Field declares one typed column.
type Field struct {
	Name string
	Kind Kind
	Fill FillPolicy
}

// Schema is an ordered list of typed fields.
type Schema []Field

// Names returns the field names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, f := range s {
		out[i] = f.Name
	}
	return out
}

// Lookup returns the named field.
func (s Schema) Lookup(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ParseError reports a cell that does not fit its declared kind.
type ParseError struct {
	Column string
	Row    int
	Value  string
	Kind   Kind
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("table: column %q row %d: cannot parse %q as %s", e.Column, e.Row, e.Value, e.Kind)
}

// EmptyCellError reports an empty cell in a column whose policy is Reject.
type EmptyCellError struct {
	Column string
	Row    int
}

func (e *EmptyCellError) Error() string {
	return fmt.Sprintf("table: column %q row %d: empty value not allowed", e.Column, e.Row)
}

// fieldBuilder accumulates raw cells into a typed column.
type fieldBuilder struct {
	field Field
	col   *Column
}

func newFieldBuilder(f Field) *fieldBuilder {
	return &fieldBuilder{field: f, col: NewColumn(f.Name, f.Kind, 0)}
}

func (b *fieldBuilder) add(raw string) error {
	c := b.col
	row := c.Len()
	switch c.kind {
	case Int:
		c.ints = append(c.ints, 0)
	case Float:
		c.floats = append(c.floats, 0)
	default:
		c.strs = append(c.strs, "")
	}
	if c.null != nil {
		c.null = append(c.null, false)
	}

	if raw == "" {
		switch b.field.Fill.mode {
		case fillReject:
			return &EmptyCellError{Column: c.name, Row: row}
		case fillValue:
			raw = b.field.Fill.value
		default:
			c.SetNull(row)
			return nil
		}
	}
	if err := c.SetStr(row, raw); err != nil {
		return &ParseError{Column: c.name, Row: row, Value: raw, Kind: c.kind}
	}
	return nil
}

// Cast converts the columns named in schema to their declared kinds and
// applies each field's fill policy. Columns absent from the schema are kept
// as they are; schema fields absent from the table are an error.
func Cast(t *Table, schema Schema) (*Table, error) {
	out := t.Clone()
	for _, f := range schema {
		c := out.Col(f.Name)
		if c == nil {
			return nil, eris.Errorf("table: cast: missing column %q", f.Name)
		}
		b := newFieldBuilder(f)
		for i := 0; i < c.Len(); i++ {
			if err := b.add(c.Str(i)); err != nil {
				return nil, err
			}
		}
		if err := out.Set(b.col); err != nil {
			return nil, err
		}
	}
	return out, nil
}
