// Package table provides a small typed columnar table used to move census
// data between the fetchers, the preparation steps and CSV files.
package table

import (
	"math"
	"strconv"
)

// Kind is the storage type of a column.
type Kind uint8

// Column kinds.
const (
	String Kind = iota
	Int
	Float
)

func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Float:
		return "float"
	default:
		return "string"
	}
}

// Column is a named, typed vector with an optional null mask.
type Column struct {
	name   string
	kind   Kind
	ints   []int64
	floats []float64
	strs   []string
	null   []bool
}

// Ints builds an int column.
func Ints(name string, vals ...int64) *Column {
	return &Column{name: name, kind: Int, ints: append([]int64(nil), vals...)}
}

// Floats builds a float column.
func Floats(name string, vals ...float64) *Column {
	return &Column{name: name, kind: Float, floats: append([]float64(nil), vals...)}
}

// Strings builds a string column.
func Strings(name string, vals ...string) *Column {
	return &Column{name: name, kind: String, strs: append([]string(nil), vals...)}
}

// NewColumn allocates a zero-valued column of n rows.
func NewColumn(name string, kind Kind, n int) *Column {
	c := &Column{name: name, kind: kind}
	switch kind {
	case Int:
		c.ints = make([]int64, n)
	case Float:
		c.floats = make([]float64, n)
	default:
		c.strs = make([]string, n)
	}
	return c
}

func (c *Column) Name() string { return c.name }
func (c *Column) Kind() Kind   { return c.kind }

// Numeric reports whether the column holds numbers.
func (c *Column) Numeric() bool { return c.kind == Int || c.kind == Float }

// Len returns the number of rows.
func (c *Column) Len() int {
	switch c.kind {
	case Int:
		return len(c.ints)
	case Float:
		return len(c.floats)
	default:
		return len(c.strs)
	}
}

// IsNull reports whether row i is missing.
func (c *Column) IsNull(i int) bool {
	return c.null != nil && c.null[i]
}

// SetNull marks row i as missing.
func (c *Column) SetNull(i int) {
	if c.null == nil {
		c.null = make([]bool, c.Len())
	}
	c.null[i] = true
}

// NullCount returns the number of missing rows.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.null {
		if v {
			n++
		}
	}
	return n
}

// Int returns row i as an integer. Floats are truncated, strings parsed.
func (c *Column) Int(i int) int64 {
	switch c.kind {
	case Int:
		return c.ints[i]
	case Float:
		return int64(c.floats[i])
	default:
		v, _ := parseInt(c.strs[i])
		return v
	}
}

// Float returns row i as a float. Missing numeric rows are NaN.
func (c *Column) Float(i int) float64 {
	if c.IsNull(i) {
		return math.NaN()
	}
	switch c.kind {
	case Int:
		return float64(c.ints[i])
	case Float:
		return c.floats[i]
	default:
		v, err := strconv.ParseFloat(c.strs[i], 64)
		if err != nil {
			return math.NaN()
		}
		return v
	}
}

// Str returns the printable form of row i. Missing rows are empty.
func (c *Column) Str(i int) string {
	if c.IsNull(i) {
		return ""
	}
	switch c.kind {
	case Int:
		return strconv.FormatInt(c.ints[i], 10)
	case Float:
		if math.IsNaN(c.floats[i]) {
			return ""
		}
		return strconv.FormatFloat(c.floats[i], 'f', -1, 64)
	default:
		return c.strs[i]
	}
}

// SetInt stores v at row i, converting to the column kind.
func (c *Column) SetInt(i int, v int64) {
	switch c.kind {
	case Int:
		c.ints[i] = v
	case Float:
		c.floats[i] = float64(v)
	default:
		c.strs[i] = strconv.FormatInt(v, 10)
	}
	c.clearNull(i)
}

// SetFloat stores v at row i, converting to the column kind.
func (c *Column) SetFloat(i int, v float64) {
	switch c.kind {
	case Int:
		c.ints[i] = int64(v)
	case Float:
		c.floats[i] = v
	default:
		c.strs[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	c.clearNull(i)
}

// SetStr stores v at row i. Numeric columns parse the value.
func (c *Column) SetStr(i int, v string) error {
	switch c.kind {
	case Int:
		n, err := parseInt(v)
		if err != nil {
			return err
		}
		c.ints[i] = n
	case Float:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.floats[i] = f
	default:
		c.strs[i] = v
	}
	c.clearNull(i)
	return nil
}

func (c *Column) clearNull(i int) {
	if c.null != nil {
		c.null[i] = false
	}
}

// Sum adds all non-missing numeric rows.
func (c *Column) Sum() float64 {
	var s float64
	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) {
			continue
		}
		s += c.Float(i)
	}
	return s
}

// Renamed returns a shallow copy of the column under a new name.
func (c *Column) Renamed(name string) *Column {
	cp := *c
	cp.name = name
	return &cp
}

// Clone deep-copies the column.
func (c *Column) Clone() *Column {
	cp := &Column{name: c.name, kind: c.kind}
	cp.ints = append([]int64(nil), c.ints...)
	cp.floats = append([]float64(nil), c.floats...)
	cp.strs = append([]string(nil), c.strs...)
	if c.null != nil {
		cp.null = append([]bool(nil), c.null...)
	}
	return cp
}

// take returns a new column holding the given rows in order.
func (c *Column) take(rows []int) *Column {
	out := NewColumn(c.name, c.kind, len(rows))
	for j, i := range rows {
		switch c.kind {
		case Int:
			out.ints[j] = c.ints[i]
		case Float:
			out.floats[j] = c.floats[i]
		default:
			out.strs[j] = c.strs[i]
		}
		if c.IsNull(i) {
			out.SetNull(j)
		}
	}
	return out
}

// appendRow copies row i of src onto the end of c, converting kinds.
func (c *Column) appendRow(src *Column, i int) {
	switch c.kind {
	case Int:
		c.ints = append(c.ints, src.Int(i))
	case Float:
		c.floats = append(c.floats, src.Float(i))
	default:
		c.strs = append(c.strs, src.Str(i))
	}
	switch {
	case c.null != nil:
		c.null = append(c.null, src.IsNull(i))
	case src.IsNull(i):
		c.SetNull(c.Len() - 1)
	}
}

// Convert returns a copy of the column in the requested kind.
func (c *Column) Convert(kind Kind) (*Column, error) {
	if kind == c.kind {
		return c.Clone(), nil
	}
	n := c.Len()
	out := NewColumn(c.name, kind, n)
	for i := 0; i < n; i++ {
		if c.IsNull(i) {
			out.SetNull(i)
			continue
		}
		switch kind {
		case String:
			out.strs[i] = c.Str(i)
		case Int:
			if c.kind == String {
				if err := out.SetStr(i, c.strs[i]); err != nil {
					return nil, &ParseError{Column: c.name, Row: i, Value: c.strs[i], Kind: kind}
				}
				continue
			}
			out.ints[i] = c.Int(i)
		case Float:
			if c.kind == String {
				if err := out.SetStr(i, c.strs[i]); err != nil {
					return nil, &ParseError{Column: c.name, Row: i, Value: c.strs[i], Kind: kind}
				}
				continue
			}
			out.floats[i] = c.Float(i)
		}
	}
	return out, nil
}

// parseInt accepts plain integers and integral floats such as "995.0".
func parseInt(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return v, nil
	}
	f, ferr := strconv.ParseFloat(s, 64)
	if ferr != nil || f != math.Trunc(f) {
		return 0, err
	}
	return int64(f), nil
}
