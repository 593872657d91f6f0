// Package geoid composes and splits fixed-width hierarchical census
// geography identifiers (state, county, tract, block group, PUMA).
package geoid

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/RSGInc/bts-populationsim/internal/table"
)

// Geography level names. They double as column names in every table.
const (
	State  = "STATE"
	County = "COUNTY"
	Tract  = "TRACT"
	BG     = "BG"
	PUMA   = "PUMA"
	Region = "REGION"
)

// Level declares the digit width of a level and its ordered parent chain,
// most significant first. The chain ends with the level itself.
type Level struct {
	Name      string
	Width     int
	Structure []string
}

// Registry maps level names to their declarations.
type Registry struct {
	levels map[string]Level
	order  []string
}

// Default is the census hierarchy used throughout the pipeline.
var Default = MustRegistry(
	Level{Name: State, Width: 2, Structure: []string{State}},
	Level{Name: County, Width: 3, Structure: []string{State, County}},
	Level{Name: Tract, Width: 6, Structure: []string{State, County, Tract}},
	Level{Name: BG, Width: 1, Structure: []string{State, County, Tract, BG}},
	Level{Name: PUMA, Width: 3, Structure: []string{State, PUMA}},
)

// Renames maps raw census column names to level names.
var Renames = map[string]string{
	"ST":          State,
	"BLOCK GROUP": BG,
}

// NewRegistry validates the level declarations. Every level named in a
// structure must itself be declared.
func NewRegistry(levels ...Level) (*Registry, error) {
	r := &Registry{levels: make(map[string]Level, len(levels))}
	for _, l := range levels {
		if l.Width <= 0 || l.Width > 12 {
			return nil, eris.Errorf("geoid: level %s has invalid width %d", l.Name, l.Width)
		}
		r.levels[l.Name] = l
		r.order = append(r.order, l.Name)
	}
	for _, l := range levels {
		if len(l.Structure) == 0 || l.Structure[len(l.Structure)-1] != l.Name {
			return nil, eris.Errorf("geoid: structure of %s must end with itself", l.Name)
		}
		total := 0
		for _, p := range l.Structure {
			pl, ok := r.levels[p]
			if !ok {
				return nil, eris.Errorf("geoid: structure of %s references unknown level %s", l.Name, p)
			}
			total += pl.Width
		}
		if total > 18 {
			return nil, eris.Errorf("geoid: %s is %d digits wide, exceeds int64", l.Name, total)
		}
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on error.
func MustRegistry(levels ...Level) *Registry {
	r, err := NewRegistry(levels...)
	if err != nil {
		panic(err)
	}
	return r
}

// Level returns the declaration of name.
func (r *Registry) Level(name string) (Level, bool) {
	l, ok := r.levels[name]
	return l, ok
}

// Levels returns the level names in declaration order.
func (r *Registry) Levels() []string {
	return append([]string(nil), r.order...)
}

// Width returns the total printable width of a formatted id of level name.
func (r *Registry) Width(name string) int {
	l, ok := r.levels[name]
	if !ok {
		return 0
	}
	w := 0
	for _, p := range l.Structure {
		w += r.levels[p].Width
	}
	return w
}

// Truncate keeps the last width digits of v.
func Truncate(v int64, width int) int64 {
	return v % pow10(width)
}

// Compose builds the id of level from its parts, truncating each part to its
// declared width.
func (r *Registry) Compose(level string, parts map[string]int64) (int64, error) {
	l, ok := r.levels[level]
	if !ok {
		return 0, eris.Errorf("geoid: unknown level %s", level)
	}
	var acc int64
	for i, p := range l.Structure {
		v, ok := parts[p]
		if !ok {
			return 0, &MissingPartError{Level: level, Part: p}
		}
		if v < 0 {
			return 0, eris.Errorf("geoid: negative %s part %d", p, v)
		}
		v = Truncate(v, r.levels[p].Width)
		if i > 0 {
			acc *= pow10(r.levels[p].Width)
		}
		acc += v
	}
	return acc, nil
}

// Split decomposes a formatted id of level into its parts.
func (r *Registry) Split(level string, id int64) (map[string]int64, error) {
	l, ok := r.levels[level]
	if !ok {
		return nil, eris.Errorf("geoid: unknown level %s", level)
	}
	if id < 0 || id >= pow10(r.Width(level)) {
		return nil, eris.Errorf("geoid: %d is not a valid %s id", id, level)
	}
	parts := make(map[string]int64, len(l.Structure))
	for i := len(l.Structure) - 1; i >= 0; i-- {
		p := l.Structure[i]
		w := r.levels[p].Width
		parts[p] = id % pow10(w)
		id /= pow10(w)
	}
	return parts, nil
}

// String renders id zero-padded to the level's full width.
func (r *Registry) String(level string, id int64) string {
	return fmt.Sprintf("%0*d", r.Width(level), id)
}

// Columns returns the recognized level columns present in t, in registry
// order.
func (r *Registry) Columns(t *table.Table) []string {
	var out []string
	for _, name := range r.order {
		if t.Has(name) {
			out = append(out, name)
		}
	}
	return out
}

// Format replaces every recognized level column of t with its canonical
// composite id. Parent values are read from the table as it was before
// formatting began, so formatting is independent of column order.
func (r *Registry) Format(t *table.Table) error {
	cols := r.Columns(t)
	if len(cols) == 0 {
		return eris.New("geoid: no geoid columns found")
	}

	raw := make(map[string]*table.Column, len(cols))
	for _, name := range cols {
		c := t.Col(name)
		ints, err := asUnsigned(c)
		if err != nil {
			return err
		}
		raw[name] = ints
	}

	for _, name := range cols {
		l := r.levels[name]
		parents := make([]*table.Column, len(l.Structure))
		for i, p := range l.Structure {
			pc, ok := raw[p]
			if !ok {
				return &MissingPartError{Level: name, Part: p}
			}
			if pc.NullCount() > 0 {
				return &MissingPartError{Level: name, Part: p, Nulls: pc.NullCount()}
			}
			parents[i] = pc
		}

		out := table.NewColumn(name, table.Int, t.Len())
		for row := 0; row < t.Len(); row++ {
			var acc int64
			for i, p := range l.Structure {
				w := r.levels[p].Width
				v := Truncate(parents[i].Int(row), w)
				if i > 0 {
					acc *= pow10(w)
				}
				acc += v
			}
			out.SetInt(row, acc)
		}
		if err := t.Set(out); err != nil {
			return eris.Wrapf(err, "geoid: replace %s", name)
		}
	}
	return nil
}

// asUnsigned converts c to an int column, rejecting negative values.
func asUnsigned(c *table.Column) (*table.Column, error) {
	ints, err := c.Convert(table.Int)
	if err != nil {
		return nil, eris.Wrapf(err, "geoid: coerce %s", c.Name())
	}
	for i := 0; i < ints.Len(); i++ {
		if !ints.IsNull(i) && ints.Int(i) < 0 {
			return nil, eris.Errorf("geoid: %s row %d is negative", c.Name(), i)
		}
	}
	return ints, nil
}

// NormalizeColumns uppercases column names and applies Renames.
func NormalizeColumns(t *table.Table) error {
	upper := cases.Upper(language.Und)
	m := make(map[string]string)
	for _, name := range t.Names() {
		to := upper.String(name)
		if r, ok := Renames[to]; ok {
			to = r
		}
		if to != name {
			m[name] = to
		}
	}
	if len(m) == 0 {
		return nil
	}
	return eris.Wrap(t.Rename(m), "geoid: normalize columns")
}

// MissingPartError reports a parent component that is absent or has missing
// values, so the id cannot be composed.
type MissingPartError struct {
	Level string
	Part  string
	Nulls int
}

func (e *MissingPartError) Error() string {
	if e.Nulls > 0 {
		return fmt.Sprintf("geoid: %s part %s has %d missing values", e.Level, e.Part, e.Nulls)
	}
	return fmt.Sprintf("geoid: %s part %s is missing", e.Level, e.Part)
}

// IsLevel reports whether name is a registered level.
func (r *Registry) IsLevel(name string) bool {
	_, ok := r.levels[strings.ToUpper(name)]
	return ok
}

func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
