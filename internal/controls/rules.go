package controls

import (
	"github.com/rotisserie/eris"

	"github.com/RSGInc/bts-populationsim/internal/table"
)

// Rule computes a per-row value over a seed table. Exactly one variant is
// set. Predicates yield 1 or 0; Sum yields the row sum of its columns; All
// multiplies its parts, so a predicate combined with a Sum weights it.
type Rule struct {
	Count      bool        `yaml:"count,omitempty"`
	Equals     *Equals     `yaml:"equals,omitempty"`
	In         *Membership `yaml:"in,omitempty"`
	Range      *Range      `yaml:"range,omitempty"`
	Sum        []string    `yaml:"sum,omitempty"`
	All        []Rule      `yaml:"all,omitempty"`
	Difference *Difference `yaml:"difference,omitempty"`
}

// Equals matches rows whose column equals Value.
type Equals struct {
	Column string  `yaml:"column"`
	Value  float64 `yaml:"value"`
}

// Membership matches rows whose column is one of Values.
type Membership struct {
	Column string    `yaml:"column"`
	Values []float64 `yaml:"values"`
}

// Range matches rows whose column lies in [Min, Max]. A nil bound is open.
type Range struct {
	Column string   `yaml:"column"`
	Min    *float64 `yaml:"min,omitempty"`
	Max    *float64 `yaml:"max,omitempty"`
}

// Difference is the sum of the Add rules minus the sum of the Subtract rules.
type Difference struct {
	Add      []Rule `yaml:"add"`
	Subtract []Rule `yaml:"subtract"`
}

// Rules maps a control target name to its seed rule.
type Rules map[string]Rule

// Validate checks that exactly one variant is set, recursively.
func (r Rule) Validate() error {
	n := 0
	if r.Count {
		n++
	}
	if r.Equals != nil {
		n++
		if r.Equals.Column == "" {
			return eris.New("controls: equals rule without column")
		}
	}
	if r.In != nil {
		n++
		if r.In.Column == "" || len(r.In.Values) == 0 {
			return eris.New("controls: in rule needs a column and values")
		}
	}
	if r.Range != nil {
		n++
		if r.Range.Column == "" {
			return eris.New("controls: range rule without column")
		}
		if r.Range.Min != nil && r.Range.Max != nil && *r.Range.Min > *r.Range.Max {
			return eris.Errorf("controls: range on %s has min %g above max %g", r.Range.Column, *r.Range.Min, *r.Range.Max)
		}
	}
	if len(r.Sum) > 0 {
		n++
	}
	if len(r.All) > 0 {
		n++
		for _, sub := range r.All {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
	}
	if r.Difference != nil {
		n++
		if len(r.Difference.Add) == 0 {
			return eris.New("controls: difference rule without add rules")
		}
		for _, sub := range append(append([]Rule(nil), r.Difference.Add...), r.Difference.Subtract...) {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
	}
	if n != 1 {
		return eris.Errorf("controls: rule sets %d variants, want exactly one", n)
	}
	return nil
}

// Evaluate returns the per-row values of r over t. Missing cells never match
// a predicate and add nothing to a sum.
func (r Rule) Evaluate(t *table.Table) ([]float64, error) {
	out := make([]float64, t.Len())
	switch {
	case r.Count:
		for i := range out {
			out[i] = 1
		}

	case r.Equals != nil:
		c, err := t.Column(r.Equals.Column)
		if err != nil {
			return nil, eris.Wrap(err, "controls: equals")
		}
		for i := range out {
			if !c.IsNull(i) && c.Float(i) == r.Equals.Value {
				out[i] = 1
			}
		}

	case r.In != nil:
		c, err := t.Column(r.In.Column)
		if err != nil {
			return nil, eris.Wrap(err, "controls: in")
		}
		set := make(map[float64]bool, len(r.In.Values))
		for _, v := range r.In.Values {
			set[v] = true
		}
		for i := range out {
			if !c.IsNull(i) && set[c.Float(i)] {
				out[i] = 1
			}
		}

	case r.Range != nil:
		c, err := t.Column(r.Range.Column)
		if err != nil {
			return nil, eris.Wrap(err, "controls: range")
		}
		for i := range out {
			if c.IsNull(i) {
				continue
			}
			v := c.Float(i)
			if r.Range.Min != nil && v < *r.Range.Min {
				continue
			}
			if r.Range.Max != nil && v > *r.Range.Max {
				continue
			}
			out[i] = 1
		}

	case len(r.Sum) > 0:
		sums, err := t.RowSums(r.Sum...)
		if err != nil {
			return nil, eris.Wrap(err, "controls: sum")
		}
		copy(out, sums)

	case len(r.All) > 0:
		for i := range out {
			out[i] = 1
		}
		for _, sub := range r.All {
			vals, err := sub.Evaluate(t)
			if err != nil {
				return nil, err
			}
			for i, v := range vals {
				out[i] *= v
			}
		}

	case r.Difference != nil:
		for _, sub := range r.Difference.Add {
			vals, err := sub.Evaluate(t)
			if err != nil {
				return nil, err
			}
			for i, v := range vals {
				out[i] += v
			}
		}
		for _, sub := range r.Difference.Subtract {
			vals, err := sub.Evaluate(t)
			if err != nil {
				return nil, err
			}
			for i, v := range vals {
				out[i] -= v
			}
		}

	default:
		return nil, eris.New("controls: empty rule")
	}
	return out, nil
}

// Value is the sum of r's per-row values over t.
func (r Rule) Value(t *table.Table) (float64, error) {
	vals, err := r.Evaluate(t)
	if err != nil {
		return 0, err
	}
	var s float64
	for _, v := range vals {
		s += v
	}
	return s, nil
}
