package table

import (
	"sort"

	"github.com/rotisserie/eris"
)

// CommonNames returns the column names present in both tables, in a's order.
func CommonNames(a, b *Table) []string {
	var out []string
	for _, n := range a.Names() {
		if b.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

// InnerJoin joins left and right on the named key columns. The result holds
// left's columns followed by right's non-key columns; rows follow left order.
func InnerJoin(left, right *Table, on ...string) (*Table, error) {
	return join(left, right, on, false)
}

// LeftJoin is InnerJoin that keeps unmatched left rows with missing right
// values.
func LeftJoin(left, right *Table, on ...string) (*Table, error) {
	return join(left, right, on, true)
}

func join(left, right *Table, on []string, keepLeft bool) (*Table, error) {
	if len(on) == 0 {
		return nil, eris.New("table: join: no key columns")
	}
	lk, err := NewKeyer(left, on...)
	if err != nil {
		return nil, eris.Wrap(err, "table: join: left")
	}
	rk, err := NewKeyer(right, on...)
	if err != nil {
		return nil, eris.Wrap(err, "table: join: right")
	}

	isKey := make(map[string]bool, len(on))
	for _, n := range on {
		isKey[n] = true
	}
	var rightCols []*Column
	for _, c := range right.cols {
		if isKey[c.name] {
			continue
		}
		if left.Has(c.name) {
			return nil, eris.Errorf("table: join: column %q on both sides", c.name)
		}
		rightCols = append(rightCols, c)
	}

	matches := make(map[string][]int, right.rows)
	for i := 0; i < right.rows; i++ {
		k := rk.Key(i)
		matches[k] = append(matches[k], i)
	}

	var lrows, rrows []int
	for i := 0; i < left.rows; i++ {
		m := matches[lk.Key(i)]
		if len(m) == 0 && keepLeft {
			lrows = append(lrows, i)
			rrows = append(rrows, -1)
			continue
		}
		for _, j := range m {
			lrows = append(lrows, i)
			rrows = append(rrows, j)
		}
	}

	out := left.Take(lrows)
	for _, c := range rightCols {
		nc := NewColumn(c.name, c.kind, len(rrows))
		for k, j := range rrows {
			if j < 0 || c.IsNull(j) {
				nc.SetNull(k)
				continue
			}
			switch c.kind {
			case Int:
				nc.ints[k] = c.ints[j]
			case Float:
				nc.floats[k] = c.floats[j]
			default:
				nc.strs[k] = c.strs[j]
			}
		}
		if err := out.Set(nc); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GroupSum groups t by the key columns and sums the value columns. Groups
// appear in order of first occurrence. Int columns stay Int.
func GroupSum(t *Table, by []string, values []string) (*Table, error) {
	k, err := NewKeyer(t, by...)
	if err != nil {
		return nil, eris.Wrap(err, "table: group")
	}
	groupOf := make(map[string]int)
	var firsts []int
	assign := make([]int, t.rows)
	for i := 0; i < t.rows; i++ {
		key := k.Key(i)
		g, ok := groupOf[key]
		if !ok {
			g = len(firsts)
			groupOf[key] = g
			firsts = append(firsts, i)
		}
		assign[i] = g
	}

	keys, err := t.Select(by...)
	if err != nil {
		return nil, err
	}
	out := keys.Take(firsts)
	for _, name := range values {
		src, err := t.Column(name)
		if err != nil {
			return nil, eris.Wrap(err, "table: group")
		}
		kind := Float
		if src.kind == Int {
			kind = Int
		}
		dst := NewColumn(name, kind, len(firsts))
		sums := make([]float64, len(firsts))
		isums := make([]int64, len(firsts))
		for i := 0; i < t.rows; i++ {
			if src.IsNull(i) {
				continue
			}
			if kind == Int {
				isums[assign[i]] += src.ints[i]
			} else {
				sums[assign[i]] += src.Float(i)
			}
		}
		for g := range firsts {
			if kind == Int {
				dst.ints[g] = isums[g]
			} else {
				dst.floats[g] = sums[g]
			}
		}
		if err := out.Set(dst); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GroupCount counts rows per key, in order of first occurrence.
func GroupCount(t *Table, by []string, name string) (*Table, error) {
	k, err := NewKeyer(t, by...)
	if err != nil {
		return nil, eris.Wrap(err, "table: count")
	}
	groupOf := make(map[string]int)
	var firsts []int
	var counts []int64
	for i := 0; i < t.rows; i++ {
		key := k.Key(i)
		g, ok := groupOf[key]
		if !ok {
			g = len(firsts)
			groupOf[key] = g
			firsts = append(firsts, i)
			counts = append(counts, 0)
		}
		counts[g]++
	}
	keys, err := t.Select(by...)
	if err != nil {
		return nil, err
	}
	out := keys.Take(firsts)
	if err := out.Set(Ints(name, counts...)); err != nil {
		return nil, err
	}
	return out, nil
}

// Distinct returns the first row of every distinct key.
func Distinct(t *Table, by ...string) (*Table, error) {
	k, err := NewKeyer(t, by...)
	if err != nil {
		return nil, eris.Wrap(err, "table: distinct")
	}
	seen := make(map[string]bool)
	var rows []int
	for i := 0; i < t.rows; i++ {
		key := k.Key(i)
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, i)
	}
	return t.Take(rows), nil
}

// SortBy returns t sorted ascending by the named columns. Int and float
// columns compare numerically, strings lexically. The sort is stable.
func SortBy(t *Table, by ...string) (*Table, error) {
	cols := make([]*Column, len(by))
	for i, n := range by {
		c, err := t.Column(n)
		if err != nil {
			return nil, eris.Wrap(err, "table: sort")
		}
		cols[i] = c
	}
	rows := make([]int, t.rows)
	for i := range rows {
		rows[i] = i
	}
	sort.SliceStable(rows, func(a, b int) bool {
		ra, rb := rows[a], rows[b]
		for _, c := range cols {
			switch c.kind {
			case String:
				if c.strs[ra] != c.strs[rb] {
					return c.strs[ra] < c.strs[rb]
				}
			default:
				va, vb := c.Float(ra), c.Float(rb)
				if va != vb {
					return va < vb
				}
			}
		}
		return false
	})
	return t.Take(rows), nil
}
