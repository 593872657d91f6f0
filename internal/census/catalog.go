package census

import (
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/RSGInc/bts-populationsim/internal/table"
)

// Aggregation sums raw ACS fields of one geography into a control field.
type Aggregation struct {
	Geography string
	Control   string
	Fields    []string
}

// Catalog is the ACS field plan read from controls_aggregator.csv.
type Catalog struct {
	Aggregations  []Aggregation
	Geographies   []string
	ControlFields []string
	Tables        []string
	schemas       map[string]table.Schema
}

var catalogSchema = table.Schema{
	{Name: "geography", Kind: table.String, Fill: table.Reject},
	{Name: "control_field", Kind: table.String, Fill: table.KeepNull},
	{Name: "field", Kind: table.String, Fill: table.Reject},
	{Name: "type", Kind: table.String, Fill: table.FillWith("int")},
	{Name: "group", Kind: table.String, Fill: table.KeepNull},
}

// LoadCatalog reads the aggregator file at path.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "census: open catalog %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ParseCatalog(f)
}

// ParseCatalog parses an aggregator CSV. Rows with a blank control_field
// are ignored.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	t, err := table.ReadCSV(r, catalogSchema)
	if err != nil {
		return nil, eris.Wrap(err, "census: parse catalog")
	}

	cat := &Catalog{schemas: make(map[string]table.Schema)}
	aggIdx := make(map[[2]string]int)
	seenField := make(map[[2]string]bool)
	seenControl := make(map[string]bool)
	seenTable := make(map[string]bool)

	geoCol, ctlCol, fieldCol, typeCol, groupCol := t.Col("geography"), t.Col("control_field"), t.Col("field"), t.Col("type"), t.Col("group")
	for i := 0; i < t.Len(); i++ {
		ctl := strings.TrimSpace(ctlCol.Str(i))
		if ctl == "" {
			continue
		}
		geo := strings.ToUpper(strings.TrimSpace(geoCol.Str(i)))
		field := strings.TrimSpace(fieldCol.Str(i))
		kind, err := parseKind(typeCol.Str(i))
		if err != nil {
			return nil, eris.Wrapf(err, "census: catalog row %d", i+1)
		}

		key := [2]string{geo, ctl}
		j, ok := aggIdx[key]
		if !ok {
			j = len(cat.Aggregations)
			aggIdx[key] = j
			cat.Aggregations = append(cat.Aggregations, Aggregation{Geography: geo, Control: ctl})
		}
		cat.Aggregations[j].Fields = append(cat.Aggregations[j].Fields, field)

		if _, ok := cat.schemas[geo]; !ok {
			cat.Geographies = append(cat.Geographies, geo)
			cat.schemas[geo] = nil
		}
		fk := [2]string{geo, field}
		if !seenField[fk] {
			seenField[fk] = true
			cat.schemas[geo] = append(cat.schemas[geo], table.Field{Name: field, Kind: kind, Fill: table.KeepNull})
		}
		if !seenControl[ctl] {
			seenControl[ctl] = true
			cat.ControlFields = append(cat.ControlFields, ctl)
		}
		if g := strings.TrimSpace(groupCol.Str(i)); g != "" && !seenTable[g] {
			seenTable[g] = true
			cat.Tables = append(cat.Tables, g)
		}
	}
	if len(cat.Aggregations) == 0 {
		return nil, eris.New("census: catalog has no control fields")
	}
	return cat, nil
}

func parseKind(s string) (table.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "int64", "integer":
		return table.Int, nil
	case "float", "float64", "double":
		return table.Float, nil
	case "str", "string", "object":
		return table.String, nil
	}
	return table.String, eris.Errorf("unknown field type %q", s)
}

// Schema returns the raw ACS fields requested for geo.
func (c *Catalog) Schema(geo string) table.Schema {
	return c.schemas[geo]
}

// ControlsFor returns the aggregations of geo in catalog order.
func (c *Catalog) ControlsFor(geo string) []Aggregation {
	var out []Aggregation
	for _, a := range c.Aggregations {
		if a.Geography == geo {
			out = append(out, a)
		}
	}
	return out
}

// CheckControls verifies that the catalog and the engine's controls name the
// same set of control fields.
func (c *Catalog) CheckControls(names []string) error {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var missing, extra []string
	have := make(map[string]bool, len(c.ControlFields))
	for _, f := range c.ControlFields {
		have[f] = true
		if !want[f] {
			extra = append(extra, f)
		}
	}
	for _, n := range names {
		if !have[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		return eris.Errorf("census: control fields do not match engine controls: missing from catalog %v, unused by engine %v", missing, extra)
	}
	return nil
}
