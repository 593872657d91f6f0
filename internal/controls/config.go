package controls

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/RSGInc/bts-populationsim/internal/table"
)

// ControlSpec is one row of the engine's controls.csv.
type ControlSpec struct {
	Target       string
	Geography    string
	SeedTable    string
	Importance   float64
	ControlField string
	ControlGroup string
	Expression   string
}

var specSchema = table.Schema{
	{Name: "target", Kind: table.String, Fill: table.Reject},
	{Name: "geography", Kind: table.String, Fill: table.Reject},
	{Name: "seed_table", Kind: table.String, Fill: table.Reject},
	{Name: "importance", Kind: table.Float, Fill: table.FillWith("0")},
	{Name: "control_field", Kind: table.String, Fill: table.Reject},
	{Name: "control_group", Kind: table.String, Fill: table.KeepNull},
	{Name: "expression", Kind: table.String, Fill: table.KeepNull},
}

// LoadSpecs reads controls.csv.
func LoadSpecs(path string) ([]ControlSpec, error) {
	t, err := table.ReadCSVFile(path, specSchema)
	if err != nil {
		return nil, eris.Wrapf(err, "controls: read specs %s", path)
	}
	out := make([]ControlSpec, t.Len())
	for i := range out {
		out[i] = ControlSpec{
			Target:       strings.TrimSpace(t.Col("target").Str(i)),
			Geography:    strings.ToUpper(strings.TrimSpace(t.Col("geography").Str(i))),
			SeedTable:    strings.ToLower(strings.TrimSpace(t.Col("seed_table").Str(i))),
			Importance:   t.Col("importance").Float(i),
			ControlField: strings.TrimSpace(t.Col("control_field").Str(i)),
			ControlGroup: strings.TrimSpace(t.Col("control_group").Str(i)),
			Expression:   t.Col("expression").Str(i),
		}
	}
	return out, nil
}

// ControlFields returns the upper-cased control fields of specs in order.
func ControlFields(specs []ControlSpec) []string {
	out := make([]string, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		f := strings.ToUpper(s.ControlField)
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// EngineSettings is the part of the engine's settings.yaml the preparer
// reads.
type EngineSettings struct {
	TotalHHControl  string   `yaml:"total_hh_control"`
	TotalPerControl string   `yaml:"total_per_control"`
	Geographies     []string `yaml:"geographies"`
	SeedGeography   string   `yaml:"seed_geography"`
}

// Totals returns the total targets named by the settings.
func (s *EngineSettings) Totals() TotalControls {
	return TotalControls{Households: s.TotalHHControl, Persons: s.TotalPerControl}
}

// LoadSettings reads the engine's settings.yaml.
func LoadSettings(path string) (*EngineSettings, error) {
	var s EngineSettings
	if err := loadYAML(path, &s); err != nil {
		return nil, err
	}
	if s.TotalHHControl == "" && s.TotalPerControl == "" {
		return nil, eris.Errorf("controls: %s names neither total_hh_control nor total_per_control", path)
	}
	return &s, nil
}

// LoadRemainders reads remainders.yaml: a list of remainder definitions.
func LoadRemainders(path string) ([]Remainder, error) {
	var rems []Remainder
	if err := loadYAML(path, &rems); err != nil {
		return nil, err
	}
	for _, r := range rems {
		if r.Name == "" || r.Geography == "" || len(r.Add) == 0 {
			return nil, eris.Errorf("controls: remainder %q in %s needs name, geography and add", r.Name, path)
		}
	}
	return rems, nil
}

// LoadRules reads seed_rules.yaml, a map from target name to rule, and
// validates every rule.
func LoadRules(path string) (Rules, error) {
	var rules Rules
	if err := loadYAML(path, &rules); err != nil {
		return nil, err
	}
	for name, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, eris.Wrapf(err, "controls: rule %s", name)
		}
	}
	return rules, nil
}

func loadYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "controls: read %s", path)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "controls: parse %s", path)
	}
	return nil
}
