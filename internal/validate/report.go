package validate

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/RSGInc/bts-populationsim/internal/controls"
	"github.com/RSGInc/bts-populationsim/internal/table"
)

// Report file names.
const (
	StatsFile    = "populationsim_stats.csv"
	WorkbookFile = "validation.xlsx"
)

// Settings is the content of validation.yaml.
type Settings struct {
	// Geographies of the run, meta geography first.
	Geographies []string `yaml:"geographies"`
	// SeedGeography ends the uniformity geographies.
	SeedGeography string `yaml:"seed_geography"`
	// ReportGeographies are analysed for uniformity up to SeedGeography.
	ReportGeographies []string `yaml:"report_geographies"`
}

// LoadSettings reads validation.yaml.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "validate: read settings %s", path)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "validate: parse settings")
	}
	if len(s.Geographies) == 0 {
		return nil, eris.Errorf("validate: %s lists no geographies", path)
	}
	return &s, nil
}

// UniformityGeographies returns the report geographies up to and including
// the seed geography.
func (s *Settings) UniformityGeographies() ([]string, error) {
	for i, g := range s.ReportGeographies {
		if strings.EqualFold(g, s.SeedGeography) {
			return s.ReportGeographies[:i+1], nil
		}
	}
	if len(s.ReportGeographies) == 0 {
		return nil, nil
	}
	return nil, eris.Errorf("validate: seed geography %s is not among report geographies %v", s.SeedGeography, s.ReportGeographies)
}

// Config locates the inputs and outputs of one validation run.
type Config struct {
	Settings       Settings
	ControlsPath   string
	SeedHouseholds string
	Expanded       string
	// Summary returns the final_summary path of a geography.
	Summary func(geo string) string
	OutDir  string
}

// Report holds the computed reports.
type Report struct {
	Stats      *table.Table
	Uniformity map[string]*table.Table
}

// Run compares every control against the synthesized totals, analyses
// expansion uniformity and writes the CSV reports and the workbook.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	log := zap.L().With(zap.String("component", "validate"))

	specs, err := controls.LoadSpecs(cfg.ControlsPath)
	if err != nil {
		return nil, err
	}
	meta := ""
	if len(cfg.Settings.Geographies) > 0 {
		meta = strings.ToUpper(cfg.Settings.Geographies[0])
	}

	summaries := make(map[string]*table.Table)
	var stats []Stat
	for _, spec := range specs {
		geo := spec.Geography
		summary, ok := summaries[geo]
		if !ok {
			path := cfg.Summary(geo)
			if summary, err = table.ReadCSVFile(path, nil); err != nil {
				return nil, eris.Wrapf(err, "validate: read summary %s", path)
			}
			summaries[geo] = summary
		}
		st, err := CompareControl(spec, summary, geo == meta)
		if err != nil {
			return nil, err
		}
		log.Debug("compared control", zap.String("control", st.ControlName), zap.Float64("prmse", st.PRMSE))
		stats = append(stats, st)
	}

	report := &Report{Stats: StatsTable(stats), Uniformity: make(map[string]*table.Table)}

	geos, err := cfg.Settings.UniformityGeographies()
	if err != nil {
		return nil, err
	}
	if len(geos) > 0 {
		seedHH, err := table.ReadCSVFile(cfg.SeedHouseholds, nil)
		if err != nil {
			return nil, eris.Wrap(err, "validate: read seed households")
		}
		f, err := os.Open(cfg.Expanded)
		if err != nil {
			return nil, eris.Wrap(err, "validate: open expanded ids")
		}
		weights, err := ExpandedWeights(ctx, f)
		f.Close() //nolint:errcheck
		if err != nil {
			return nil, err
		}
		for _, geo := range geos {
			u, err := Uniformity(seedHH, weights, strings.ToUpper(geo))
			if err != nil {
				return nil, err
			}
			report.Uniformity[strings.ToUpper(geo)] = u
		}
		geos = upperAll(geos)
	}

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "validate: create output dir")
	}
	if err := table.WriteCSVFile(filepath.Join(cfg.OutDir, StatsFile), report.Stats); err != nil {
		return nil, err
	}
	sheets := []Sheet{{Name: "stats", Table: report.Stats}}
	for _, geo := range geos {
		u := report.Uniformity[geo]
		if err := table.WriteCSVFile(filepath.Join(cfg.OutDir, "NRMSE_"+geo+".csv"), u); err != nil {
			return nil, err
		}
		sheets = append(sheets, Sheet{Name: "NRMSE_" + geo, Table: u})
	}
	if err := WriteWorkbook(filepath.Join(cfg.OutDir, WorkbookFile), sheets); err != nil {
		return nil, err
	}
	log.Info("validation written", zap.String("dir", cfg.OutDir), zap.Int("controls", len(stats)))
	return report, nil
}

func upperAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}

// Sheet is one worksheet of the validation workbook.
type Sheet struct {
	Name  string
	Table *table.Table
}

// WriteWorkbook writes each table to its own sheet, header row first.
// Missing and NaN cells are left blank.
func WriteWorkbook(path string, sheets []Sheet) error {
	f := xlsx.NewFile()
	for _, s := range sheets {
		sheet, err := f.AddSheet(s.Name)
		if err != nil {
			return eris.Wrapf(err, "xlsx: add sheet %s", s.Name)
		}
		header := sheet.AddRow()
		for _, name := range s.Table.Names() {
			header.AddCell().SetString(name)
		}
		cols := make([]*table.Column, 0, len(s.Table.Names()))
		for _, name := range s.Table.Names() {
			cols = append(cols, s.Table.Col(name))
		}
		for i := 0; i < s.Table.Len(); i++ {
			row := sheet.AddRow()
			for _, c := range cols {
				cell := row.AddCell()
				if c.IsNull(i) {
					continue
				}
				switch c.Kind() {
				case table.Int:
					cell.SetInt64(c.Int(i))
				case table.Float:
					if v := c.Float(i); !math.IsNaN(v) && !math.IsInf(v, 0) {
						cell.SetFloat(v)
					}
				default:
					cell.SetString(c.Str(i))
				}
			}
		}
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}
