package prepare

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/RSGInc/bts-populationsim/internal/geoid"
)

// Artifact file names.
const (
	SeedHouseholdsFile = "seed_households.csv"
	SeedPersonsFile    = "seed_persons.csv"
	CrosswalkFile      = "geo_cross_walk.csv"
	MetaTargetsFile    = "scaled_control_totals_meta.csv"
	ExpandedFile       = "final_expanded_household_ids.csv"
)

// TargetGeographies are the control table geographies the engine reads.
var TargetGeographies = []string{geoid.Region, geoid.State, geoid.Tract, geoid.BG}

// Class groups artifacts that are written together.
type Class string

// Artifact classes.
const (
	Seeds     Class = "seeds"
	Targets   Class = "targets"
	Crosswalk Class = "crosswalk"
)

// Classes lists every artifact class in preparation order.
var Classes = []Class{Seeds, Targets, Crosswalk}

// Paths locates the artifacts of one batch.
type Paths struct {
	Data   string
	Output string
}

// NewPaths returns the artifact layout under a batch directory.
func NewPaths(batchDir string) Paths {
	return Paths{Data: filepath.Join(batchDir, "data"), Output: filepath.Join(batchDir, "output")}
}

func (p Paths) SeedHouseholds() string { return filepath.Join(p.Data, SeedHouseholdsFile) }
func (p Paths) SeedPersons() string    { return filepath.Join(p.Data, SeedPersonsFile) }
func (p Paths) Crosswalk() string      { return filepath.Join(p.Data, CrosswalkFile) }

// Targets returns the control table of geo. The meta geography is written
// under its scaled name.
func (p Paths) Targets(geo string) string {
	geo = strings.ToUpper(geo)
	if geo == geoid.Region {
		return filepath.Join(p.Data, MetaTargetsFile)
	}
	return filepath.Join(p.Data, "control_totals_"+geo+".csv")
}

// Expanded is the engine's synthetic household list.
func (p Paths) Expanded() string { return filepath.Join(p.Output, ExpandedFile) }

// Summary is the engine's control/result summary of geo.
func (p Paths) Summary(geo string) string {
	return filepath.Join(p.Output, "final_summary_"+strings.ToUpper(geo)+".csv")
}

// Files returns the inputs of class c.
func (p Paths) Files(c Class) []string {
	switch c {
	case Seeds:
		return []string{p.SeedHouseholds(), p.SeedPersons()}
	case Targets:
		out := make([]string, 0, len(TargetGeographies))
		for _, g := range TargetGeographies {
			out = append(out, p.Targets(g))
		}
		return out
	case Crosswalk:
		return []string{p.Crosswalk()}
	}
	return nil
}

// Inputs returns every engine input file.
func (p Paths) Inputs() []string {
	var out []string
	for _, c := range Classes {
		out = append(out, p.Files(c)...)
	}
	return out
}

// Missing returns the files that do not exist.
func Missing(files []string) []string {
	var out []string
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			out = append(out, f)
		}
	}
	return out
}
