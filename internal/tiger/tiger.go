// Package tiger fetches Census TIGER/Line block group, tract and PUMA
// boundaries and turns them into go-geom multipolygon layers.
package tiger

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Level is a TIGER/Line boundary product.
type Level string

// Supported boundary levels.
const (
	BG    Level = "BG"
	Tract Level = "TRACT"
	PUMA  Level = "PUMA"
)

// ParseLevel accepts a level name in any case.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToUpper(strings.TrimSpace(s))); l {
	case BG, Tract, PUMA:
		return l, nil
	}
	return "", eris.Errorf("tiger: unknown level %q", s)
}

// fileSuffix is the product part of the zip name. PUMA boundaries were
// redrawn for the 2020 census and published as puma20 from TIGER2022.
func (l Level) fileSuffix(year int) string {
	switch l {
	case PUMA:
		if year >= 2022 {
			return "puma20"
		}
		return "puma10"
	default:
		return strings.ToLower(string(l))
	}
}

// DownloadURL builds the www2.census.gov URL of a per-state shapefile.
func DownloadURL(level Level, year int, stateFIPS string) string {
	return fmt.Sprintf(
		"https://www2.census.gov/geo/tiger/TIGER%d/%s/tl_%d_%s_%s.zip",
		year, level, year, stateFIPS, level.fileSuffix(year),
	)
}

// Attribute names after vintage suffixes are stripped.
const (
	AttrGeoID    = "GEOID"
	AttrStateFP  = "STATEFP"
	AttrCountyFP = "COUNTYFP"
	AttrTractCE  = "TRACTCE"
	AttrBlkGrpCE = "BLKGRPCE"
	AttrPumaCE   = "PUMACE"
)

// Feature is one boundary polygon with its DBF attributes.
type Feature struct {
	GeoID string
	Attrs map[string]string
	Geom  *geom.MultiPolygon
}

// Attr returns the named attribute or "".
func (f Feature) Attr(name string) string {
	return f.Attrs[name]
}

// Layer holds the features of one level and their spatial reference.
type Layer struct {
	Level    Level
	SRID     int
	Features []Feature
}

// Append adds the features of o. Both layers must share level and SRID.
func (l *Layer) Append(o *Layer) error {
	if len(l.Features) == 0 && l.SRID == 0 {
		l.SRID = o.SRID
	}
	if o.Level != l.Level {
		return eris.Errorf("tiger: cannot append %s features to a %s layer", o.Level, l.Level)
	}
	if len(o.Features) > 0 && o.SRID != l.SRID {
		return eris.Errorf("tiger: %s layer mixes SRID %d and %d", l.Level, l.SRID, o.SRID)
	}
	l.Features = append(l.Features, o.Features...)
	return nil
}

// Fetcher returns the boundaries of a level for the given states
// (USPS abbreviations).
type Fetcher interface {
	Fetch(ctx context.Context, level Level, states []string) (*Layer, error)
}

// normalizeName uppercases a DBF field name and strips its vintage suffix,
// so STATEFP10 and STATEFP20 both become STATEFP.
func normalizeName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(strings.TrimRight(name, "\x00")))
	for _, suffix := range []string{"10", "20"} {
		if len(name) > len(suffix) && strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}
