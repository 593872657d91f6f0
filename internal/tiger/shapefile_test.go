package tiger

import (
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pumaFields = []shp.Field{
	shp.StringField("STATEFP10", 2),
	shp.StringField("PUMACE10", 5),
	shp.StringField("GEOID10", 7),
	shp.StringField("NAMELSAD10", 40),
}

func TestParseShapefile(t *testing.T) {
	dir := t.TempDir()
	path := writeTestShapefile(t, dir, "tl_2019_06_puma10", pumaFields, []testFeature{
		{attrs: []string{"06", "00101", "0600101", "Ca\xf1ada PUMA"}, rings: [][]shp.Point{square(-122, 37, 1)}},
		{attrs: []string{"06", "00102", "0600102", "Other"}, rings: [][]shp.Point{square(-121, 37, 1)}},
	}, nad83PRJ, "ISO-8859-1")

	layer, err := ParseShapefile(path, PUMA)
	require.NoError(t, err)

	assert.Equal(t, PUMA, layer.Level)
	assert.Equal(t, SRIDNAD83, layer.SRID)
	require.Len(t, layer.Features, 2)

	f := layer.Features[0]
	assert.Equal(t, "0600101", f.GeoID)
	assert.Equal(t, "06", f.Attr(AttrStateFP))
	assert.Equal(t, "00101", f.Attr(AttrPumaCE))
	assert.Equal(t, "Cañada PUMA", f.Attr("NAMELSAD"))
	assert.Equal(t, 1, f.Geom.NumPolygons())
}

func TestParseShapefile_WithoutSidecars(t *testing.T) {
	dir := t.TempDir()
	path := writeTestShapefile(t, dir, "bg", []shp.Field{shp.StringField("GEOID", 12)}, []testFeature{
		{attrs: []string{"060014001001"}, rings: [][]shp.Point{square(0, 0, 1)}},
	}, "", "")

	layer, err := ParseShapefile(path, BG)
	require.NoError(t, err)
	assert.Equal(t, 0, layer.SRID)
	assert.Equal(t, "060014001001", layer.Features[0].GeoID)
}

func TestParseShapefile_UnsupportedProjection(t *testing.T) {
	dir := t.TempDir()
	path := writeTestShapefile(t, dir, "bg", []shp.Field{shp.StringField("GEOID", 12)}, []testFeature{
		{attrs: []string{"1"}, rings: [][]shp.Point{square(0, 0, 1)}},
	}, `PROJCS["NAD_1927_StatePlane"]`, "")

	_, err := ParseShapefile(path, BG)
	require.Error(t, err)
}

func TestParseShapefile_UnknownCodePage(t *testing.T) {
	dir := t.TempDir()
	path := writeTestShapefile(t, dir, "bg", []shp.Field{shp.StringField("GEOID", 12)}, []testFeature{
		{attrs: []string{"1"}, rings: [][]shp.Point{square(0, 0, 1)}},
	}, nad83PRJ, "NOT-A-CODEPAGE")

	_, err := ParseShapefile(path, BG)
	require.Error(t, err)
}
