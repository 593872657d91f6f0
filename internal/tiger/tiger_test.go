package tiger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadURL(t *testing.T) {
	assert.Equal(t,
		"https://www2.census.gov/geo/tiger/TIGER2019/PUMA/tl_2019_06_puma10.zip",
		DownloadURL(PUMA, 2019, "06"))
	assert.Equal(t,
		"https://www2.census.gov/geo/tiger/TIGER2022/PUMA/tl_2022_06_puma20.zip",
		DownloadURL(PUMA, 2022, "06"))
	assert.Equal(t,
		"https://www2.census.gov/geo/tiger/TIGER2021/BG/tl_2021_41_bg.zip",
		DownloadURL(BG, 2021, "41"))
	assert.Equal(t,
		"https://www2.census.gov/geo/tiger/TIGER2021/TRACT/tl_2021_41_tract.zip",
		DownloadURL(Tract, 2021, "41"))
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("bg")
	require.NoError(t, err)
	assert.Equal(t, BG, l)

	_, err = ParseLevel("COUNTY")
	require.Error(t, err)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "STATEFP", normalizeName("STATEFP10"))
	assert.Equal(t, "PUMACE", normalizeName("PUMACE20"))
	assert.Equal(t, "GEOID", normalizeName("geoid\x00\x00"))
	assert.Equal(t, "NAMELSAD", normalizeName("NAMELSAD"))
	assert.Equal(t, "20", normalizeName("20"))
}

func TestLayerAppend(t *testing.T) {
	l := &Layer{Level: BG}
	require.NoError(t, l.Append(&Layer{Level: BG, SRID: 4269, Features: []Feature{{GeoID: "a"}}}))
	assert.Equal(t, 4269, l.SRID)

	err := l.Append(&Layer{Level: BG, SRID: 4326, Features: []Feature{{GeoID: "b"}}})
	require.Error(t, err)

	err = l.Append(&Layer{Level: PUMA, SRID: 4269})
	require.Error(t, err)
}
