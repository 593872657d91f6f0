package tiger

import (
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func polygonOf(rings ...[]shp.Point) *shp.Polygon {
	p := shp.Polygon(*shp.NewPolyLine(rings))
	return &p
}

func TestPolygonToMultiPolygon_ShellWithHole(t *testing.T) {
	shell := square(0, 0, 10)
	hole := reversed(square(2, 2, 2))

	mp := polygonToMultiPolygon(polygonOf(shell, hole), SRIDNAD83)
	require.NotNil(t, mp)
	assert.Equal(t, 1, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings())
	assert.Equal(t, SRIDNAD83, mp.SRID())
}

func TestPolygonToMultiPolygon_TwoShells(t *testing.T) {
	mp := polygonToMultiPolygon(polygonOf(square(0, 0, 1), square(5, 5, 1)), SRIDNAD83)
	require.NotNil(t, mp)
	assert.Equal(t, 2, mp.NumPolygons())
}

func TestPolygonToMultiPolygon_LeadingHoleBecomesShell(t *testing.T) {
	mp := polygonToMultiPolygon(polygonOf(reversed(square(0, 0, 1))), SRIDNAD83)
	require.NotNil(t, mp)
	assert.Equal(t, 1, mp.NumPolygons())
}

func TestPolygonToMultiPolygon_Empty(t *testing.T) {
	assert.Nil(t, polygonToMultiPolygon(&shp.Polygon{}, SRIDNAD83))
	assert.Nil(t, polygonToMultiPolygon(nil, SRIDNAD83))
}

func TestSignedArea(t *testing.T) {
	ccw := []float64{0, 0, 1, 0, 1, 1, 0, 1, 0, 0}
	assert.InDelta(t, 1.0, signedArea(ccw), 1e-12)

	cw := []float64{0, 0, 0, 1, 1, 1, 1, 0, 0, 0}
	assert.InDelta(t, -1.0, signedArea(cw), 1e-12)
}

func TestEWKBRoundTrip(t *testing.T) {
	mp := polygonToMultiPolygon(polygonOf(square(-122, 37, 1), reversed(square(-121.8, 37.2, 0.1))), SRIDNAD83)
	require.NotNil(t, mp)

	data, err := EncodeEWKB(mp)
	require.NoError(t, err)

	back, err := DecodeEWKB(data)
	require.NoError(t, err)
	assert.Equal(t, SRIDNAD83, back.SRID())
	assert.Equal(t, mp.FlatCoords(), back.FlatCoords())
	assert.Equal(t, 2, back.Polygon(0).NumLinearRings())
}

func TestDecodeEWKB_Invalid(t *testing.T) {
	_, err := DecodeEWKB([]byte{0x01, 0x02})
	require.Error(t, err)
}
