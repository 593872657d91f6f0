package crosswalk

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// earthRadius is the sphere radius of the cylindrical equal-area projection.
const earthRadius = 6378137.0

const deg = math.Pi / 180

// toCEA projects a lon/lat multipolygon onto a spherical cylindrical
// equal-area plane.
func toCEA(mp *geom.MultiPolygon) *geom.MultiPolygon {
	flat := mp.FlatCoords()
	out := make([]float64, len(flat))
	stride := mp.Stride()
	for i := 0; i+1 < len(flat); i += stride {
		out[i] = earthRadius * flat[i] * deg
		out[i+1] = earthRadius * math.Sin(flat[i+1]*deg)
	}
	return geom.NewMultiPolygonFlat(mp.Layout(), out, mp.Endss())
}

func fromCEA(c geom.Coord) geom.Coord {
	return geom.Coord{
		c[0] / earthRadius / deg,
		math.Asin(math.Max(-1, math.Min(1, c[1]/earthRadius))) / deg,
	}
}

// areaCentroid is the centroid of mp taken in equal-area space.
func areaCentroid(mp *geom.MultiPolygon) geom.Coord {
	return fromCEA(xy.MultiPolygonCentroid(toCEA(mp)))
}

// region is a polygon set with a cached bounding box.
type region struct {
	geom   *geom.MultiPolygon
	bounds *geom.Bounds
}

func newRegion(mp *geom.MultiPolygon) region {
	return region{geom: mp, bounds: mp.Bounds()}
}

// contains reports whether p lies in a shell of the region and in none of
// that shell's holes.
func (r region) contains(p geom.Coord) bool {
	if p[0] < r.bounds.Min(0) || p[0] > r.bounds.Max(0) || p[1] < r.bounds.Min(1) || p[1] > r.bounds.Max(1) {
		return false
	}
	layout := r.geom.Layout()
	for i := 0; i < r.geom.NumPolygons(); i++ {
		poly := r.geom.Polygon(i)
		if poly.NumLinearRings() == 0 || !xy.IsPointInRing(layout, p, poly.LinearRing(0).FlatCoords()) {
			continue
		}
		inHole := false
		for j := 1; j < poly.NumLinearRings(); j++ {
			if xy.IsPointInRing(layout, p, poly.LinearRing(j).FlatCoords()) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// distance is the planar distance from p to the region, zero inside it.
// Units follow the layer coordinates (degrees for TIGER).
func (r region) distance(p geom.Coord) float64 {
	if r.contains(p) {
		return 0
	}
	best := math.Inf(1)
	layout := r.geom.Layout()
	for i := 0; i < r.geom.NumPolygons(); i++ {
		poly := r.geom.Polygon(i)
		for j := 0; j < poly.NumLinearRings(); j++ {
			if d := xy.DistanceFromPointToLineString(layout, p, poly.LinearRing(j).FlatCoords()); d < best {
				best = d
			}
		}
	}
	return best
}
