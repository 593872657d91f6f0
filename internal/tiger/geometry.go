package tiger

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"
)

// polygonToMultiPolygon converts a shapefile polygon. Shapefile shells wind
// clockwise and holes counter-clockwise; each hole is attached to the shell
// that precedes it.
func polygonToMultiPolygon(p *shp.Polygon, srid int) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(srid)
	var current *geom.Polygon
	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("tiger: skipping malformed polygon", zap.Error(err))
		}
		current = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			zap.L().Debug("tiger: skipping degenerate ring", zap.Int32("part", i))
			continue
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if signedArea(flat) > 0 && current != nil {
			if err := current.Push(ring); err != nil {
				zap.L().Debug("tiger: skipping malformed hole", zap.Int32("part", i), zap.Error(err))
			}
			continue
		}
		flush()
		current = geom.NewPolygon(geom.XY)
		if err := current.Push(ring); err != nil {
			zap.L().Debug("tiger: skipping malformed shell", zap.Int32("part", i), zap.Error(err))
			current = nil
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// signedArea is the shoelace area of a flat XY ring: positive when the ring
// winds counter-clockwise.
func signedArea(flat []float64) float64 {
	var a float64
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		a += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return a / 2
}

// EncodeEWKB marshals a multipolygon with its SRID.
func EncodeEWKB(mp *geom.MultiPolygon) ([]byte, error) {
	data, err := ewkb.Marshal(mp, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: encode EWKB")
	}
	return data, nil
}

// DecodeEWKB unmarshals a multipolygon written by EncodeEWKB. Plain polygons
// are promoted.
func DecodeEWKB(data []byte) (*geom.MultiPolygon, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: decode EWKB")
	}
	switch t := g.(type) {
	case *geom.MultiPolygon:
		return t, nil
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(geom.XY).SetSRID(t.SRID())
		if err := mp.Push(t); err != nil {
			return nil, eris.Wrap(err, "tiger: promote polygon")
		}
		return mp, nil
	}
	return nil, eris.Errorf("tiger: unexpected geometry %T", g)
}
