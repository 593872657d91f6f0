package tiger

import (
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Well-known SRIDs of TIGER/Line products.
const (
	SRIDNAD83 = 4269
	SRIDWGS84 = 4326
)

// ParseShapefile reads a polygon shapefile into a layer. Attribute text is
// decoded with the encoding named by the .cpg sidecar (UTF-8 when absent)
// and the SRID comes from the .prj sidecar.
func ParseShapefile(shpPath string, level Level) (*Layer, error) {
	base := strings.TrimSuffix(shpPath, ".shp")

	srid, err := readSRID(base + ".prj")
	if err != nil {
		return nil, err
	}
	dec, err := readEncoding(base + ".cpg")
	if err != nil {
		return nil, err
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = normalizeName(f.String())
	}

	layer := &Layer{Level: level, SRID: srid}
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()

		attrs := make(map[string]string, len(names))
		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if dec != nil {
				decoded, derr := dec.String(val)
				if derr != nil {
					return nil, eris.Wrapf(derr, "tiger: decode %s of record %d", name, n)
				}
				val = decoded
			}
			attrs[name] = val
		}

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp := polygonToMultiPolygon(poly, srid)
		if mp == nil {
			skipped++
			continue
		}
		layer.Features = append(layer.Features, Feature{
			GeoID: attrs[AttrGeoID],
			Attrs: attrs,
			Geom:  mp,
		})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "tiger: read shapefile %s", shpPath)
	}

	if skipped > 0 {
		zap.L().Debug("tiger: skipped shapefile records",
			zap.String("level", string(level)),
			zap.Int("skipped", skipped),
		)
	}
	return layer, nil
}

// readSRID maps the datum of a .prj file to an EPSG code. A missing .prj
// yields 0, which only matches other layers without one.
func readSRID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		zap.L().Warn("tiger: no .prj sidecar, SRID unknown", zap.String("path", path))
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "tiger: read .prj")
	}
	wkt := strings.ToUpper(string(data))
	switch {
	case strings.Contains(wkt, "NORTH_AMERICAN_1983") || strings.Contains(wkt, "NAD83"):
		return SRIDNAD83, nil
	case strings.Contains(wkt, "WGS_1984") || strings.Contains(wkt, "WGS84"):
		return SRIDWGS84, nil
	}
	return 0, eris.Errorf("tiger: unsupported projection in %s", path)
}

// readEncoding returns a decoder for the .cpg code page, or nil for UTF-8.
func readEncoding(path string) (*encoding.Decoder, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "tiger: read .cpg")
	}
	name := strings.TrimSpace(string(data))
	if name == "" || strings.EqualFold(name, "UTF-8") || strings.EqualFold(name, "UTF8") {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: unknown code page %q", name)
	}
	return enc.NewDecoder(), nil
}
