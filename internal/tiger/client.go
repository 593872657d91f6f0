package tiger

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/cache"
	"github.com/RSGInc/bts-populationsim/internal/fetcher"
	"github.com/RSGInc/bts-populationsim/internal/states"
)

// Client implements Fetcher against www2.census.gov. Parsed states are kept
// in the cache so each state is downloaded and parsed once.
type Client struct {
	fetch fetcher.Fetcher
	cache *cache.Cache
	year  int
	dir   string
	log   *zap.Logger
}

// NewClient returns a Client storing zips under dir. c may be nil to
// disable caching.
func NewClient(f fetcher.Fetcher, c *cache.Cache, year int, dir string) *Client {
	return &Client{
		fetch: f,
		cache: c,
		year:  year,
		dir:   dir,
		log:   zap.L().With(zap.String("component", "tiger")),
	}
}

// Fetch implements Fetcher.
func (c *Client) Fetch(ctx context.Context, level Level, abbrs []string) (*Layer, error) {
	out := &Layer{Level: level}
	for _, abbr := range abbrs {
		l, err := c.fetchState(ctx, level, abbr)
		if err != nil {
			return nil, err
		}
		if err := out.Append(l); err != nil {
			return nil, err
		}
	}
	c.log.Info("boundaries ready",
		zap.String("level", string(level)),
		zap.Int("states", len(abbrs)),
		zap.Int("features", len(out.Features)),
	)
	return out, nil
}

func (c *Client) fetchState(ctx context.Context, level Level, abbr string) (*Layer, error) {
	fips, ok := states.FIPS(abbr)
	if !ok {
		return nil, eris.Errorf("tiger: unknown state %q", abbr)
	}

	if c.cache != nil {
		has, err := c.cache.HasFeatures(ctx, string(level), abbr)
		if err != nil {
			return nil, err
		}
		if has {
			c.log.Debug("loading cached boundaries", zap.String("level", string(level)), zap.String("state", abbr))
			return c.loadCached(ctx, level, abbr)
		}
	}

	c.log.Info("fetching boundaries", zap.String("level", string(level)), zap.String("state", abbr))
	shpPath, err := Download(ctx, c.fetch, DownloadURL(level, c.year, fips), filepath.Join(c.dir, "shp"))
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: %s %s", level, abbr)
	}
	layer, err := ParseShapefile(shpPath, level)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.store(ctx, layer, abbr); err != nil {
			return nil, err
		}
	}
	return layer, nil
}

func (c *Client) store(ctx context.Context, layer *Layer, abbr string) error {
	rows := make([]cache.Feature, 0, len(layer.Features))
	for _, f := range layer.Features {
		data, err := EncodeEWKB(f.Geom)
		if err != nil {
			return eris.Wrapf(err, "tiger: encode %s", f.GeoID)
		}
		rows = append(rows, cache.Feature{GeoID: f.GeoID, Attrs: f.Attrs, SRID: layer.SRID, EWKB: data})
	}
	return c.cache.StoreFeatures(ctx, string(layer.Level), abbr, rows)
}

func (c *Client) loadCached(ctx context.Context, level Level, abbr string) (*Layer, error) {
	rows, err := c.cache.LoadFeatures(ctx, string(level), abbr)
	if err != nil {
		return nil, err
	}
	layer := &Layer{Level: level}
	for i, r := range rows {
		if i == 0 {
			layer.SRID = r.SRID
		}
		mp, err := DecodeEWKB(r.EWKB)
		if err != nil {
			return nil, eris.Wrapf(err, "tiger: cached %s %s", level, r.GeoID)
		}
		layer.Features = append(layer.Features, Feature{GeoID: r.GeoID, Attrs: r.Attrs, Geom: mp})
	}
	return layer, nil
}

// Refresh drops the cached boundaries of a level.
func (c *Client) Refresh(ctx context.Context, level Level) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.InvalidateFeatures(ctx, string(level))
}
