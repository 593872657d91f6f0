package census

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/cache"
	"github.com/RSGInc/bts-populationsim/internal/states"
	"github.com/RSGInc/bts-populationsim/internal/table"
)

// States per request.
const (
	acsBatch  = 5
	pumsBatch = 1
)

// Source implements Fetcher over a StateFetcher per data type, caching each
// state's rows. Only states or columns missing from the cache are fetched.
type Source struct {
	cache   *cache.Cache
	catalog *Catalog
	acs     StateFetcher
	pums    StateFetcher
	log     *zap.Logger
}

// NewSource wires the cache and fetchers. c may be nil to fetch every time.
func NewSource(c *cache.Cache, cat *Catalog, acs, pums StateFetcher) *Source {
	return &Source{
		cache:   c,
		catalog: cat,
		acs:     acs,
		pums:    pums,
		log:     zap.L().With(zap.String("component", "census")),
	}
}

type plan struct {
	fetch   StateFetcher
	batch   int
	geos    []string
	schemas map[string]table.Schema
}

func (s *Source) plan(dt DataType) (plan, error) {
	switch dt {
	case ACS:
		if s.acs == nil || s.catalog == nil {
			return plan{}, eris.New("census: ACS source is not configured")
		}
		p := plan{fetch: s.acs, batch: acsBatch, geos: s.catalog.Geographies, schemas: make(map[string]table.Schema)}
		for _, g := range p.geos {
			p.schemas[g] = s.catalog.Schema(g)
		}
		return p, nil
	case PUMS:
		if s.pums == nil {
			return plan{}, eris.New("census: PUMS source is not configured")
		}
		return plan{fetch: s.pums, batch: pumsBatch, geos: PUMSLevels, schemas: PUMSSchemas}, nil
	}
	return plan{}, eris.Errorf("census: unknown data type %q", dt)
}

// Fetch implements Fetcher. The result holds exactly the requested states.
func (s *Source) Fetch(ctx context.Context, dt DataType, abbrs []string) (Tables, error) {
	if len(abbrs) == 0 {
		return nil, eris.New("census: no states requested")
	}
	p, err := s.plan(dt)
	if err != nil {
		return nil, err
	}
	out := make(Tables, len(p.geos))
	for _, geo := range p.geos {
		t, err := s.fetchGeo(ctx, dt, p, geo, abbrs)
		if err != nil {
			return nil, err
		}
		out[geo] = t
	}
	return out, nil
}

func (s *Source) fetchGeo(ctx context.Context, dt DataType, p plan, geo string, abbrs []string) (*table.Table, error) {
	schema := p.schemas[geo]
	if s.cache == nil {
		out := table.Empty()
		for _, batch := range batched(abbrs, p.batch) {
			t, err := p.fetch.FetchStates(ctx, geo, schema, batch)
			if err != nil {
				return nil, err
			}
			if err := out.Append(t); err != nil {
				return nil, eris.Wrapf(err, "census: combine %s %s", dt, geo)
			}
		}
		return out, nil
	}

	source := string(dt)
	cv, err := s.cache.Coverage(ctx, source, geo)
	if err != nil {
		return nil, err
	}
	if len(cv.States) > 0 && !cv.HasColumns(schema.Names()...) {
		s.log.Info("cached columns changed, refetching",
			zap.String("data_type", source),
			zap.String("geo", geo),
		)
		if err := s.cache.Invalidate(ctx, source, geo); err != nil {
			return nil, err
		}
		cv = cache.Coverage{}
	}

	missing := cv.MissingStates(abbrs)
	if len(missing) == 0 {
		s.log.Debug("loading cached tables", zap.String("data_type", source), zap.String("geo", geo))
	}
	for i, batch := range batched(missing, p.batch) {
		s.log.Info("fetching census data",
			zap.String("data_type", source),
			zap.String("geo", geo),
			zap.Strings("states", batch),
			zap.Int("batch", i+1),
			zap.Int("missing", len(missing)),
		)
		t, err := p.fetch.FetchStates(ctx, geo, schema, batch)
		if err != nil {
			return nil, err
		}
		parts, err := splitByState(t, batch)
		if err != nil {
			return nil, eris.Wrapf(err, "census: %s %s", source, geo)
		}
		for _, abbr := range batch {
			if err := s.cache.StoreTable(ctx, source, geo, abbr, parts[abbr]); err != nil {
				return nil, err
			}
		}
	}
	return s.cache.LoadTable(ctx, source, geo, abbrs)
}

// Invalidate drops the cached rows of one geography.
func (s *Source) Invalidate(ctx context.Context, dt DataType, geo string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, string(dt), geo)
}

// Refresh drops every cached geography of dt so the next Fetch refetches.
func (s *Source) Refresh(ctx context.Context, dt DataType) error {
	p, err := s.plan(dt)
	if err != nil {
		return err
	}
	for _, geo := range p.geos {
		if err := s.Invalidate(ctx, dt, geo); err != nil {
			return err
		}
	}
	return nil
}

// splitByState partitions t by its state column. Every state in abbrs gets
// an entry, empty when no rows were returned for it.
func splitByState(t *table.Table, abbrs []string) (map[string]*table.Table, error) {
	col := t.Col("state")
	if col == nil {
		col = t.Col("ST")
	}
	if col == nil {
		return nil, eris.Errorf("no state column in %v", t.Names())
	}
	rows := make(map[string][]int, len(abbrs))
	for i := 0; i < t.Len(); i++ {
		abbr, ok := states.AbbrFromFIPS(col.Str(i))
		if !ok {
			return nil, eris.Errorf("row %d has unknown state %q", i, col.Str(i))
		}
		rows[abbr] = append(rows[abbr], i)
	}
	out := make(map[string]*table.Table, len(abbrs))
	for _, abbr := range abbrs {
		out[abbr] = t.Take(rows[abbr])
	}
	return out, nil
}

func batched(items []string, n int) [][]string {
	var out [][]string
	for i := 0; i < len(items); i += n {
		out = append(out, items[i:min(i+n, len(items))])
	}
	return out
}
