package census

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/fetcher"
	"github.com/RSGInc/bts-populationsim/internal/states"
	"github.com/RSGInc/bts-populationsim/internal/table"
)

// DefaultAPIBase is the Census Data API host.
const DefaultAPIBase = "https://api.census.gov"

// Fields per request. The API caps a request at 50 variables.
const (
	acsChunk  = 40
	pumsChunk = 3
)

// pumsKeys identify a PUMS person record and are added to every PUMS request
// so chunks can be joined.
var pumsKeys = []string{"SERIALNO", "SPORDER"}

var geoPredicates = map[string]string{
	"BG":     "block%20group:*",
	"TRACT":  "tract:*",
	"COUNTY": "county:*",
	"PUMA":   "public%20use%20microdata%20area:*",
}

var geoParents = map[string]string{
	"BG":     "TRACT",
	"TRACT":  "COUNTY",
	"COUNTY": "STATE",
	"PUMA":   "STATE",
}

// APIOptions configures an APIClient.
type APIOptions struct {
	BaseURL string
	Year    int
	ACSType string // acs5 or acs1
	Key     string
}

// APIClient fetches tables from the Census Data API. One client serves one
// data type.
type APIClient struct {
	fetch fetcher.Fetcher
	dt    DataType
	opts  APIOptions
	log   *zap.Logger
}

// NewAPIClient returns a client for dt.
func NewAPIClient(f fetcher.Fetcher, dt DataType, opts APIOptions) *APIClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultAPIBase
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.ACSType == "" {
		opts.ACSType = "acs5"
	}
	return &APIClient{
		fetch: f,
		dt:    dt,
		opts:  opts,
		log:   zap.L().With(zap.String("component", "census.api"), zap.String("data_type", string(dt))),
	}
}

// geoClause renders the for/in predicates of geo, walking up to the state.
func geoClause(geo string, fips []string) (string, error) {
	stateIn := "state:" + strings.Join(fips, ",")
	if geo == "STATE" {
		return "&for=" + stateIn, nil
	}
	pred, ok := geoPredicates[geo]
	if !ok {
		return "", eris.Errorf("census: unsupported API geography %q", geo)
	}
	var b strings.Builder
	b.WriteString("&for=")
	b.WriteString(pred)
	for p := geoParents[geo]; p != ""; p = geoParents[p] {
		b.WriteString("&in=")
		if p == "STATE" {
			b.WriteString(stateIn)
			break
		}
		b.WriteString(geoPredicates[p])
	}
	return b.String(), nil
}

// URL builds the request URL for one field chunk.
func (c *APIClient) URL(geo string, fields, fips []string) (string, error) {
	clause, err := geoClause(geo, fips)
	if err != nil {
		return "", err
	}
	base := c.opts.BaseURL + "/data/" + strconv.Itoa(c.opts.Year) + "/acs/" + c.opts.ACSType
	get := strings.Join(fields, ",")
	if c.dt == PUMS {
		base += "/pums"
	} else {
		get = "NAME," + get
	}
	u := base + "?get=" + get + clause
	if c.opts.Key != "" {
		u += "&key=" + c.opts.Key
	}
	return u, nil
}

// chunks splits the field names for requests. PUMS chunks always carry the
// record keys.
func (c *APIClient) chunks(names []string) [][]string {
	size := acsChunk
	if c.dt == PUMS {
		size = pumsChunk
	}
	var out [][]string
	for i := 0; i < len(names); i += size {
		chunk := append([]string(nil), names[i:min(i+size, len(names))]...)
		if c.dt == PUMS {
			for _, k := range pumsKeys {
				if !contains(chunk, k) {
					chunk = append(chunk, k)
				}
			}
		}
		out = append(out, chunk)
	}
	return out
}

// FetchStates implements StateFetcher. For PUMS, geo names the level (HH
// or PER) and records are requested by PUMA.
func (c *APIClient) FetchStates(ctx context.Context, geo string, schema table.Schema, abbrs []string) (*table.Table, error) {
	fips, err := states.FIPSList(abbrs)
	if err != nil {
		return nil, err
	}
	apiGeo := geo
	if c.dt == PUMS {
		apiGeo = "PUMA"
	}
	names := schema.Names()
	chunks := c.chunks(names)

	var out *table.Table
	for i, chunk := range chunks {
		u, err := c.URL(apiGeo, chunk, fips)
		if err != nil {
			return nil, err
		}
		c.log.Debug("requesting fields",
			zap.String("geo", geo),
			zap.Strings("states", abbrs),
			zap.Int("chunk", i+1),
			zap.Int("chunks", len(chunks)),
		)
		part, err := c.get(ctx, u, chunkSchema(schema, chunk))
		if err != nil {
			return nil, eris.Wrapf(err, "census: %s %s %v", c.dt, geo, abbrs)
		}
		if out == nil {
			out = part
			continue
		}
		common := table.CommonNames(out, part)
		if len(common) == 0 {
			return nil, eris.Errorf("census: no columns in common between %v and %v to join chunks on", out.Names(), part.Names())
		}
		if out, err = table.InnerJoin(out, part, common...); err != nil {
			return nil, eris.Wrap(err, "census: join chunks")
		}
	}
	if out == nil {
		return nil, eris.Errorf("census: no fields requested for %s", geo)
	}
	if c.dt == PUMS && !contains(names, "SPORDER") {
		if out, err = firstPerKey(out, "SERIALNO"); err != nil {
			return nil, err
		}
		out.Drop("SPORDER")
	}
	return orderColumns(out, names)
}

// get requests one chunk and decodes the array-of-rows body.
func (c *APIClient) get(ctx context.Context, u string, schema table.Schema) (*table.Table, error) {
	body, err := c.fetch.Download(ctx, u)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	rows, errs := fetcher.DecodeJSONArray[[]string](ctx, body)
	var header []string
	var records [][]string
	for row := range rows {
		if header == nil {
			header = row
			continue
		}
		records = append(records, row)
	}
	if err := <-errs; err != nil {
		var na *fetcher.NotArrayError
		if errors.As(err, &na) {
			return nil, eris.Wrap(err, "census: API returned an error, check the API key")
		}
		return nil, err
	}
	if header == nil {
		return nil, eris.New("census: API returned an empty response, check the API key")
	}
	return table.FromRecords(header, records, fullSchema(header, schema))
}

// chunkSchema restricts schema to names, adding string fields for names the
// schema lacks.
func chunkSchema(schema table.Schema, names []string) table.Schema {
	out := make(table.Schema, 0, len(names))
	for _, n := range names {
		f, ok := schema.Lookup(n)
		if !ok {
			f = table.Field{Name: n, Kind: table.String, Fill: table.KeepNull}
			if n == "SPORDER" {
				f = pumsInt(n)
			}
		}
		out = append(out, f)
	}
	return out
}

// fullSchema types every header column: schema fields by their declaration,
// everything else (NAME, geography columns) as strings.
func fullSchema(header []string, schema table.Schema) table.Schema {
	out := make(table.Schema, 0, len(header))
	for _, h := range header {
		f, ok := schema.Lookup(h)
		if !ok {
			f = table.Field{Name: h, Kind: table.String, Fill: table.KeepNull}
		}
		out = append(out, f)
	}
	return out
}

// orderColumns puts columns outside fields first, then fields in order.
func orderColumns(t *table.Table, fields []string) (*table.Table, error) {
	var order []string
	for _, n := range t.Names() {
		if !contains(fields, n) {
			order = append(order, n)
		}
	}
	for _, n := range fields {
		if t.Has(n) {
			order = append(order, n)
		}
	}
	return t.Select(order...)
}

func firstPerKey(t *table.Table, key string) (*table.Table, error) {
	k, err := table.NewKeyer(t, key)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	return t.Filter(func(i int) bool {
		s := k.Key(i)
		if seen[s] {
			return false
		}
		seen[s] = true
		return true
	}), nil
}

func contains(names []string, n string) bool {
	for _, s := range names {
		if s == n {
			return true
		}
	}
	return false
}
