// Package census fetches raw Census tables: ACS aggregate estimates from the
// Census Data API and PUMS microdata from the API or the 5-year CSV
// archives. Source layers a per-state sqlite cache over both.
package census

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/RSGInc/bts-populationsim/internal/table"
)

// DataType selects the family of tables to fetch.
type DataType string

const (
	PUMS DataType = "PUMS"
	ACS  DataType = "ACS"
)

// ParseDataType accepts a case-insensitive data type name.
func ParseDataType(s string) (DataType, error) {
	switch DataType(strings.ToUpper(s)) {
	case PUMS:
		return PUMS, nil
	case ACS:
		return ACS, nil
	}
	return "", eris.Errorf("census: data type must be PUMS or ACS, got %q", s)
}

// PUMS table levels.
const (
	Households = "HH"
	Persons    = "PER"
)

// Tables maps a geography (ACS) or level (PUMS) to its raw table.
type Tables map[string]*table.Table

// Fetcher returns the raw tables of a data type restricted to states.
type Fetcher interface {
	Fetch(ctx context.Context, dt DataType, states []string) (Tables, error)
}

// StateFetcher fetches one geography for a group of states, typed by schema.
// The returned table carries a state column ("state" or "ST").
type StateFetcher interface {
	FetchStates(ctx context.Context, geo string, schema table.Schema, abbrs []string) (*table.Table, error)
}

// PUMSMissing is the fill value for blank PUMS integer cells.
const PUMSMissing = "995"

func pumsInt(name string) table.Field {
	return table.Field{Name: name, Kind: table.Int, Fill: table.FillWith(PUMSMissing)}
}

// PUMSSchemas are the household and person fields read from PUMS.
var PUMSSchemas = map[string]table.Schema{
	Households: {
		{Name: "SERIALNO", Kind: table.String, Fill: table.Reject},
		pumsInt("PUMA"),
		pumsInt("ST"),
		pumsInt("WGTP"),
		pumsInt("NP"),
		pumsInt("HINCP"),
		pumsInt("VEH"),
		pumsInt("HUPAC"),
	},
	Persons: {
		{Name: "SERIALNO", Kind: table.String, Fill: table.Reject},
		pumsInt("SPORDER"),
		pumsInt("PUMA"),
		pumsInt("ST"),
		pumsInt("PWGTP"),
		pumsInt("JWTRNS"),
		pumsInt("ESR"),
		pumsInt("SCH"),
		pumsInt("SCHG"),
		pumsInt("AGEP"),
		pumsInt("SEX"),
		pumsInt("RAC1P"),
		pumsInt("HISP"),
		pumsInt("WKHP"),
	},
}

// PUMSLevels lists the PUMS tables in fetch order.
var PUMSLevels = []string{Households, Persons}
