// Package states maps USPS state abbreviations to census FIPS codes.
package states

import (
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// FIPSCodes maps state abbreviation to 2-digit FIPS code for the 50 states,
// DC and Puerto Rico.
var FIPSCodes = map[string]string{
	"AL": "01", "AK": "02", "AZ": "04", "AR": "05", "CA": "06",
	"CO": "08", "CT": "09", "DE": "10", "DC": "11", "FL": "12",
	"GA": "13", "HI": "15", "ID": "16", "IL": "17", "IN": "18",
	"IA": "19", "KS": "20", "KY": "21", "LA": "22", "ME": "23",
	"MD": "24", "MA": "25", "MI": "26", "MN": "27", "MS": "28",
	"MO": "29", "MT": "30", "NE": "31", "NV": "32", "NH": "33",
	"NJ": "34", "NM": "35", "NY": "36", "NC": "37", "ND": "38",
	"OH": "39", "OK": "40", "OR": "41", "PA": "42", "RI": "44",
	"SC": "45", "SD": "46", "TN": "47", "TX": "48", "UT": "49",
	"VT": "50", "VA": "51", "WA": "53", "WV": "54", "WI": "55",
	"WY": "56", "PR": "72",
}

// All is the keyword that expands to the 50 states and DC.
const All = "ALL"

var abbrByFIPS map[string]string

func init() {
	abbrByFIPS = make(map[string]string, len(FIPSCodes))
	for abbr, fips := range FIPSCodes {
		abbrByFIPS[fips] = abbr
	}
}

// FIPS returns the FIPS code for a state abbreviation, case-insensitively.
func FIPS(abbr string) (string, bool) {
	fips, ok := FIPSCodes[strings.ToUpper(strings.TrimSpace(abbr))]
	return fips, ok
}

// FIPSInt returns the numeric FIPS code for a state abbreviation.
func FIPSInt(abbr string) (int64, error) {
	fips, ok := FIPS(abbr)
	if !ok {
		return 0, eris.Errorf("states: unknown state %q", abbr)
	}
	n, err := strconv.ParseInt(fips, 10, 64)
	return n, eris.Wrap(err, "states: parse fips")
}

// AbbrFromFIPS returns the state abbreviation for a FIPS code. Unpadded
// codes such as "6" are accepted.
func AbbrFromFIPS(fips string) (string, bool) {
	if len(fips) == 1 {
		fips = "0" + fips
	}
	abbr, ok := abbrByFIPS[fips]
	return abbr, ok
}

// AbbrFromFIPSInt is AbbrFromFIPS for numeric codes.
func AbbrFromFIPSInt(fips int64) (string, bool) {
	return AbbrFromFIPS(strconv.FormatInt(fips, 10))
}

// Mainland returns the 50 states and DC in FIPS order.
func Mainland() []string {
	out := make([]string, 0, len(FIPSCodes))
	for abbr := range FIPSCodes {
		if abbr != "PR" {
			out = append(out, abbr)
		}
	}
	SortByFIPS(out)
	return out
}

// SortByFIPS sorts abbreviations by FIPS code in place.
func SortByFIPS(abbrs []string) {
	sort.Slice(abbrs, func(i, j int) bool {
		return FIPSCodes[abbrs[i]] < FIPSCodes[abbrs[j]]
	})
}

// Resolve uppercases and validates a configured state list, keeping its
// order and dropping duplicates. "all" expands to Mainland.
func Resolve(list []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(abbr string) {
		if !seen[abbr] {
			seen[abbr] = true
			out = append(out, abbr)
		}
	}
	for _, s := range list {
		s = strings.ToUpper(strings.TrimSpace(s))
		switch {
		case s == "":
			continue
		case s == All:
			for _, abbr := range Mainland() {
				add(abbr)
			}
		default:
			if _, ok := FIPSCodes[s]; !ok {
				return nil, eris.Errorf("states: unknown state %q", s)
			}
			add(s)
		}
	}
	if len(out) == 0 {
		return nil, eris.New("states: no states configured")
	}
	return out, nil
}

// FIPSList returns the FIPS codes of abbrs, in order.
func FIPSList(abbrs []string) ([]string, error) {
	out := make([]string, len(abbrs))
	for i, a := range abbrs {
		fips, ok := FIPS(a)
		if !ok {
			return nil, eris.Errorf("states: unknown state %q", a)
		}
		out[i] = fips
	}
	return out, nil
}

// FIPSInts returns the numeric FIPS codes of abbrs as a set.
func FIPSInts(abbrs []string) (map[int64]bool, error) {
	out := make(map[int64]bool, len(abbrs))
	for _, a := range abbrs {
		n, err := FIPSInt(a)
		if err != nil {
			return nil, err
		}
		out[n] = true
	}
	return out, nil
}
