package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/locmaster/internal/location"
)

// regionCodes maps upper-cased US state and Canadian province names to their
// two-letter codes so "New York" does not truncate to "NE".
var regionCodes = map[string]string{
	"ALABAMA": "AL", "ALASKA": "AK", "ARIZONA": "AZ", "ARKANSAS": "AR",
	"CALIFORNIA": "CA", "COLORADO": "CO", "CONNECTICUT": "CT", "DELAWARE": "DE",
	"DISTRICT OF COLUMBIA": "DC", "FLORIDA": "FL", "GEORGIA": "GA", "HAWAII": "HI",
	"IDAHO": "ID", "ILLINOIS": "IL", "INDIANA": "IN", "IOWA": "IA",
	"KANSAS": "KS", "KENTUCKY": "KY", "LOUISIANA": "LA", "MAINE": "ME",
	"MARYLAND": "MD", "MASSACHUSETTS": "MA", "MICHIGAN": "MI", "MINNESOTA": "MN",
	"MISSISSIPPI": "MS", "MISSOURI": "MO", "MONTANA": "MT", "NEBRASKA": "NE",
	"NEVADA": "NV", "NEW HAMPSHIRE": "NH", "NEW JERSEY": "NJ", "NEW MEXICO": "NM",
	"NEW YORK": "NY", "NORTH CAROLINA": "NC", "NORTH DAKOTA": "ND", "OHIO": "OH",
	"OKLAHOMA": "OK", "OREGON": "OR", "PENNSYLVANIA": "PA", "RHODE ISLAND": "RI",
	"SOUTH CAROLINA": "SC", "SOUTH DAKOTA": "SD", "TENNESSEE": "TN", "TEXAS": "TX",
	"UTAH": "UT", "VERMONT": "VT", "VIRGINIA": "VA", "WASHINGTON": "WA",
	"WEST VIRGINIA": "WV", "WISCONSIN": "WI", "WYOMING": "WY", "PUERTO RICO": "PR",

	"ALBERTA": "AB", "BRITISH COLUMBIA": "BC", "MANITOBA": "MB", "NEW BRUNSWICK": "NB",
	"NEWFOUNDLAND AND LABRADOR": "NL", "NOVA SCOTIA": "NS", "ONTARIO": "ON",
	"PRINCE EDWARD ISLAND": "PE", "QUEBEC": "QC", "SASKATCHEWAN": "SK",
	"NORTHWEST TERRITORIES": "NT", "NUNAVUT": "NU", "YUKON": "YT",
}

var reFiveDigits = regexp.MustCompile(`\d{5}`)

// Normalize canonicalizes components. Applying it twice returns the same value.
func Normalize(c Components) Components {
	out := Components{
		Address1: cleanText(c.Address1),
		Address2: cleanText(c.Address2),
		Address3: cleanText(c.Address3),
		County:   cleanText(c.County),
		Borough:  cleanText(c.Borough),
		City:     normalizeCity(c.City),
		State:    normalizeState(c.State),
		Country:  normalizeCountry(c.Country),
	}
	out.Zip = normalizeZip(c.Zip, out.Country)
	return out
}

// cleanText trims and collapses internal whitespace
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func normalizeCity(s string) string {
	s = cleanText(s)
	if s == "" {
		return ""
	}
	// a Caser keeps state between calls, so one per call
	return cases.Title(language.English).String(s)
}

func normalizeCountry(s string) string {
	s = strings.ToUpper(cleanText(s))
	if s == "" {
		return DefaultCountry
	}
	if code, ok := countryTokens[s]; ok {
		return code
	}
	return truncate(s, 2)
}

func normalizeState(s string) string {
	s = strings.ToUpper(cleanText(s))
	if code, ok := regionCodes[s]; ok {
		return code
	}
	return truncate(s, 2)
}

// normalizeZip keeps the first five-digit run for US codes. A US value with
// no five-digit run is kept trimmed rather than dropped.
func normalizeZip(s, country string) string {
	s = cleanText(s)
	if country != "US" {
		return s
	}
	if m := reFiveDigits.FindString(s); m != "" {
		return m
	}
	return s
}

// truncate keeps the first n runes. A cut can end on a space ("N Dakota"
// gives "N "), so the result is cleaned again.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return cleanText(string(r[:n]))
}

// BuildFullAddress renders components as a single display line:
// address lines, then "city, state zip", then the country when not US.
func BuildFullAddress(c Components) string {
	var parts []string
	for _, line := range []string{c.Address1, c.Address2, c.Address3} {
		if line = cleanText(line); line != "" {
			parts = append(parts, line)
		}
	}

	stateZip := joinNonEmpty(" ", cleanText(c.State), cleanText(c.Zip))
	if cityLine := joinNonEmpty(", ", cleanText(c.City), stateZip); cityLine != "" {
		parts = append(parts, cityLine)
	}

	if country := cleanText(c.Country); country != "" && !strings.EqualFold(country, DefaultCountry) {
		parts = append(parts, country)
	}
	return strings.Join(parts, ", ")
}

// DedupKey is the component-based identity of an address
func DedupKey(c Components) string {
	n := Normalize(c)
	return strings.ToLower(strings.Join([]string{n.Address1, n.City, n.State, n.Zip, n.Country}, "|"))
}

// NormalizeRecord canonicalizes the address fields of a record. When the
// structured fields are blank and a full address string is present, it is
// parsed first. The full address is rebuilt from the result.
func NormalizeRecord(rec location.Record) location.Record {
	comps := FromRecord(rec)
	if comps.IsBlank() && strings.TrimSpace(rec.FullAddress) != "" {
		parsed := Parse(rec.FullAddress, nil)
		if comps.Country != "" {
			parsed.Country = comps.Country
		}
		comps = parsed
	}

	comps = Normalize(comps)
	out := comps.Apply(rec)
	out.PlaceID = strings.TrimSpace(rec.PlaceID)
	out.Name = cleanText(rec.Name)
	if full := BuildFullAddress(comps); full != "" {
		out.FullAddress = full
	}
	return out
}

func joinNonEmpty(sep string, values ...string) string {
	var kept []string
	for _, v := range values {
		if v != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, sep)
}
