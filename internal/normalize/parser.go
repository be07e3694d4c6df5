package normalize

import (
	"regexp"
	"strings"

	"github.com/locmaster/internal/debug"
)

// countryTokens maps a trailing free-text country segment to its code
var countryTokens = map[string]string{
	"US":                       "US",
	"USA":                      "US",
	"U.S.":                     "US",
	"U.S.A.":                   "US",
	"UNITED STATES":            "US",
	"UNITED STATES OF AMERICA": "US",
	"CANADA":                   "CA",
}

// AddressParser splits free-text addresses into structured components
type AddressParser struct {
	usStateZip *regexp.Regexp
	caPostal   *regexp.Regexp
	bareState  *regexp.Regexp
}

// NewAddressParser creates a parser for US and Canadian address tails
func NewAddressParser() *AddressParser {
	return &AddressParser{
		// "NY 12180", "Troy NY 12180-1234"
		usStateZip: regexp.MustCompile(`(?i)^(?:(.*?)\s+)?([A-Z]{2})\s+(\d{5}(?:-\d{4})?)$`),
		// "ON M5V 3L9", "Toronto ON M5V-3L9", "ON M5V3L9"
		caPostal:  regexp.MustCompile(`(?i)^(?:(.*?)\s+)?([A-Z]{2})\s+([A-Z]\d[A-Z])[\s-]?(\d[A-Z]\d)$`),
		bareState: regexp.MustCompile(`(?i)^[A-Z]{2}$`),
	}
}

var defaultParser = NewAddressParser()

// Parse parses an address with the default parser
func Parse(fullAddress string, components []GeocoderComponent) Components {
	return defaultParser.Parse(false, fullAddress, components)
}

// Parse extracts structured components. Typed geocoder components, when
// supplied, win for country, state, county and borough; the free-text string
// supplies the street lines, city and zip. Input with fewer than two
// comma-separated segments degrades to a result with only the country set.
func (p *AddressParser) Parse(localDebug bool, fullAddress string, components []GeocoderComponent) Components {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	fromComponents := parseGeocoderComponents(components)
	debug.DebugOutput(localDebug, "Geocoder components: %+v", fromComponents)

	fromString := p.parseFreeText(fullAddress)
	debug.DebugOutput(localDebug, "Free-text components: %+v", fromString)

	result := fromString
	if fromComponents.Country != "" {
		result.Country = fromComponents.Country
	}
	if fromComponents.State != "" {
		result.State = fromComponents.State
	}
	if fromComponents.County != "" {
		result.County = fromComponents.County
	}
	if fromComponents.Borough != "" {
		result.Borough = fromComponents.Borough
	}
	if result.Country == "" {
		result.Country = DefaultCountry
	}

	debug.DebugOutput(localDebug, "Parsed: %+v", result)
	return result
}

// parseGeocoderComponents reads typed component entries
func parseGeocoderComponents(components []GeocoderComponent) Components {
	var c Components
	for _, comp := range components {
		switch {
		case comp.HasType("country"):
			c.Country = firstNonEmpty(comp.ShortName, comp.LongName)
		case comp.HasType("administrative_area_level_1"):
			c.State = firstNonEmpty(comp.ShortName, comp.LongName)
		case comp.HasType("administrative_area_level_2"):
			c.County = stripCounty(firstNonEmpty(comp.LongName, comp.ShortName))
		case comp.hasTypePrefix("sublocality"):
			if c.Borough == "" {
				c.Borough = strings.TrimSpace(firstNonEmpty(comp.LongName, comp.ShortName))
			}
		}
	}
	return c
}

var reCountyWord = regexp.MustCompile(`(?i)\s*\bcounty\b\s*`)

func stripCounty(s string) string {
	return strings.TrimSpace(reCountyWord.ReplaceAllString(s, " "))
}

// parseFreeText splits on commas and reads the trailing segments
func (p *AddressParser) parseFreeText(fullAddress string) Components {
	var c Components

	segments := splitSegments(fullAddress)
	if len(segments) < 2 {
		return c
	}

	if code, ok := countryTokens[strings.ToUpper(segments[len(segments)-1])]; ok {
		c.Country = code
		segments = segments[:len(segments)-1]
	}
	if len(segments) == 0 {
		return c
	}

	last := segments[len(segments)-1]
	rest := segments[:len(segments)-1]
	cityFromTail := ""

	if m := p.usStateZip.FindStringSubmatch(last); m != nil {
		cityFromTail = strings.TrimSpace(m[1])
		c.State = strings.ToUpper(m[2])
		c.Zip = m[3]
		if c.Country == "" {
			c.Country = "US"
		}
	} else if m := p.caPostal.FindStringSubmatch(last); m != nil {
		cityFromTail = strings.TrimSpace(m[1])
		c.State = strings.ToUpper(m[2])
		c.Zip = strings.ToUpper(m[3] + " " + m[4])
		c.Country = "CA"
	} else if p.bareState.MatchString(last) {
		c.State = strings.ToUpper(last)
	} else if code, ok := regionCodes[strings.ToUpper(last)]; ok {
		c.State = code
	} else if len(rest) == 0 {
		return c
	}

	if cityFromTail != "" {
		c.City = cityFromTail
	} else if len(rest) > 0 {
		c.City = rest[len(rest)-1]
		rest = rest[:len(rest)-1]
	}

	assignLines(&c, rest)
	return c
}

// assignLines fills address lines; the third and later segments share line 3
func assignLines(c *Components, lines []string) {
	if len(lines) > 0 {
		c.Address1 = lines[0]
	}
	if len(lines) > 1 {
		c.Address2 = lines[1]
	}
	if len(lines) > 2 {
		c.Address3 = strings.Join(lines[2:], ", ")
	}
}

func splitSegments(s string) []string {
	var segments []string
	for _, part := range strings.Split(s, ",") {
		part = strings.Join(strings.Fields(part), " ")
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
