//go:build libpostal

package normalize

import (
	"strings"

	postal "github.com/openvenues/gopostal/parser"
)

// LibpostalAvailable reports whether this binary was built with libpostal
const LibpostalAvailable = true

// ParseLibpostal parses a free-text address with libpostal and maps its
// labels onto Components. House number and road form line 1; unit, level and
// staircase form line 2.
func ParseLibpostal(fullAddress string) (Components, error) {
	var c Components
	var houseNumber, road, house string
	var line2 []string

	for _, comp := range postal.ParseAddress(fullAddress) {
		value := strings.TrimSpace(comp.Value)
		switch comp.Label {
		case "house_number":
			houseNumber = value
		case "road":
			road = value
		case "house":
			house = value
		case "unit", "level", "staircase", "entrance", "po_box":
			line2 = append(line2, value)
		case "suburb", "city_district":
			if c.Borough == "" {
				c.Borough = value
			}
		case "city":
			c.City = value
		case "state_district":
			c.County = stripCounty(value)
		case "state":
			c.State = value
		case "postcode":
			c.Zip = value
		case "country":
			c.Country = value
		}
	}

	c.Address1 = joinNonEmpty(" ", houseNumber, road)
	if c.Address1 == "" {
		c.Address1 = house
	}
	c.Address2 = strings.Join(line2, " ")
	if c.Country == "" {
		c.Country = DefaultCountry
	}
	return c, nil
}
