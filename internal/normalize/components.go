package normalize

import (
	"errors"
	"strings"

	"github.com/locmaster/internal/location"
)

// DefaultCountry is assumed when nothing in the input names a country
const DefaultCountry = "US"

// ErrLibpostalUnavailable is returned by ParseLibpostal in builds without the
// libpostal tag
var ErrLibpostalUnavailable = errors.New("libpostal support not compiled in (build with -tags libpostal)")

// Components holds the structured parts of one address
type Components struct {
	Address1 string `json:"address1"`
	Address2 string `json:"address2"`
	Address3 string `json:"address3"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
	Country  string `json:"country"`
	County   string `json:"county,omitempty"`
	Borough  string `json:"borough,omitempty"`
}

// GeocoderComponent is one typed entry of a geocoder's address_components list
type GeocoderComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

// HasType reports whether the component carries the given type
func (g GeocoderComponent) HasType(t string) bool {
	for _, typ := range g.Types {
		if typ == t {
			return true
		}
	}
	return false
}

// hasTypePrefix reports whether any type starts with prefix
func (g GeocoderComponent) hasTypePrefix(prefix string) bool {
	for _, typ := range g.Types {
		if strings.HasPrefix(typ, prefix) {
			return true
		}
	}
	return false
}

// IsBlank reports whether no address component is populated. Country alone
// does not count since it is always defaulted.
func (c Components) IsBlank() bool {
	return c.Address1 == "" && c.Address2 == "" && c.Address3 == "" &&
		c.City == "" && c.State == "" && c.Zip == "" &&
		c.County == "" && c.Borough == ""
}

// FromRecord extracts the address components of a location record
func FromRecord(rec location.Record) Components {
	return Components{
		Address1: rec.Address1,
		Address2: rec.Address2,
		Address3: rec.Address3,
		City:     rec.City,
		State:    rec.State,
		Zip:      rec.Zip,
		Country:  rec.Country,
		County:   rec.County,
		Borough:  rec.Borough,
	}
}

// Apply writes the components back onto a copy of rec
func (c Components) Apply(rec location.Record) location.Record {
	rec.Address1 = c.Address1
	rec.Address2 = c.Address2
	rec.Address3 = c.Address3
	rec.City = c.City
	rec.State = c.State
	rec.Zip = c.Zip
	rec.Country = c.Country
	rec.County = c.County
	rec.Borough = c.Borough
	return rec
}
