package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFreeText(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    Components
	}{
		{
			name:    "US street city state zip",
			address: "100 Main St, Troy, NY 12180",
			want:    Components{Address1: "100 Main St", City: "Troy", State: "NY", Zip: "12180", Country: "US"},
		},
		{
			name:    "ZIP plus four and extra lines",
			address: "Suite 200, 100 Main St, Floor 3, Annex, Troy, NY 12180-1234",
			want: Components{
				Address1: "Suite 200", Address2: "100 Main St", Address3: "Floor 3, Annex",
				City: "Troy", State: "NY", Zip: "12180-1234", Country: "US",
			},
		},
		{
			name:    "Canadian postal code",
			address: "1 Yonge St, Toronto, ON M5E 1W7",
			want:    Components{Address1: "1 Yonge St", City: "Toronto", State: "ON", Zip: "M5E 1W7", Country: "CA"},
		},
		{
			name:    "Canadian postal code with hyphen",
			address: "1 Yonge St, Toronto, on m5e-1w7",
			want:    Components{Address1: "1 Yonge St", City: "Toronto", State: "ON", Zip: "M5E 1W7", Country: "CA"},
		},
		{
			name:    "trailing country segment",
			address: "350 5th Ave, New York, NY 10118, USA",
			want:    Components{Address1: "350 5th Ave", City: "New York", State: "NY", Zip: "10118", Country: "US"},
		},
		{
			name:    "city inside state zip segment",
			address: "100 Main St, Troy NY 12180",
			want:    Components{Address1: "100 Main St", City: "Troy", State: "NY", Zip: "12180", Country: "US"},
		},
		{
			name:    "state spelled out",
			address: "5 Elm St, Troy, New York",
			want:    Components{Address1: "5 Elm St", City: "Troy", State: "NY", Country: "US"},
		},
		{
			name:    "trailing CA is California, not Canada",
			address: "1 Main St, Los Angeles, CA",
			want:    Components{Address1: "1 Main St", City: "Los Angeles", State: "CA", Country: "US"},
		},
		{
			name:    "single segment degrades",
			address: "Troy NY 12180",
			want:    Components{Country: "US"},
		},
		{
			name:    "empty input degrades",
			address: "",
			want:    Components{Country: "US"},
		},
		{
			name:    "only commas",
			address: " , ,, ",
			want:    Components{Country: "US"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.address, nil))
		})
	}
}

func TestParseGeocoderComponentsTakePrecedence(t *testing.T) {
	components := []GeocoderComponent{
		{LongName: "United States", ShortName: "US", Types: []string{"country", "political"}},
		{LongName: "New York", ShortName: "NY", Types: []string{"administrative_area_level_1", "political"}},
		{LongName: "New York County", ShortName: "New York County", Types: []string{"administrative_area_level_2", "political"}},
		{LongName: "Manhattan", ShortName: "Manhattan", Types: []string{"sublocality_level_1", "sublocality", "political"}},
	}

	got := Parse("350 5th Ave, New York, NJ 10118", components)

	assert.Equal(t, "US", got.Country)
	assert.Equal(t, "NY", got.State, "component state wins over string state")
	assert.Equal(t, "New York", got.County)
	assert.Equal(t, "Manhattan", got.Borough)
	assert.Equal(t, "New York", got.City)
	assert.Equal(t, "10118", got.Zip)
	assert.Equal(t, "350 5th Ave", got.Address1)
}

func TestParseComponentsWithoutState(t *testing.T) {
	components := []GeocoderComponent{
		{LongName: "Canada", ShortName: "CA", Types: []string{"country"}},
	}

	got := Parse("1 Yonge St, Toronto, ON M5E 1W7", components)
	assert.Equal(t, "CA", got.Country)
	assert.Equal(t, "ON", got.State, "string state used when components lack one")
}

func TestParseComponentsOnDegradedString(t *testing.T) {
	components := []GeocoderComponent{
		{LongName: "Canada", ShortName: "CA", Types: []string{"country"}},
		{LongName: "Ontario", ShortName: "ON", Types: []string{"administrative_area_level_1"}},
	}

	got := Parse("somewhere", components)
	assert.Equal(t, Components{Country: "CA", State: "ON"}, got)
}

func TestParseLibpostalStub(t *testing.T) {
	if LibpostalAvailable {
		t.Skip("built with libpostal")
	}
	_, err := ParseLibpostal("100 Main St, Troy, NY 12180")
	assert.ErrorIs(t, err, ErrLibpostalUnavailable)
}
