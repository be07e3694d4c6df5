package importer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `ID,Name,Address1,City,State,Zip,Country,Place_ID,Latitude,Longitude,Production_ID,Locations_Master_IDs,Extra
M1,Loft, 1 Main St ,Troy,NY,12180,US,ChIJ1,42.7,-73.6,,,x
M2,Barn,9 Elm St,Albany,NY,,US,,not-a-number,,,,
,Nameless,2 Main St,Troy,NY,,US,,,,,,
P1,Set,,,,,,,,,prod-1,"{M1,M2}",
P2,Set,,,,,,,,,prod-1,M1|M2,
`

func TestReadLocations(t *testing.T) {
	records, stats, err := ReadLocations(strings.NewReader(sample), Options{})
	require.NoError(t, err)

	assert.Equal(t, Stats{Read: 4, Skipped: 1}, stats)
	require.Len(t, records, 4)

	m1 := records[0]
	assert.Equal(t, "M1", m1.ID)
	assert.Equal(t, "1 Main St", m1.Address1)
	assert.Equal(t, "ChIJ1", m1.PlaceID)
	require.True(t, m1.HasCoordinates())
	assert.InDelta(t, 42.7, *m1.Latitude, 1e-9)

	assert.Nil(t, records[1].Latitude, "unparseable coordinate reads as missing")

	assert.Equal(t, "prod-1", records[2].ProductionID)
	assert.Equal(t, []string{"M1", "M2"}, records[2].LocationsMasterIDs)
	assert.Equal(t, []string{"M1", "M2"}, records[3].LocationsMasterIDs)
}

func TestReadLocationsNormalize(t *testing.T) {
	in := "id,full_address\nL1,\"100 main st, troy, NY 12180-4321\"\n"

	records, _, err := ReadLocations(strings.NewReader(in), Options{Normalize: true})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "100 main st", rec.Address1)
	assert.Equal(t, "Troy", rec.City)
	assert.Equal(t, "NY", rec.State)
	assert.Equal(t, "12180", rec.Zip)
	assert.Equal(t, "US", rec.Country)
}

func TestReadLocationsMissingID(t *testing.T) {
	_, _, err := ReadLocations(strings.NewReader("name,city\nx,y\n"), Options{})
	assert.ErrorIs(t, err, ErrMissingIDColumn)
}

func TestReadLocationsCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.csv")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	records, stats, err := ReadLocationsCSV(path, Options{})
	require.NoError(t, err)
	assert.Len(t, records, 4)
	assert.Equal(t, 1, stats.Skipped)

	_, _, err = ReadLocationsCSV(filepath.Join(t.TempDir(), "missing.csv"), Options{})
	assert.Error(t, err)
}

func TestSplitIDs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"A", []string{"A"}},
		{"A;B", []string{"A", "B"}},
		{"A|B", []string{"A", "B"}},
		{"{A,B}", []string{"A", "B"}},
		{`["A", "B"]`, []string{"A", "B"}},
		{"{}", nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, splitIDs(tt.in))
		})
	}
}
