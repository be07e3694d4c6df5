package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/locmaster/internal/debug"
	"github.com/locmaster/internal/location"
	"github.com/locmaster/internal/normalize"
)

// ErrMissingIDColumn is returned when a file has no id column
var ErrMissingIDColumn = errors.New("csv header has no id column")

// Options controls how rows are read
type Options struct {
	// Normalize runs NormalizeRecord on every row, parsing full_address
	// when the structured columns are blank
	Normalize bool
	Debug     bool
}

// Stats summarises one read
type Stats struct {
	Read    int
	Skipped int
}

// ReadLocationsCSV reads location records from a header-named CSV file
func ReadLocationsCSV(path string, opts Options) ([]location.Record, Stats, error) {
	fmt.Fprintf(os.Stderr, "Reading locations from %s...\n", path)

	file, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	records, stats, err := ReadLocations(file, opts)
	if err != nil {
		return nil, stats, fmt.Errorf("%s: %w", path, err)
	}

	fmt.Fprintf(os.Stderr, "Read complete: %d records, %d skipped\n", stats.Read, stats.Skipped)
	return records, stats, nil
}

// ReadLocations reads location records from CSV. Columns are matched by
// header name, case-insensitively; unknown columns are ignored. Rows without
// an id are skipped.
func ReadLocations(r io.Reader, opts Options) ([]location.Record, Stats, error) {
	debug.DebugHeader(opts.Debug)
	defer debug.DebugFooter(opts.Debug)

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, Stats{}, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	if _, ok := columns["id"]; !ok {
		return nil, Stats{}, ErrMissingIDColumn
	}
	debug.DebugOutput(opts.Debug, "Header columns: %v", header)

	var records []location.Record
	var stats Stats
	line := 1

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			debug.DebugOutput(opts.Debug, "Line %d: %v", line, err)
			stats.Skipped++
			continue
		}

		rec := mapRow(row, columns)
		if rec.IsEmpty() {
			debug.DebugOutput(opts.Debug, "Line %d: no id, skipped", line)
			stats.Skipped++
			continue
		}
		if opts.Normalize {
			rec = normalize.NormalizeRecord(rec)
		}

		records = append(records, rec)
		stats.Read++
	}

	return records, stats, nil
}

func mapRow(row []string, columns map[string]int) location.Record {
	get := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	return location.Record{
		ID:                 get("id"),
		Name:               get("name"),
		Address1:           get("address1"),
		Address2:           get("address2"),
		Address3:           get("address3"),
		City:               get("city"),
		State:              get("state"),
		Zip:                get("zip"),
		Country:            get("country"),
		County:             get("county"),
		Borough:            get("borough"),
		FullAddress:        get("full_address"),
		PlaceID:            get("place_id"),
		Latitude:           parseFloat(get("latitude")),
		Longitude:          parseFloat(get("longitude")),
		ProductionID:       get("production_id"),
		LocationsMasterIDs: splitIDs(get("locations_master_ids")),
		Status:             location.Status(get("status")),
		LastEdited:         get("last_edited"),
	}
}

// parseFloat safely converts string to float64 pointer
func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// splitIDs accepts "a;b", "a|b" and Postgres-style "{a,b}" or "[a,b]" lists
func splitIDs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	sep := ";"
	switch {
	case strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"),
		strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		s = s[1 : len(s)-1]
		sep = ","
	case strings.Contains(s, "|"):
		sep = "|"
	}

	var ids []string
	for _, part := range strings.Split(s, sep) {
		part = strings.Trim(strings.TrimSpace(part), `"'`)
		if part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}
