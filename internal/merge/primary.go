package merge

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/locmaster/internal/location"
)

// Primary selection weights. These values are kept exactly as the merge
// tooling has always used them.
const (
	PlaceIDBonus      = 100.0
	NameLengthCap     = 100
	NameLengthDivisor = 10.0
	FilledFieldWeight = 2.0
	// RecencyDivisor scales unix seconds into a tie-breaker below 1.0
	RecencyDivisor = 1e10
)

// ErrPrimaryNotInGroup is returned when an operator-chosen primary is not one
// of the rows being merged
var ErrPrimaryNotInGroup = errors.New("primary is not a member of the group")

// lastEditedLayouts are tried in order when reading LastEdited
var lastEditedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Score rates how good a row is as the surviving record of a merge
func Score(rec location.Record) float64 {
	score := 0.0

	placeID := strings.TrimSpace(rec.PlaceID)
	if placeID != "" && !strings.HasPrefix(strings.ToLower(placeID), "temp") {
		score += PlaceIDBonus
	}

	nameLen := utf8.RuneCountInString(rec.Name)
	if nameLen > NameLengthCap {
		nameLen = NameLengthCap
	}
	score += float64(nameLen) / NameLengthDivisor

	for _, field := range location.StructuredFields {
		if rec.HasField(field) {
			score += FilledFieldWeight
		}
	}

	return score + recency(rec.LastEdited)
}

// recency turns a parseable timestamp into a value in [0, 1]; newer is larger
func recency(lastEdited string) float64 {
	lastEdited = strings.TrimSpace(lastEdited)
	if lastEdited == "" {
		return 0
	}
	for _, layout := range lastEditedLayouts {
		ts, err := time.Parse(layout, lastEdited)
		if err != nil {
			continue
		}
		v := float64(ts.Unix()) / RecencyDivisor
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
	return 0
}

// ChoosePrimary picks the highest scoring row as primary; every other row is
// a duplicate, in input order. Ties go to the earlier row.
func ChoosePrimary(rows []location.Record) (location.Record, []location.Record, error) {
	if len(rows) < 2 {
		return location.Record{}, nil, fmt.Errorf("choose primary from %d rows: %w", len(rows), location.ErrTooFewRows)
	}

	best := 0
	bestScore := Score(rows[0])
	for i := 1; i < len(rows); i++ {
		if s := Score(rows[i]); s > bestScore {
			best, bestScore = i, s
		}
	}

	return rows[best], without(rows, best), nil
}

// SplitPrimary uses primaryID as the primary when given, falling back to
// ChoosePrimary otherwise
func SplitPrimary(rows []location.Record, primaryID string) (location.Record, []location.Record, error) {
	if primaryID == "" {
		return ChoosePrimary(rows)
	}
	if len(rows) < 2 {
		return location.Record{}, nil, fmt.Errorf("split %d rows: %w", len(rows), location.ErrTooFewRows)
	}
	for i, row := range rows {
		if row.ID == primaryID {
			return row, without(rows, i), nil
		}
	}
	return location.Record{}, nil, fmt.Errorf("%s: %w", primaryID, ErrPrimaryNotInGroup)
}

func without(rows []location.Record, skip int) []location.Record {
	out := make([]location.Record, 0, len(rows)-1)
	for i, row := range rows {
		if i != skip {
			out = append(out, row)
		}
	}
	return out
}
