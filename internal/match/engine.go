package match

import (
	"fmt"
	"strings"

	"github.com/locmaster/internal/debug"
	"github.com/locmaster/internal/location"
	"github.com/locmaster/internal/normalize"
)

// ReasonNone is reported when no tier produced a candidate
const ReasonNone = "none"

// DefaultTiers is the strict priority order of matching strategies. A looser
// tier can only add candidates, so evaluation stops at the first tier that
// produces any.
var DefaultTiers = []normalize.KeyKind{
	normalize.KeyPlaceID,
	normalize.KeyAddressFull,
	normalize.KeyAddressNoZip,
	normalize.KeyAddressMinimal,
}

// Options controls self-exclusion during a match
type Options struct {
	// ExcludeID is skipped as a candidate. Empty means the record's own ID.
	ExcludeID string
	// Force disables exclusion entirely, so a record already present in the
	// registry can match itself.
	Force bool
}

// excluded returns the ID to skip for rec, or "" when nothing is skipped
func (o Options) excluded(rec location.Record) string {
	if o.Force {
		return ""
	}
	if o.ExcludeID != "" {
		return o.ExcludeID
	}
	return rec.ID
}

// Engine matches location records against a master registry snapshot
type Engine struct {
	tiers []normalize.KeyKind
}

// NewEngine creates an engine using DefaultTiers
func NewEngine() *Engine {
	return &Engine{tiers: DefaultTiers}
}

// Match finds the master record for rec
func (e *Engine) Match(rec location.Record, registry []location.Record, opts Options) location.MatchResult {
	return e.MatchDebug(false, rec, registry, opts)
}

// MatchDebug is Match with trace output
func (e *Engine) MatchDebug(localDebug bool, rec location.Record, registry []location.Record, opts Options) location.MatchResult {
	return e.MatchIndexed(localDebug, rec, NewIndex(registry), opts)
}

// MatchIndexed matches rec against a prebuilt index. Use it when many records
// are matched against the same snapshot.
func (e *Engine) MatchIndexed(localDebug bool, rec location.Record, idx *Index, opts Options) location.MatchResult {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	exclude := opts.excluded(rec)
	debug.DebugOutput(localDebug, "Matching record %q (exclude=%q, force=%v)", rec.ID, exclude, opts.Force)

	for _, tier := range e.tiers {
		key, ok := normalize.RecordKey(tier, rec)
		if !ok {
			debug.DebugOutput(localDebug, "Tier %s: record has no key, skipped", tier)
			continue
		}

		candidates := idx.lookup(tier, key, exclude)
		debug.DebugOutput(localDebug, "Tier %s: %d candidates", tier, len(candidates))

		switch {
		case len(candidates) == 1:
			return location.MatchResult{
				MatchedMasterID: candidates[0].ID,
				Status:          location.StatusMatched,
				MatchReason:     string(tier),
				CandidateCount:  1,
				Notes:           fmt.Sprintf("Matched master %s on %s", candidates[0].ID, tier),
			}
		case len(candidates) > 1:
			return location.MatchResult{
				Status:         location.StatusUnresolved,
				MatchReason:    string(tier),
				CandidateCount: len(candidates),
				Notes: fmt.Sprintf("Ambiguous: %d master records share the same %s (%s); manual resolution required",
					len(candidates), tier, strings.Join(candidateIDs(candidates), ", ")),
			}
		}
	}

	return location.MatchResult{
		Status:         location.StatusUnresolved,
		MatchReason:    ReasonNone,
		CandidateCount: 0,
		Notes:          "No master record matched on place_id or address",
	}
}

// ResolveStatus derives the status to store for a record. An explicit status
// from the caller wins; otherwise a unique match is Matched, a record with a
// place_id but no match is Ready, and anything else is Unresolved.
func ResolveStatus(explicit location.Status, result location.MatchResult, rec location.Record) location.Status {
	if explicit != "" {
		return explicit
	}
	if result.Matched() {
		return location.StatusMatched
	}
	if strings.TrimSpace(rec.PlaceID) != "" {
		return location.StatusReady
	}
	return location.StatusUnresolved
}

func candidateIDs(rows []location.Record) []string {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids
}
