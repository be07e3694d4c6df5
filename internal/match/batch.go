package match

import (
	"github.com/locmaster/internal/debug"
	"github.com/locmaster/internal/location"
)

// Outcome pairs a record with its match result and resolved status
type Outcome struct {
	Record location.Record      `json:"record"`
	Result location.MatchResult `json:"result"`
	Status location.Status      `json:"status"`
}

// BatchStats summarises a batch of outcomes
type BatchStats struct {
	Total      int `json:"total"`
	Matched    int `json:"matched"`
	Ambiguous  int `json:"ambiguous"`
	Ready      int `json:"ready"`
	Unresolved int `json:"unresolved"`
}

// MatchAll matches every record against one registry snapshot
func (e *Engine) MatchAll(localDebug bool, records, registry []location.Record, opts Options) []Outcome {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)
	defer debug.DebugTiming(localDebug, "batch match")()

	idx := NewIndex(registry)
	debug.DebugOutput(localDebug, "Indexed %d registry rows", idx.Len())
	outcomes := make([]Outcome, 0, len(records))

	for _, rec := range records {
		// per-record exclusion; an explicit ExcludeID only makes sense for one record
		recOpts := Options{Force: opts.Force}
		result := e.MatchIndexed(false, rec, idx, recOpts)
		outcomes = append(outcomes, Outcome{
			Record: rec,
			Result: result,
			Status: ResolveStatus("", result, rec),
		})
	}

	stats := Summarize(outcomes)
	debug.DebugOutput(localDebug, "Batch complete - Matched: %d, Ambiguous: %d, Ready: %d, Unresolved: %d",
		stats.Matched, stats.Ambiguous, stats.Ready, stats.Unresolved)
	return outcomes
}

// Summarize counts outcomes by status. Ambiguous results are counted apart
// from the other unresolved ones.
func Summarize(outcomes []Outcome) BatchStats {
	stats := BatchStats{Total: len(outcomes)}
	for _, o := range outcomes {
		switch {
		case o.Status == location.StatusMatched:
			stats.Matched++
		case o.Result.CandidateCount > 1:
			stats.Ambiguous++
		case o.Status == location.StatusReady:
			stats.Ready++
		default:
			stats.Unresolved++
		}
	}
	return stats
}
