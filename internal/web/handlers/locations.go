package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/locmaster/internal/audit"
	"github.com/locmaster/internal/dedupe"
	"github.com/locmaster/internal/location"
	"github.com/locmaster/internal/match"
	"github.com/locmaster/internal/merge"
	"github.com/locmaster/internal/normalize"
	"github.com/locmaster/internal/store"
)

// AuditTrail records applied merges and reads decisions back
type AuditTrail interface {
	RecordMerge(ctx context.Context, localDebug bool, runID uuid.UUID, plan location.MergePlan, decidedBy string) error
	History(ctx context.Context, localDebug bool, subjectID string) ([]audit.Entry, error)
}

// LocationsHandler serves parsing, matching, duplicate and merge endpoints
type LocationsHandler struct {
	Source  store.Snapshotter
	Writer  store.Writer  // nil rejects save and merge requests
	Audit   AuditTrail    // optional
	Metrics *Metrics      // optional
	Debug   bool

	engine    *match.Engine
	clusterer *dedupe.Clusterer
}

// NewLocationsHandler creates a handler reading from source
func NewLocationsHandler(source store.Snapshotter, writer store.Writer) *LocationsHandler {
	return &LocationsHandler{
		Source:    source,
		Writer:    writer,
		engine:    match.NewEngine(),
		clusterer: dedupe.NewClusterer(),
	}
}

// ParseRequest is the body of POST /api/parse
type ParseRequest struct {
	Address    string                        `json:"address"`
	Components []normalize.GeocoderComponent `json:"components"`
}

// ParseResponse carries parsed and normalized components
type ParseResponse struct {
	Parsed      normalize.Components `json:"parsed"`
	Normalized  normalize.Components `json:"normalized"`
	FullAddress string               `json:"full_address"`
	DedupKey    string               `json:"dedup_key"`
}

// MatchRequest is the body of POST /api/match
type MatchRequest struct {
	Record location.Record `json:"record"`
}

// MatchResponse carries a match result and the status to store
type MatchResponse struct {
	Result location.MatchResult `json:"result"`
	Status location.Status      `json:"status"`
	Saved  bool                 `json:"saved"`
}

// DuplicatesResponse lists duplicate groups
type DuplicatesResponse struct {
	Groups   []location.DuplicateGroup `json:"groups"`
	Total    int                       `json:"total"`
	ByReason map[string]int            `json:"by_reason"`
}

// PlanRequest is the body of the plan and merge endpoints. MemberIDs are the
// record ids the caller reviewed; group ids are renumbered by every
// clustering run, so merges are only applied to a group with exactly these
// members.
type PlanRequest struct {
	PrimaryID string   `json:"primary_id"`
	MemberIDs []string `json:"member_ids"`
}

// MergeResponse reports an applied merge
type MergeResponse struct {
	RunID string             `json:"run_id"`
	Plan  location.MergePlan `json:"plan"`
}

// HistoryResponse lists the audit entries of one record
type HistoryResponse struct {
	SubjectID string        `json:"subject_id"`
	Entries   []audit.Entry `json:"entries"`
}

// Parse splits a free-text address into components
func (h *LocationsHandler) Parse(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Address) == "" && len(req.Components) == 0 {
		writeError(w, http.StatusBadRequest, "address or components required")
		return
	}

	parsed := normalize.NewAddressParser().Parse(h.Debug, req.Address, req.Components)
	normalized := normalize.Normalize(parsed)

	writeJSON(w, http.StatusOK, ParseResponse{
		Parsed:      parsed,
		Normalized:  normalized,
		FullAddress: normalize.BuildFullAddress(normalized),
		DedupKey:    normalize.DedupKey(normalized),
	})
}

// Match resolves one record against the current master snapshot. Query
// parameters: force disables self-exclusion, normalize canonicalizes the
// record first, save writes the outcome back to the production row.
func (h *LocationsHandler) Match(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	query := r.URL.Query()
	force := parseBoolParam(query.Get("force"))
	rec := req.Record
	if parseBoolParam(query.Get("normalize")) {
		rec = normalize.NormalizeRecord(rec)
	}

	registry, err := h.Source.LoadMaster(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	result := h.engine.MatchDebug(h.Debug, rec, registry, match.Options{Force: force})
	status := match.ResolveStatus("", result, rec)
	if h.Metrics != nil {
		h.Metrics.MatchOutcomes.WithLabelValues(string(status), result.MatchReason).Inc()
	}

	resp := MatchResponse{Result: result, Status: status}
	if parseBoolParam(query.Get("save")) {
		if h.Writer == nil {
			writeError(w, http.StatusForbidden, "saving is disabled")
			return
		}
		if rec.IsEmpty() {
			writeError(w, http.StatusBadRequest, "record id required to save")
			return
		}
		if err := h.Writer.SaveMatch(r.Context(), rec.ID, status, result); err != nil {
			writeStoreError(w, err)
			return
		}
		resp.Saved = true
	}

	writeJSON(w, http.StatusOK, resp)
}

// Duplicates scans the master registry for duplicate groups
func (h *LocationsHandler) Duplicates(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	if reason := r.URL.Query().Get("reason"); reason != "" {
		filtered := make([]location.DuplicateGroup, 0, len(groups))
		for _, g := range groups {
			if g.Reason == reason {
				filtered = append(filtered, g)
			}
		}
		groups = filtered
	}

	writeJSON(w, http.StatusOK, DuplicatesResponse{
		Groups:   groups,
		Total:    len(groups),
		ByReason: dedupe.ReasonCounts(groups),
	})
}

// Plan builds the merge plan for one duplicate group without applying it
func (h *LocationsHandler) Plan(w http.ResponseWriter, r *http.Request) {
	plan, ok := h.plan(w, r, false)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// Merge builds and applies the merge plan for one duplicate group
func (h *LocationsHandler) Merge(w http.ResponseWriter, r *http.Request) {
	if h.Writer == nil {
		writeError(w, http.StatusForbidden, "merging is disabled")
		return
	}

	plan, ok := h.plan(w, r, true)
	if !ok {
		return
	}

	if err := h.Writer.ApplyMergePlan(r.Context(), plan); err != nil {
		h.countMerge("error")
		writeStoreError(w, err)
		return
	}
	h.countMerge("applied")

	runID := uuid.New()
	if h.Audit != nil {
		decidedBy := r.Header.Get("X-Decided-By")
		if decidedBy == "" {
			decidedBy = "api"
		}
		// the merge is committed; an audit failure is reported but not fatal
		if err := h.Audit.RecordMerge(r.Context(), h.Debug, runID, plan, decidedBy); err != nil {
			w.Header().Set("X-Audit-Error", err.Error())
		}
	}

	writeJSON(w, http.StatusOK, MergeResponse{RunID: runID.String(), Plan: plan})
}

// plan resolves the group named in the URL and builds its plan, writing an
// error response and returning false on failure. With requireMembers the
// request must name the reviewed member ids.
func (h *LocationsHandler) plan(w http.ResponseWriter, r *http.Request, requireMembers bool) (location.MergePlan, bool) {
	groupID := mux.Vars(r)["group"]

	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return location.MergePlan{}, false
	}
	if requireMembers && len(req.MemberIDs) == 0 {
		writeError(w, http.StatusBadRequest, "member_ids required")
		return location.MergePlan{}, false
	}

	groups, err := h.groups(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return location.MergePlan{}, false
	}
	group, err := dedupe.ResolveGroup(groups, groupID, req.MemberIDs)
	if err != nil {
		writeStoreError(w, err)
		return location.MergePlan{}, false
	}

	production, err := h.Source.LoadProduction(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return location.MergePlan{}, false
	}

	plan, err := merge.PlanForGroup(h.Debug, group, production, req.PrimaryID)
	if err != nil {
		writeStoreError(w, err)
		return location.MergePlan{}, false
	}
	return plan, true
}

// History lists the audit trail of one master or production record
func (h *LocationsHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit trail is not configured")
		return
	}

	subjectID := mux.Vars(r)["subject"]
	entries, err := h.Audit.History(r.Context(), h.Debug, subjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{SubjectID: subjectID, Entries: entries})
}

func (h *LocationsHandler) groups(ctx context.Context) ([]location.DuplicateGroup, error) {
	master, err := h.Source.LoadMaster(ctx)
	if err != nil {
		return nil, err
	}
	groups := h.clusterer.FindDuplicates(h.Debug, master)
	if h.Metrics != nil {
		h.Metrics.DuplicateGroups.Set(float64(len(groups)))
	}
	return groups, nil
}

func (h *LocationsHandler) countMerge(result string) {
	if h.Metrics != nil {
		h.Metrics.Merges.WithLabelValues(result).Inc()
	}
}

func parseBoolParam(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps domain sentinels to client errors and everything else to 500
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, dedupe.ErrGroupNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dedupe.ErrGroupChanged):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, location.ErrTooFewRows),
		errors.Is(err, location.ErrNoPrimary),
		errors.Is(err, location.ErrNoDuplicates),
		errors.Is(err, merge.ErrPrimaryNotInGroup),
		errors.Is(err, store.ErrDeletesPrimary):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Database error")
	}
}
