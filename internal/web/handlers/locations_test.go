package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locmaster/internal/audit"
	"github.com/locmaster/internal/location"
	"github.com/locmaster/internal/store"
)

type recordedMerge struct {
	plan      location.MergePlan
	decidedBy string
}

type fakeAudit struct {
	merges     []recordedMerge
	entries    []audit.Entry
	err        error
	historyErr error
}

func (f *fakeAudit) RecordMerge(ctx context.Context, localDebug bool, runID uuid.UUID, plan location.MergePlan, decidedBy string) error {
	f.merges = append(f.merges, recordedMerge{plan: plan, decidedBy: decidedBy})
	if f.err == nil {
		f.entries = append(f.entries, audit.MergeEntry(runID, plan, decidedBy))
	}
	return f.err
}

func (f *fakeAudit) History(ctx context.Context, localDebug bool, subjectID string) ([]audit.Entry, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	var out []audit.Entry
	for _, e := range f.entries {
		if e.SubjectID == subjectID {
			out = append(out, e)
		}
	}
	return out, nil
}

type failingSource struct{}

func (failingSource) LoadMaster(ctx context.Context) ([]location.Record, error) {
	return nil, errors.New("connection refused")
}

func (failingSource) LoadProduction(ctx context.Context, productionID string) ([]location.Record, error) {
	return nil, errors.New("connection refused")
}

func fixtureStore() *store.Memory {
	master := []location.Record{
		{ID: "M1", Name: "Loft", PlaceID: "ChIJ1", Address1: "1 Main St", City: "Troy", State: "NY", Country: "US"},
		{ID: "M2", Name: "Loft", Address1: "1 Main St", City: "Troy", State: "NY", Zip: "12180", Country: "US",
			Latitude: location.Float(42.73), Longitude: location.Float(-73.69)},
		{ID: "M3", Name: "Barn", Address1: "9 Elm St", City: "Albany", State: "NY", Zip: "12207", Country: "US",
			Latitude: location.Float(42.65), Longitude: location.Float(-73.75)},
	}
	production := []location.Record{
		{ID: "P1", ProductionID: "prod-1", LocationsMasterIDs: []string{"M2"}},
		{ID: "P2", ProductionID: "prod-1", LocationsMasterIDs: []string{"M3"}},
		{ID: "P3", ProductionID: "prod-2"},
	}
	return store.NewMemory(master, production)
}

type fixture struct {
	router   *mux.Router
	store    *store.Memory
	audit    *fakeAudit
	metrics  *Metrics
	registry *prometheus.Registry
}

func newFixture(t *testing.T, writable bool) *fixture {
	t.Helper()

	f := &fixture{
		store:    fixtureStore(),
		audit:    &fakeAudit{},
		registry: prometheus.NewRegistry(),
	}

	var writer store.Writer
	if writable {
		writer = f.store
	}
	h := NewLocationsHandler(f.store, writer)
	h.Audit = f.audit
	h.Metrics = NewMetrics(f.registry)
	f.metrics = h.Metrics

	f.router = mux.NewRouter()
	f.router.HandleFunc("/api/parse", h.Parse).Methods("POST")
	f.router.HandleFunc("/api/match", h.Match).Methods("POST")
	f.router.HandleFunc("/api/duplicates", h.Duplicates).Methods("GET")
	f.router.HandleFunc("/api/duplicates/{group}/plan", h.Plan).Methods("POST")
	f.router.HandleFunc("/api/duplicates/{group}/merge", h.Merge).Methods("POST")
	f.router.HandleFunc("/api/audit/{subject}", h.History).Methods("GET")
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func TestParse(t *testing.T) {
	f := newFixture(t, false)

	rr := f.do(t, "POST", "/api/parse", ParseRequest{Address: "123 Main St, Apt 4, springfield, IL 62701-1234"})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp ParseResponse
	decode(t, rr, &resp)
	assert.Equal(t, "123 Main St", resp.Parsed.Address1)
	assert.Equal(t, "Apt 4", resp.Parsed.Address2)
	assert.Equal(t, "62701-1234", resp.Parsed.Zip)
	assert.Equal(t, "Springfield", resp.Normalized.City)
	assert.Equal(t, "62701", resp.Normalized.Zip)
	assert.Equal(t, "123 Main St, Apt 4, Springfield, IL 62701", resp.FullAddress)
}

func TestParseRejectsEmptyInput(t *testing.T) {
	f := newFixture(t, false)

	rr := f.do(t, "POST", "/api/parse", ParseRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest("POST", "/api/parse", bytes.NewBufferString("{not json"))
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMatch(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		name       string
		record     location.Record
		wantID     string
		wantReason string
		wantCount  int
		wantStatus location.Status
	}{
		{
			name:       "place id",
			record:     location.Record{ID: "X", PlaceID: "ChIJ1"},
			wantID:     "M1",
			wantReason: "place_id",
			wantCount:  1,
			wantStatus: location.StatusMatched,
		},
		{
			name:       "ambiguous without zip",
			record:     location.Record{ID: "Y", Address1: "1 main st", City: "troy", State: "ny", Zip: "99999", Country: "us"},
			wantReason: "address_no_zip",
			wantCount:  2,
			wantStatus: location.StatusUnresolved,
		},
		{
			name:       "no match with place id is ready",
			record:     location.Record{ID: "Z", PlaceID: "ChIJnew", Address1: "5 Oak Ave", City: "Troy", State: "NY", Country: "US"},
			wantReason: "none",
			wantCount:  0,
			wantStatus: location.StatusReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, "POST", "/api/match", MatchRequest{Record: tt.record})
			require.Equal(t, http.StatusOK, rr.Code)

			var resp MatchResponse
			decode(t, rr, &resp)
			assert.Equal(t, tt.wantID, resp.Result.MatchedMasterID)
			assert.Equal(t, tt.wantReason, resp.Result.MatchReason)
			assert.Equal(t, tt.wantCount, resp.Result.CandidateCount)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.False(t, resp.Saved)
		})
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MatchOutcomes.WithLabelValues("Matched", "place_id")))
}

func TestMatchSelfExclusionAndForce(t *testing.T) {
	f := newFixture(t, false)
	self := location.Record{ID: "M1", PlaceID: "ChIJ1"}

	var resp MatchResponse
	decode(t, f.do(t, "POST", "/api/match", MatchRequest{Record: self}), &resp)
	assert.Equal(t, 0, resp.Result.CandidateCount)

	decode(t, f.do(t, "POST", "/api/match?force=true", MatchRequest{Record: self}), &resp)
	assert.Equal(t, "M1", resp.Result.MatchedMasterID)
}

func TestMatchSave(t *testing.T) {
	f := newFixture(t, false)
	rec := location.Record{ID: "P3", PlaceID: "ChIJ1"}

	rr := f.do(t, "POST", "/api/match?save=true", MatchRequest{Record: rec})
	assert.Equal(t, http.StatusForbidden, rr.Code, "read-only handler refuses to save")

	f = newFixture(t, true)
	rr = f.do(t, "POST", "/api/match?save=true", MatchRequest{Record: rec})
	require.Equal(t, http.StatusOK, rr.Code)

	prod, err := f.store.LoadProduction(context.Background(), "prod-2")
	require.NoError(t, err)
	require.Len(t, prod, 1)
	assert.Equal(t, []string{"M1"}, prod[0].LocationsMasterIDs)
	assert.Equal(t, location.StatusMatched, prod[0].Status)

	rr = f.do(t, "POST", "/api/match?save=true", MatchRequest{Record: location.Record{ID: "nope", PlaceID: "ChIJ1"}})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMatchNormalize(t *testing.T) {
	f := newFixture(t, false)
	rec := location.Record{ID: "N", FullAddress: "9 Elm St, Albany, NY 12207-0001"}

	var resp MatchResponse
	decode(t, f.do(t, "POST", "/api/match", MatchRequest{Record: rec}), &resp)
	assert.Equal(t, "none", resp.Result.MatchReason)

	decode(t, f.do(t, "POST", "/api/match?normalize=true", MatchRequest{Record: rec}), &resp)
	assert.Equal(t, "M3", resp.Result.MatchedMasterID)
	assert.Equal(t, "address_full", resp.Result.MatchReason)
}

func TestDuplicates(t *testing.T) {
	f := newFixture(t, false)

	rr := f.do(t, "GET", "/api/duplicates", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp DuplicatesResponse
	decode(t, rr, &resp)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "DUP001", resp.Groups[0].GroupID)
	assert.Equal(t, "address_no_zip", resp.Groups[0].Reason)
	assert.Equal(t, []string{"M1", "M2"}, resp.Groups[0].IDs())
	assert.Equal(t, map[string]int{"address_no_zip": 1}, resp.ByReason)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DuplicateGroups))

	decode(t, f.do(t, "GET", "/api/duplicates?reason=place_id", nil), &resp)
	assert.Equal(t, 0, resp.Total)
}

func TestPlan(t *testing.T) {
	f := newFixture(t, false)

	rr := f.do(t, "POST", "/api/duplicates/DUP001/plan", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var plan location.MergePlan
	decode(t, rr, &plan)
	assert.Equal(t, "M1", plan.Primary.ID)
	assert.Equal(t, []string{"M2"}, plan.DeleteMasterIDs)
	assert.Equal(t, "12180", plan.FieldUpdates["zip"])
	assert.Equal(t, "42.73", plan.FieldUpdates["latitude"])
	assert.NotContains(t, plan.FieldUpdates, "address1")
	assert.Equal(t, []location.ProdLocUpdate{{ProdLocID: "P1", OldMasterID: "M2", NewMasterID: "M1"}}, plan.ProdLocUpdates)

	master, _ := f.store.LoadMaster(context.Background())
	assert.Len(t, master, 3, "planning does not write")
}

func TestPlanPrimaryOverride(t *testing.T) {
	f := newFixture(t, false)

	var plan location.MergePlan
	decode(t, f.do(t, "POST", "/api/duplicates/DUP001/plan", PlanRequest{PrimaryID: "M2"}), &plan)
	assert.Equal(t, "M2", plan.Primary.ID)
	assert.Equal(t, "ChIJ1", plan.FieldUpdates["place_id"])

	rr := f.do(t, "POST", "/api/duplicates/DUP001/plan", PlanRequest{PrimaryID: "M3"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPlanUnknownGroup(t *testing.T) {
	f := newFixture(t, false)

	rr := f.do(t, "POST", "/api/duplicates/DUP999/plan", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMerge(t *testing.T) {
	f := newFixture(t, true)

	body := bytes.NewBufferString(`{"member_ids":["M1","M2"]}`)
	req := httptest.NewRequest("POST", "/api/duplicates/DUP001/merge", body)
	req.Header.Set("X-Decided-By", "reviewer@example.com")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp MergeResponse
	decode(t, rr, &resp)
	_, err := uuid.Parse(resp.RunID)
	assert.NoError(t, err)

	ctx := context.Background()
	master, _ := f.store.LoadMaster(ctx)
	require.Len(t, master, 2)
	assert.Equal(t, "M1", master[0].ID)
	assert.Equal(t, "12180", master[0].Zip)
	assert.True(t, master[0].HasCoordinates())

	prod, _ := f.store.LoadProduction(ctx, "prod-1")
	assert.Equal(t, []string{"M1"}, prod[0].LocationsMasterIDs)

	require.Len(t, f.audit.merges, 1)
	assert.Equal(t, "reviewer@example.com", f.audit.merges[0].decidedBy)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Merges.WithLabelValues("applied")))

	rr = f.do(t, "POST", "/api/duplicates/DUP001/merge", PlanRequest{MemberIDs: []string{"M1", "M2"}})
	assert.Equal(t, http.StatusConflict, rr.Code, "group is gone after the merge")
}

func TestMergeRequiresMembers(t *testing.T) {
	f := newFixture(t, true)

	rr := f.do(t, "POST", "/api/duplicates/DUP001/merge", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, "POST", "/api/duplicates/DUP001/merge", PlanRequest{MemberIDs: []string{"M1", "M3"}})
	assert.Equal(t, http.StatusConflict, rr.Code)

	master, _ := f.store.LoadMaster(context.Background())
	assert.Len(t, master, 3)
	assert.Empty(t, f.audit.merges)
}

func TestMergeSequenceFromOneListing(t *testing.T) {
	st := store.NewMemory([]location.Record{
		{ID: "A1", PlaceID: "pa"}, {ID: "A2", PlaceID: "pa"},
		{ID: "B1", PlaceID: "pb"}, {ID: "B2", PlaceID: "pb"},
		{ID: "C1", PlaceID: "pc"}, {ID: "C2", PlaceID: "pc"},
	}, nil)
	h := NewLocationsHandler(st, st)
	router := mux.NewRouter()
	router.HandleFunc("/api/duplicates", h.Duplicates).Methods("GET")
	router.HandleFunc("/api/duplicates/{group}/merge", h.Merge).Methods("POST")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/duplicates", nil))
	var listing DuplicatesResponse
	decode(t, rr, &listing)
	require.Equal(t, 3, listing.Total)

	// work through the listing in order, as an operator would
	for _, g := range listing.Groups[:2] {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(PlanRequest{MemberIDs: g.IDs()}))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest("POST", "/api/duplicates/"+g.GroupID+"/merge", &buf))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp MergeResponse
		decode(t, rr, &resp)
		assert.ElementsMatch(t, g.IDs(), append([]string{resp.Plan.Primary.ID}, resp.Plan.DeleteMasterIDs...))
	}

	master, _ := st.LoadMaster(context.Background())
	ids := make([]string, 0, len(master))
	for _, rec := range master {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"A1", "B1", "C1", "C2"}, ids)
}

func TestMergeDisabled(t *testing.T) {
	f := newFixture(t, false)

	rr := f.do(t, "POST", "/api/duplicates/DUP001/merge", PlanRequest{MemberIDs: []string{"M1", "M2"}})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	master, _ := f.store.LoadMaster(context.Background())
	assert.Len(t, master, 3)
}

func TestMergeAuditFailureIsReported(t *testing.T) {
	f := newFixture(t, true)
	f.audit.err = errors.New("audit table missing")

	rr := f.do(t, "POST", "/api/duplicates/DUP001/merge", PlanRequest{MemberIDs: []string{"M1", "M2"}})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "audit table missing", rr.Header().Get("X-Audit-Error"))
}

func TestHistory(t *testing.T) {
	f := newFixture(t, true)

	rr := f.do(t, "GET", "/api/audit/M1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp HistoryResponse
	decode(t, rr, &resp)
	assert.Equal(t, "M1", resp.SubjectID)
	assert.Empty(t, resp.Entries)
	assert.Contains(t, rr.Body.String(), `"entries":[]`)

	rr = f.do(t, "POST", "/api/duplicates/DUP001/merge", PlanRequest{MemberIDs: []string{"M1", "M2"}})
	require.Equal(t, http.StatusOK, rr.Code)

	decode(t, f.do(t, "GET", "/api/audit/M1", nil), &resp)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, audit.EventMerge, resp.Entries[0].EventType)
	assert.Equal(t, "api", resp.Entries[0].DecidedBy)
	assert.Equal(t, []string{"M2"}, resp.Entries[0].Payload.DeleteMasterIDs)

	f.audit.historyErr = errors.New("connection refused")
	rr = f.do(t, "GET", "/api/audit/M1", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHistoryWithoutAudit(t *testing.T) {
	h := NewLocationsHandler(fixtureStore(), nil)
	router := mux.NewRouter()
	router.HandleFunc("/api/audit/{subject}", h.History)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/audit/M1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestSourceErrors(t *testing.T) {
	h := NewLocationsHandler(failingSource{}, nil)
	router := mux.NewRouter()
	router.HandleFunc("/api/duplicates", h.Duplicates)
	router.HandleFunc("/api/match", h.Match)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/duplicates", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("POST", "/api/match", bytes.NewBufferString(`{"record":{"id":"x"}}`)))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
