package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locmaster/internal/audit"
	"github.com/locmaster/internal/dedupe"
	"github.com/locmaster/internal/location"
	"github.com/locmaster/internal/merge"
)

const masterCSV = `id,name,address1,city,state,zip,country,place_id,latitude,longitude
M1,Loft,1 Main St,Troy,NY,,US,ChIJ1,,
M2,Loft,1 Main St,Troy,NY,12180,US,,42.73,-73.69
M3,Barn,9 Elm St,Albany,NY,12207,US,,42.65,-73.75
`

const productionCSV = `id,production_id,place_id,address1,city,state,zip,country,locations_master_ids
P1,prod-1,,9 Elm St,Albany,NY,12207,US,M2
P2,prod-1,ChIJ1,,,,,,
P3,prod-2,,1 Main St,Troy,NY,99999,US,
`

func writeFixtures(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	master := filepath.Join(dir, "master.csv")
	production := filepath.Join(dir, "production.csv")
	require.NoError(t, os.WriteFile(master, []byte(masterCSV), 0o644))
	require.NoError(t, os.WriteFile(production, []byte(productionCSV), 0o644))
	return master, production
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseCommand(t *testing.T) {
	out, err := run(t, "parse", "--json", "350 5th Ave, New York, NY 10118")
	require.NoError(t, err)

	var resp struct {
		Normalized  map[string]string `json:"normalized"`
		FullAddress string            `json:"full_address"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "350 5th Ave", resp.Normalized["address1"])
	assert.Equal(t, "New York", resp.Normalized["city"])
	assert.Equal(t, "NY", resp.Normalized["state"])
	assert.Equal(t, "350 5th Ave, New York, NY 10118", resp.FullAddress)
}

func TestMatchCommand(t *testing.T) {
	master, production := writeFixtures(t)

	out, err := run(t, "match", "--json", "--master", master, "--production", production)
	require.NoError(t, err)

	var resp struct {
		Outcomes []struct {
			Record location.Record      `json:"record"`
			Result location.MatchResult `json:"result"`
			Status location.Status      `json:"status"`
		} `json:"outcomes"`
		Stats struct {
			Matched   int `json:"matched"`
			Ambiguous int `json:"ambiguous"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Outcomes, 3)

	assert.Equal(t, "M3", resp.Outcomes[0].Result.MatchedMasterID)
	assert.Equal(t, "address_full", resp.Outcomes[0].Result.MatchReason)
	assert.Equal(t, "M1", resp.Outcomes[1].Result.MatchedMasterID)
	assert.Equal(t, "place_id", resp.Outcomes[1].Result.MatchReason)
	assert.Equal(t, 2, resp.Outcomes[2].Result.CandidateCount)
	assert.Equal(t, location.StatusUnresolved, resp.Outcomes[2].Status)
	assert.Equal(t, 2, resp.Stats.Matched)
	assert.Equal(t, 1, resp.Stats.Ambiguous)
}

func TestDuplicatesCommand(t *testing.T) {
	master, _ := writeFixtures(t)

	out, err := run(t, "duplicates", "--master", master)
	require.NoError(t, err)
	assert.Contains(t, out, "DUP001 (address_no_zip): M1, M2")
	assert.Contains(t, out, "1 groups, address_no_zip: 1")
}

func TestMergePlanCommand(t *testing.T) {
	master, production := writeFixtures(t)

	out, err := run(t, "merge-plan", "--group", "DUP001", "--members", "M2,M1", "--master", master, "--production", production, "--apply")
	require.NoError(t, err)

	var plan location.MergePlan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Equal(t, "M1", plan.Primary.ID)
	assert.Equal(t, []string{"M2"}, plan.DeleteMasterIDs)
	assert.Equal(t, "12180", plan.FieldUpdates["zip"])
	assert.Equal(t, []location.ProdLocUpdate{{ProdLocID: "P1", OldMasterID: "M2", NewMasterID: "M1"}}, plan.ProdLocUpdates)
}

func TestMergePlanCommandErrors(t *testing.T) {
	master, _ := writeFixtures(t)

	_, err := run(t, "merge-plan", "--master", master)
	assert.Error(t, err, "--group is required")

	_, err = run(t, "merge-plan", "--group", "DUP404", "--master", master)
	assert.ErrorIs(t, err, dedupe.ErrGroupNotFound)

	_, err = run(t, "merge-plan", "--group", "DUP001", "--primary", "M3", "--master", master)
	assert.ErrorIs(t, err, merge.ErrPrimaryNotInGroup)

	_, err = run(t, "merge-plan", "--group", "DUP001", "--apply", "--master", master)
	assert.ErrorContains(t, err, "--apply requires --members")

	_, err = run(t, "merge-plan", "--group", "DUP001", "--members", "M1,M3", "--apply", "--master", master)
	assert.ErrorIs(t, err, dedupe.ErrGroupChanged)
}

func TestMergePlanCommandRadius(t *testing.T) {
	master, _ := writeFixtures(t)

	// M2 and M3 are about 10 km apart
	out, err := run(t, "merge-plan", "--group", "DUP001", "--members", "M1,M2,M3", "--radius", "20000", "--master", master)
	require.NoError(t, err)

	var plan location.MergePlan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.ElementsMatch(t, []string{"M2", "M3"}, plan.DeleteMasterIDs)
}

func TestPrintHistory(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printHistory(&out, "M9", nil, false))
	assert.Equal(t, "No audit entries for M9\n", out.String())

	out.Reset()
	runID := uuid.MustParse("0b5d6c4e-9a55-4a3e-9f5d-2f1b7d7f4a10")
	entries := []audit.Entry{{
		RunID:     runID,
		EventType: audit.EventMerge,
		SubjectID: "M1",
		Decision:  "merged 1 into M1",
		DecidedBy: "ops",
		CreatedAt: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	}}
	require.NoError(t, printHistory(&out, "M1", entries, false))
	assert.Equal(t, "2024-05-01 09:30:00  merge  merged 1 into M1  (by ops, run "+runID.String()+")\n", out.String())

	out.Reset()
	require.NoError(t, printHistory(&out, "M9", nil, true))
	assert.JSONEq(t, "[]", out.String())
}
