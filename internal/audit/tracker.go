package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/locmaster/internal/debug"
	"github.com/locmaster/internal/location"
)

// Audit event types
const (
	EventMerge = "merge"
	EventMatch = "match"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS location_audit (
	audit_id     bigserial PRIMARY KEY,
	run_id       uuid NOT NULL,
	event_type   text NOT NULL,
	subject_id   text NOT NULL,
	decision     text NOT NULL DEFAULT '',
	decided_by   text NOT NULL DEFAULT '',
	payload_json jsonb,
	created_at   timestamptz DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_location_audit_subject ON location_audit(subject_id);
CREATE INDEX IF NOT EXISTS idx_location_audit_run ON location_audit(run_id);
`

// Tracker keeps an audit trail of merge and match decisions
type Tracker struct {
	db *sql.DB
}

// NewTracker creates a new audit tracker
func NewTracker(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

// NewRunID returns a fresh identifier grouping the events of one run
func NewRunID() uuid.UUID {
	return uuid.New()
}

// Entry is one row of the audit trail
type Entry struct {
	RunID     uuid.UUID `json:"run_id"`
	EventType string    `json:"event_type"`
	SubjectID string    `json:"subject_id"`
	Decision  string    `json:"decision"`
	DecidedBy string    `json:"decided_by"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Payload is the JSON detail stored with an entry
type Payload struct {
	FieldUpdates    map[string]string        `json:"field_updates,omitempty"`
	ProdLocUpdates  []location.ProdLocUpdate `json:"prod_loc_updates,omitempty"`
	DeleteMasterIDs []string                 `json:"delete_master_ids,omitempty"`
	MatchReason     string                   `json:"match_reason,omitempty"`
	CandidateCount  int                      `json:"candidate_count,omitempty"`
	MatchedMasterID string                   `json:"matched_master_id,omitempty"`
	Notes           string                   `json:"notes,omitempty"`
}

// EnsureSchema creates the audit table if needed
func (t *Tracker) EnsureSchema(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

// MergeEntry builds the audit entry for an applied merge plan
func MergeEntry(runID uuid.UUID, plan location.MergePlan, decidedBy string) Entry {
	return Entry{
		RunID:     runID,
		EventType: EventMerge,
		SubjectID: plan.Primary.ID,
		Decision:  fmt.Sprintf("merged %d into %s", len(plan.DeleteMasterIDs), plan.Primary.ID),
		DecidedBy: decidedBy,
		Payload: Payload{
			FieldUpdates:    plan.FieldUpdates,
			ProdLocUpdates:  plan.ProdLocUpdates,
			DeleteMasterIDs: plan.DeleteMasterIDs,
		},
	}
}

// MatchEntry builds the audit entry for a saved match outcome
func MatchEntry(runID uuid.UUID, recordID string, status location.Status, result location.MatchResult, decidedBy string) Entry {
	return Entry{
		RunID:     runID,
		EventType: EventMatch,
		SubjectID: recordID,
		Decision:  string(status),
		DecidedBy: decidedBy,
		Payload: Payload{
			MatchReason:     result.MatchReason,
			CandidateCount:  result.CandidateCount,
			MatchedMasterID: result.MatchedMasterID,
			Notes:           result.Notes,
		},
	}
}

// RecordMerge stores an applied merge plan in the audit trail
func (t *Tracker) RecordMerge(ctx context.Context, localDebug bool, runID uuid.UUID, plan location.MergePlan, decidedBy string) error {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	debug.DebugOutput(localDebug, "Recording merge into %s (%d retired)", plan.Primary.ID, len(plan.DeleteMasterIDs))
	return t.insert(ctx, MergeEntry(runID, plan, decidedBy))
}

// RecordMatch stores a match outcome in the audit trail
func (t *Tracker) RecordMatch(ctx context.Context, localDebug bool, runID uuid.UUID, recordID string, status location.Status, result location.MatchResult, decidedBy string) error {
	debug.DebugOutput(localDebug, "Recording match for %s: %s (%s)", recordID, status, result.MatchReason)
	return t.insert(ctx, MatchEntry(runID, recordID, status, result, decidedBy))
}

func (t *Tracker) insert(ctx context.Context, entry Entry) error {
	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}

	_, err = t.db.ExecContext(ctx, `
		INSERT INTO location_audit (run_id, event_type, subject_id, decision, decided_by, payload_json)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.RunID.String(), entry.EventType, entry.SubjectID, entry.Decision, entry.DecidedBy, payloadJSON)
	if err != nil {
		return fmt.Errorf("failed to insert %s audit for %s: %w", entry.EventType, entry.SubjectID, err)
	}
	return nil
}

// History returns the audit entries for one subject, newest first
func (t *Tracker) History(ctx context.Context, localDebug bool, subjectID string) ([]Entry, error) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	rows, err := t.db.QueryContext(ctx, `
		SELECT run_id, event_type, subject_id, decision, decided_by, payload_json, created_at
		FROM location_audit
		WHERE subject_id = $1
		ORDER BY created_at DESC, audit_id DESC
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit history: %w", err)
	}
	defer rows.Close()

	var history []Entry
	for rows.Next() {
		var entry Entry
		var runID string
		var payloadJSON sql.NullString

		if err := rows.Scan(&runID, &entry.EventType, &entry.SubjectID, &entry.Decision,
			&entry.DecidedBy, &payloadJSON, &entry.CreatedAt); err != nil {
			debug.DebugOutput(localDebug, "Error scanning audit row: %v", err)
			continue
		}

		entry.RunID, err = uuid.Parse(runID)
		if err != nil {
			debug.DebugOutput(localDebug, "Bad run id %q: %v", runID, err)
		}
		if payloadJSON.Valid {
			if err := json.Unmarshal([]byte(payloadJSON.String), &entry.Payload); err != nil {
				debug.DebugOutput(localDebug, "Bad audit payload: %v", err)
			}
		}
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit history: %w", err)
	}

	debug.DebugOutput(localDebug, "Retrieved %d audit entries for %s", len(history), subjectID)
	return history, nil
}
