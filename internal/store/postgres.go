package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/locmaster/internal/debug"
	"github.com/locmaster/internal/location"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS locations_master (
	id           text PRIMARY KEY,
	name         text NOT NULL DEFAULT '',
	address1     text NOT NULL DEFAULT '',
	address2     text NOT NULL DEFAULT '',
	address3     text NOT NULL DEFAULT '',
	city         text NOT NULL DEFAULT '',
	state        text NOT NULL DEFAULT '',
	zip          text NOT NULL DEFAULT '',
	country      text NOT NULL DEFAULT '',
	county       text NOT NULL DEFAULT '',
	borough      text NOT NULL DEFAULT '',
	full_address text NOT NULL DEFAULT '',
	place_id     text NOT NULL DEFAULT '',
	latitude     double precision,
	longitude    double precision,
	last_edited  timestamptz
);

CREATE TABLE IF NOT EXISTS production_locations (
	id                   text PRIMARY KEY,
	production_id        text NOT NULL DEFAULT '',
	name                 text NOT NULL DEFAULT '',
	address1             text NOT NULL DEFAULT '',
	address2             text NOT NULL DEFAULT '',
	address3             text NOT NULL DEFAULT '',
	city                 text NOT NULL DEFAULT '',
	state                text NOT NULL DEFAULT '',
	zip                  text NOT NULL DEFAULT '',
	country              text NOT NULL DEFAULT '',
	county               text NOT NULL DEFAULT '',
	borough              text NOT NULL DEFAULT '',
	full_address         text NOT NULL DEFAULT '',
	place_id             text NOT NULL DEFAULT '',
	latitude             double precision,
	longitude            double precision,
	locations_master_ids text[] NOT NULL DEFAULT '{}',
	status               text NOT NULL DEFAULT '',
	match_reason         text NOT NULL DEFAULT '',
	match_notes          text NOT NULL DEFAULT '',
	last_edited          timestamptz
);

CREATE INDEX IF NOT EXISTS idx_production_locations_production ON production_locations(production_id);
CREATE INDEX IF NOT EXISTS idx_production_locations_master_ids ON production_locations USING gin(locations_master_ids);
`

const recordColumns = `id, name, address1, address2, address3, city, state, zip, country,
	county, borough, full_address, place_id, latitude, longitude, last_edited`

// Postgres reads and writes location tables with lib/pq
type Postgres struct {
	db         *sql.DB
	localDebug bool
	progress   io.Writer
}

// NewPostgres wraps an open database handle. Bulk load progress goes to
// stderr so stdout stays free for command output.
func NewPostgres(db *sql.DB, localDebug bool) *Postgres {
	return &Postgres{db: db, localDebug: localDebug, progress: os.Stderr}
}

// EnsureSchema creates the location tables if they do not exist
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create location schema: %w", err)
	}
	return nil
}

// LoadMaster returns every master registry row ordered by id
func (p *Postgres) LoadMaster(ctx context.Context) ([]location.Record, error) {
	defer debug.DebugTiming(p.localDebug, "load locations_master")()

	rows, err := p.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM locations_master ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations_master: %w", err)
	}
	defer rows.Close()

	var records []location.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan master row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read locations_master: %w", err)
	}

	debug.DebugOutput(p.localDebug, "Loaded %d master rows", len(records))
	return records, nil
}

// LoadProduction returns production rows, optionally for one production
func (p *Postgres) LoadProduction(ctx context.Context, productionID string) ([]location.Record, error) {
	defer debug.DebugTiming(p.localDebug, "load production_locations")()

	query := `SELECT ` + recordColumns + `, production_id, locations_master_ids, status
		FROM production_locations
		WHERE ($1 = '' OR production_id = $1)
		ORDER BY id`

	rows, err := p.db.QueryContext(ctx, query, productionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query production_locations: %w", err)
	}
	defer rows.Close()

	var records []location.Record
	for rows.Next() {
		var prodID, status string
		var masterIDs pq.StringArray
		rec, err := scanRecord(rows, &prodID, &masterIDs, &status)
		if err != nil {
			return nil, fmt.Errorf("failed to scan production row: %w", err)
		}
		rec.ProductionID = prodID
		rec.LocationsMasterIDs = []string(masterIDs)
		rec.Status = location.Status(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read production_locations: %w", err)
	}

	debug.DebugOutput(p.localDebug, "Loaded %d production rows (production=%q)", len(records), productionID)
	return records, nil
}

// ApplyMergePlan fills the primary's empty fields, repoints production rows
// and deletes the retired masters in one transaction. The primary row is
// locked first; a plan whose primary or production rows have gone away is
// rejected with ErrNotFound and nothing is written.
func (p *Postgres) ApplyMergePlan(ctx context.Context, plan location.MergePlan) error {
	debug.DebugHeader(p.localDebug)
	defer debug.DebugFooter(p.localDebug)

	if err := validatePlan(plan); err != nil {
		return fmt.Errorf("refusing merge plan: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lockedID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM locations_master WHERE id = $1 FOR UPDATE`, plan.Primary.ID).Scan(&lockedID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("primary %s: %w", plan.Primary.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock primary %s: %w", plan.Primary.ID, err)
	}

	if query, args, ok := fieldUpdateSQL(plan.Primary.ID, plan.FieldUpdates); ok {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to update primary %s: %w", plan.Primary.ID, err)
		}
		debug.DebugOutput(p.localDebug, "Filled up to %d fields on %s", len(plan.FieldUpdates), plan.Primary.ID)
	}

	for _, u := range plan.ProdLocUpdates {
		res, err := tx.ExecContext(ctx, `
			UPDATE production_locations
			SET locations_master_ids = array_replace(locations_master_ids, $1, $2)
			WHERE id = $3
		`, u.OldMasterID, u.NewMasterID, u.ProdLocID)
		if err != nil {
			return fmt.Errorf("failed to repoint production location %s: %w", u.ProdLocID, err)
		}
		if err := requireRow(res, "production location "+u.ProdLocID); err != nil {
			return err
		}
	}
	debug.DebugOutput(p.localDebug, "Repointed %d production locations", len(plan.ProdLocUpdates))

	res, err := tx.ExecContext(ctx, `DELETE FROM locations_master WHERE id = ANY($1)`, pq.Array(plan.DeleteMasterIDs))
	if err != nil {
		return fmt.Errorf("failed to delete merged masters: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		debug.DebugOutput(p.localDebug, "Deleted %d master rows", n)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit merge: %w", err)
	}
	return nil
}

// SaveMatch stores a match outcome on a production row. The master pointer is
// only written for a unique match; unresolved outcomes keep the old pointer.
func (p *Postgres) SaveMatch(ctx context.Context, recordID string, status location.Status, result location.MatchResult) error {
	var res sql.Result
	var err error
	if result.Matched() {
		res, err = p.db.ExecContext(ctx, `
			UPDATE production_locations
			SET locations_master_ids = $2, status = $3, match_reason = $4, match_notes = $5
			WHERE id = $1
		`, recordID, pq.Array([]string{result.MatchedMasterID}), string(status), result.MatchReason, result.Notes)
	} else {
		res, err = p.db.ExecContext(ctx, `
			UPDATE production_locations
			SET status = $2, match_reason = $3, match_notes = $4
			WHERE id = $1
		`, recordID, string(status), result.MatchReason, result.Notes)
	}
	if err != nil {
		return fmt.Errorf("failed to save match for %s: %w", recordID, err)
	}
	return requireRow(res, "production location "+recordID)
}

// requireRow turns an UPDATE that matched nothing into ErrNotFound
func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// scanRecord scans recordColumns followed by any extra destinations
func scanRecord(rows *sql.Rows, extra ...interface{}) (location.Record, error) {
	var rec location.Record
	var lat, lon sql.NullFloat64
	var lastEdited sql.NullTime

	dest := []interface{}{
		&rec.ID, &rec.Name, &rec.Address1, &rec.Address2, &rec.Address3,
		&rec.City, &rec.State, &rec.Zip, &rec.Country, &rec.County, &rec.Borough,
		&rec.FullAddress, &rec.PlaceID, &lat, &lon, &lastEdited,
	}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return location.Record{}, err
	}

	if lat.Valid {
		rec.Latitude = location.Float(lat.Float64)
	}
	if lon.Valid {
		rec.Longitude = location.Float(lon.Float64)
	}
	if lastEdited.Valid {
		rec.LastEdited = lastEdited.Time.UTC().Format(time.RFC3339)
	}
	return rec, nil
}

// fieldUpdateSQL builds the UPDATE for a plan's field fills. Only structured
// field names are accepted; columns are emitted in sorted order. Each column
// is only set while it is still empty, so a value written after the snapshot
// the plan was built from is kept.
func fieldUpdateSQL(primaryID string, updates map[string]string) (string, []interface{}, bool) {
	allowed := make(map[string]bool, len(location.StructuredFields))
	for _, f := range location.StructuredFields {
		allowed[f] = true
	}

	fields := make([]string, 0, len(updates))
	for field := range updates {
		if allowed[field] {
			fields = append(fields, field)
		}
	}
	if len(fields) == 0 {
		return "", nil, false
	}
	sort.Strings(fields)

	sets := make([]string, 0, len(fields))
	args := make([]interface{}, 0, len(fields)+1)
	for i, field := range fields {
		if isCoordinate(field) {
			sets = append(sets, fmt.Sprintf("%s = COALESCE(%s, $%d)", field, field, i+1))
		} else {
			sets = append(sets, fmt.Sprintf("%s = CASE WHEN %s = '' THEN $%d ELSE %s END", field, field, i+1, field))
		}
		args = append(args, columnValue(field, updates[field]))
	}
	args = append(args, primaryID)

	query := fmt.Sprintf("UPDATE locations_master SET %s, last_edited = now() WHERE id = $%d",
		strings.Join(sets, ", "), len(args))
	return query, args, true
}

// columnValue converts coordinate fills to numbers; unparseable coordinates
// become NULL rather than failing the merge
func columnValue(field, value string) interface{} {
	if !isCoordinate(field) {
		return value
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return nil
	}
	return f
}

func isCoordinate(field string) bool {
	return field == "latitude" || field == "longitude"
}

// UpsertMaster inserts or replaces master rows in one transaction
func (p *Postgres) UpsertMaster(ctx context.Context, records []location.Record) (int, error) {
	return p.upsert(ctx, `
		INSERT INTO locations_master (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, address1 = EXCLUDED.address1, address2 = EXCLUDED.address2,
			address3 = EXCLUDED.address3, city = EXCLUDED.city, state = EXCLUDED.state,
			zip = EXCLUDED.zip, country = EXCLUDED.country, county = EXCLUDED.county,
			borough = EXCLUDED.borough, full_address = EXCLUDED.full_address,
			place_id = EXCLUDED.place_id, latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude, last_edited = EXCLUDED.last_edited
	`, records, func(rec location.Record) []interface{} {
		return recordArgs(rec)
	})
}

// UpsertProduction inserts or replaces production rows in one transaction
func (p *Postgres) UpsertProduction(ctx context.Context, records []location.Record) (int, error) {
	return p.upsert(ctx, `
		INSERT INTO production_locations (`+recordColumns+`, production_id, locations_master_ids, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, address1 = EXCLUDED.address1, address2 = EXCLUDED.address2,
			address3 = EXCLUDED.address3, city = EXCLUDED.city, state = EXCLUDED.state,
			zip = EXCLUDED.zip, country = EXCLUDED.country, county = EXCLUDED.county,
			borough = EXCLUDED.borough, full_address = EXCLUDED.full_address,
			place_id = EXCLUDED.place_id, latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude, last_edited = EXCLUDED.last_edited,
			production_id = EXCLUDED.production_id,
			locations_master_ids = EXCLUDED.locations_master_ids, status = EXCLUDED.status
	`, records, func(rec location.Record) []interface{} {
		ids := rec.LocationsMasterIDs
		if ids == nil {
			ids = []string{}
		}
		return append(recordArgs(rec), rec.ProductionID, pq.Array(ids), string(rec.Status))
	})
}

func (p *Postgres) upsert(ctx context.Context, query string, records []location.Record, args func(location.Record) []interface{}) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, args(rec)...); err != nil {
			return 0, fmt.Errorf("failed to write %s: %w", rec.ID, err)
		}
		written++
		if written%1000 == 0 {
			fmt.Fprintf(p.progress, "Written %d records...\n", written)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return written, nil
}

// recordArgs returns values in recordColumns order
func recordArgs(rec location.Record) []interface{} {
	return []interface{}{
		rec.ID, rec.Name, rec.Address1, rec.Address2, rec.Address3,
		rec.City, rec.State, rec.Zip, rec.Country, rec.County, rec.Borough,
		rec.FullAddress, rec.PlaceID, nullFloat(rec.Latitude), nullFloat(rec.Longitude),
		parseTimestamp(rec.LastEdited),
	}
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// parseTimestamp accepts RFC 3339 or a bare date; anything else is NULL
func parseTimestamp(s string) interface{} {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return nil
}
