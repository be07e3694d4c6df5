package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/locmaster/internal/audit"
	"github.com/locmaster/internal/config"
	"github.com/locmaster/internal/db"
	"github.com/locmaster/internal/importer"
	"github.com/locmaster/internal/location"
	"github.com/locmaster/internal/store"
	"github.com/locmaster/internal/web/handlers"
)

// sourceFlags selects CSV snapshots or the database
type sourceFlags struct {
	masterCSV     string
	productionCSV string
	normalize     bool
}

func (f *sourceFlags) register(cmd *cobra.Command, withProduction bool) {
	cmd.Flags().StringVar(&f.masterCSV, "master", "", "Master registry CSV (default: read from the database)")
	if withProduction {
		cmd.Flags().StringVar(&f.productionCSV, "production", "", "Production locations CSV (used with --master)")
	}
	cmd.Flags().BoolVar(&f.normalize, "normalize", false, "Normalize CSV rows on read")
}

// dataSource is an opened store plus the database handles behind it, if any
type dataSource struct {
	store   store.Store
	pg      *store.Postgres
	tracker *audit.Tracker
	conn    *db.Connection
}

func (d *dataSource) fromDB() bool {
	return d.conn != nil
}

// auditTrail returns the audit tracker, or a nil interface for CSV runs
func (d *dataSource) auditTrail() handlers.AuditTrail {
	if d.tracker == nil {
		return nil
	}
	return d.tracker
}

func (d *dataSource) Close() {
	if d.conn != nil {
		d.conn.Close()
	}
}

// open reads CSV snapshots into a memory store when --master is given and
// connects to Postgres otherwise
func (f *sourceFlags) open(ctx context.Context) (*dataSource, error) {
	if f.masterCSV == "" {
		return openDB(ctx)
	}

	opts := importer.Options{Normalize: f.normalize, Debug: debugFlag}
	master, _, err := importer.ReadLocationsCSV(f.masterCSV, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read master CSV: %w", err)
	}

	var production []location.Record
	if f.productionCSV != "" {
		production, _, err = importer.ReadLocationsCSV(f.productionCSV, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to read production CSV: %w", err)
		}
	}

	return &dataSource{store: store.NewMemory(master, production)}, nil
}

func openDB(ctx context.Context) (*dataSource, error) {
	conn, err := db.NewConnection(ctx, config.DatabaseFromEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	pg := store.NewPostgres(conn.DB, debugFlag)
	return &dataSource{
		store:   pg,
		pg:      pg,
		tracker: audit.NewTracker(conn.DB),
		conn:    conn,
	}, nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
