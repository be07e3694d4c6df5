package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/locmaster/internal/audit"
	"github.com/locmaster/internal/config"
	"github.com/locmaster/internal/dedupe"
	"github.com/locmaster/internal/importer"
	"github.com/locmaster/internal/location"
	"github.com/locmaster/internal/match"
	"github.com/locmaster/internal/merge"
	"github.com/locmaster/internal/normalize"
	"github.com/locmaster/internal/web"
)

// createParseCmd parses one free-text address
func createParseCmd() *cobra.Command {
	var libpostal, asJSON bool

	cmd := &cobra.Command{
		Use:   "parse [address]",
		Short: "Parse and normalize a free-text address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var parsed normalize.Components
			if libpostal {
				var err error
				parsed, err = normalize.ParseLibpostal(args[0])
				if err != nil {
					return err
				}
			} else {
				parsed = normalize.NewAddressParser().Parse(debugFlag, args[0], nil)
			}
			normalized := normalize.Normalize(parsed)
			full := normalize.BuildFullAddress(normalized)

			if asJSON {
				return writeJSON(out, map[string]interface{}{
					"parsed":       parsed,
					"normalized":   normalized,
					"full_address": full,
				})
			}

			fmt.Fprintf(out, "Address 1:    %s\n", normalized.Address1)
			fmt.Fprintf(out, "Address 2:    %s\n", normalized.Address2)
			fmt.Fprintf(out, "Address 3:    %s\n", normalized.Address3)
			fmt.Fprintf(out, "City:         %s\n", normalized.City)
			fmt.Fprintf(out, "State:        %s\n", normalized.State)
			fmt.Fprintf(out, "Zip:          %s\n", normalized.Zip)
			fmt.Fprintf(out, "Country:      %s\n", normalized.Country)
			fmt.Fprintf(out, "Full address: %s\n", full)
			return nil
		},
	}

	cmd.Flags().BoolVar(&libpostal, "libpostal", false, "Parse with libpostal (requires a libpostal build)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// createMatchCmd matches production locations against the master registry
func createMatchCmd() *cobra.Command {
	var src sourceFlags
	var productionID, decidedBy string
	var force, save, asJSON bool

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match production locations to master records",
		Long: `Matches every production location against the master registry using
place_id, then full address, address without zip and minimal address.
Ambiguous tiers are reported and never fall through to looser ones.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			ds, err := src.open(ctx)
			if err != nil {
				return err
			}
			defer ds.Close()

			registry, err := ds.store.LoadMaster(ctx)
			if err != nil {
				return err
			}
			records, err := ds.store.LoadProduction(ctx, productionID)
			if err != nil {
				return err
			}

			outcomes := match.NewEngine().MatchAll(debugFlag, records, registry, match.Options{Force: force})
			stats := match.Summarize(outcomes)

			if save {
				if err := saveOutcomes(ctx, ds, outcomes, decidedBy); err != nil {
					return err
				}
			}

			if asJSON {
				return writeJSON(out, map[string]interface{}{"outcomes": outcomes, "stats": stats})
			}

			for _, o := range outcomes {
				fmt.Fprintf(out, "%-12s %-10s %-16s %s\n", o.Record.ID, o.Status, o.Result.MatchReason, o.Result.Notes)
			}
			fmt.Fprintf(out, "\nMatched: %d, Ambiguous: %d, Ready: %d, Unresolved: %d (of %d)\n",
				stats.Matched, stats.Ambiguous, stats.Ready, stats.Unresolved, stats.Total)
			return nil
		},
	}

	src.register(cmd, true)
	cmd.Flags().StringVar(&productionID, "production-id", "", "Only match locations of this production")
	cmd.Flags().BoolVar(&force, "force", false, "Allow a record to match itself")
	cmd.Flags().BoolVar(&save, "save", false, "Write outcomes back to the production rows")
	cmd.Flags().StringVar(&decidedBy, "decided-by", "cli", "Name recorded in the audit trail")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func saveOutcomes(ctx context.Context, ds *dataSource, outcomes []match.Outcome, decidedBy string) error {
	if ds.tracker != nil {
		if err := ds.tracker.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	runID := audit.NewRunID()
	for _, o := range outcomes {
		if err := ds.store.SaveMatch(ctx, o.Record.ID, o.Status, o.Result); err != nil {
			return err
		}
		if ds.tracker != nil {
			if err := ds.tracker.RecordMatch(ctx, debugFlag, runID, o.Record.ID, o.Status, o.Result, decidedBy); err != nil {
				return err
			}
		}
	}
	if !ds.fromDB() {
		fmt.Fprintln(os.Stderr, "CSV snapshot: outcomes saved in memory only")
	}
	return nil
}

// createDuplicatesCmd lists duplicate groups in the master registry
func createDuplicatesCmd() *cobra.Command {
	var src sourceFlags
	var radius float64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "Find duplicate master records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			ds, err := src.open(ctx)
			if err != nil {
				return err
			}
			defer ds.Close()

			master, err := ds.store.LoadMaster(ctx)
			if err != nil {
				return err
			}

			clusterer := &dedupe.Clusterer{RadiusMeters: radius}
			groups := clusterer.FindDuplicates(debugFlag, master)

			if asJSON {
				return writeJSON(out, groups)
			}

			for _, g := range groups {
				fmt.Fprintf(out, "%s (%s): %s\n", g.GroupID, g.Reason, strings.Join(g.IDs(), ", "))
			}
			counts := dedupe.ReasonCounts(groups)
			reasons := make([]string, 0, len(counts))
			for reason := range counts {
				reasons = append(reasons, reason)
			}
			sort.Strings(reasons)

			fmt.Fprintf(out, "\n%d groups", len(groups))
			for _, reason := range reasons {
				fmt.Fprintf(out, ", %s: %d", reason, counts[reason])
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	src.register(cmd, false)
	cmd.Flags().Float64Var(&radius, "radius", dedupe.ProximityRadiusMeters, "Coordinate proximity radius in meters (0 disables)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// createMergePlanCmd builds, and optionally applies, the merge plan of one group
func createMergePlanCmd() *cobra.Command {
	var src sourceFlags
	var groupID, primaryID, decidedBy string
	var members []string
	var radius float64
	var apply bool

	cmd := &cobra.Command{
		Use:   "merge-plan",
		Short: "Build the merge plan for a duplicate group",
		Long: `Builds the merge plan for a duplicate group. Group ids are renumbered by
every clustering run, so --apply needs --members: the record ids listed for
the group by "duplicates". The plan is only applied when a group with exactly
those members still exists.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if apply && len(members) == 0 {
				return fmt.Errorf("--apply requires --members")
			}

			ds, err := src.open(ctx)
			if err != nil {
				return err
			}
			defer ds.Close()

			master, err := ds.store.LoadMaster(ctx)
			if err != nil {
				return err
			}
			production, err := ds.store.LoadProduction(ctx, "")
			if err != nil {
				return err
			}

			clusterer := &dedupe.Clusterer{RadiusMeters: radius}
			group, err := dedupe.ResolveGroup(clusterer.FindDuplicates(debugFlag, master), groupID, members)
			if err != nil {
				return err
			}

			plan, err := merge.PlanForGroup(debugFlag, group, production, primaryID)
			if err != nil {
				return err
			}

			if apply {
				if err := applyPlan(ctx, ds, plan, decidedBy); err != nil {
					return err
				}
			}
			return writeJSON(out, plan)
		},
	}

	src.register(cmd, true)
	cmd.Flags().StringVar(&groupID, "group", "", "Duplicate group id, e.g. DUP001")
	cmd.Flags().StringSliceVar(&members, "members", nil, "Record ids of the reviewed group, e.g. M1,M2")
	cmd.Flags().StringVar(&primaryID, "primary", "", "Master id to keep (default: highest scoring row)")
	cmd.Flags().Float64Var(&radius, "radius", dedupe.ProximityRadiusMeters, "Coordinate proximity radius in meters (0 disables)")
	cmd.Flags().BoolVar(&apply, "apply", false, "Apply the plan")
	cmd.Flags().StringVar(&decidedBy, "decided-by", "cli", "Name recorded in the audit trail")
	cmd.MarkFlagRequired("group")
	return cmd
}

func applyPlan(ctx context.Context, ds *dataSource, plan location.MergePlan, decidedBy string) error {
	if err := ds.store.ApplyMergePlan(ctx, plan); err != nil {
		return err
	}
	if ds.tracker != nil {
		if err := ds.tracker.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("merge applied but audit failed: %w", err)
		}
		if err := ds.tracker.RecordMerge(ctx, debugFlag, audit.NewRunID(), plan, decidedBy); err != nil {
			return fmt.Errorf("merge applied but audit failed: %w", err)
		}
	}
	if !ds.fromDB() {
		fmt.Fprintln(os.Stderr, "CSV snapshot: plan applied in memory only")
	}
	return nil
}

// createImportCmd loads CSV snapshots into the database
func createImportCmd() *cobra.Command {
	var normalizeRows bool

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import location CSV files into the database",
	}

	run := func(table string) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			records, _, err := importer.ReadLocationsCSV(args[0], importer.Options{Normalize: normalizeRows, Debug: debugFlag})
			if err != nil {
				return err
			}

			ds, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer ds.Close()

			if err := ds.pg.EnsureSchema(ctx); err != nil {
				return err
			}

			var written int
			if table == "master" {
				written, err = ds.pg.UpsertMaster(ctx, records)
			} else {
				written, err = ds.pg.UpsertProduction(ctx, records)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d %s records\n", written, table)
			return nil
		}
	}

	importCmd.AddCommand(&cobra.Command{
		Use:   "master [filename]",
		Short: "Import master registry CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  run("master"),
	})
	importCmd.AddCommand(&cobra.Command{
		Use:   "production [filename]",
		Short: "Import production locations CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  run("production"),
	})
	importCmd.PersistentFlags().BoolVar(&normalizeRows, "normalize", true, "Normalize rows before writing")

	return importCmd
}

// createServeCmd starts the HTTP API
func createServeCmd() *cobra.Command {
	var src sourceFlags
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg := web.ConfigFromEnv()
			cfg.Debug = debugFlag
			if port > 0 {
				cfg.Server.Port = port
			}

			ds, err := src.open(ctx)
			if err != nil {
				return err
			}
			defer ds.Close()

			fmt.Fprintf(os.Stderr, "Merge apply enabled: %v\n", cfg.Features.MergeApplyEnabled)
			return web.NewServer(cfg, ds.store, ds.auditTrail()).Start(ctx)
		},
	}

	src.register(cmd, true)
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default: WEB_PORT or 8080)")
	return cmd
}

// createPingCmd tests database connectivity
func createPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test database connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			ds, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer ds.Close()
			fmt.Fprintf(out, "Database connection successful! (%s)\n", config.DatabaseFromEnv().Name)

			for _, table := range []string{"locations_master", "production_locations", "location_audit"} {
				var count int
				if err := ds.conn.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
					fmt.Fprintf(out, "%s: unavailable (%v)\n", table, err)
					continue
				}
				fmt.Fprintf(out, "%s: %d rows\n", table, count)
			}
			return nil
		},
	}
}

// createDBCmd manages the database schema
func createDBCmd() *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database schema management",
	}

	dbCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create location and audit tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ds, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer ds.Close()

			if err := ds.pg.EnsureSchema(ctx); err != nil {
				return err
			}
			if err := ds.tracker.EnsureSchema(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema ready")
			return nil
		},
	})

	return dbCmd
}

// createAuditCmd reads the audit trail
func createAuditCmd() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit trail of merge and match decisions",
	}

	var asJSON bool
	historyCmd := &cobra.Command{
		Use:   "history [record id]",
		Short: "Show the audit entries of one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ds, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer ds.Close()

			entries, err := ds.tracker.History(ctx, debugFlag, args[0])
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), args[0], entries, asJSON)
		},
	}
	historyCmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	auditCmd.AddCommand(historyCmd)

	return auditCmd
}

func printHistory(out io.Writer, subjectID string, entries []audit.Entry, asJSON bool) error {
	if asJSON {
		if entries == nil {
			entries = []audit.Entry{}
		}
		return writeJSON(out, entries)
	}

	if len(entries) == 0 {
		fmt.Fprintf(out, "No audit entries for %s\n", subjectID)
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %-5s  %s  (by %s, run %s)\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.EventType, e.Decision, e.DecidedBy, e.RunID)
	}
	return nil
}
