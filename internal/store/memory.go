package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/locmaster/internal/location"
	"github.com/locmaster/internal/merge"
)

// ErrNotFound is returned when a referenced row does not exist
var ErrNotFound = errors.New("record not found")

// Memory is a Store held entirely in memory, used for CSV-driven runs and tests
type Memory struct {
	mu         sync.RWMutex
	master     map[string]location.Record
	production map[string]location.Record
}

// NewMemory creates a store seeded with the given rows
func NewMemory(master, production []location.Record) *Memory {
	m := &Memory{
		master:     make(map[string]location.Record, len(master)),
		production: make(map[string]location.Record, len(production)),
	}
	for _, rec := range master {
		m.master[rec.ID] = rec
	}
	for _, rec := range production {
		m.production[rec.ID] = rec
	}
	return m
}

// LoadMaster returns a copy of the master rows ordered by id
func (m *Memory) LoadMaster(ctx context.Context) ([]location.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedRows(m.master, ""), nil
}

// LoadProduction returns production rows ordered by id, optionally for one production
func (m *Memory) LoadProduction(ctx context.Context, productionID string) ([]location.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedRows(m.production, productionID), nil
}

// ApplyMergePlan applies a plan atomically under the write lock
func (m *Memory) ApplyMergePlan(ctx context.Context, plan location.MergePlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validatePlan(plan); err != nil {
		return fmt.Errorf("refusing merge plan: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.master[plan.Primary.ID]; !ok {
		return fmt.Errorf("primary %s: %w", plan.Primary.ID, ErrNotFound)
	}
	for _, u := range plan.ProdLocUpdates {
		if _, ok := m.production[u.ProdLocID]; !ok {
			return fmt.Errorf("production location %s: %w", u.ProdLocID, ErrNotFound)
		}
	}

	m.master[plan.Primary.ID] = merge.Merged(plan)

	for _, u := range plan.ProdLocUpdates {
		prod := m.production[u.ProdLocID]
		ids := make([]string, len(prod.LocationsMasterIDs))
		for i, id := range prod.LocationsMasterIDs {
			if id == u.OldMasterID {
				id = u.NewMasterID
			}
			ids[i] = id
		}
		prod.LocationsMasterIDs = ids
		m.production[u.ProdLocID] = prod
	}

	for _, id := range plan.DeleteMasterIDs {
		delete(m.master, id)
	}
	return nil
}

// SaveMatch records a match outcome; the master pointer changes only on a unique match
func (m *Memory) SaveMatch(ctx context.Context, recordID string, status location.Status, result location.MatchResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prod, ok := m.production[recordID]
	if !ok {
		return fmt.Errorf("production location %s: %w", recordID, ErrNotFound)
	}
	if result.Matched() {
		prod.LocationsMasterIDs = []string{result.MatchedMasterID}
	}
	prod.Status = status
	m.production[recordID] = prod
	return nil
}

func sortedRows(rows map[string]location.Record, productionID string) []location.Record {
	out := make([]location.Record, 0, len(rows))
	for _, rec := range rows {
		if productionID != "" && rec.ProductionID != productionID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
