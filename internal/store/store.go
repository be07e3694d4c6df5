package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/locmaster/internal/location"
)

// Snapshotter supplies in-memory snapshots of the location tables
type Snapshotter interface {
	// LoadMaster returns every master registry row
	LoadMaster(ctx context.Context) ([]location.Record, error)
	// LoadProduction returns production-scoped rows; an empty productionID
	// returns all of them
	LoadProduction(ctx context.Context, productionID string) ([]location.Record, error)
}

// Writer applies core outputs back to the store
type Writer interface {
	ApplyMergePlan(ctx context.Context, plan location.MergePlan) error
	SaveMatch(ctx context.Context, recordID string, status location.Status, result location.MatchResult) error
}

// Store is a snapshot source that can also be written back to
type Store interface {
	Snapshotter
	Writer
}

// ErrDeletesPrimary guards against a plan that would retire its own primary
var ErrDeletesPrimary = errors.New("merge plan deletes its primary record")

// validatePlan rejects plans that cannot be applied safely
func validatePlan(plan location.MergePlan) error {
	if plan.Primary.IsEmpty() {
		return location.ErrNoPrimary
	}
	if len(plan.DeleteMasterIDs) == 0 {
		return location.ErrNoDuplicates
	}
	for _, id := range plan.DeleteMasterIDs {
		if id == plan.Primary.ID {
			return fmt.Errorf("%s: %w", id, ErrDeletesPrimary)
		}
	}
	return nil
}
