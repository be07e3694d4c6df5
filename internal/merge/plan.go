package merge

import (
	"fmt"

	"github.com/locmaster/internal/debug"
	"github.com/locmaster/internal/location"
)

// BuildMergePlan computes the merge of duplicates into primary
func BuildMergePlan(primary location.Record, duplicates, productionRows []location.Record) (location.MergePlan, error) {
	return BuildMergePlanDebug(false, primary, duplicates, productionRows)
}

// BuildMergePlanDebug computes which empty primary fields the duplicates can
// fill, which production rows must be repointed, and which master IDs retire.
// A populated primary field is never overwritten.
func BuildMergePlanDebug(localDebug bool, primary location.Record, duplicates, productionRows []location.Record) (location.MergePlan, error) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	if primary.IsEmpty() {
		return location.MergePlan{}, fmt.Errorf("build merge plan: %w", location.ErrNoPrimary)
	}
	if len(duplicates) == 0 {
		return location.MergePlan{}, fmt.Errorf("build merge plan for %s: %w", primary.ID, location.ErrNoDuplicates)
	}

	plan := location.MergePlan{
		Primary:         primary,
		ToMerge:         duplicates,
		FieldUpdates:    fieldFills(primary, duplicates),
		ProdLocUpdates:  pointerRewrites(primary, duplicates, productionRows),
		DeleteMasterIDs: make([]string, 0, len(duplicates)),
	}
	for _, dup := range duplicates {
		plan.DeleteMasterIDs = append(plan.DeleteMasterIDs, dup.ID)
	}

	debug.DebugOutput(localDebug, "Primary %s: %d field fills, %d production rewrites, %d masters retired",
		primary.ID, len(plan.FieldUpdates), len(plan.ProdLocUpdates), len(plan.DeleteMasterIDs))
	return plan, nil
}

// PlanForGroup chooses the primary of a duplicate group (or uses primaryID)
// and builds its merge plan
func PlanForGroup(localDebug bool, group location.DuplicateGroup, productionRows []location.Record, primaryID string) (location.MergePlan, error) {
	primary, duplicates, err := SplitPrimary(group.Rows, primaryID)
	if err != nil {
		return location.MergePlan{}, fmt.Errorf("group %s: %w", group.GroupID, err)
	}
	return BuildMergePlanDebug(localDebug, primary, duplicates, productionRows)
}

// fieldFills takes, for each empty primary field, the first non-empty value
// among the duplicates in their given order
func fieldFills(primary location.Record, duplicates []location.Record) map[string]string {
	updates := make(map[string]string)
	for _, field := range location.StructuredFields {
		if primary.HasField(field) {
			continue
		}
		for _, dup := range duplicates {
			if dup.HasField(field) {
				updates[field] = dup.Field(field)
				break
			}
		}
	}
	return updates
}

// pointerRewrites emits one update per production row referencing any
// duplicate. The old ID is the first duplicate found in the row's list.
func pointerRewrites(primary location.Record, duplicates, productionRows []location.Record) []location.ProdLocUpdate {
	dupIDs := make(map[string]bool, len(duplicates))
	for _, dup := range duplicates {
		dupIDs[dup.ID] = true
	}

	updates := make([]location.ProdLocUpdate, 0)
	for _, prod := range productionRows {
		for _, masterID := range prod.LocationsMasterIDs {
			if dupIDs[masterID] {
				updates = append(updates, location.ProdLocUpdate{
					ProdLocID:   prod.ID,
					OldMasterID: masterID,
					NewMasterID: primary.ID,
				})
				break
			}
		}
	}
	return updates
}

// Merged returns the primary with the plan's field updates applied
func Merged(plan location.MergePlan) location.Record {
	rec := plan.Primary
	for field, value := range plan.FieldUpdates {
		rec.SetField(field, value)
	}
	return rec
}
