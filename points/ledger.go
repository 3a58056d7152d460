/*
ledger.go - Append-only point history

PURPOSE:
  Every delta applied to a participant total is also written as a PointEntry
  in the same transaction. The ledger explains how a total got to its current
  value; the total itself is still maintained eagerly by increments.

INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted
  2. BALANCED: sum of a participant's entries == TotalPoints
  3. IDEMPOTENT: a recalculation entry is keyed by configuration and activity,
     so a batch cannot be applied twice

CORRECTIONS:
  Undoing an approval writes a reversal entry with the opposite sign. Both
  entries remain.
*/
package points

import (
	"context"
	"fmt"
)

// RecalculationKey is the idempotency key of the entry written when
// configurationID recalculates activityID.
func RecalculationKey(configurationID, activityID string) string {
	return fmt.Sprintf("recalc:%s:%s", configurationID, activityID)
}

// applyDelta moves a participant total by delta and records the entry.
// Zero deltas are skipped.
func applyDelta(ctx context.Context, s Store, o options, e PointEntry) error {
	if e.Delta == 0 {
		return nil
	}
	if err := s.AdjustParticipantTotal(ctx, e.ParticipantID, e.Delta); err != nil {
		return fmt.Errorf("adjust total of %s: %w", e.ParticipantID, err)
	}
	if err := appendEntry(ctx, s, o, e); err != nil {
		return err
	}
	return nil
}

func appendEntry(ctx context.Context, s LedgerStore, o options, e PointEntry) error {
	if e.ID == "" {
		e.ID = o.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = o.clock()
	}
	// Entries without a natural key are unique by id.
	if e.IdempotencyKey == "" {
		e.IdempotencyKey = string(e.Type) + ":" + e.ID
	}
	if err := s.AppendPointEntry(ctx, e); err != nil {
		return fmt.Errorf("append %s entry for %s: %w", e.Type, e.ParticipantID, err)
	}
	return nil
}

// LedgerBalance sums entries.
func LedgerBalance(entries []PointEntry) int {
	total := 0
	for _, e := range entries {
		total += e.Delta
	}
	return total
}
