/*
consistency.go - Verification and explicit rebuild of participant totals

PURPOSE:
  Totals are maintained by increments. VerifyTotals detects any drift between
  a total and the sum of its owner's approved activity points. RebuildTotals
  is the disaster-recovery path: it overwrites drifted totals and writes a
  rebuild entry for each difference. No normal operation calls it.
*/
package points

import (
	"context"
	"fmt"
	"sort"
)

// Drift is a participant whose stored total disagrees with their activities.
type Drift struct {
	ParticipantID string `json:"participantId"`
	StoredTotal   int    `json:"storedTotal"`
	ApprovedSum   int    `json:"approvedSum"`
	LedgerSum     int    `json:"ledgerSum"`
}

func (d Drift) Difference() int { return d.ApprovedSum - d.StoredTotal }

type ConsistencyChecker struct {
	store TxStore
	opts  options
}

// VerifyTotals returns every participant whose total differs from the sum of
// their approved points or from their ledger, ordered by participant id.
func (cc *ConsistencyChecker) VerifyTotals(ctx context.Context) ([]Drift, error) {
	return verifyTotals(ctx, cc.store)
}

// RebuildTotals sets every drifted total to its approved sum in one
// transaction and returns the drifts it corrected.
func (cc *ConsistencyChecker) RebuildTotals(ctx context.Context, actor string) ([]Drift, error) {
	var fixed []Drift
	err := cc.store.WithTx(ctx, func(s Store) error {
		drifts, err := verifyTotals(ctx, s)
		if err != nil {
			return err
		}
		for _, d := range drifts {
			if err := s.SetParticipantTotal(ctx, d.ParticipantID, d.ApprovedSum); err != nil {
				return fmt.Errorf("set total of %s: %w", d.ParticipantID, err)
			}
			// The entry balances the ledger against the rebuilt total.
			if diff := d.ApprovedSum - d.LedgerSum; diff != 0 {
				err := appendEntry(ctx, s, cc.opts, PointEntry{
					ParticipantID: d.ParticipantID,
					Delta:         diff,
					Type:          EntryRebuild,
					Reason:        fmt.Sprintf("rebuild from %d to %d", d.StoredTotal, d.ApprovedSum),
					CreatedBy:     actor,
				})
				if err != nil {
					return err
				}
			}
		}
		fixed = drifts
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(fixed) > 0 {
		cc.opts.log.Warn("participant totals rebuilt", "count", len(fixed), "actor", actor)
	}
	return fixed, nil
}

func verifyTotals(ctx context.Context, s Store) ([]Drift, error) {
	participants, err := s.ListParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	approved, err := s.ListActivities(ctx, ActivityFilter{Status: StatusApproved})
	if err != nil {
		return nil, fmt.Errorf("list approved activities: %w", err)
	}

	sums := make(map[string]int)
	for _, a := range approved {
		sums[a.ParticipantID] += a.PointsEarned
	}

	var drifts []Drift
	for _, p := range participants {
		entries, err := s.PointEntries(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("load ledger for %s: %w", p.ID, err)
		}
		d := Drift{
			ParticipantID: p.ID,
			StoredTotal:   p.TotalPoints,
			ApprovedSum:   sums[p.ID],
			LedgerSum:     LedgerBalance(entries),
		}
		if d.StoredTotal != d.ApprovedSum || d.LedgerSum != d.StoredTotal {
			drifts = append(drifts, d)
		}
	}

	sort.Slice(drifts, func(i, j int) bool { return drifts[i].ParticipantID < drifts[j].ParticipantID })
	return drifts, nil
}
