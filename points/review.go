/*
review.go - Participant registration, activity submission and review

PURPOSE:
  Points enter a participant total only through review. Approving scores the
  activity against the active rule set and increments the owner's total;
  leaving Approved reverses whatever the activity currently holds.

TRANSITIONS:
  Pending/Rejected -> Approved   compute, set points, +points, award entry
  Approved -> Pending/Rejected   -points, set points 0, reversal entry
  same status                    no-op (review metadata still updated)
  Pending <-> Rejected           metadata only

Each review runs in one transaction.
*/
package points

import (
	"context"
	"fmt"
	"strings"
)

type ReviewService struct {
	store TxStore
	calc  *Calculator
	opts  options
}

// RegisterParticipant creates a participant with a zero total.
func (rs *ReviewService) RegisterParticipant(ctx context.Context, p Participant) (*Participant, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, &ValidationError{Field: "name", Message: "required"}
	}
	if p.ID == "" {
		p.ID = rs.opts.newID()
	}
	now := rs.opts.clock()
	p.TotalPoints = 0
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := rs.store.SaveParticipant(ctx, p); err != nil {
		return nil, fmt.Errorf("save participant: %w", err)
	}
	return &p, nil
}

// Submit stores a new Pending activity with zero points.
func (rs *ReviewService) Submit(ctx context.Context, a Activity) (*Activity, error) {
	if strings.TrimSpace(a.ParticipantID) == "" {
		return nil, &ValidationError{Field: "participantId", Message: "required"}
	}
	if strings.TrimSpace(a.Category) == "" {
		return nil, &ValidationError{Field: "category", Message: "required"}
	}
	if _, err := rs.store.GetParticipant(ctx, a.ParticipantID); err != nil {
		return nil, err
	}

	if a.ID == "" {
		a.ID = rs.opts.newID()
	}
	now := rs.opts.clock()
	a.Status = StatusPending
	a.PointsEarned = 0
	a.ReviewedBy = ""
	a.ReviewedAt = nil
	a.ReviewNote = ""
	a.SubmittedAt = now
	a.UpdatedAt = now

	if err := rs.store.SaveActivity(ctx, a); err != nil {
		return nil, fmt.Errorf("save activity: %w", err)
	}
	return &a, nil
}

// Review moves an activity to status and keeps the owner's total consistent.
func (rs *ReviewService) Review(ctx context.Context, activityID string, status Status, reviewer, note string) (*Activity, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var out Activity
	err := rs.store.WithTx(ctx, func(s Store) error {
		a, err := s.GetActivity(ctx, activityID)
		if err != nil {
			return err
		}

		now := rs.opts.clock()
		prev := a.Status
		a.ReviewedBy = reviewer
		a.ReviewedAt = &now
		a.ReviewNote = note
		a.UpdatedAt = now

		switch {
		case prev == status:
			// metadata only
		case status == StatusApproved:
			rules, err := loadRuleSet(ctx, s)
			if err != nil {
				return err
			}
			a.PointsEarned = rs.calc.Compute(a, rules)
			err = applyDelta(ctx, s, rs.opts, PointEntry{
				ParticipantID: a.ParticipantID,
				ActivityID:    a.ID,
				Delta:         a.PointsEarned,
				Type:          EntryAward,
				Reason:        "approved " + a.Category,
				CreatedBy:     reviewer,
			})
			if err != nil {
				return err
			}
		case prev == StatusApproved:
			err := applyDelta(ctx, s, rs.opts, PointEntry{
				ParticipantID: a.ParticipantID,
				ActivityID:    a.ID,
				Delta:         -a.PointsEarned,
				Type:          EntryReversal,
				Reason:        "status changed to " + string(status),
				CreatedBy:     reviewer,
			})
			if err != nil {
				return err
			}
			a.PointsEarned = 0
		}
		a.Status = status

		if err := s.UpdateActivityReview(ctx, a); err != nil {
			return fmt.Errorf("update activity %s: %w", a.ID, err)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	rs.opts.metrics.ActivityReviewed(string(status), out.PointsEarned)
	rs.opts.log.Info("activity reviewed",
		"activity_id", out.ID,
		"participant_id", out.ParticipantID,
		"status", out.Status,
		"points", out.PointsEarned,
		"reviewer", reviewer)
	return &out, nil
}

// Participant returns a participant with their ledger.
func (rs *ReviewService) Participant(ctx context.Context, id string) (*Participant, []PointEntry, error) {
	p, err := rs.store.GetParticipant(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	entries, err := rs.store.PointEntries(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load ledger for %s: %w", id, err)
	}
	return &p, entries, nil
}

func (rs *ReviewService) Activity(ctx context.Context, id string) (*Activity, error) {
	a, err := rs.store.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Activities lists activities matching filter.
func (rs *ReviewService) Activities(ctx context.Context, filter ActivityFilter) ([]Activity, error) {
	return rs.store.ListActivities(ctx, filter)
}
