/*
plan.go - Shared diff routine for simulation and recalculation

PURPOSE:
  ImpactSimulator and Coordinator must agree exactly on which activities a
  configuration change touches and by how much. Both call selectAffected and
  planChanges; neither has its own selection logic.

SELECTION:
  categoryRules:  approved activities in categories whose rule map was
                  added, removed or changed
  positionPoints: approved activities whose position's point value was
                  added, removed or changed
  repair:         every approved activity

PLAN:
  For each selected activity, new points are computed against the proposed
  rule set. The delta is taken against the stored points, not a recomputed
  old value, so applying the plan preserves sum(PointsEarned) == TotalPoints
  even for activities that had drifted.
*/
package points

import (
	"context"
	"fmt"
	"sort"
)

// Change is the planned update of one activity.
type Change struct {
	ActivityID    string `json:"activityId"`
	ParticipantID string `json:"participantId"`
	Category      string `json:"category"`
	OldPoints     int    `json:"oldPoints"`
	NewPoints     int    `json:"newPoints"`
	Delta         int    `json:"delta"`
}

type plan struct {
	Considered  int
	Changes     []Change
	FieldDeltas map[string]int

	// Unreconciled lists activities whose stored points differ from a
	// recompute under the current rules.
	Unreconciled []string
}

// ParticipantDeltas sums the plan's deltas per participant, omitting zeros.
func (p plan) ParticipantDeltas() map[string]int {
	out := make(map[string]int)
	for _, c := range p.Changes {
		out[c.ParticipantID] += c.Delta
	}
	for id, d := range out {
		if d == 0 {
			delete(out, id)
		}
	}
	return out
}

func (p plan) TotalDelta() int {
	total := 0
	for _, c := range p.Changes {
		total += c.Delta
	}
	return total
}

// selectAffected returns the approved activities a change of lineage t from
// current to next can affect.
func selectAffected(ctx context.Context, s ActivityStore, t ConfigType, current, next RuleSet) ([]Activity, error) {
	filter := ActivityFilter{Status: StatusApproved}
	switch t {
	case ConfigCategoryRules:
		filter.Categories = changedCategories(current.Categories, next.Categories)
		if len(filter.Categories) == 0 {
			return nil, nil
		}
	case ConfigPositionPoints:
		filter.Positions = changedPositions(current.Positions, next.Positions)
		if len(filter.Positions) == 0 {
			return nil, nil
		}
	default:
		return nil, &ValidationError{Field: "configType", Message: "unknown configuration type " + string(t)}
	}

	activities, err := s.ListActivities(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list affected activities: %w", err)
	}
	return activities, nil
}

// planChanges computes the updates that bring activities in line with next.
func (c *Calculator) planChanges(activities []Activity, current, next RuleSet) plan {
	p := plan{Considered: len(activities), FieldDeltas: make(map[string]int)}

	for _, a := range activities {
		before := c.Evaluate(a, current)
		after := c.Evaluate(a, next)

		if before.Total != a.PointsEarned {
			p.Unreconciled = append(p.Unreconciled, a.ID)
		}
		if after.Total == a.PointsEarned {
			continue
		}

		p.Changes = append(p.Changes, Change{
			ActivityID:    a.ID,
			ParticipantID: a.ParticipantID,
			Category:      a.Category,
			OldPoints:     a.PointsEarned,
			NewPoints:     after.Total,
			Delta:         after.Total - a.PointsEarned,
		})

		bf, af := before.FieldPoints(), after.FieldPoints()
		for f, v := range af {
			if d := v - bf[f]; d != 0 {
				p.FieldDeltas[f] += d
			}
		}
		for f, v := range bf {
			if _, ok := af[f]; !ok && v != 0 {
				p.FieldDeltas[f] -= v
			}
		}
	}

	sort.Slice(p.Changes, func(i, j int) bool { return p.Changes[i].ActivityID < p.Changes[j].ActivityID })
	return p
}

func changedCategories(a, b CategoryRules) []string {
	var out []string
	for cat, ra := range a {
		rb, ok := b[cat]
		if !ok || !equalCategoryRule(ra, rb) {
			out = append(out, cat)
		}
	}
	for cat := range b {
		if _, ok := a[cat]; !ok {
			out = append(out, cat)
		}
	}
	sort.Strings(out)
	return out
}

func equalCategoryRule(a, b CategoryRule) bool {
	if len(a) != len(b) {
		return false
	}
	for field, va := range a {
		vb, ok := b[field]
		if !ok || len(va) != len(vb) {
			return false
		}
		for k, pa := range va {
			if pb, ok := vb[k]; !ok || pa != pb {
				return false
			}
		}
	}
	return true
}

func changedPositions(a, b PositionPoints) []string {
	var out []string
	for pos, pa := range a {
		if pb, ok := b[pos]; !ok || pa != pb {
			out = append(out, pos)
		}
	}
	for pos := range b {
		if _, ok := a[pos]; !ok {
			out = append(out, pos)
		}
	}
	sort.Strings(out)
	return out
}
