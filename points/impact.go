/*
impact.go - Read-only preview of a configuration change

PURPOSE:
  Administrators preview a proposed payload before committing it. The report
  is built from exactly the selection and plan that Activate would apply, so
  committing the same payload against the same data produces the same changes.

REPORT:
  - Counts: activities changed, participants affected, gaining, losing
  - Points: total delta, average delta per affected participant
  - FieldDeltas: which rule fields drive the change
  - TopParticipants: largest absolute movers
  - UnreconciledActivities: activities whose stored points already disagree
    with the current rules, so the preview also shows pending repairs

Nothing is written.
*/
package points

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ParticipantImpact is one participant's projected movement.
type ParticipantImpact struct {
	ParticipantID  string `json:"participantId"`
	Name           string `json:"name,omitempty"`
	CurrentTotal   int    `json:"currentTotal"`
	ProjectedTotal int    `json:"projectedTotal"`
	Delta          int    `json:"delta"`
}

// ImpactReport summarizes what activating a payload would change.
type ImpactReport struct {
	ConfigType             ConfigType          `json:"configType"`
	ActivitiesConsidered   int                 `json:"activitiesConsidered"`
	ActivitiesChanged      int                 `json:"activitiesChanged"`
	ParticipantsAffected   int                 `json:"participantsAffected"`
	ParticipantsGaining    int                 `json:"participantsGaining"`
	ParticipantsLosing     int                 `json:"participantsLosing"`
	TotalDelta             int                 `json:"totalDelta"`
	AverageDelta           decimal.Decimal     `json:"averageDelta"`
	FieldDeltas            map[string]int      `json:"fieldDeltas"`
	TopParticipants        []ParticipantImpact `json:"topParticipants"`
	UnreconciledActivities []string            `json:"unreconciledActivities"`
	Changes                []Change            `json:"changes"`
}

type ImpactSimulator struct {
	store TxStore
	calc  *Calculator
	topN  int
}

// Simulate previews activating payload as the next version of t. All reads
// run in one transaction so the preview sees the snapshot Activate would plan
// against.
func (sim *ImpactSimulator) Simulate(ctx context.Context, t ConfigType, payload Payload) (*ImpactReport, error) {
	if err := ValidatePayload(t, payload); err != nil {
		return nil, err
	}

	var report *ImpactReport
	err := sim.store.WithTx(ctx, func(s Store) error {
		r, err := sim.simulate(ctx, s, t, payload)
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (sim *ImpactSimulator) simulate(ctx context.Context, s Store, t ConfigType, payload Payload) (*ImpactReport, error) {
	current, err := loadRuleSet(ctx, s)
	if err != nil {
		return nil, err
	}
	next := current.With(t, payload)

	affected, err := selectAffected(ctx, s, t, current, next)
	if err != nil {
		return nil, err
	}
	p := sim.calc.planChanges(affected, current, next)

	report := &ImpactReport{
		ConfigType:             t,
		ActivitiesConsidered:   p.Considered,
		ActivitiesChanged:      len(p.Changes),
		TotalDelta:             p.TotalDelta(),
		AverageDelta:           decimal.Zero,
		FieldDeltas:            p.FieldDeltas,
		TopParticipants:        []ParticipantImpact{},
		UnreconciledActivities: p.Unreconciled,
		Changes:                p.Changes,
	}
	if report.UnreconciledActivities == nil {
		report.UnreconciledActivities = []string{}
	}
	if report.Changes == nil {
		report.Changes = []Change{}
	}

	deltas := p.ParticipantDeltas()
	report.ParticipantsAffected = len(deltas)
	if len(deltas) == 0 {
		return report, nil
	}

	impacts := make([]ParticipantImpact, 0, len(deltas))
	for id, d := range deltas {
		if d > 0 {
			report.ParticipantsGaining++
		} else {
			report.ParticipantsLosing++
		}
		part, err := s.GetParticipant(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load participant %s: %w", id, err)
		}
		impacts = append(impacts, ParticipantImpact{
			ParticipantID:  id,
			Name:           part.Name,
			CurrentTotal:   part.TotalPoints,
			ProjectedTotal: part.TotalPoints + d,
			Delta:          d,
		})
	}

	sort.Slice(impacts, func(i, j int) bool {
		ai, aj := absInt(impacts[i].Delta), absInt(impacts[j].Delta)
		if ai != aj {
			return ai > aj
		}
		return impacts[i].ParticipantID < impacts[j].ParticipantID
	})
	if sim.topN > 0 && len(impacts) > sim.topN {
		impacts = impacts[:sim.topN]
	}
	report.TopParticipants = impacts

	report.AverageDelta = decimal.NewFromInt(int64(report.TotalDelta)).
		Div(decimal.NewFromInt(int64(len(deltas)))).
		Round(2)

	return report, nil
}
