/*
calculator.go - Point computation for a single activity

PURPOSE:
  Turns an activity and a rule set into an integer score. Used by review
  approval, bulk recalculation and impact simulation, so all three always
  agree on what an activity is worth.

ALGORITHM:
  1. Look up the activity's category in the category rules.
     Missing category: score 0, log NoConfigurationForCategory.
  2. For each field in the category's rule map, resolve the field's value on
     the activity and add rules[field][value] (exact string match).
  3. Add position points for the activity's position when present.

  Unmatched fields contribute 0. Negative points are allowed (penalties).

PURITY:
  Compute never mutates its inputs and performs no I/O besides logging.
  The same activity and rules always produce the same score.
*/
package points

import (
	"sort"

	"github.com/warp/points-engine/logger"
)

// PositionField is the key under which position points appear in per-field breakdowns.
const PositionField = "positionPoints"

// FieldScore is one field's contribution to an evaluation.
type FieldScore struct {
	Field  string `json:"field"`
	Value  string `json:"value,omitempty"`
	Key    string `json:"key,omitempty"`
	Source Source `json:"source,omitempty"`
	Points int    `json:"points"`
}

// Evaluation is a score with its per-field breakdown.
type Evaluation struct {
	Category   string       `json:"category"`
	Configured bool         `json:"configured"`
	Total      int          `json:"total"`
	Fields     []FieldScore `json:"fields"`
}

// FieldPoints returns the breakdown as field -> points.
func (e Evaluation) FieldPoints() map[string]int {
	out := make(map[string]int, len(e.Fields))
	for _, f := range e.Fields {
		out[f.Field] += f.Points
	}
	return out
}

type Calculator struct {
	resolver *Resolver
	log      logger.Logger
	metrics  Recorder
}

// NewCalculator returns a standalone calculator.
func NewCalculator(log logger.Logger) *Calculator {
	if log == nil {
		log = logger.Discard()
	}
	return &Calculator{resolver: NewResolver(log), log: log, metrics: nopRecorder{}}
}

// Compute returns the points a earns under rules.
func (c *Calculator) Compute(a Activity, rules RuleSet) int {
	return c.Evaluate(a, rules).Total
}

// Evaluate computes the score with a per-field breakdown. Fields are listed in
// name order, followed by position points.
func (c *Calculator) Evaluate(a Activity, rules RuleSet) Evaluation {
	ev := Evaluation{Category: a.Category}

	rule, ok := rules.Categories[a.Category]
	if !ok {
		c.log.Info("no configuration for category",
			"event", "NoConfigurationForCategory",
			"activity_id", a.ID,
			"category", a.Category)
		c.metrics.UnconfiguredCategory(a.Category)
		return ev
	}
	ev.Configured = true

	fields := make([]string, 0, len(rule))
	for f := range rule {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		res := c.resolver.Resolve(a, field)
		score := FieldScore{Field: field, Value: res.Value, Key: res.Key, Source: res.Source}
		if res.Found {
			score.Points = rule[field][res.Value]
		}
		ev.Total += score.Points
		ev.Fields = append(ev.Fields, score)
	}

	if len(rules.Positions) > 0 && a.Position != "" {
		if pts, ok := rules.Positions[a.Position]; ok {
			ev.Total += pts
			ev.Fields = append(ev.Fields, FieldScore{
				Field:  PositionField,
				Value:  a.Position,
				Key:    "position",
				Source: SourceAttribute,
				Points: pts,
			})
		}
	}

	return ev
}
