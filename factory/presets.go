/*
presets.go - Pre-built rule tables

PURPOSE:
  Ready-to-use rule tables for a fresh installation and for demo scenarios.
  They are JSON so they go through the same parsing path as admin edits.

AVAILABLE PRESETS:
  DefaultCategoryRulesJSON:  Competitions, hackathons, publications, certifications
  DefaultPositionPointsJSON: Podium bonuses applied on top of category rules
*/
package factory

import (
	"fmt"

	"github.com/warp/points-engine/points"
)

// DefaultCategoryRulesJSON is the starter categoryRules table.
const DefaultCategoryRulesJSON = `{
  "Competition": {
    "Level":   {"International": 50, "National": 30, "Regional": 15, "Campus": 5},
    "Outcome": {"First": 40, "Second": 30, "Third": 20, "Finalist": 10, "Participant": 5}
  },
  "Hackathon": {
    "Level":   {"International": 50, "National": 30},
    "Outcome": {"First": 40, "Participant": 5}
  },
  "Competitive Programming": {
    "Platform": {"CodeForces": 20, "AtCoder": 20, "LeetCode": 10}
  },
  "Publication": {
    "Publisher":  {"Journal": 60, "Conference": 40, "Magazine": 10},
    "Indexed By": {"Scopus": 20, "Sinta": 10}
  },
  "Certification": {
    "Organizer": {"AWS": 25, "Google": 25, "Cisco": 20},
    "Duration":  {"Long": 10, "Short": 3}
  }
}`

// DefaultPositionPointsJSON is the starter positionPoints table.
const DefaultPositionPointsJSON = `{"First": 10, "Second": 6, "Third": 3}`

// DefaultPayload returns the parsed preset for t.
func DefaultPayload(t points.ConfigType) (points.Payload, error) {
	f := NewRuleFactory()
	switch t {
	case points.ConfigCategoryRules:
		return f.ParseRules(t, []byte(DefaultCategoryRulesJSON))
	case points.ConfigPositionPoints:
		return f.ParseRules(t, []byte(DefaultPositionPointsJSON))
	}
	return points.Payload{}, fmt.Errorf("no preset for %q", t)
}
