/*
Package points provides the versioned points-configuration and recalculation engine.

PURPOSE:
  Participants submit activities, reviewers approve them, and approved activities
  earn points from an administrator-editable rule table. Rule tables are versioned
  and apply retroactively: activating a new version recomputes every affected
  approved activity and moves each owner's total by the difference.

KEY CONCEPTS IN THIS FILE (types.go):
  - Configuration: One immutable, versioned snapshot of scoring rules
  - CategoryRules: Category -> field name -> field value -> points
  - PositionPoints: Position value -> points
  - Activity: A reviewable submission owned by one participant
  - Participant: Owner of activities with an eagerly maintained total
  - PointEntry: Append-only record of every applied delta

DESIGN PRINCIPLES:
  1. Versions are never edited, only superseded
  2. Totals move by deltas, never by absolute overwrite
  3. Every applied delta is recorded in the point ledger
  4. Rule tables are open-ended string maps, not typed classes

SEE ALSO:
  - calculator.go: Point computation
  - recalculation.go: Atomic bulk recalculation
  - impact.go: Preview of a proposed configuration
*/
package points

import (
	"time"
)

// =============================================================================
// CONFIGURATION TYPES
// =============================================================================

// ConfigType identifies an independent configuration lineage.
type ConfigType string

const (
	ConfigPositionPoints ConfigType = "positionPoints"
	ConfigCategoryRules  ConfigType = "categoryRules"
)

// ConfigTypes lists every lineage in a stable order.
var ConfigTypes = []ConfigType{ConfigCategoryRules, ConfigPositionPoints}

func (t ConfigType) Valid() bool {
	return t == ConfigPositionPoints || t == ConfigCategoryRules
}

func (t ConfigType) String() string { return string(t) }

// ParseConfigType converts a path or body value into a ConfigType.
func ParseConfigType(s string) (ConfigType, error) {
	t := ConfigType(s)
	if !t.Valid() {
		return "", &ValidationError{Field: "configType", Message: "unknown configuration type " + s}
	}
	return t, nil
}

// FieldRules maps a field value to the points it is worth.
type FieldRules map[string]int

// CategoryRule maps a field name to its value table.
type CategoryRule map[string]FieldRules

// CategoryRules is the categoryRules payload: category -> field -> value -> points.
type CategoryRules map[string]CategoryRule

// PositionPoints is the positionPoints payload: position value -> points.
type PositionPoints map[string]int

// Payload is the rule table carried by a Configuration. Exactly one of the
// fields is set, matching the configuration's Type.
type Payload struct {
	Categories CategoryRules  `json:"categories,omitempty"`
	Positions  PositionPoints `json:"positions,omitempty"`
}

// Configuration is one versioned snapshot of scoring rules.
type Configuration struct {
	ID            string
	Type          ConfigType
	Version       int
	IsActive      bool
	Payload       Payload
	EffectiveDate time.Time
	UpdatedBy     string
	Notes         string
	CreatedAt     time.Time
}

// RuleSet is the pair of payloads an activity is scored against.
type RuleSet struct {
	Categories CategoryRules
	Positions  PositionPoints
}

// With returns a copy of the rule set with one lineage replaced by payload.
func (rs RuleSet) With(t ConfigType, p Payload) RuleSet {
	out := rs
	switch t {
	case ConfigCategoryRules:
		out.Categories = p.Categories
	case ConfigPositionPoints:
		out.Positions = p.Positions
	}
	return out
}

// =============================================================================
// ACTIVITY
// =============================================================================

// Status is the review state of an activity.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// Activity is a submitted, reviewable unit of participant achievement.
type Activity struct {
	ID            string
	ParticipantID string
	Category      string
	Title         string

	// Structured attributes
	Position          string
	Scope             string
	Organizer         string
	Platform          string
	ParticipationType string

	// Answers holds category-specific custom question answers keyed by question id.
	Answers map[string]any

	Status       Status
	PointsEarned int
	ReviewedBy   string
	ReviewedAt   *time.Time
	ReviewNote   string
	SubmittedAt  time.Time
	UpdatedAt    time.Time
}

// =============================================================================
// PARTICIPANT
// =============================================================================

// Participant owns activities and accrues a cumulative point total.
//
// INVARIANT: TotalPoints == sum(PointsEarned) over Approved activities.
type Participant struct {
	ID          string
	Name        string
	TotalPoints int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// =============================================================================
// POINT LEDGER ENTRY
// =============================================================================

type EntryType string

const (
	EntryAward         EntryType = "award"
	EntryReversal      EntryType = "reversal"
	EntryRecalculation EntryType = "recalculation"
	EntryRebuild       EntryType = "rebuild"
)

// PointEntry records one applied delta. Entries are append-only; the sum of a
// participant's entries equals their TotalPoints.
type PointEntry struct {
	ID              string
	ParticipantID   string
	ActivityID      string
	Delta           int
	Type            EntryType
	ConfigurationID string
	Reason          string
	IdempotencyKey  string
	CreatedBy       string
	CreatedAt       time.Time
}
