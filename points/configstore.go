/*
configstore.go - Versioned configuration management

PURPOSE:
  Each configuration type (categoryRules, positionPoints) is an independent
  lineage of immutable versions. Proposing a payload inserts version N+1 as
  the active row and deactivates every other row of the type, in one
  transaction.

INVARIANTS:
  - At most one active row per type; exactly one once initialized
  - Versions increase by one per type, starting at 1
  - Rows are never edited except for the is_active flip, never deleted

CONCURRENCY:
  Two concurrent proposals race on the unique (type, version) constraint and
  the single-active constraint. The loser gets ErrConfigConflict and should
  retry. A proposal may also carry BaseVersion; if the active version moved
  on since the caller read it, the proposal fails with ErrConfigConflict.

SEE ALSO:
  - recalculation.go: Runs propose inside its own transaction
*/
package points

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ProposeInput describes a new configuration version.
type ProposeInput struct {
	Type      ConfigType
	Payload   Payload
	UpdatedBy string
	Notes     string

	// BaseVersion, when set, must equal the currently active version
	// (0 when none exists).
	BaseVersion *int

	// EffectiveDate defaults to now.
	EffectiveDate time.Time
}

type ConfigurationStore struct {
	store TxStore
	opts  options
}

// GetActive returns the active configuration for t, or nil if none exists.
func (cs *ConfigurationStore) GetActive(ctx context.Context, t ConfigType) (*Configuration, error) {
	if !t.Valid() {
		return nil, &ValidationError{Field: "configType", Message: "unknown configuration type " + string(t)}
	}
	return cs.store.ActiveConfiguration(ctx, t)
}

// Propose stores a new active version on its own, without recalculating.
// Use Coordinator.Activate to propose and recalculate atomically.
func (cs *ConfigurationStore) Propose(ctx context.Context, in ProposeInput) (*Configuration, error) {
	var out *Configuration
	err := cs.store.WithTx(ctx, func(s Store) error {
		cfg, err := cs.propose(ctx, s, in)
		if err != nil {
			return err
		}
		out = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// History returns every version of t, newest first.
func (cs *ConfigurationStore) History(ctx context.Context, t ConfigType) ([]Configuration, error) {
	if !t.Valid() {
		return nil, &ValidationError{Field: "configType", Message: "unknown configuration type " + string(t)}
	}
	return cs.store.ConfigurationHistory(ctx, t)
}

func (cs *ConfigurationStore) CountActive(ctx context.Context, t ConfigType) (int, error) {
	return cs.store.CountActive(ctx, t)
}

// ActiveRules returns the rule set formed by both active payloads.
func (cs *ConfigurationStore) ActiveRules(ctx context.Context) (RuleSet, error) {
	return loadRuleSet(ctx, cs.store)
}

func (cs *ConfigurationStore) propose(ctx context.Context, s Store, in ProposeInput) (*Configuration, error) {
	if err := ValidatePayload(in.Type, in.Payload); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.UpdatedBy) == "" {
		return nil, &ValidationError{Field: "updatedBy", Message: "required"}
	}

	if in.BaseVersion != nil {
		active, err := s.ActiveConfiguration(ctx, in.Type)
		if err != nil {
			return nil, fmt.Errorf("read active %s: %w", in.Type, err)
		}
		current := 0
		if active != nil {
			current = active.Version
		}
		if current != *in.BaseVersion {
			return nil, &VersionConflictError{ConfigType: in.Type, BaseVersion: *in.BaseVersion, ActiveVersion: current}
		}
	}

	latest, err := s.LatestVersion(ctx, in.Type)
	if err != nil {
		return nil, fmt.Errorf("read latest %s version: %w", in.Type, err)
	}

	now := cs.opts.clock()
	effective := in.EffectiveDate
	if effective.IsZero() {
		effective = now
	}

	cfg := Configuration{
		ID:            cs.opts.newID(),
		Type:          in.Type,
		Version:       latest + 1,
		IsActive:      true,
		Payload:       ClonePayload(in.Payload),
		EffectiveDate: effective.UTC(),
		UpdatedBy:     in.UpdatedBy,
		Notes:         in.Notes,
		CreatedAt:     now,
	}

	// Deactivate first so the single-active constraint holds at every statement.
	if err := s.DeactivateConfigurations(ctx, in.Type, cfg.ID); err != nil {
		return nil, fmt.Errorf("deactivate %s: %w", in.Type, err)
	}
	if err := s.InsertConfiguration(ctx, cfg); err != nil {
		return nil, fmt.Errorf("insert %s v%d: %w", in.Type, cfg.Version, err)
	}

	cs.opts.log.Info("configuration proposed",
		"config_type", in.Type,
		"version", cfg.Version,
		"updated_by", in.UpdatedBy)
	return &cfg, nil
}

// loadRuleSet reads both active payloads through s.
func loadRuleSet(ctx context.Context, s ConfigStore) (RuleSet, error) {
	var rs RuleSet
	for _, t := range ConfigTypes {
		cfg, err := s.ActiveConfiguration(ctx, t)
		if err != nil {
			return RuleSet{}, fmt.Errorf("read active %s: %w", t, err)
		}
		if cfg != nil {
			rs = rs.With(t, cfg.Payload)
		}
	}
	return rs, nil
}

// =============================================================================
// PAYLOAD VALIDATION
// =============================================================================

// ValidatePayload checks that p carries exactly the table for t with no blank keys.
func ValidatePayload(t ConfigType, p Payload) error {
	switch t {
	case ConfigCategoryRules:
		if p.Categories == nil {
			return &ValidationError{Field: "configuration", Message: "categoryRules payload requires categories"}
		}
		if p.Positions != nil {
			return &ValidationError{Field: "configuration", Message: "categoryRules payload must not carry positions"}
		}
		for cat, rule := range p.Categories {
			if strings.TrimSpace(cat) == "" {
				return &ValidationError{Field: "configuration", Message: "category name must not be blank"}
			}
			for field, values := range rule {
				if strings.TrimSpace(field) == "" {
					return &ValidationError{Field: "configuration." + cat, Message: "field name must not be blank"}
				}
				for v := range values {
					if strings.TrimSpace(v) == "" {
						return &ValidationError{Field: "configuration." + cat + "." + field, Message: "field value must not be blank"}
					}
				}
			}
		}
	case ConfigPositionPoints:
		if p.Positions == nil {
			return &ValidationError{Field: "configuration", Message: "positionPoints payload requires positions"}
		}
		if p.Categories != nil {
			return &ValidationError{Field: "configuration", Message: "positionPoints payload must not carry categories"}
		}
		for pos := range p.Positions {
			if strings.TrimSpace(pos) == "" {
				return &ValidationError{Field: "configuration", Message: "position must not be blank"}
			}
		}
	default:
		return &ValidationError{Field: "configType", Message: "unknown configuration type " + string(t)}
	}
	return nil
}

// ClonePayload returns a deep copy of p.
func ClonePayload(p Payload) Payload {
	var out Payload
	if p.Categories != nil {
		out.Categories = make(CategoryRules, len(p.Categories))
		for cat, rule := range p.Categories {
			out.Categories[cat] = cloneCategoryRule(rule)
		}
	}
	if p.Positions != nil {
		out.Positions = make(PositionPoints, len(p.Positions))
		for k, v := range p.Positions {
			out.Positions[k] = v
		}
	}
	return out
}

func cloneCategoryRule(rule CategoryRule) CategoryRule {
	if rule == nil {
		return nil
	}
	out := make(CategoryRule, len(rule))
	for field, values := range rule {
		vs := make(FieldRules, len(values))
		for k, v := range values {
			vs[k] = v
		}
		out[field] = vs
	}
	return out
}
