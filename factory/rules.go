/*
Package factory provides JSON to Go rule-table conversion.

PURPOSE:
  Converts JSON rule tables into points.Payload values. Administrators edit
  rule tables in an admin UI that sends JSON; the factory turns that JSON into
  typed maps and rejects anything the engine cannot score.

JSON SCHEMA:
  categoryRules (category -> field -> value -> points):
  {
    "Hackathon": {
      "Level":   {"International": 50, "National": 30},
      "Outcome": {"First": 40, "Participant": 5}
    }
  }

  positionPoints (position -> points):
  {"First": 10, "Second": 6, "Third": 3}

KEY FEATURES:
  - Points must be integers; 40.0 is accepted, 40.5 is not
  - Blank category, field, value or position names are rejected
  - Unknown shapes (arrays, strings where numbers belong) are rejected

USAGE:
  f := NewRuleFactory()
  payload, err := f.ParseRules(points.ConfigCategoryRules, jsonBytes)
  raw, err := f.ToJSON(points.ConfigCategoryRules, payload)

SEE ALSO:
  - presets.go: Default rule tables
  - points/configstore.go: ValidatePayload
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/warp/points-engine/points"
)

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON rule tables to payloads.
type RuleFactory struct{}

// NewRuleFactory creates a new rule factory.
func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRules parses raw JSON for configuration type t.
func (f *RuleFactory) ParseRules(t points.ConfigType, raw []byte) (points.Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return points.Payload{}, &points.ValidationError{Field: "configuration", Message: "required"}
	}

	var payload points.Payload
	switch t {
	case points.ConfigCategoryRules:
		var cj map[string]map[string]map[string]json.Number
		if err := decode(raw, &cj); err != nil {
			return points.Payload{}, err
		}
		rules, err := categoryRulesFromJSON(cj)
		if err != nil {
			return points.Payload{}, err
		}
		payload.Categories = rules

	case points.ConfigPositionPoints:
		var pj map[string]json.Number
		if err := decode(raw, &pj); err != nil {
			return points.Payload{}, err
		}
		positions := make(points.PositionPoints, len(pj))
		for pos, n := range pj {
			v, err := parsePoints(n, pos)
			if err != nil {
				return points.Payload{}, err
			}
			positions[pos] = v
		}
		payload.Positions = positions

	default:
		return points.Payload{}, &points.ValidationError{Field: "configType", Message: "unknown configuration type " + string(t)}
	}

	if err := points.ValidatePayload(t, payload); err != nil {
		return points.Payload{}, err
	}
	return payload, nil
}

// ToJSON renders the table for t in the same shape ParseRules accepts.
func (f *RuleFactory) ToJSON(t points.ConfigType, p points.Payload) (json.RawMessage, error) {
	var v any
	switch t {
	case points.ConfigCategoryRules:
		if p.Categories == nil {
			return json.RawMessage("{}"), nil
		}
		v = p.Categories
	case points.ConfigPositionPoints:
		if p.Positions == nil {
			return json.RawMessage("{}"), nil
		}
		v = p.Positions
	default:
		return nil, &points.ValidationError{Field: "configType", Message: "unknown configuration type " + string(t)}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", t, err)
	}
	return b, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func decode(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return &points.ValidationError{Field: "configuration", Message: "malformed rule table: " + err.Error()}
	}
	return nil
}

func categoryRulesFromJSON(cj map[string]map[string]map[string]json.Number) (points.CategoryRules, error) {
	rules := make(points.CategoryRules, len(cj))
	for cat, fields := range cj {
		rule := make(points.CategoryRule, len(fields))
		for field, values := range fields {
			fr := make(points.FieldRules, len(values))
			for value, n := range values {
				v, err := parsePoints(n, cat+"."+field+"."+value)
				if err != nil {
					return nil, err
				}
				fr[value] = v
			}
			rule[field] = fr
		}
		rules[cat] = rule
	}
	return rules, nil
}

func parsePoints(n json.Number, path string) (int, error) {
	if v, err := strconv.Atoi(n.String()); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, &points.ValidationError{
			Field:   "configuration." + path,
			Message: fmt.Sprintf("points must be an integer, got %s", n.String()),
		}
	}
	return int(f), nil
}
