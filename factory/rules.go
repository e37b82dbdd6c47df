/*
Package factory provides JSON to Go residency rule conversion.

PURPOSE:
  Converts JSON rule definitions into residency.Rule values and registries.
  Jurisdictions change thresholds and add countries more often than the
  engine changes, so the rule table can be shipped as a file next to the
  binary.

JSON SCHEMA:
  {
    "rules": [
      {
        "country": "United States",
        "code": "US",
        "aliases": ["USA", "United States of America"],
        "kind": "partial_day",
        "threshold_days": 183,
        "has_transit_exception": true
      },
      {
        "country": "Portugal",
        "code": "PT",
        "kind": "midnight"
      }
    ]
  }

  A bare array of rules is accepted as well.

DEFAULTS:
  - kind defaults to "midnight"
  - threshold_days defaults to 183

MERGING:
  LoadRegistry starts from residency.DefaultRegistry() and registers each
  file rule over it, so a file only needs the countries it changes.

USAGE:
  reg, err := factory.LoadRegistry("rules.json")
  rule := reg.RuleFor("Portugal")

SEE ALSO:
  - residency/rules.go: Rule and Registry
  - cmd/server/main.go: Loads RULES_FILE at startup
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/warp/residency-engine/generic"
	"github.com/warp/residency-engine/residency"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of a rule.
type RuleJSON struct {
	Country             string   `json:"country"`
	Code                string   `json:"code,omitempty"`
	Aliases             []string `json:"aliases,omitempty"`
	Kind                string   `json:"kind,omitempty"` // midnight, partial_day
	ThresholdDays       int      `json:"threshold_days,omitempty"`
	HasTransitException bool     `json:"has_transit_exception,omitempty"`
}

// RulesFile is the top-level document of a rules file.
type RulesFile struct {
	Rules []RuleJSON `json:"rules"`
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// ParseRule parses one JSON rule.
func ParseRule(jsonStr string) (residency.Rule, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return residency.Rule{}, fmt.Errorf("%w: failed to parse rule JSON: %v", generic.ErrInvalidRule, err)
	}
	return FromJSON(rj)
}

// ParseRules parses a rules document (object with "rules" or a bare array).
func ParseRules(data []byte) ([]residency.Rule, error) {
	var items []RuleJSON

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: failed to parse rules JSON: %v", generic.ErrInvalidRule, err)
		}
	} else {
		var doc RulesFile
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("%w: failed to parse rules JSON: %v", generic.ErrInvalidRule, err)
		}
		items = doc.Rules
	}

	rules := make([]residency.Rule, 0, len(items))
	for i, rj := range items {
		r, err := FromJSON(rj)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// FromJSON converts a RuleJSON into a validated residency.Rule.
func FromJSON(rj RuleJSON) (residency.Rule, error) {
	kind, err := parseKind(rj.Kind)
	if err != nil {
		return residency.Rule{}, err
	}

	rule := residency.Rule{
		Country:             strings.TrimSpace(rj.Country),
		Code:                strings.ToUpper(strings.TrimSpace(rj.Code)),
		Aliases:             rj.Aliases,
		Kind:                kind,
		ThresholdDays:       rj.ThresholdDays,
		HasTransitException: rj.HasTransitException,
	}
	if rule.ThresholdDays == 0 {
		rule.ThresholdDays = residency.DefaultThresholdDays
	}
	if err := rule.Validate(); err != nil {
		return residency.Rule{}, err
	}
	return rule, nil
}

// ToJSON converts a rule back to its JSON form.
func ToJSON(r residency.Rule) RuleJSON {
	return RuleJSON{
		Country:             r.Country,
		Code:                r.Code,
		Aliases:             r.Aliases,
		Kind:                string(r.Kind),
		ThresholdDays:       r.ThresholdDays,
		HasTransitException: r.HasTransitException,
	}
}

// Registry builds a registry of the built-in table overlaid with rules.
func Registry(rules []residency.Rule) (*residency.Registry, error) {
	reg := residency.DefaultRegistry()
	for _, r := range rules {
		if err := reg.Register(r); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadRegistry reads a rules file and overlays it on the built-in table.
// An empty path returns the built-in table.
func LoadRegistry(path string) (*residency.Registry, error) {
	if path == "" {
		return residency.DefaultRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, err
	}
	return Registry(rules)
}

func parseKind(s string) (residency.RuleKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "midnight":
		return residency.MidnightRule, nil
	case "partial_day", "partial-day", "partialday":
		return residency.PartialDayRule, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", generic.ErrInvalidRule, s)
	}
}
