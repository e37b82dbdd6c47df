package residency

import (
	"fmt"
	"sort"
	"strings"

	"github.com/warp/residency-engine/generic"
)

// =============================================================================
// RULES - How a country decides what a "day of presence" is
// =============================================================================

// RuleKind selects which ledger field a country counts.
type RuleKind string

const (
	// MidnightRule counts a date when the subject was in the country at local 00:00.
	MidnightRule RuleKind = "midnight"

	// PartialDayRule counts a date when the subject was in the country at any
	// point during it.
	PartialDayRule RuleKind = "partial_day"
)

// DefaultThresholdDays is the threshold used when a rule does not name one.
const DefaultThresholdDays = 183

// Rule is the counting rule of one country.
type Rule struct {
	Country       string   `json:"country"`
	Code          string   `json:"code,omitempty"`
	Aliases       []string `json:"aliases,omitempty"`
	Kind          RuleKind `json:"kind"`
	ThresholdDays int      `json:"threshold_days"`

	// HasTransitException records that the jurisdiction excludes days spent
	// merely in transit. It is reported, not applied (see counter.go).
	HasTransitException bool `json:"has_transit_exception"`
}

// Validate checks that a rule can be registered.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Country) == "" {
		return fmt.Errorf("%w: country is required", generic.ErrInvalidRule)
	}
	switch r.Kind {
	case MidnightRule, PartialDayRule:
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", generic.ErrInvalidRule, r.Country, r.Kind)
	}
	if r.ThresholdDays < 0 {
		return fmt.Errorf("%w: %s: negative threshold", generic.ErrInvalidRule, r.Country)
	}
	return nil
}

// names returns every spelling the rule answers to.
func (r Rule) names() []string {
	out := []string{r.Country}
	if r.Code != "" {
		out = append(out, r.Code)
	}
	return append(out, r.Aliases...)
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps country names, ISO codes and aliases to rules.
// It is read-only once built and safe for concurrent lookups.
type Registry struct {
	rules []Rule
	index map[string]int
}

// NewRegistry builds a registry from rules. Later rules replace earlier
// ones that answer to the same name.
func NewRegistry(rules ...Rule) (*Registry, error) {
	reg := &Registry{index: make(map[string]int)}
	for _, r := range rules {
		if err := reg.Register(r); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// DefaultRegistry returns the built-in table.
func DefaultRegistry() *Registry {
	reg, err := NewRegistry(builtinRules()...)
	if err != nil {
		panic(err) // built-in table is static
	}
	return reg
}

func builtinRules() []Rule {
	return []Rule{
		{Country: "Canada", Code: "CA", Kind: MidnightRule, ThresholdDays: 183},
		{Country: "United Kingdom", Code: "GB", Aliases: []string{"UK", "Great Britain"}, Kind: MidnightRule, ThresholdDays: 183},
		{Country: "Australia", Code: "AU", Kind: MidnightRule, ThresholdDays: 183},
		{Country: "New Zealand", Code: "NZ", Kind: MidnightRule, ThresholdDays: 183},
		{Country: "United States", Code: "US", Aliases: []string{"USA", "United States of America"},
			Kind: PartialDayRule, ThresholdDays: 183, HasTransitException: true},
	}
}

// Register adds or replaces a rule. Registration is a construction-time
// operation; it must not race with lookups.
func (reg *Registry) Register(r Rule) error {
	if r.ThresholdDays == 0 {
		r.ThresholdDays = DefaultThresholdDays
	}
	if err := r.Validate(); err != nil {
		return err
	}

	pos := -1
	for _, name := range r.names() {
		i, ok := reg.index[normalize(name)]
		if !ok {
			continue
		}
		if pos >= 0 && i != pos {
			return fmt.Errorf("%w: %q names both %q and %q", generic.ErrInvalidRule,
				r.Country, reg.rules[pos].Country, reg.rules[i].Country)
		}
		pos = i
	}
	if pos >= 0 {
		// Drop the old rule's names before indexing the new ones
		for _, name := range reg.rules[pos].names() {
			delete(reg.index, normalize(name))
		}
		reg.rules[pos] = r
	} else {
		pos = len(reg.rules)
		reg.rules = append(reg.rules, r)
	}
	for _, name := range r.names() {
		reg.index[normalize(name)] = pos
	}
	return nil
}

// RuleFor returns the rule for country. Unknown countries get a midnight
// rule with the default threshold, named after the queried country.
func (reg *Registry) RuleFor(country string) Rule {
	if r, ok := reg.Lookup(country); ok {
		return r
	}
	return Rule{Country: country, Kind: MidnightRule, ThresholdDays: DefaultThresholdDays}
}

// Lookup returns the registered rule for country, if any.
func (reg *Registry) Lookup(country string) (Rule, bool) {
	if reg == nil {
		return Rule{}, false
	}
	i, ok := reg.index[normalize(country)]
	if !ok {
		return Rule{}, false
	}
	return reg.rules[i], true
}

// Canonical returns the registered country name for any spelling, or the
// input unchanged.
func (reg *Registry) Canonical(country string) string {
	if r, ok := reg.Lookup(country); ok {
		return r.Country
	}
	return country
}

// Rules lists the registered rules sorted by country.
func (reg *Registry) Rules() []Rule {
	out := make([]Rule, len(reg.rules))
	copy(out, reg.rules)
	sort.Slice(out, func(i, j int) bool { return out[i].Country < out[j].Country })
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
