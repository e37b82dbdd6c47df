package residency_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/residency-engine/generic"
	"github.com/warp/residency-engine/residency"
)

func TestRuleFor_BuiltinTable(t *testing.T) {
	reg := residency.DefaultRegistry()

	tests := []struct {
		name    string
		country string
		want    string
		kind    residency.RuleKind
		transit bool
	}{
		{"canada", "Canada", "Canada", residency.MidnightRule, false},
		{"case insensitive", "cAnAdA", "Canada", residency.MidnightRule, false},
		{"uk alias", "UK", "United Kingdom", residency.MidnightRule, false},
		{"uk code", "gb", "United Kingdom", residency.MidnightRule, false},
		{"australia", "Australia", "Australia", residency.MidnightRule, false},
		{"new zealand", "new zealand", "New Zealand", residency.MidnightRule, false},
		{"usa alias", "USA", "United States", residency.PartialDayRule, true},
		{"us long form", "United States of America", "United States", residency.PartialDayRule, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := reg.RuleFor(tt.country)
			assert.Equal(t, tt.want, rule.Country)
			assert.Equal(t, tt.kind, rule.Kind)
			assert.Equal(t, 183, rule.ThresholdDays)
			assert.Equal(t, tt.transit, rule.HasTransitException)
		})
	}
}

func TestRuleFor_UnknownCountryGetsDefault(t *testing.T) {
	rule := residency.DefaultRegistry().RuleFor("Freedonia")

	assert.Equal(t, "Freedonia", rule.Country)
	assert.Equal(t, residency.MidnightRule, rule.Kind)
	assert.Equal(t, residency.DefaultThresholdDays, rule.ThresholdDays)
	assert.False(t, rule.HasTransitException)
}

func TestRegistry_RegisterReplacesByAnyName(t *testing.T) {
	reg := residency.DefaultRegistry()

	// GIVEN: A custom UK rule registered under its alias only
	err := reg.Register(residency.Rule{Country: "UK", Kind: residency.PartialDayRule, ThresholdDays: 90})
	require.NoError(t, err)

	// THEN: It replaces the built-in entry, and the old spellings are gone
	assert.Equal(t, 90, reg.RuleFor("uk").ThresholdDays)
	assert.Equal(t, "Great Britain", reg.RuleFor("Great Britain").Country, "old alias no longer resolves")
	assert.Len(t, reg.Rules(), 5)
}

func TestRegistry_RejectsRuleSpanningTwoCountries(t *testing.T) {
	reg := residency.DefaultRegistry()

	// GIVEN: A rule whose name and alias belong to two different registered rules
	err := reg.Register(residency.Rule{Country: "Canada", Aliases: []string{"USA"}, Kind: residency.MidnightRule})

	// THEN: It is rejected and both existing rules stay fully indexed
	assert.ErrorIs(t, err, generic.ErrInvalidRule)
	assert.Equal(t, "United States", reg.Canonical("USA"))
	assert.Equal(t, "United States", reg.Canonical("US"))
	assert.Equal(t, residency.PartialDayRule, reg.RuleFor("United States of America").Kind)
	assert.Equal(t, "Canada", reg.Canonical("CA"))
	assert.Len(t, reg.Rules(), 5)
}

func TestRegistry_RejectsInvalidRules(t *testing.T) {
	_, err := residency.NewRegistry(residency.Rule{Country: "Canada", Kind: "sometimes"})
	assert.ErrorIs(t, err, generic.ErrInvalidRule)

	_, err = residency.NewRegistry(residency.Rule{Kind: residency.MidnightRule})
	assert.ErrorIs(t, err, generic.ErrInvalidRule)
}

func TestRegistry_DefaultsThreshold(t *testing.T) {
	reg, err := residency.NewRegistry(residency.Rule{Country: "Portugal", Code: "PT", Kind: residency.MidnightRule})
	require.NoError(t, err)

	assert.Equal(t, 183, reg.RuleFor("pt").ThresholdDays)
	assert.Equal(t, "Portugal", reg.Canonical("PT"))
	assert.Equal(t, "Spain", reg.Canonical("Spain"))
}

func TestRegistry_RulesSorted(t *testing.T) {
	rules := residency.DefaultRegistry().Rules()

	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Country
	}
	assert.Equal(t, []string{"Australia", "Canada", "New Zealand", "United Kingdom", "United States"}, names)
}
