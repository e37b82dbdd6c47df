// Package reference provides static reference data the API uses to complete
// leg endpoints: an airport code is enough to know the city, the country and
// the IANA zone its local times are written in.
package reference

import (
	"sort"
	"strings"
)

// Airport is one entry of the reference table.
type Airport struct {
	Code     string `json:"code"`
	City     string `json:"city"`
	Country  string `json:"country"`
	Timezone string `json:"timezone"`
}

// Airports looks up airports by IATA code.
type Airports interface {
	Airport(code string) (Airport, bool)
	All() []Airport
}

// StaticAirports is an in-memory table. Read-only after construction.
type StaticAirports struct {
	byCode map[string]Airport
}

// Compile-time check
var _ Airports = (*StaticAirports)(nil)

// NewStaticAirports builds a table from entries; later entries win.
func NewStaticAirports(entries ...Airport) *StaticAirports {
	s := &StaticAirports{byCode: make(map[string]Airport, len(entries))}
	for _, a := range entries {
		a.Code = strings.ToUpper(strings.TrimSpace(a.Code))
		s.byCode[a.Code] = a
	}
	return s
}

// DefaultAirports returns the built-in table.
func DefaultAirports() *StaticAirports {
	return NewStaticAirports(builtinAirports...)
}

func (s *StaticAirports) Airport(code string) (Airport, bool) {
	a, ok := s.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return a, ok
}

// All returns the table sorted by code.
func (s *StaticAirports) All() []Airport {
	out := make([]Airport, 0, len(s.byCode))
	for _, a := range s.byCode {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

var builtinAirports = []Airport{
	// Canada
	{Code: "YVR", City: "Vancouver", Country: "Canada", Timezone: "America/Vancouver"},
	{Code: "YYZ", City: "Toronto", Country: "Canada", Timezone: "America/Toronto"},
	{Code: "YUL", City: "Montreal", Country: "Canada", Timezone: "America/Toronto"},
	{Code: "YYC", City: "Calgary", Country: "Canada", Timezone: "America/Edmonton"},

	// United States
	{Code: "JFK", City: "New York", Country: "United States", Timezone: "America/New_York"},
	{Code: "LAX", City: "Los Angeles", Country: "United States", Timezone: "America/Los_Angeles"},
	{Code: "SFO", City: "San Francisco", Country: "United States", Timezone: "America/Los_Angeles"},
	{Code: "SEA", City: "Seattle", Country: "United States", Timezone: "America/Los_Angeles"},
	{Code: "ORD", City: "Chicago", Country: "United States", Timezone: "America/Chicago"},
	{Code: "MIA", City: "Miami", Country: "United States", Timezone: "America/New_York"},
	{Code: "HNL", City: "Honolulu", Country: "United States", Timezone: "Pacific/Honolulu"},

	// United Kingdom & Europe
	{Code: "LHR", City: "London", Country: "United Kingdom", Timezone: "Europe/London"},
	{Code: "EDI", City: "Edinburgh", Country: "United Kingdom", Timezone: "Europe/London"},
	{Code: "CDG", City: "Paris", Country: "France", Timezone: "Europe/Paris"},
	{Code: "DUB", City: "Dublin", Country: "Ireland", Timezone: "Europe/Dublin"},
	{Code: "LIS", City: "Lisbon", Country: "Portugal", Timezone: "Europe/Lisbon"},

	// Oceania
	{Code: "SYD", City: "Sydney", Country: "Australia", Timezone: "Australia/Sydney"},
	{Code: "MEL", City: "Melbourne", Country: "Australia", Timezone: "Australia/Melbourne"},
	{Code: "PER", City: "Perth", Country: "Australia", Timezone: "Australia/Perth"},
	{Code: "AKL", City: "Auckland", Country: "New Zealand", Timezone: "Pacific/Auckland"},

	// Asia
	{Code: "NRT", City: "Tokyo", Country: "Japan", Timezone: "Asia/Tokyo"},
	{Code: "SIN", City: "Singapore", Country: "Singapore", Timezone: "Asia/Singapore"},
	{Code: "HKG", City: "Hong Kong", Country: "Hong Kong", Timezone: "Asia/Hong_Kong"},
}
