/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific parsing (airport codes, loose timestamp formats)
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Legs:
    LegDTO, EndpointDTO

  Ledger & counts:
    LedgerResponse, CountsResponse, SummaryResponse

  Forecasting:
    ForecastRequest, TripDTO, ForecastResponse, ContributionDTO,
    MaxEndDateRequest, StandardDurationsRequest

  Stateless:
    CalculateRequest, CalculateResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

TIMESTAMPS:
  EndpointDTO.Time accepts either a wall-clock reading without offset
  ("2024-12-23T23:00", "2024-12-23 23:00:00"), read in the endpoint's zone,
  or an RFC 3339 timestamp with offset, taken as an absolute instant.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rules.go: RuleJSON type
*/
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/warp/residency-engine/factory"
	"github.com/warp/residency-engine/generic"
	"github.com/warp/residency-engine/residency"
)

// =============================================================================
// LEGS
// =============================================================================

// EndpointDTO is one end of a leg. When Airport is set, missing city,
// country and timezone are filled from the airport table.
type EndpointDTO struct {
	Airport  string `json:"airport,omitempty"`
	Country  string `json:"country,omitempty"`
	City     string `json:"city,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Time     string `json:"time"`
}

type LegDTO struct {
	ID        string      `json:"id,omitempty"`
	Departure EndpointDTO `json:"departure"`
	Arrival   EndpointDTO `json:"arrival"`
	Carrier   string      `json:"carrier,omitempty"`
}

var wallLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parseEndpointTime returns the parsed time and whether it carried an offset.
func parseEndpointTime(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true, nil
	}
	for _, layout := range wallLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("%w: unparseable time %q", generic.ErrInvalidLeg, s)
}

func formatEndpointTime(e residency.Endpoint) string {
	if e.HasOffset {
		return e.Time.Format(time.RFC3339)
	}
	return e.Time.Format("2006-01-02T15:04:05")
}

func toEndpointDTO(e residency.Endpoint) EndpointDTO {
	return EndpointDTO{
		Airport:  e.Airport,
		Country:  e.Country,
		City:     e.City,
		Timezone: e.Timezone,
		Time:     formatEndpointTime(e),
	}
}

func toLegDTO(l residency.Leg) LegDTO {
	return LegDTO{
		ID:        string(l.ID),
		Departure: toEndpointDTO(l.Departure),
		Arrival:   toEndpointDTO(l.Arrival),
		Carrier:   l.Carrier,
	}
}

func toLegDTOs(legs []residency.Leg) []LegDTO {
	out := make([]LegDTO, len(legs))
	for i, l := range legs {
		out[i] = toLegDTO(l)
	}
	return out
}

// =============================================================================
// LEDGER & COUNTS
// =============================================================================

// PeriodDTO is an inclusive date range; empty fields mean unbounded.
type PeriodDTO struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

type LedgerResponse struct {
	Subject string                    `json:"subject"`
	Period  PeriodDTO                 `json:"period"`
	Days    []residency.DailyPresence `json:"days"`
}

type CountsResponse struct {
	Subject  string                      `json:"subject"`
	Period   PeriodDTO                   `json:"period"`
	Tally    generic.Tally               `json:"tally"`
	Statuses []residency.ThresholdStatus `json:"statuses"`
}

// SummaryResponse puts the precise ledger tally next to the forecaster's
// rolling-window estimate. They are different models and may disagree.
type SummaryResponse struct {
	Subject         string                      `json:"subject"`
	LegCount        int                         `json:"leg_count"`
	LedgerSpan      PeriodDTO                   `json:"ledger_span"`
	LedgerTally     generic.Tally               `json:"ledger_tally"`
	Statuses        []residency.ThresholdStatus `json:"statuses"`
	RollingWindow   WindowDTO                   `json:"rolling_window"`
	RollingEstimate generic.Tally               `json:"rolling_estimate"`
}

// =============================================================================
// FORECASTING
// =============================================================================

// TripDTO is a hypothetical stay of Days days from Start (00:00 UTC).
type TripDTO struct {
	Country string `json:"country"`
	Start   string `json:"start"`
	Days    int    `json:"days"`
}

type ForecastRequest struct {
	Trips []TripDTO `json:"trips"`
}

type WindowDTO struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func toWindowDTO(w generic.Window) WindowDTO {
	return WindowDTO{Start: w.Start, End: w.End}
}

type ContributionDTO struct {
	Country      string    `json:"country"`
	Arrival      time.Time `json:"arrival"`
	Departure    time.Time `json:"departure"`
	Hypothetical bool      `json:"hypothetical"`
	WholeDays    int       `json:"whole_days"`
	ExactDays    float64   `json:"exact_days"`
}

type ForecastResponse struct {
	Subject        string            `json:"subject"`
	Current        generic.Tally     `json:"current"`
	Forecast       generic.Tally     `json:"forecast"`
	CurrentWindow  WindowDTO         `json:"current_window"`
	ForecastWindow WindowDTO         `json:"forecast_window"`
	Contributions  []ContributionDTO `json:"contributions"`
}

type MaxEndDateRequest struct {
	Country   string `json:"country"`
	TripStart string `json:"trip_start"`
	DayLimit  int    `json:"day_limit,omitempty"`
}

type MaxEndDateResponse struct {
	Subject   string       `json:"subject"`
	Country   string       `json:"country"`
	TripStart generic.Date `json:"trip_start"`
	DayLimit  int          `json:"day_limit"`
	EndDate   generic.Date `json:"end_date"`
	Days      int          `json:"days"`
	Feasible  bool         `json:"feasible"`
	// OverLimitDays is set when no end date fits: the count before the trip.
	OverLimitDays int `json:"over_limit_days,omitempty"`
}

type StandardDurationsRequest struct {
	Country   string `json:"country"`
	TripStart string `json:"trip_start"`
	DayLimit  int    `json:"day_limit,omitempty"`
	Durations []int  `json:"durations,omitempty"`
}

// =============================================================================
// STATELESS CALCULATION
// =============================================================================

type CalculateRequest struct {
	Legs []LegDTO `json:"legs"`
	From string   `json:"from,omitempty"`
	To   string   `json:"to,omitempty"`
}

type CalculateResponse struct {
	Days     []residency.DailyPresence   `json:"days"`
	Tally    generic.Tally               `json:"tally"`
	Statuses []residency.ThresholdStatus `json:"statuses"`
}

// =============================================================================
// RULES
// =============================================================================

type RuleDTO struct {
	factory.RuleJSON
	Registered bool `json:"registered"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
