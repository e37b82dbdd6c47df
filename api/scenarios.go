/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built itineraries that populate the store with legs that
	exercise the counting rules. Each scenario records the legs of one
	subject; the ledger, counts and forecasts are then read through the
	normal endpoints.

AVAILABLE SCENARIOS:

	westbound-idl:   Vancouver to Sydney across the date line
	us-partial-day:  Toronto to New York and back within two days
	uk-midnight:     Paris to London day trip that stays overnight
	snowbird:        Canadian winter in Florida, for forecasting

HOW SCENARIOS WORK:
 1. Reset store and ledger cache
 2. Convert each leg through the same path as POST /legs
 3. Save legs

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "westbound-idl"}

ADDING NEW SCENARIOS:
 1. Add an entry to 'scenarios' with its subject and legs

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: toLeg, the leg conversion used here
  - reference/airports.go: Airport codes used by the legs
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/residency-engine/residency"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	subject residency.SubjectID
	legs    []LegDTO
}

func flight(id, from, departs, to, arrives, carrier string) LegDTO {
	return LegDTO{
		ID:        id,
		Departure: EndpointDTO{Airport: from, Time: departs},
		Arrival:   EndpointDTO{Airport: to, Time: arrives},
		Carrier:   carrier,
	}
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "westbound-idl",
			Name:        "Across the Date Line",
			Description: "Departs Vancouver 23:00 Dec 23, lands Sydney 09:00 Dec 25. Dec 24 is never lived locally.",
			Category:    "midnight",
		},
		subject: "idl-traveller",
		legs: []LegDTO{
			flight("AC33", "YVR", "2024-12-23T23:00", "SYD", "2024-12-25T09:00", "Air Canada"),
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "us-partial-day",
			Name:        "US Partial Days",
			Description: "Toronto to New York and back. Every day touched in the US counts.",
			Category:    "partial_day",
		},
		subject: "commuter",
		legs: []LegDTO{
			flight("AC700", "YYZ", "2024-03-04T07:00", "JFK", "2024-03-04T08:30", "Air Canada"),
			flight("AC705", "JFK", "2024-03-05T18:00", "YYZ", "2024-03-05T19:30", "Air Canada"),
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "uk-midnight",
			Name:        "UK Midnight Test",
			Description: "Paris to London and back the next evening. Only the night in London counts.",
			Category:    "midnight",
		},
		subject: "eurostar",
		legs: []LegDTO{
			flight("AF1080", "CDG", "2024-05-10T18:00", "LHR", "2024-05-10T18:20", "Air France"),
			flight("AF1081", "LHR", "2024-05-11T19:00", "CDG", "2024-05-11T21:15", "Air France"),
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "snowbird",
			Name:        "Snowbird Winter",
			Description: "Toronto to Miami for the winter. Use the forecast endpoints to plan next season.",
			Category:    "forecast",
		},
		subject: "snowbird",
		legs: []LegDTO{
			flight("WS1200", "YYZ", "2023-11-15T08:00", "MIA", "2023-11-15T11:10", "WestJet"),
			flight("WS1201", "MIA", "2024-04-15T12:00", "YYZ", "2024-04-15T15:05", "WestJet"),
			flight("AC1610", "YYZ", "2024-07-01T09:00", "MIA", "2024-07-01T12:05", "Air Canada"),
			flight("AC1611", "MIA", "2024-07-21T13:00", "YYZ", "2024-07-21T16:00", "Air Canada"),
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          current,
		Name:        current,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	if err := h.loadScenario(ctx, s); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = s.ID
	h.mu.Unlock()

	h.logger.Info("scenario loaded", "scenario", s.ID, "subject", s.subject, "legs", len(s.legs))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": s.ID,
		"subject":  string(s.subject),
	})
}

// ResetDatabase clears all legs and cached ledgers.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadScenario(ctx context.Context, s scenario) error {
	for _, dto := range s.legs {
		leg, err := h.toLeg(dto, s.subject)
		if err != nil {
			return fmt.Errorf("leg %s: %w", dto.ID, err)
		}
		if err := h.Store.SaveLeg(ctx, leg); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	if h.cache != nil {
		if err := h.cache.Clear(ctx); err != nil {
			h.logger.Warn("ledger cache clear failed", "error", err)
		}
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}
