/*
handlers.go - HTTP API handlers for the residency engine

PURPOSE:
  Exposes the presence ledger, the rule-based counter and the forecaster via
  REST API. Handles HTTP request/response, JSON serialization, and
  delegates to the engine packages.

ENDPOINTS:
  Rules & reference:
    GET    /api/rules                          List rules
    GET    /api/rules/{country}                Rule for a country (default if unknown)
    GET    /api/airports/{code}                Airport reference entry

  Subjects & legs:
    GET    /api/subjects                       List subjects with legs
    GET    /api/subjects/{id}/legs             List legs
    POST   /api/subjects/{id}/legs             Record a leg
    DELETE /api/subjects/{id}/legs/{legID}     Remove a leg

  Counting:
    GET    /api/subjects/{id}/ledger           Day-by-day presence (?from=&to=)
    GET    /api/subjects/{id}/counts           Days per country (?from=&to=)
    GET    /api/subjects/{id}/summary          Ledger counts + rolling estimate

  Forecasting:
    POST   /api/subjects/{id}/forecast            What-if trips
    POST   /api/subjects/{id}/max-end-date        Latest end date under a limit
    POST   /api/subjects/{id}/standard-durations  Fixed trip lengths

  Stateless:
    POST   /api/calculate                      Legs in, ledger and counts out

  Threshold watcher:
    GET    /api/watch                          Last watcher run
    POST   /api/watch/run                      Run the watcher now

ARCHITECTURE:
  Handler holds all dependencies:
  - Store: Leg persistence
  - Registry: Country rules
  - Zones: Timezone service shared by builder and forecaster
  - Cache: Optional ledger cache keyed by leg fingerprint

REQUEST FLOW:
  1. Parse HTTP request
  2. Load the subject's leg snapshot
  3. Build (or fetch) the ledger, count, forecast
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid legs, dates, rules or zones
  - 404: Subject or leg not found
  - 500: Internal errors
  The engine itself never fails on bad data; these errors come from
  parsing and persistence.

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - watcher.go: Background threshold watcher
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/warp/residency-engine/cache"
	"github.com/warp/residency-engine/factory"
	"github.com/warp/residency-engine/forecast"
	"github.com/warp/residency-engine/generic"
	"github.com/warp/residency-engine/metrics"
	"github.com/warp/residency-engine/reference"
	"github.com/warp/residency-engine/residency"
	"github.com/warp/residency-engine/timezone"
)

var tracer = otel.Tracer("github.com/warp/residency-engine/api")

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    residency.Store
	Registry *residency.Registry
	Zones    timezone.Service
	Airports reference.Airports

	cache    cache.Cache
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	builder    *residency.LedgerBuilder
	forecaster *forecast.Forecaster
	watcher    *ThresholdWatcher

	// Track currently loaded scenario
	mu              sync.RWMutex
	currentScenario string
}

// Option configures a Handler.
type Option func(*Handler)

func WithRegistry(reg *residency.Registry) Option {
	return func(h *Handler) {
		if reg != nil {
			h.Registry = reg
		}
	}
}

// WithCache enables ledger caching. A nil cache disables it.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(h *Handler) {
		h.cache = c
		h.cacheTTL = ttl
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithAirports(a reference.Airports) Option {
	return func(h *Handler) {
		if a != nil {
			h.Airports = a
		}
	}
}

func WithZones(z timezone.Service) Option {
	return func(h *Handler) {
		if z != nil {
			h.Zones = z
		}
	}
}

// WithClock sets the clock used for forecast windows.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler creates a new handler with the given store.
func NewHandler(store residency.Store, opts ...Option) *Handler {
	h := &Handler{
		Store:    store,
		Registry: residency.DefaultRegistry(),
		Zones:    timezone.NewIANA(),
		Airports: reference.DefaultAirports(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.builder = residency.NewLedgerBuilder(h.Zones,
		residency.WithLogger(h.logger),
		residency.WithMetrics(h.metrics),
	)
	h.forecaster = forecast.New(
		forecast.WithClock(h.now),
		forecast.WithRegistry(h.Registry),
		forecast.WithMetrics(h.metrics),
	)
	h.watcher = NewThresholdWatcher(h)
	return h
}

// Watcher returns the handler's threshold watcher. It is not started.
func (h *Handler) Watcher() *ThresholdWatcher {
	return h.watcher
}

// =============================================================================
// RULES & REFERENCE
// =============================================================================

// ListRules returns the registered rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules := h.Registry.Rules()
	dtos := make([]RuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = RuleDTO{RuleJSON: factory.ToJSON(rule), Registered: true}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRule returns the rule applied to a country, including the default.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	country := chi.URLParam(r, "country")
	_, registered := h.Registry.Lookup(country)
	writeJSON(w, http.StatusOK, RuleDTO{
		RuleJSON:   factory.ToJSON(h.Registry.RuleFor(country)),
		Registered: registered,
	})
}

// GetAirport returns an airport reference entry.
func (h *Handler) GetAirport(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	airport, ok := h.Airports.Airport(code)
	if !ok {
		writeError(w, http.StatusNotFound, "Airport not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, airport)
}

// =============================================================================
// SUBJECTS & LEGS
// =============================================================================

// ListSubjects returns every subject with recorded legs.
func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.Store.Subjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list subjects", err)
		return
	}
	writeJSON(w, http.StatusOK, subjects)
}

// ListLegs returns a subject's legs.
func (h *Handler) ListLegs(w http.ResponseWriter, r *http.Request) {
	legs, err := h.Store.Legs(r.Context(), subjectParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load legs", err)
		return
	}
	writeJSON(w, http.StatusOK, toLegDTOs(legs))
}

// CreateLeg records a leg for a subject.
func (h *Handler) CreateLeg(w http.ResponseWriter, r *http.Request) {
	var req LegDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	leg, err := h.toLeg(req, subjectParam(r))
	if err != nil {
		writeDomainError(w, "Invalid leg", err)
		return
	}

	if err := h.Store.SaveLeg(r.Context(), leg); err != nil {
		writeDomainError(w, "Failed to save leg", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLegDTO(leg))
}

// DeleteLeg removes a leg.
func (h *Handler) DeleteLeg(w http.ResponseWriter, r *http.Request) {
	id := residency.LegID(chi.URLParam(r, "legID"))
	if err := h.Store.DeleteLeg(r.Context(), subjectParam(r), id); err != nil {
		writeDomainError(w, "Failed to delete leg", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// toLeg converts and validates a leg DTO, filling endpoints from the airport
// table and generating an ID when none is given.
func (h *Handler) toLeg(dto LegDTO, subject residency.SubjectID) (residency.Leg, error) {
	dep, err := h.toEndpoint(dto.Departure)
	if err != nil {
		return residency.Leg{}, err
	}
	arr, err := h.toEndpoint(dto.Arrival)
	if err != nil {
		return residency.Leg{}, err
	}

	id := strings.TrimSpace(dto.ID)
	if id == "" {
		id = uuid.NewString()
	}
	leg := residency.Leg{
		ID:        residency.LegID(id),
		Subject:   subject,
		Departure: dep,
		Arrival:   arr,
		Carrier:   dto.Carrier,
	}
	if err := leg.Validate(); err != nil {
		return residency.Leg{}, err
	}
	for _, e := range []residency.Endpoint{leg.Departure, leg.Arrival} {
		if e.HasOffset && e.Timezone == "" {
			continue
		}
		if _, err := h.Zones.Location(e.Timezone); err != nil {
			return residency.Leg{}, err
		}
	}
	return leg, nil
}

func (h *Handler) toEndpoint(dto EndpointDTO) (residency.Endpoint, error) {
	t, hasOffset, err := parseEndpointTime(dto.Time)
	if err != nil {
		return residency.Endpoint{}, err
	}
	e := residency.Endpoint{
		Country:   strings.TrimSpace(dto.Country),
		City:      strings.TrimSpace(dto.City),
		Airport:   strings.ToUpper(strings.TrimSpace(dto.Airport)),
		Timezone:  strings.TrimSpace(dto.Timezone),
		Time:      t,
		HasOffset: hasOffset,
	}
	if e.Airport != "" {
		if a, ok := h.Airports.Airport(e.Airport); ok {
			if e.Country == "" {
				e.Country = a.Country
			}
			if e.City == "" {
				e.City = a.City
			}
			if e.Timezone == "" {
				e.Timezone = a.Timezone
			}
		}
	}
	return e, nil
}

// =============================================================================
// LEDGER & COUNTS
// =============================================================================

// GetLedger returns the subject's day-by-day presence.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := subjectParam(r)

	period, err := parsePeriod(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	legs, err := h.Store.Legs(ctx, subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load legs", err)
		return
	}

	ledger := h.ledgerFor(ctx, legs)
	if period != nil {
		ledger = ledger.Between(*period)
	}
	writeJSON(w, http.StatusOK, LedgerResponse{
		Subject: string(subject),
		Period:  toPeriodDTO(period),
		Days:    ledger,
	})
}

// GetCounts returns days per country under each country's rule.
func (h *Handler) GetCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := subjectParam(r)

	period, err := parsePeriod(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	legs, err := h.Store.Legs(ctx, subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load legs", err)
		return
	}

	tally := h.count(ctx, h.ledgerFor(ctx, legs), period)
	writeJSON(w, http.StatusOK, CountsResponse{
		Subject:  string(subject),
		Period:   toPeriodDTO(period),
		Tally:    tally,
		Statuses: residency.Statuses(tally, h.Registry),
	})
}

// GetSummary computes the precise ledger tally and the rolling-window
// estimate concurrently.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := subjectParam(r)

	legs, err := h.Store.Legs(ctx, subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load legs", err)
		return
	}
	if len(legs) == 0 {
		writeError(w, http.StatusNotFound, "Subject not found", generic.ErrSubjectNotFound)
		return
	}

	resp := SummaryResponse{Subject: string(subject), LegCount: len(legs)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ledger := h.ledgerFor(gctx, legs)
		if span, ok := ledger.Span(); ok {
			resp.LedgerSpan = toPeriodDTO(&span)
		}
		resp.LedgerTally = h.count(gctx, ledger, nil)
		resp.Statuses = residency.Statuses(resp.LedgerTally, h.Registry)
		return nil
	})
	g.Go(func() error {
		_, span := tracer.Start(gctx, "forecast.current")
		defer span.End()
		today := h.forecaster.Today()
		stays := forecast.StaysFromLegs(legs, h.Zones, today.Time)
		res := h.forecaster.Forecast(stays, nil)
		resp.RollingWindow = toWindowDTO(res.CurrentWindow)
		resp.RollingEstimate = res.Current
		return nil
	})
	if err := g.Wait(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build summary", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Calculate builds a ledger and counts for legs given in the request body.
// Nothing is stored.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	period, err := parsePeriod(req.From, req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	legs := make([]residency.Leg, 0, len(req.Legs))
	for _, dto := range req.Legs {
		leg, err := h.toLeg(dto, "")
		if err != nil {
			writeDomainError(w, "Invalid leg", err)
			return
		}
		legs = append(legs, leg)
	}

	ledger := h.ledgerFor(ctx, legs)
	tally := h.count(ctx, ledger, period)
	if period != nil {
		ledger = ledger.Between(*period)
	}
	writeJSON(w, http.StatusOK, CalculateResponse{
		Days:     ledger,
		Tally:    tally,
		Statuses: residency.Statuses(tally, h.Registry),
	})
}

// ledgerFor returns the ledger of a leg snapshot, from the cache when possible.
func (h *Handler) ledgerFor(ctx context.Context, legs []residency.Leg) residency.Ledger {
	ctx, span := tracer.Start(ctx, "ledger.build", trace.WithAttributes(attribute.Int("legs", len(legs))))
	defer span.End()

	if h.cache == nil || len(legs) == 0 {
		return h.builder.Build(legs)
	}

	key := cache.LedgerKey(legs)
	ledger, err := cache.GetLedger(ctx, h.cache, key)
	switch {
	case err == nil:
		h.metrics.IncLedgerCache("hit")
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return ledger
	case errors.Is(err, generic.ErrCacheMiss):
		h.metrics.IncLedgerCache("miss")
	default:
		h.metrics.IncLedgerCache("error")
		h.logger.Warn("ledger cache read failed", "error", err)
	}

	ledger = h.builder.Build(legs)
	if err := cache.SetLedger(ctx, h.cache, key, ledger, h.cacheTTL); err != nil {
		h.logger.Warn("ledger cache write failed", "error", err)
	}
	return ledger
}

func (h *Handler) count(ctx context.Context, ledger residency.Ledger, period *generic.Period) generic.Tally {
	_, span := tracer.Start(ctx, "ledger.count", trace.WithAttributes(attribute.Int("days", len(ledger))))
	defer span.End()
	return residency.CountDays(ledger, h.Registry, period)
}

// =============================================================================
// FORECASTING
// =============================================================================

// Forecast evaluates hypothetical trips against the subject's history.
func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := subjectParam(r)

	var req ForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	trips := make([]forecast.Stay, 0, len(req.Trips))
	for _, t := range req.Trips {
		start, err := generic.ParseDate(t.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid trip start", err)
			return
		}
		if t.Days < 0 || strings.TrimSpace(t.Country) == "" {
			writeError(w, http.StatusBadRequest, "Trips need a country and a non-negative length", nil)
			return
		}
		trips = append(trips, forecast.TripStay(t.Country, start, t.Days))
	}

	existing, err := h.stays(ctx, subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load legs", err)
		return
	}

	_, span := tracer.Start(ctx, "forecast.run", trace.WithAttributes(attribute.Int("trips", len(trips))))
	res := h.forecaster.Forecast(existing, trips)
	span.End()

	contributions := make([]ContributionDTO, len(res.Contributions))
	for i, c := range res.Contributions {
		contributions[i] = ContributionDTO{
			Country:      c.Stay.Country,
			Arrival:      c.Stay.Arrival,
			Departure:    c.Stay.Departure,
			Hypothetical: c.Hypothetical,
			WholeDays:    c.WholeDays,
			ExactDays:    c.Exact.Float64(),
		}
	}
	writeJSON(w, http.StatusOK, ForecastResponse{
		Subject:        string(subject),
		Current:        res.Current,
		Forecast:       res.Forecast,
		CurrentWindow:  toWindowDTO(res.CurrentWindow),
		ForecastWindow: toWindowDTO(res.ForecastWindow),
		Contributions:  contributions,
	})
}

// MaxEndDate searches for the latest end date that keeps a country under a limit.
func (h *Handler) MaxEndDate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := subjectParam(r)

	var req MaxEndDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := generic.ParseDate(req.TripStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid trip start", err)
		return
	}
	if strings.TrimSpace(req.Country) == "" {
		writeError(w, http.StatusBadRequest, "Country is required", nil)
		return
	}

	existing, err := h.stays(ctx, subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load legs", err)
		return
	}

	limit := req.DayLimit
	if limit <= 0 {
		limit = h.Registry.RuleFor(req.Country).ThresholdDays
	}

	_, span := tracer.Start(ctx, "forecast.max_end_date", trace.WithAttributes(
		attribute.String("country", req.Country),
		attribute.Int("day_limit", limit),
	))
	res := h.forecaster.MaxEndDate(existing, req.Country, start, limit)
	span.SetAttributes(attribute.Int("probes", res.Probes))
	span.End()

	writeJSON(w, http.StatusOK, MaxEndDateResponse{
		Subject:       string(subject),
		Country:       h.Registry.Canonical(req.Country),
		TripStart:     start,
		DayLimit:      limit,
		EndDate:       res.EndDate,
		Days:          res.Days,
		Feasible:      res.Feasible,
		OverLimitDays: res.OverLimitDays,
	})
}

// StandardDurations reports fixed-length trips against a limit.
func (h *Handler) StandardDurations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := subjectParam(r)

	var req StandardDurationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := generic.ParseDate(req.TripStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid trip start", err)
		return
	}
	if strings.TrimSpace(req.Country) == "" {
		writeError(w, http.StatusBadRequest, "Country is required", nil)
		return
	}

	existing, err := h.stays(ctx, subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load legs", err)
		return
	}

	limit := req.DayLimit
	if limit <= 0 {
		limit = h.Registry.RuleFor(req.Country).ThresholdDays
	}
	writeJSON(w, http.StatusOK, h.forecaster.StandardDurationForecasts(existing, req.Country, start, limit, req.Durations))
}

// stays loads the subject's legs as forecaster stays; the last stay runs
// until today.
func (h *Handler) stays(ctx context.Context, subject residency.SubjectID) ([]forecast.Stay, error) {
	legs, err := h.Store.Legs(ctx, subject)
	if err != nil {
		return nil, err
	}
	return forecast.StaysFromLegs(legs, h.Zones, h.forecaster.Today().Time), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func subjectParam(r *http.Request) residency.SubjectID {
	return residency.SubjectID(chi.URLParam(r, "id"))
}

// parsePeriod parses optional from/to dates. Both empty means no filter;
// one empty means unbounded on that side.
func parsePeriod(from, to string) (*generic.Period, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	p := generic.Period{Start: generic.NewDate(1, 1, 1), End: generic.NewDate(9999, 12, 31)}
	var err error
	if from != "" {
		if p.Start, err = generic.ParseDate(from); err != nil {
			return nil, err
		}
	}
	if to != "" {
		if p.End, err = generic.ParseDate(to); err != nil {
			return nil, err
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func toPeriodDTO(p *generic.Period) PeriodDTO {
	if p == nil {
		return PeriodDTO{}
	}
	return PeriodDTO{From: p.Start.String(), To: p.End.String()}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
