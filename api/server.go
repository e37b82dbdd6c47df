/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/rules/*          Residency rules
  /api/airports/*       Airport reference data
  /api/subjects/*       Legs, ledgers, counts and forecasts
  /api/calculate        Stateless ledger + counts
  /api/watch/*          Threshold watcher
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus metrics
  /                     Index page

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured. Metrics are
// served from gatherer; a nil gatherer uses the default registry.
func NewRouter(h *Handler, origins []string, gatherer prometheus.Gatherer) *chi.Mux {
	if len(origins) == 0 {
		origins = defaultOrigins
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Get("/{country}", h.GetRule)
		})

		r.Get("/airports/{code}", h.GetAirport)

		r.Route("/subjects", func(r chi.Router) {
			r.Get("/", h.ListSubjects)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/legs", h.ListLegs)
				r.Post("/legs", h.CreateLeg)
				r.Delete("/legs/{legID}", h.DeleteLeg)

				r.Get("/ledger", h.GetLedger)
				r.Get("/counts", h.GetCounts)
				r.Get("/summary", h.GetSummary)

				r.Post("/forecast", h.Forecast)
				r.Post("/max-end-date", h.MaxEndDate)
				r.Post("/standard-durations", h.StandardDurations)
			})
		})

		r.Post("/calculate", h.Calculate)

		r.Route("/watch", func(r chi.Router) {
			r.Get("/", h.GetWatchRun)
			r.Post("/run", h.TriggerWatch)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Residency Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Residency Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/rules">/api/rules</a> - Country rules</li>
<li><a href="/api/subjects">/api/subjects</a> - Subjects with recorded legs</li>
<li><a href="/api/scenarios">/api/scenarios</a> - Demo scenarios</li>
<li><a href="/metrics">/metrics</a> - Prometheus metrics</li>
</ul>
</body>
</html>`))
	})

	return r
}
