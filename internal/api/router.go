package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/uptimerhq/uptimer/internal/db"
	"github.com/uptimerhq/uptimer/internal/status"
)

// NewRouter builds the public read-side HTTP router. Admin writes happen
// upstream; everything served here is derived from the store.
func NewRouter(store *db.Store, agg *status.Aggregator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// Public endpoints sit behind a per-IP limiter; the status page is the
	// hot path and the snapshot cache keeps it cheap, but probing monitors
	// by id should not be free.
	limiter := NewIPRateLimiter(rate.Limit(10), 30)
	r.Use(RateLimitMiddleware(limiter))

	statusH := NewStatusHandler(agg)
	monitorH := NewMonitorHandler(store, agg)
	incidentH := NewIncidentHandler(store)
	maintH := NewMaintenanceHandler(store)
	analyticsH := NewAnalyticsHandler(store, agg)

	r.Route("/api", func(api chi.Router) {
		api.Get("/status", statusH.GetStatus)

		api.Get("/monitors/{id}/latency", monitorH.GetLatency)
		api.Get("/monitors/{id}/uptime", monitorH.GetUptime)
		api.Get("/monitors/{id}/outages", monitorH.GetOutages)

		api.Get("/analytics/uptime", analyticsH.GetUptimeOverview)

		api.Get("/incidents", incidentH.GetIncidents)
		api.Get("/incidents/{id}", incidentH.GetIncident)
		api.Get("/maintenance-windows", maintH.GetWindows)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
