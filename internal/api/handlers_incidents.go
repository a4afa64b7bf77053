package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/uptimerhq/uptimer/internal/db"
)

type IncidentHandler struct {
	store *db.Store
}

func NewIncidentHandler(store *db.Store) *IncidentHandler {
	return &IncidentHandler{store: store}
}

// GetIncidents lists incidents paginated by descending id.
func (h *IncidentHandler) GetIncidents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20, 100)
	cursor := parseCursor(r)

	incidents, err := h.store.GetIncidentsPage(limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load incidents")
		return
	}

	var nextCursor *int64
	if len(incidents) == limit {
		v := incidents[len(incidents)-1].ID
		nextCursor = &v
	}
	if incidents == nil {
		incidents = []db.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents":   incidents,
		"next_cursor": nextCursor,
	})
}

// GetIncident returns one incident with its timeline and affected monitors.
func (h *IncidentHandler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid incident id")
		return
	}

	incident, err := h.store.GetIncident(id)
	if err == db.ErrIncidentNotFound {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load incident")
		return
	}

	updates, err := h.store.GetIncidentUpdates(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load incident updates")
		return
	}
	monitorIDs, err := h.store.GetIncidentMonitorIDs(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load affected monitors")
		return
	}

	if updates == nil {
		updates = []db.IncidentUpdate{}
	}
	if monitorIDs == nil {
		monitorIDs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incident":    incident,
		"updates":     updates,
		"monitor_ids": monitorIDs,
	})
}
