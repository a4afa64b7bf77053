package api

import (
	"net/http"

	"github.com/uptimerhq/uptimer/internal/db"
)

type MaintenanceHandler struct {
	store *db.Store
}

func NewMaintenanceHandler(store *db.Store) *MaintenanceHandler {
	return &MaintenanceHandler{store: store}
}

// GetWindows lists maintenance windows paginated by descending id.
func (h *MaintenanceHandler) GetWindows(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20, 100)
	cursor := parseCursor(r)

	windows, err := h.store.GetWindowsPage(limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load maintenance windows")
		return
	}

	var nextCursor *int64
	if len(windows) == limit {
		v := windows[len(windows)-1].ID
		nextCursor = &v
	}
	if windows == nil {
		windows = []db.MaintenanceWindow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"maintenance_windows": windows,
		"next_cursor":         nextCursor,
	})
}
