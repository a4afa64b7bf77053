package api

import (
	"fmt"
	"net/http"

	"github.com/uptimerhq/uptimer/internal/status"
)

type StatusHandler struct {
	agg *status.Aggregator
}

func NewStatusHandler(agg *status.Aggregator) *StatusHandler {
	return &StatusHandler{agg: agg}
}

// GetStatus serves the public status page snapshot. The Cache-Control
// max-age mirrors how long the served snapshot stays fresh.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	served, err := h.agg.Serve(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "status unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if served.RemainingFreshSec > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", served.RemainingFreshSec))
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(served.Body)
}
