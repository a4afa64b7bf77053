package api

import (
	"net/http"
	"time"

	"github.com/uptimerhq/uptimer/internal/db"
	"github.com/uptimerhq/uptimer/internal/status"
	"github.com/uptimerhq/uptimer/internal/uptime"
)

type AnalyticsHandler struct {
	store *db.Store
	agg   *status.Aggregator
}

func NewAnalyticsHandler(store *db.Store, agg *status.Aggregator) *AnalyticsHandler {
	return &AnalyticsHandler{store: store, agg: agg}
}

type monitorUptimeDTO struct {
	MonitorID   string `json:"monitor_id"`
	MonitorName string `json:"monitor_name"`
	uptime.RangeStats
}

// GetUptimeOverview aggregates uptime totals per monitor over the range:
// whole past days come from the daily rollups, today is live-computed.
func (h *AnalyticsHandler) GetUptimeOverview(w http.ResponseWriter, r *http.Request) {
	rangeSec, ok := parseRange(r, 30*86400)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid range")
		return
	}

	monitors, err := h.store.GetMonitors()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load monitors")
		return
	}

	now := time.Now().Unix()
	from := now - rangeSec

	perMonitor := make([]monitorUptimeDTO, 0, len(monitors))
	var overall uptime.RangeStats
	for _, m := range monitors {
		stats, err := h.agg.UptimeRange(m, from, now)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to compute uptime")
			return
		}
		perMonitor = append(perMonitor, monitorUptimeDTO{
			MonitorID:   m.ID,
			MonitorName: m.Name,
			RangeStats:  stats,
		})
		overall.TotalSec += stats.TotalSec
		overall.DowntimeSec += stats.DowntimeSec
		overall.UnknownSec += stats.UnknownSec
		overall.UptimeSec += stats.UptimeSec
	}
	if overall.TotalSec > 0 {
		pct := 100 * float64(overall.UptimeSec) / float64(overall.TotalSec)
		overall.UptimePct = &pct
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"overview": overall,
		"monitors": perMonitor,
	})
}
