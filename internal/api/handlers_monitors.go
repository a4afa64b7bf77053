package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/uptimerhq/uptimer/internal/db"
	"github.com/uptimerhq/uptimer/internal/status"
)

type MonitorHandler struct {
	store *db.Store
	agg   *status.Aggregator
}

func NewMonitorHandler(store *db.Store, agg *status.Aggregator) *MonitorHandler {
	return &MonitorHandler{store: store, agg: agg}
}

// parseRange maps the public range tokens onto a window length in seconds.
func parseRange(r *http.Request, def int64) (int64, bool) {
	switch r.URL.Query().Get("range") {
	case "":
		return def, true
	case "24h":
		return 86400, true
	case "7d":
		return 7 * 86400, true
	case "30d":
		return 30 * 86400, true
	case "90d":
		return 90 * 86400, true
	default:
		return 0, false
	}
}

func parseLimit(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func parseCursor(r *http.Request) int64 {
	v := r.URL.Query().Get("cursor")
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (h *MonitorHandler) loadMonitor(w http.ResponseWriter, r *http.Request) *db.Monitor {
	id := chi.URLParam(r, "id")
	m, err := h.store.GetMonitor(id)
	if err == db.ErrMonitorNotFound {
		writeError(w, http.StatusNotFound, "monitor not found")
		return nil
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load monitor")
		return nil
	}
	return m
}

// GetLatency returns latency points plus avg and p95 over the range.
func (h *MonitorHandler) GetLatency(w http.ResponseWriter, r *http.Request) {
	m := h.loadMonitor(w, r)
	if m == nil {
		return
	}
	rangeSec, ok := parseRange(r, 86400)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid range")
		return
	}

	now := time.Now().Unix()
	points, err := h.store.GetLatencyPoints(m.ID, now-rangeSec, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load latency")
		return
	}

	var avg, p95 *int64
	var sum int64
	samples := make([]int64, 0, len(points))
	for _, p := range points {
		if p.Failed {
			continue
		}
		sum += p.LatencyMs
		samples = append(samples, p.LatencyMs)
	}
	if len(samples) > 0 {
		a := sum / int64(len(samples))
		avg = &a
		sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
		idx := (len(samples)*95 + 99) / 100
		if idx > 0 {
			idx--
		}
		p := samples[idx]
		p95 = &p
	}

	if points == nil {
		points = []db.LatencyPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"points":         points,
		"avg_latency_ms": avg,
		"p95_latency_ms": p95,
	})
}

// GetUptime returns the uptime accounting for the range.
func (h *MonitorHandler) GetUptime(w http.ResponseWriter, r *http.Request) {
	m := h.loadMonitor(w, r)
	if m == nil {
		return
	}
	rangeSec, ok := parseRange(r, 86400)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid range")
		return
	}

	now := time.Now().Unix()
	stats, err := h.agg.UptimeRange(*m, now-rangeSec, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute uptime")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetOutages returns a page of outages overlapping the range, newest first.
// The next_cursor is the started_at of the last row.
func (h *MonitorHandler) GetOutages(w http.ResponseWriter, r *http.Request) {
	m := h.loadMonitor(w, r)
	if m == nil {
		return
	}
	rangeSec, ok := parseRange(r, 30*86400)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid range")
		return
	}
	limit := parseLimit(r, 20, 100)
	cursor := parseCursor(r)

	now := time.Now().Unix()
	outages, err := h.store.GetOutagesPage(m.ID, now-rangeSec, now, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load outages")
		return
	}

	var nextCursor *int64
	if len(outages) == limit {
		v := outages[len(outages)-1].StartedAt
		nextCursor = &v
	}
	if outages == nil {
		outages = []db.Outage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"outages":     outages,
		"next_cursor": nextCursor,
	})
}
