// Package status is the read side of the system: it folds monitor state,
// outages, incidents, and maintenance windows into the public status-page
// payload, and owns the uptime arithmetic the public endpoints serve.
package status

import (
	"context"
	"log"
	"time"

	"github.com/uptimerhq/uptimer/internal/db"
	"github.com/uptimerhq/uptimer/internal/logging"
)

// Banner levels shown atop the public status page.
const (
	BannerOperational   = "operational"
	BannerPartialOutage = "partial_outage"
	BannerMajorOutage   = "major_outage"
	BannerUnknown       = "unknown"
	BannerMaintenance   = "maintenance"
)

// Caps on the lists embedded in the snapshot.
const (
	heartbeatCount    = 60
	heartbeatRangeSec = 7 * 86400
	incidentCap       = 10
	maintenanceCap    = 10
)

// downRatioMajor is the down/total share at which the banner escalates from
// partial to major outage.
const downRatioMajor = 0.3

type Heartbeat struct {
	CheckedAt int64  `json:"checked_at"`
	Status    string `json:"status"`
	LatencyMs *int64 `json:"latency_ms,omitempty"`
}

type MonitorView struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Type          string      `json:"type"`
	Status        string      `json:"status"`
	LastCheckedAt *int64      `json:"last_checked_at,omitempty"`
	LastLatencyMs *int64      `json:"last_latency_ms,omitempty"`
	Heartbeats    []Heartbeat `json:"heartbeats"`
	Uptime30dPct  *float64    `json:"uptime_30d_pct"`
}

type Summary struct {
	Total       int `json:"total"`
	Up          int `json:"up"`
	Down        int `json:"down"`
	Maintenance int `json:"maintenance"`
	Paused      int `json:"paused"`
	Unknown     int `json:"unknown"`
}

type Banner struct {
	Level   string `json:"level"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

type MaintenanceLists struct {
	Active   []db.MaintenanceWindow `json:"active"`
	Upcoming []db.MaintenanceWindow `json:"upcoming"`
}

// Page is the full status snapshot body.
type Page struct {
	GeneratedAt        int64            `json:"generated_at"`
	OverallStatus      string           `json:"overall_status"`
	Banner             Banner           `json:"banner"`
	Summary            Summary          `json:"summary"`
	Monitors           []MonitorView    `json:"monitors"`
	ActiveIncidents    []db.Incident    `json:"active_incidents"`
	MaintenanceWindows MaintenanceLists `json:"maintenance_windows"`
}

// Aggregator computes status pages and maintains the snapshot cache.
type Aggregator struct {
	store *db.Store
	log   *log.Logger

	FreshSec    int64
	RefreshSec  int64
	MaxStaleSec int64

	nowFn      func() int64
	buildFn    func(ctx context.Context, now int64) (*Page, error)
	refreshing chan struct{}
}

func NewAggregator(store *db.Store) *Aggregator {
	a := &Aggregator{
		store:       store,
		log:         logging.New("status"),
		FreshSec:    60,
		RefreshSec:  30,
		MaxStaleSec: 600,
		nowFn:       func() int64 { return time.Now().Unix() },
		refreshing:  make(chan struct{}, 1),
	}
	a.buildFn = a.Build
	return a
}

// Build computes the status page at now straight from the store.
func (a *Aggregator) Build(ctx context.Context, now int64) (*Page, error) {
	monitors, err := a.store.GetActiveMonitorsWithState()
	if err != nil {
		return nil, err
	}
	inMaint, err := a.store.GetMonitorsInMaintenance(now)
	if err != nil {
		return nil, err
	}
	incidents, err := a.store.GetOpenIncidents(incidentCap)
	if err != nil {
		return nil, err
	}
	activeWindows, err := a.store.GetActiveWindows(now, maintenanceCap)
	if err != nil {
		return nil, err
	}
	upcomingWindows, err := a.store.GetUpcomingWindows(now, maintenanceCap)
	if err != nil {
		return nil, err
	}

	var summary Summary
	views := make([]MonitorView, 0, len(monitors))
	for _, m := range monitors {
		effective := EffectiveStatus(m, inMaint[m.ID], now)

		view := MonitorView{
			ID:            m.ID,
			Name:          m.Name,
			Type:          m.Type,
			Status:        effective,
			LastCheckedAt: m.State.LastCheckedAt,
			Heartbeats:    []Heartbeat{},
		}
		// A stale latency reading is as misleading as a stale status.
		if effective != db.StatusUnknown {
			view.LastLatencyMs = m.State.LastLatencyMs
		}

		checks, err := a.store.GetRecentCheckResults(m.ID, now-heartbeatRangeSec, heartbeatCount)
		if err != nil {
			return nil, err
		}
		for _, c := range checks {
			view.Heartbeats = append(view.Heartbeats, Heartbeat{
				CheckedAt: c.CheckedAt,
				Status:    db.ParseStatus(c.Status),
				LatencyMs: c.LatencyMs,
			})
		}

		if stats, err := a.UptimeRange(m.Monitor, now-30*86400, now); err == nil {
			view.Uptime30dPct = stats.UptimePct
		}

		summary.Total++
		switch effective {
		case db.StatusUp:
			summary.Up++
		case db.StatusDown:
			summary.Down++
		case db.StatusMaintenance:
			summary.Maintenance++
		case db.StatusPaused:
			summary.Paused++
		default:
			summary.Unknown++
		}
		views = append(views, view)
	}

	return &Page{
		GeneratedAt:     now,
		OverallStatus:   overallStatus(summary),
		Banner:          ComputeBanner(incidents, summary, activeWindows),
		Summary:         summary,
		Monitors:        views,
		ActiveIncidents: incidents,
		MaintenanceWindows: MaintenanceLists{
			Active:   activeWindows,
			Upcoming: upcomingWindows,
		},
	}, nil
}

// EffectiveStatus derives what the public page shows for one monitor:
// maintenance links win, then literal paused/maintenance state, then
// staleness (no check within 2x the interval reads as unknown), then the
// stored status.
func EffectiveStatus(m db.MonitorWithState, inMaintenance bool, now int64) string {
	if inMaintenance {
		return db.StatusMaintenance
	}
	if m.State.Status == db.StatusPaused || m.State.Status == db.StatusMaintenance {
		return m.State.Status
	}
	if m.State.LastCheckedAt == nil || now-*m.State.LastCheckedAt > 2*m.IntervalSec {
		return db.StatusUnknown
	}
	return db.ParseStatus(m.State.Status)
}

func overallStatus(s Summary) string {
	switch {
	case s.Down > 0:
		return db.StatusDown
	case s.Unknown > 0:
		return db.StatusUnknown
	case s.Maintenance > 0:
		return db.StatusMaintenance
	case s.Up > 0:
		return db.StatusUp
	case s.Paused > 0:
		return db.StatusPaused
	default:
		return db.StatusUnknown
	}
}

// ComputeBanner picks the single worst-case summary line. Operator-authored
// incidents take precedence over derived monitor state; maintenance only
// shows when nothing is wrong.
func ComputeBanner(incidents []db.Incident, s Summary, activeWindows []db.MaintenanceWindow) Banner {
	if len(incidents) > 0 {
		top := incidents[0]
		level := BannerOperational
		for _, inc := range incidents {
			switch inc.Impact {
			case db.ImpactMajor, db.ImpactCritical:
				level = BannerMajorOutage
			case db.ImpactMinor:
				if level != BannerMajorOutage {
					level = BannerPartialOutage
				}
			}
			if impactRank(inc.Impact) > impactRank(top.Impact) {
				top = inc
			}
		}
		return Banner{Level: level, Title: top.Title, Message: top.Message}
	}

	if s.Down > 0 {
		level := BannerPartialOutage
		if s.Total > 0 && float64(s.Down)/float64(s.Total) >= downRatioMajor {
			level = BannerMajorOutage
		}
		return Banner{Level: level}
	}
	if s.Unknown > 0 {
		return Banner{Level: BannerUnknown}
	}
	if len(activeWindows) > 0 || s.Maintenance > 0 {
		b := Banner{Level: BannerMaintenance}
		if len(activeWindows) > 0 {
			b.Title = activeWindows[0].Title
			b.Message = activeWindows[0].Message
		}
		return b
	}
	return Banner{Level: BannerOperational}
}

func impactRank(impact string) int {
	switch impact {
	case db.ImpactCritical:
		return 3
	case db.ImpactMajor:
		return 2
	case db.ImpactMinor:
		return 1
	default:
		return 0
	}
}
