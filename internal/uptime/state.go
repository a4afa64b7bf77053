package uptime

import (
	"fmt"

	"github.com/uptimerhq/uptimer/internal/db"
	"github.com/uptimerhq/uptimer/internal/probe"
)

// Transition event types emitted when a monitor crosses a threshold.
const (
	EventMonitorDown = "monitor.down"
	EventMonitorUp   = "monitor.up"
)

// Event is a state transition handed to the notifier.
type Event struct {
	Type        string
	Key         string
	MonitorID   string
	MonitorName string
	OutageID    string
	At          int64
	Error       string
	LatencyMs   int64
}

// Apply folds one probe outcome into a monitor's persisted state. It is a
// pure function: the caller loads the current state and open outage, and
// persists the returned CheckApply atomically via the store. newOutageID is
// used only when the apply opens an outage.
//
// Anti-flapping thresholds: FailuresToDown consecutive failures demote
// up/unknown to down, SuccessesToUp consecutive successes promote
// down/unknown to up. Maintenance freezes counters and outage bookkeeping
// entirely.
func Apply(m db.Monitor, s db.MonitorState, open *db.Outage, out probe.Outcome, inMaintenance bool, now int64, newOutageID string) (db.CheckApply, *Event) {
	// Paused monitors record the fact they were skipped and change nothing.
	if !m.Active {
		return db.CheckApply{
			Result: db.CheckResult{MonitorID: m.ID, CheckedAt: now, Status: db.StatusPaused},
			State:  s,
		}, nil
	}

	latency := out.LatencyMs

	// Operator-enforced quiescence: the raw result is recorded as
	// maintenance, counters and outages stay untouched, no event fires.
	if inMaintenance {
		s.Status = db.StatusMaintenance
		s.LastCheckedAt = &now
		s.LastLatencyMs = &latency
		return db.CheckApply{
			Result: db.CheckResult{MonitorID: m.ID, CheckedAt: now, Status: db.StatusMaintenance, LatencyMs: &latency},
			State:  s,
		}, nil
	}

	failuresToDown := m.FailuresToDown
	if failuresToDown < 1 {
		failuresToDown = 2
	}
	successesToUp := m.SuccessesToUp
	if successesToUp < 1 {
		successesToUp = 2
	}

	result := db.CheckResult{
		MonitorID: m.ID,
		CheckedAt: now,
		Status:    out.Status,
		Error:     out.Error,
	}
	if out.Status == db.StatusUp || out.LatencyMs > 0 {
		result.LatencyMs = &latency
	}

	apply := db.CheckApply{Result: result}
	var event *Event

	s.LastCheckedAt = &now
	s.LastLatencyMs = result.LatencyMs
	s.LastError = out.Error

	switch out.Status {
	case db.StatusUp:
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		if s.Status != db.StatusUp && s.ConsecutiveSuccesses >= successesToUp {
			s.Status = db.StatusUp
			outageID := fmt.Sprintf("%d", now)
			if open != nil {
				apply.CloseOutageAt = &now
				outageID = open.ID
			}
			event = &Event{
				Type:        EventMonitorUp,
				Key:         fmt.Sprintf("%s:%s:%s", EventMonitorUp, m.ID, outageID),
				MonitorID:   m.ID,
				MonitorName: m.Name,
				OutageID:    outageID,
				At:          now,
				LatencyMs:   out.LatencyMs,
			}
		}

	case db.StatusDown:
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		switch {
		case s.Status == db.StatusDown:
			// Still down: refresh the open outage's last error.
			if open != nil && out.Error != "" {
				errCopy := out.Error
				apply.OutageLastError = &errCopy
			}
		case s.ConsecutiveFailures >= failuresToDown:
			s.Status = db.StatusDown
			outageID := fmt.Sprintf("%d", now)
			if open == nil {
				apply.OpenOutage = &db.Outage{
					ID:           newOutageID,
					MonitorID:    m.ID,
					StartedAt:    now,
					InitialError: out.Error,
					LastError:    out.Error,
				}
				outageID = newOutageID
			} else {
				// Leaving maintenance with the old outage still open.
				outageID = open.ID
				if out.Error != "" {
					errCopy := out.Error
					apply.OutageLastError = &errCopy
				}
			}
			event = &Event{
				Type:        EventMonitorDown,
				Key:         fmt.Sprintf("%s:%s:%s", EventMonitorDown, m.ID, outageID),
				MonitorID:   m.ID,
				MonitorName: m.Name,
				OutageID:    outageID,
				At:          now,
				Error:       out.Error,
			}
		}
	}

	apply.State = s
	return apply, event
}
