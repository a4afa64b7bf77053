package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMonitorNotFound is returned when a monitor is not found
var ErrMonitorNotFound = errors.New("monitor not found")

type Monitor struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Type           string        `json:"type"` // http | tcp
	Active         bool          `json:"active"`
	IntervalSec    int64         `json:"interval_sec"` // seconds, >= 20
	TimeoutMs      int64         `json:"timeout_ms"`
	FailuresToDown int           `json:"failures_to_down"`
	SuccessesToUp  int           `json:"successes_to_up"`
	CreatedAt      int64         `json:"created_at"`
	Config         MonitorConfig `json:"config"`
}

// MonitorConfig is the per-type probe configuration, stored as a JSON blob.
// HTTP monitors use the url/method/... fields, TCP monitors host/port.
type MonitorConfig struct {
	URL             string            `json:"url,omitempty"`
	Method          string            `json:"method,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            string            `json:"body,omitempty"`
	FollowRedirects bool              `json:"follow_redirects,omitempty"`
	ExpectedStatus  []int             `json:"expected_status,omitempty"`
	Keyword         string            `json:"keyword,omitempty"`

	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

type MonitorState struct {
	MonitorID            string `json:"monitor_id"`
	Status               string `json:"status"`
	LastCheckedAt        *int64 `json:"last_checked_at,omitempty"`
	LastLatencyMs        *int64 `json:"last_latency_ms,omitempty"`
	LastError            string `json:"last_error,omitempty"`
	ConsecutiveFailures  int    `json:"consecutive_failures"`
	ConsecutiveSuccesses int    `json:"consecutive_successes"`
}

// MonitorWithState joins a monitor with its state row (state is zero-valued
// with status "unknown" when no probe ever ran).
type MonitorWithState struct {
	Monitor
	State MonitorState
}

const monitorColumns = "id, name, type, active, interval_seconds, timeout_ms, failures_to_down, successes_to_up, config, created_at"

func scanMonitor(scan func(dest ...any) error) (Monitor, error) {
	var m Monitor
	var configJSON string
	if err := scan(&m.ID, &m.Name, &m.Type, &m.Active, &m.IntervalSec, &m.TimeoutMs,
		&m.FailuresToDown, &m.SuccessesToUp, &configJSON, &m.CreatedAt); err != nil {
		return Monitor{}, err
	}
	// Tolerate malformed config blobs from older rows; the probe layer
	// rejects incomplete configs with a typed outcome.
	_ = json.Unmarshal([]byte(configJSON), &m.Config)
	return m, nil
}

func (s *Store) CreateMonitor(m Monitor) error {
	if m.IntervalSec < 20 {
		return fmt.Errorf("monitor interval must be >= 20s, got %d", m.IntervalSec)
	}
	if m.TimeoutMs < 1 {
		m.TimeoutMs = 5000
	}
	if m.FailuresToDown < 1 {
		m.FailuresToDown = 2
	}
	if m.SuccessesToUp < 1 {
		m.SuccessesToUp = 2
	}
	configJSON, err := json.Marshal(m.Config)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(s.rebind("INSERT INTO monitors ("+monitorColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"),
		m.ID, m.Name, m.Type, m.Active, m.IntervalSec, m.TimeoutMs, m.FailuresToDown, m.SuccessesToUp, string(configJSON), m.CreatedAt)
	return err
}

func (s *Store) UpdateMonitor(m Monitor) error {
	if m.IntervalSec < 20 {
		return fmt.Errorf("monitor interval must be >= 20s, got %d", m.IntervalSec)
	}
	configJSON, err := json.Marshal(m.Config)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(s.rebind("UPDATE monitors SET name = ?, type = ?, interval_seconds = ?, timeout_ms = ?, failures_to_down = ?, successes_to_up = ?, config = ? WHERE id = ?"),
		m.Name, m.Type, m.IntervalSec, m.TimeoutMs, m.FailuresToDown, m.SuccessesToUp, string(configJSON), m.ID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrMonitorNotFound
	}
	return nil
}

// SetMonitorActive toggles a monitor. Monitors are never deleted, only
// deactivated.
func (s *Store) SetMonitorActive(id string, active bool) error {
	res, err := s.db.Exec(s.rebind("UPDATE monitors SET active = ? WHERE id = ?"), active, id)
	if err != nil {
		return fmt.Errorf("failed to update monitor active status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrMonitorNotFound
	}
	return nil
}

func (s *Store) GetMonitor(id string) (*Monitor, error) {
	row := s.db.QueryRow(s.rebind("SELECT "+monitorColumns+" FROM monitors WHERE id = ?"), id)
	m, err := scanMonitor(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrMonitorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMonitors returns all monitors ordered by creation time.
func (s *Store) GetMonitors() ([]Monitor, error) {
	rows, err := s.db.Query("SELECT " + monitorColumns + " FROM monitors ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var monitors []Monitor
	for rows.Next() {
		m, err := scanMonitor(rows.Scan)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, m)
	}
	return monitors, rows.Err()
}

// GetDueMonitors returns active monitors whose interval has elapsed since the
// last recorded check, capped to limit rows. Monitors that have never been
// checked sort first.
func (s *Store) GetDueMonitors(now int64, limit int) ([]Monitor, error) {
	query := `
		SELECT ` + qualify("m", monitorColumns) + `
		FROM monitors m
		LEFT JOIN monitor_state ms ON ms.monitor_id = m.id
		WHERE m.active = ?
		AND (ms.last_checked_at IS NULL OR ? - ms.last_checked_at >= m.interval_seconds)
		ORDER BY COALESCE(ms.last_checked_at, 0) ASC, m.id ASC
		LIMIT ?
	`
	rows, err := s.db.Query(s.rebind(query), true, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var monitors []Monitor
	for rows.Next() {
		m, err := scanMonitor(rows.Scan)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, m)
	}
	return monitors, rows.Err()
}

// GetActiveMonitorsWithState returns all active monitors joined with their
// state rows for the status page. Missing state rows come back as "unknown".
func (s *Store) GetActiveMonitorsWithState() ([]MonitorWithState, error) {
	query := `
		SELECT ` + qualify("m", monitorColumns) + `,
		       COALESCE(ms.status, 'unknown'), ms.last_checked_at, ms.last_latency_ms,
		       COALESCE(ms.last_error, ''), COALESCE(ms.consecutive_failures, 0), COALESCE(ms.consecutive_successes, 0)
		FROM monitors m
		LEFT JOIN monitor_state ms ON ms.monitor_id = m.id
		WHERE m.active = ?
		ORDER BY m.created_at ASC, m.id ASC
	`
	rows, err := s.db.Query(s.rebind(query), true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []MonitorWithState
	for rows.Next() {
		var m Monitor
		var st MonitorState
		var configJSON string
		var lastChecked, lastLatency sql.NullInt64
		if err := rows.Scan(&m.ID, &m.Name, &m.Type, &m.Active, &m.IntervalSec, &m.TimeoutMs,
			&m.FailuresToDown, &m.SuccessesToUp, &configJSON, &m.CreatedAt,
			&st.Status, &lastChecked, &lastLatency, &st.LastError,
			&st.ConsecutiveFailures, &st.ConsecutiveSuccesses); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(configJSON), &m.Config)
		st.MonitorID = m.ID
		st.Status = ParseStatus(st.Status)
		if lastChecked.Valid {
			v := lastChecked.Int64
			st.LastCheckedAt = &v
		}
		if lastLatency.Valid {
			v := lastLatency.Int64
			st.LastLatencyMs = &v
		}
		result = append(result, MonitorWithState{Monitor: m, State: st})
	}
	return result, rows.Err()
}

func (s *Store) GetMonitorState(monitorID string) (MonitorState, error) {
	query := s.rebind(`
		SELECT status, last_checked_at, last_latency_ms, last_error, consecutive_failures, consecutive_successes
		FROM monitor_state WHERE monitor_id = ?
	`)
	st := MonitorState{MonitorID: monitorID, Status: StatusUnknown}
	var lastChecked, lastLatency sql.NullInt64
	err := s.db.QueryRow(query, monitorID).Scan(&st.Status, &lastChecked, &lastLatency,
		&st.LastError, &st.ConsecutiveFailures, &st.ConsecutiveSuccesses)
	if err == sql.ErrNoRows {
		// Initial state: unknown with zeroed counters.
		return MonitorState{MonitorID: monitorID, Status: StatusUnknown}, nil
	}
	if err != nil {
		return MonitorState{}, err
	}
	st.Status = ParseStatus(st.Status)
	if lastChecked.Valid {
		v := lastChecked.Int64
		st.LastCheckedAt = &v
	}
	if lastLatency.Valid {
		v := lastLatency.Int64
		st.LastLatencyMs = &v
	}
	return st, nil
}

// qualify prefixes each column in a comma-separated list with an alias.
func qualify(alias, columns string) string {
	out := ""
	start := 0
	for i := 0; i <= len(columns); i++ {
		if i == len(columns) || columns[i] == ',' {
			col := columns[start:i]
			for len(col) > 0 && col[0] == ' ' {
				col = col[1:]
			}
			if out != "" {
				out += ", "
			}
			out += alias + "." + col
			start = i + 1
		}
	}
	return out
}
