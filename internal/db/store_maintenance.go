package db

import (
	"errors"
	"fmt"
)

// ErrWindowNotFound is returned when a maintenance window is not found
var ErrWindowNotFound = errors.New("maintenance window not found")

type MaintenanceWindow struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	StartsAt  int64  `json:"starts_at"`
	EndsAt    int64  `json:"ends_at"`
	CreatedAt int64  `json:"created_at"`
}

const windowColumns = "id, title, message, starts_at, ends_at, created_at"

func (s *Store) CreateMaintenanceWindow(w MaintenanceWindow) (int64, error) {
	if w.StartsAt >= w.EndsAt {
		return 0, fmt.Errorf("maintenance window must start before it ends")
	}
	if s.dialect == DialectPostgres {
		var id int64
		err := s.db.QueryRow(s.rebind(
			"INSERT INTO maintenance_windows (title, message, starts_at, ends_at, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id"),
			w.Title, w.Message, w.StartsAt, w.EndsAt, w.CreatedAt).Scan(&id)
		return id, err
	}
	res, err := s.db.Exec(s.rebind(
		"INSERT INTO maintenance_windows (title, message, starts_at, ends_at, created_at) VALUES (?, ?, ?, ?, ?)"),
		w.Title, w.Message, w.StartsAt, w.EndsAt, w.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LinkWindowMonitor attaches a monitor to a maintenance window.
func (s *Store) LinkWindowMonitor(windowID int64, monitorID string) error {
	_, err := s.db.Exec(s.rebind(
		"INSERT INTO maintenance_window_monitors (window_id, monitor_id) VALUES (?, ?) ON CONFLICT (window_id, monitor_id) DO NOTHING"),
		windowID, monitorID)
	return err
}

func (s *Store) scanWindows(query string, args ...any) ([]MaintenanceWindow, error) {
	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var windows []MaintenanceWindow
	for rows.Next() {
		var w MaintenanceWindow
		if err := rows.Scan(&w.ID, &w.Title, &w.Message, &w.StartsAt, &w.EndsAt, &w.CreatedAt); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// GetActiveWindows returns windows covering now (starts_at <= now < ends_at).
func (s *Store) GetActiveWindows(now int64, limit int) ([]MaintenanceWindow, error) {
	return s.scanWindows(`
		SELECT `+windowColumns+`
		FROM maintenance_windows
		WHERE starts_at <= ? AND ends_at > ?
		ORDER BY starts_at ASC
		LIMIT ?
	`, now, now, limit)
}

// GetUpcomingWindows returns windows that have not started yet, soonest first.
func (s *Store) GetUpcomingWindows(now int64, limit int) ([]MaintenanceWindow, error) {
	return s.scanWindows(`
		SELECT `+windowColumns+`
		FROM maintenance_windows
		WHERE starts_at > ?
		ORDER BY starts_at ASC
		LIMIT ?
	`, now, limit)
}

// GetWindowsEndedBetween returns windows whose end fell inside (from, to],
// oldest first. The scheduler uses this to announce maintenance.ended.
func (s *Store) GetWindowsEndedBetween(from, to int64) ([]MaintenanceWindow, error) {
	return s.scanWindows(`
		SELECT `+windowColumns+`
		FROM maintenance_windows
		WHERE ends_at > ? AND ends_at <= ?
		ORDER BY ends_at ASC
	`, from, to)
}

// GetWindowsPage returns maintenance windows paginated by descending id.
func (s *Store) GetWindowsPage(limit int, cursor int64) ([]MaintenanceWindow, error) {
	query := "SELECT " + windowColumns + " FROM maintenance_windows"
	args := []any{}
	if cursor > 0 {
		query += " WHERE id < ?"
		args = append(args, cursor)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	return s.scanWindows(query, args...)
}

// GetMonitorsInMaintenance returns the set of monitor ids linked to any
// window active at now. One query per tick instead of one per monitor.
func (s *Store) GetMonitorsInMaintenance(now int64) (map[string]bool, error) {
	query := s.rebind(`
		SELECT DISTINCT mwm.monitor_id
		FROM maintenance_window_monitors mwm
		JOIN maintenance_windows mw ON mw.id = mwm.window_id
		WHERE mw.starts_at <= ? AND mw.ends_at > ?
	`)
	rows, err := s.db.Query(query, now, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	inMaint := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		inMaint[id] = true
	}
	return inMaint, rows.Err()
}

func (s *Store) GetWindowMonitorIDs(windowID int64) ([]string, error) {
	rows, err := s.db.Query(s.rebind(
		"SELECT monitor_id FROM maintenance_window_monitors WHERE window_id = ? ORDER BY monitor_id"), windowID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
