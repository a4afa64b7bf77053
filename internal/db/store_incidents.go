package db

import (
	"database/sql"
	"errors"
)

// ErrIncidentNotFound is returned when an incident is not found
var ErrIncidentNotFound = errors.New("incident not found")

type Incident struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Status     string `json:"status"` // investigating | identified | monitoring | resolved
	Impact     string `json:"impact"` // none | minor | major | critical
	Message    string `json:"message"`
	StartedAt  int64  `json:"started_at"`
	ResolvedAt *int64 `json:"resolved_at,omitempty"`
}

type IncidentUpdate struct {
	ID         int64  `json:"id"`
	IncidentID int64  `json:"incident_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	CreatedAt  int64  `json:"created_at"`
}

func scanIncident(scan func(dest ...any) error) (Incident, error) {
	var i Incident
	var resolved sql.NullInt64
	if err := scan(&i.ID, &i.Title, &i.Status, &i.Impact, &i.Message, &i.StartedAt, &resolved); err != nil {
		return Incident{}, err
	}
	i.Status = ParseIncidentStatus(i.Status)
	i.Impact = ParseImpact(i.Impact)
	if resolved.Valid {
		v := resolved.Int64
		i.ResolvedAt = &v
	}
	return i, nil
}

const incidentColumns = "id, title, status, impact, message, started_at, resolved_at"

// CreateIncident inserts the incident plus its first timeline update and
// returns the assigned id.
func (s *Store) CreateIncident(i Incident) (int64, error) {
	var id int64
	if s.dialect == DialectPostgres {
		err := s.db.QueryRow(s.rebind(
			"INSERT INTO incidents (title, status, impact, message, started_at) VALUES (?, ?, ?, ?, ?) RETURNING id"),
			i.Title, i.Status, i.Impact, i.Message, i.StartedAt).Scan(&id)
		if err != nil {
			return 0, err
		}
	} else {
		res, err := s.db.Exec(s.rebind(
			"INSERT INTO incidents (title, status, impact, message, started_at) VALUES (?, ?, ?, ?, ?)"),
			i.Title, i.Status, i.Impact, i.Message, i.StartedAt)
		if err != nil {
			return 0, err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, err
		}
	}

	_, err := s.db.Exec(s.rebind(
		"INSERT INTO incident_updates (incident_id, status, message, created_at) VALUES (?, ?, ?, ?)"),
		id, i.Status, i.Message, i.StartedAt)
	return id, err
}

// AddIncidentUpdate appends a timeline entry and moves the incident to the
// update's status. Resolving stamps resolved_at.
func (s *Store) AddIncidentUpdate(incidentID int64, status, message string, now int64) error {
	res, err := s.db.Exec(s.rebind("UPDATE incidents SET status = ?, message = ? WHERE id = ?"),
		status, message, incidentID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrIncidentNotFound
	}
	if status == IncidentResolved {
		if _, err := s.db.Exec(s.rebind("UPDATE incidents SET resolved_at = ? WHERE id = ?"), now, incidentID); err != nil {
			return err
		}
	}
	_, err = s.db.Exec(s.rebind(
		"INSERT INTO incident_updates (incident_id, status, message, created_at) VALUES (?, ?, ?, ?)"),
		incidentID, status, message, now)
	return err
}

func (s *Store) GetIncident(id int64) (*Incident, error) {
	row := s.db.QueryRow(s.rebind("SELECT "+incidentColumns+" FROM incidents WHERE id = ?"), id)
	i, err := scanIncident(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrIncidentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// GetOpenIncidents returns unresolved incidents, newest first, capped to limit.
func (s *Store) GetOpenIncidents(limit int) ([]Incident, error) {
	query := s.rebind(`
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE status != 'resolved'
		ORDER BY id DESC
		LIMIT ?
	`)
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var incidents []Incident
	for rows.Next() {
		i, err := scanIncident(rows.Scan)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, i)
	}
	return incidents, rows.Err()
}

// GetIncidentsPage returns incidents paginated by descending id. cursor is
// the id of the last row of the previous page (0 for the first page).
func (s *Store) GetIncidentsPage(limit int, cursor int64) ([]Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
	`
	args := []any{}
	if cursor > 0 {
		query += " WHERE id < ?"
		args = append(args, cursor)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var incidents []Incident
	for rows.Next() {
		i, err := scanIncident(rows.Scan)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, i)
	}
	return incidents, rows.Err()
}

func (s *Store) GetIncidentUpdates(incidentID int64) ([]IncidentUpdate, error) {
	query := s.rebind(`
		SELECT id, incident_id, status, message, created_at
		FROM incident_updates
		WHERE incident_id = ?
		ORDER BY id ASC
	`)
	rows, err := s.db.Query(query, incidentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var updates []IncidentUpdate
	for rows.Next() {
		var u IncidentUpdate
		if err := rows.Scan(&u.ID, &u.IncidentID, &u.Status, &u.Message, &u.CreatedAt); err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

// LinkIncidentMonitor marks a monitor as an affected component.
func (s *Store) LinkIncidentMonitor(incidentID int64, monitorID string) error {
	_, err := s.db.Exec(s.rebind(
		"INSERT INTO incident_monitors (incident_id, monitor_id) VALUES (?, ?) ON CONFLICT (incident_id, monitor_id) DO NOTHING"),
		incidentID, monitorID)
	return err
}

func (s *Store) GetIncidentMonitorIDs(incidentID int64) ([]string, error) {
	rows, err := s.db.Query(s.rebind(
		"SELECT monitor_id FROM incident_monitors WHERE incident_id = ? ORDER BY monitor_id"), incidentID)
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
