package db

import (
	"database/sql"
)

type CheckResult struct {
	MonitorID string `json:"monitor_id"`
	CheckedAt int64  `json:"checked_at"`
	Status    string `json:"status"` // up | down | maintenance | paused | unknown
	LatencyMs *int64 `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

type LatencyPoint struct {
	CheckedAt int64 `json:"checked_at"`
	LatencyMs int64 `json:"latency_ms"`
	Failed    bool  `json:"failed"`
}

func scanCheckResult(scan func(dest ...any) error) (CheckResult, error) {
	var c CheckResult
	var latency sql.NullInt64
	var errMsg sql.NullString
	if err := scan(&c.MonitorID, &c.CheckedAt, &c.Status, &latency, &errMsg); err != nil {
		return CheckResult{}, err
	}
	if latency.Valid {
		v := latency.Int64
		c.LatencyMs = &v
	}
	c.Error = errMsg.String
	return c, nil
}

// GetCheckResults returns results for one monitor within [from, to),
// chronological.
func (s *Store) GetCheckResults(monitorID string, from, to int64) ([]CheckResult, error) {
	query := s.rebind(`
		SELECT monitor_id, checked_at, status, latency_ms, error
		FROM check_results
		WHERE monitor_id = ? AND checked_at >= ? AND checked_at < ?
		ORDER BY checked_at ASC
	`)
	rows, err := s.db.Query(query, monitorID, from, to)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []CheckResult
	for rows.Next() {
		c, err := scanCheckResult(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// GetRecentCheckResults returns the newest limit results since a cutoff,
// in chronological order for rendering heartbeat bars.
func (s *Store) GetRecentCheckResults(monitorID string, since int64, limit int) ([]CheckResult, error) {
	query := s.rebind(`
		SELECT monitor_id, checked_at, status, latency_ms, error
		FROM check_results
		WHERE monitor_id = ? AND checked_at >= ?
		ORDER BY checked_at DESC
		LIMIT ?
	`)
	rows, err := s.db.Query(query, monitorID, since, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []CheckResult
	for rows.Next() {
		c, err := scanCheckResult(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Newest-first from the query; flip for rendering.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

// GetLatencyPoints returns recorded probe latencies within [from, to).
// Failed probes are included with Failed=true so charts can gap them.
func (s *Store) GetLatencyPoints(monitorID string, from, to int64) ([]LatencyPoint, error) {
	query := s.rebind(`
		SELECT checked_at, latency_ms, status
		FROM check_results
		WHERE monitor_id = ? AND checked_at >= ? AND checked_at < ? AND latency_ms IS NOT NULL
		ORDER BY checked_at ASC
	`)
	rows, err := s.db.Query(query, monitorID, from, to)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var points []LatencyPoint
	for rows.Next() {
		var p LatencyPoint
		var status string
		if err := rows.Scan(&p.CheckedAt, &p.LatencyMs, &status); err != nil {
			return nil, err
		}
		p.Failed = status == StatusDown
		points = append(points, p)
	}
	return points, rows.Err()
}

// PurgeCheckResultsBefore deletes results older than the cutoff. Returns the
// number of rows removed.
func (s *Store) PurgeCheckResultsBefore(cutoff int64) (int64, error) {
	res, err := s.db.Exec(s.rebind("DELETE FROM check_results WHERE checked_at < ?"), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
