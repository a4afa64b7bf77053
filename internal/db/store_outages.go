package db

import (
	"context"
	"database/sql"
)

type Outage struct {
	ID           string `json:"id"`
	MonitorID    string `json:"monitor_id"`
	StartedAt    int64  `json:"started_at"`
	EndedAt      *int64 `json:"ended_at,omitempty"`
	InitialError string `json:"initial_error,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

func scanOutage(scan func(dest ...any) error) (Outage, error) {
	var o Outage
	var ended sql.NullInt64
	if err := scan(&o.ID, &o.MonitorID, &o.StartedAt, &ended, &o.InitialError, &o.LastError); err != nil {
		return Outage{}, err
	}
	if ended.Valid {
		v := ended.Int64
		o.EndedAt = &v
	}
	return o, nil
}

const outageColumns = "id, monitor_id, started_at, ended_at, initial_error, last_error"

// GetOpenOutage returns the open outage for a monitor, or nil.
func (s *Store) GetOpenOutage(monitorID string) (*Outage, error) {
	row := s.db.QueryRow(s.rebind("SELECT "+outageColumns+" FROM outages WHERE monitor_id = ? AND ended_at IS NULL"), monitorID)
	o, err := scanOutage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOutagesOverlapping returns outages for one monitor that overlap
// [from, to), ordered by start. Open outages overlap any window they started
// before the end of.
func (s *Store) GetOutagesOverlapping(monitorID string, from, to int64) ([]Outage, error) {
	query := s.rebind(`
		SELECT ` + outageColumns + `
		FROM outages
		WHERE monitor_id = ? AND started_at < ? AND (ended_at IS NULL OR ended_at > ?)
		ORDER BY started_at ASC
	`)
	rows, err := s.db.Query(query, monitorID, to, from)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var outages []Outage
	for rows.Next() {
		o, err := scanOutage(rows.Scan)
		if err != nil {
			return nil, err
		}
		outages = append(outages, o)
	}
	return outages, rows.Err()
}

// GetOutagesPage returns a descending-start page of outages within
// [from, to) for the public outage listing. cursor is the started_at of the
// last row of the previous page (0 for the first page).
func (s *Store) GetOutagesPage(monitorID string, from, to int64, cursor int64, limit int) ([]Outage, error) {
	if cursor <= 0 {
		cursor = to
	}
	query := s.rebind(`
		SELECT ` + outageColumns + `
		FROM outages
		WHERE monitor_id = ? AND started_at < ? AND (ended_at IS NULL OR ended_at > ?) AND started_at < ?
		ORDER BY started_at DESC
		LIMIT ?
	`)
	rows, err := s.db.Query(query, monitorID, to, from, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var outages []Outage
	for rows.Next() {
		o, err := scanOutage(rows.Scan)
		if err != nil {
			return nil, err
		}
		outages = append(outages, o)
	}
	return outages, rows.Err()
}

// CheckApply is one probe outcome's durable footprint: the check row, the
// resulting state row, and at most one outage mutation. ApplyCheck persists
// it atomically.
type CheckApply struct {
	Result CheckResult
	State  MonitorState

	OpenOutage      *Outage // insert a new open outage
	CloseOutageAt   *int64  // stamp ended_at on the open outage
	OutageLastError *string // refresh last_error on the open outage
}

// ApplyCheck records one probe outcome. The whole apply happens in a single
// transaction keyed by (monitor_id, checked_at): re-applying an already
// recorded outcome is a no-op, which makes retries after a partial failure
// safe.
func (s *Store) ApplyCheck(ctx context.Context, a CheckApply) error {
	insertCheck := "INSERT INTO check_results (monitor_id, checked_at, status, latency_ms, error) VALUES (?, ?, ?, ?, ?) ON CONFLICT (monitor_id, checked_at) DO NOTHING"

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var latency any
		if a.Result.LatencyMs != nil {
			latency = *a.Result.LatencyMs
		}
		var errMsg any
		if a.Result.Error != "" {
			errMsg = a.Result.Error
		}
		res, err := tx.ExecContext(ctx, s.rebind(insertCheck),
			a.Result.MonitorID, a.Result.CheckedAt, a.Result.Status, latency, errMsg)
		if err != nil {
			return err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if inserted == 0 {
			// Already applied.
			return nil
		}

		switch {
		case a.OpenOutage != nil:
			o := a.OpenOutage
			if _, err := tx.ExecContext(ctx, s.rebind(
				"INSERT INTO outages (id, monitor_id, started_at, initial_error, last_error) VALUES (?, ?, ?, ?, ?)"),
				o.ID, o.MonitorID, o.StartedAt, o.InitialError, o.LastError); err != nil {
				return err
			}
		case a.CloseOutageAt != nil:
			if _, err := tx.ExecContext(ctx, s.rebind(
				"UPDATE outages SET ended_at = ? WHERE monitor_id = ? AND ended_at IS NULL"),
				*a.CloseOutageAt, a.Result.MonitorID); err != nil {
				return err
			}
		case a.OutageLastError != nil:
			if _, err := tx.ExecContext(ctx, s.rebind(
				"UPDATE outages SET last_error = ? WHERE monitor_id = ? AND ended_at IS NULL"),
				*a.OutageLastError, a.Result.MonitorID); err != nil {
				return err
			}
		}

		var lastChecked any
		if a.State.LastCheckedAt != nil {
			lastChecked = *a.State.LastCheckedAt
		}
		var lastLatency any
		if a.State.LastLatencyMs != nil {
			lastLatency = *a.State.LastLatencyMs
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO monitor_state (monitor_id, status, last_checked_at, last_latency_ms, last_error, consecutive_failures, consecutive_successes)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (monitor_id) DO UPDATE SET
				status = excluded.status,
				last_checked_at = excluded.last_checked_at,
				last_latency_ms = excluded.last_latency_ms,
				last_error = excluded.last_error,
				consecutive_failures = excluded.consecutive_failures,
				consecutive_successes = excluded.consecutive_successes
		`), a.State.MonitorID, a.State.Status, lastChecked, lastLatency,
			a.State.LastError, a.State.ConsecutiveFailures, a.State.ConsecutiveSuccesses)
		return err
	})
}
