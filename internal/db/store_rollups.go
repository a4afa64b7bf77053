package db

type DailyRollup struct {
	MonitorID   string `json:"monitor_id"`
	DayStartAt  int64  `json:"day_start_at"`
	TotalSec    int64  `json:"total_sec"`
	DowntimeSec int64  `json:"downtime_sec"`
	UnknownSec  int64  `json:"unknown_sec"`
	UptimeSec   int64  `json:"uptime_sec"`
}

func (s *Store) UpsertDailyRollup(r DailyRollup) error {
	_, err := s.db.Exec(s.rebind(`
		INSERT INTO monitor_daily_rollups (monitor_id, day_start_at, total_sec, downtime_sec, unknown_sec, uptime_sec)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (monitor_id, day_start_at) DO UPDATE SET
			total_sec = excluded.total_sec,
			downtime_sec = excluded.downtime_sec,
			unknown_sec = excluded.unknown_sec,
			uptime_sec = excluded.uptime_sec
	`), r.MonitorID, r.DayStartAt, r.TotalSec, r.DowntimeSec, r.UnknownSec, r.UptimeSec)
	return err
}

// GetRollups returns one monitor's rollups with day_start_at in [from, to),
// chronological.
func (s *Store) GetRollups(monitorID string, from, to int64) ([]DailyRollup, error) {
	query := s.rebind(`
		SELECT monitor_id, day_start_at, total_sec, downtime_sec, unknown_sec, uptime_sec
		FROM monitor_daily_rollups
		WHERE monitor_id = ? AND day_start_at >= ? AND day_start_at < ?
		ORDER BY day_start_at ASC
	`)
	rows, err := s.db.Query(query, monitorID, from, to)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rollups []DailyRollup
	for rows.Next() {
		var r DailyRollup
		if err := rows.Scan(&r.MonitorID, &r.DayStartAt, &r.TotalSec, &r.DowntimeSec, &r.UnknownSec, &r.UptimeSec); err != nil {
			return nil, err
		}
		rollups = append(rollups, r)
	}
	return rollups, rows.Err()
}

// SumRollups aggregates whole-day totals per monitor over [from, to).
func (s *Store) SumRollups(from, to int64) (map[string]DailyRollup, error) {
	query := s.rebind(`
		SELECT monitor_id, SUM(total_sec), SUM(downtime_sec), SUM(unknown_sec), SUM(uptime_sec)
		FROM monitor_daily_rollups
		WHERE day_start_at >= ? AND day_start_at < ?
		GROUP BY monitor_id
	`)
	rows, err := s.db.Query(query, from, to)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	sums := make(map[string]DailyRollup)
	for rows.Next() {
		var r DailyRollup
		if err := rows.Scan(&r.MonitorID, &r.TotalSec, &r.DowntimeSec, &r.UnknownSec, &r.UptimeSec); err != nil {
			return nil, err
		}
		sums[r.MonitorID] = r
	}
	return sums, rows.Err()
}
