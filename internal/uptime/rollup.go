package uptime

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"

	"github.com/uptimerhq/uptimer/internal/db"
)

const daySec = 86400

// rollupBookmarkKey stores the day_start_at of the last fully rolled UTC day.
const rollupBookmarkKey = "rollup_last_day"

// How far back a cold start will roll. Older days stay unrolled; the live
// computation path still covers them while check results are retained.
const maxRollupBackfillDays = 7

// runDailyJobs purges expired check results and computes daily rollups once
// per UTC day boundary. On ticks inside an already-rolled day it is a no-op.
func (s *Scheduler) runDailyJobs(ctx context.Context, now int64) error {
	today := now - (now % daySec)

	var from int64
	if v := s.store.GetSettingOr(rollupBookmarkKey, ""); v != "" {
		last, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			from = last + daySec
		}
	}
	if from == 0 {
		from = today - daySec
	}
	if min := today - maxRollupBackfillDays*daySec; from < min {
		from = min
	}
	if from >= today {
		return nil
	}

	monitors, err := s.store.GetMonitors()
	if err != nil {
		return err
	}

	var errs *multierror.Error
	for day := from; day < today; day += daySec {
		for _, m := range monitors {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := s.rollupDay(m, day); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("rollup %s day %d: %w", m.ID, day, err))
			}
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		// Leave the bookmark where it was so the failed days retry on the
		// next boundary tick.
		return err
	}

	if err := s.store.SetSetting(rollupBookmarkKey, strconv.FormatInt(today-daySec, 10)); err != nil {
		return err
	}
	s.log.Printf("daily rollups complete through %d", today-daySec)

	// Purge only after the affected days are rolled up.
	cutoff := now - int64(s.cfg.RetentionDays)*daySec
	purged, err := s.store.PurgeCheckResultsBefore(cutoff)
	if err != nil {
		return fmt.Errorf("retention purge: %w", err)
	}
	if purged > 0 {
		s.log.Printf("retention purged %d check results older than %d days", purged, s.cfg.RetentionDays)
	}
	return nil
}

func (s *Scheduler) rollupDay(m db.Monitor, dayStart int64) error {
	dayEnd := dayStart + daySec
	outages, err := s.store.GetOutagesOverlapping(m.ID, dayStart, dayEnd)
	if err != nil {
		return err
	}
	checks, err := s.store.GetCheckResults(m.ID, dayStart, dayEnd)
	if err != nil {
		return err
	}

	stats := ComputeRange(m, outages, checks, dayStart, dayEnd)
	if stats.TotalSec == 0 {
		// Day predates the monitor entirely.
		return nil
	}
	return s.store.UpsertDailyRollup(db.DailyRollup{
		MonitorID:   m.ID,
		DayStartAt:  dayStart,
		TotalSec:    stats.TotalSec,
		DowntimeSec: stats.DowntimeSec,
		UnknownSec:  stats.UnknownSec,
		UptimeSec:   stats.UptimeSec,
	})
}
