package status

import (
	"github.com/uptimerhq/uptimer/internal/db"
	"github.com/uptimerhq/uptimer/internal/uptime"
)

const daySec = 86400

// liveComputeMaxSec is the largest window the uptime math walks check
// results for directly; longer windows stitch whole days from the daily
// rollups and only live-compute the partial edges (and any day whose rollup
// is missing, e.g. before the first boundary tick after a cold start).
const liveComputeMaxSec = 8 * daySec

// UptimeRange computes uptime accounting for one monitor over [from, to).
func (a *Aggregator) UptimeRange(m db.Monitor, from, to int64) (uptime.RangeStats, error) {
	if m.CreatedAt > from {
		from = m.CreatedAt
	}
	if from >= to {
		return uptime.RangeStats{}, nil
	}

	if to-from <= liveComputeMaxSec {
		return a.liveRange(m, from, to)
	}

	firstDay := from - (from % daySec)
	if firstDay < from {
		firstDay += daySec
	}
	lastDay := to - (to % daySec)

	var total uptime.RangeStats

	// Partial head before the first whole day.
	if from < firstDay {
		head, err := a.liveRange(m, from, minInt64(firstDay, to))
		if err != nil {
			return uptime.RangeStats{}, err
		}
		accumulate(&total, head)
	}

	if firstDay < lastDay {
		rollups, err := a.store.GetRollups(m.ID, firstDay, lastDay)
		if err != nil {
			return uptime.RangeStats{}, err
		}
		byDay := make(map[int64]db.DailyRollup, len(rollups))
		for _, r := range rollups {
			byDay[r.DayStartAt] = r
		}
		for day := firstDay; day < lastDay; day += daySec {
			if r, ok := byDay[day]; ok {
				accumulate(&total, uptime.RangeStats{
					TotalSec:    r.TotalSec,
					DowntimeSec: r.DowntimeSec,
					UnknownSec:  r.UnknownSec,
					UptimeSec:   r.UptimeSec,
				})
				continue
			}
			live, err := a.liveRange(m, day, day+daySec)
			if err != nil {
				return uptime.RangeStats{}, err
			}
			accumulate(&total, live)
		}
	}

	// Partial tail: the live "today".
	if lastDay < to && lastDay >= firstDay {
		tail, err := a.liveRange(m, maxInt64(lastDay, from), to)
		if err != nil {
			return uptime.RangeStats{}, err
		}
		accumulate(&total, tail)
	}

	if total.TotalSec > 0 {
		pct := 100 * float64(total.UptimeSec) / float64(total.TotalSec)
		total.UptimePct = &pct
	}
	return total, nil
}

func (a *Aggregator) liveRange(m db.Monitor, from, to int64) (uptime.RangeStats, error) {
	outages, err := a.store.GetOutagesOverlapping(m.ID, from, to)
	if err != nil {
		return uptime.RangeStats{}, err
	}
	checks, err := a.store.GetCheckResults(m.ID, from, to)
	if err != nil {
		return uptime.RangeStats{}, err
	}
	return uptime.ComputeRange(m, outages, checks, from, to), nil
}

func accumulate(total *uptime.RangeStats, part uptime.RangeStats) {
	total.TotalSec += part.TotalSec
	total.DowntimeSec += part.DowntimeSec
	total.UnknownSec += part.UnknownSec
	total.UptimeSec += part.UptimeSec
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
