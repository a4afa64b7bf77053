package uptime

import (
	"sort"

	"github.com/uptimerhq/uptimer/internal/db"
)

// Interval is a half-open [Start, End) range in unix seconds.
type Interval struct {
	Start int64
	End   int64
}

// RangeStats is the uptime accounting for one monitor over one window.
// Unknown time counts as unavailable: uptime is whatever remains after
// downtime and unknown are subtracted.
type RangeStats struct {
	TotalSec    int64    `json:"total_sec"`
	DowntimeSec int64    `json:"downtime_sec"`
	UnknownSec  int64    `json:"unknown_sec"`
	UptimeSec   int64    `json:"uptime_sec"`
	UptimePct   *float64 `json:"uptime_pct"`
}

// mergeIntervals sorts and coalesces overlapping or touching intervals.
func mergeIntervals(ivals []Interval) []Interval {
	var out []Interval
	for _, iv := range ivals {
		if iv.End > iv.Start {
			out = append(out, iv)
		}
	}
	if len(out) < 2 {
		return out
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	merged := out[:1]
	for _, iv := range out[1:] {
		last := &merged[len(merged)-1]
		if iv.Start <= last.End {
			if iv.End > last.End {
				last.End = iv.End
			}
		} else {
			merged = append(merged, iv)
		}
	}
	return merged
}

// clipIntervals restricts intervals to [start, end).
func clipIntervals(ivals []Interval, start, end int64) []Interval {
	var out []Interval
	for _, iv := range ivals {
		s, e := iv.Start, iv.End
		if s < start {
			s = start
		}
		if e > end {
			e = end
		}
		if e > s {
			out = append(out, Interval{Start: s, End: e})
		}
	}
	return out
}

func intervalsTotal(ivals []Interval) int64 {
	var total int64
	for _, iv := range ivals {
		total += iv.End - iv.Start
	}
	return total
}

// overlapSec returns the total overlap between two merged interval sets.
func overlapSec(a, b []Interval) int64 {
	var total int64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		s := a[i].Start
		if b[j].Start > s {
			s = b[j].Start
		}
		e := a[i].End
		if b[j].End < e {
			e = b[j].End
		}
		if e > s {
			total += e - s
		}
		if a[i].End < b[j].End {
			i++
		} else {
			j++
		}
	}
	return total
}

// subtractIntervals returns the parts of window not covered by the merged
// set.
func subtractIntervals(window Interval, covered []Interval) []Interval {
	var out []Interval
	cursor := window.Start
	for _, iv := range covered {
		if iv.End <= window.Start || iv.Start >= window.End {
			continue
		}
		if iv.Start > cursor {
			out = append(out, Interval{Start: cursor, End: iv.Start})
		}
		if iv.End > cursor {
			cursor = iv.End
		}
	}
	if cursor < window.End {
		out = append(out, Interval{Start: cursor, End: window.End})
	}
	return out
}

// outageIntervals converts outages into intervals, treating open outages as
// running to rangeEnd.
func outageIntervals(outages []db.Outage, rangeEnd int64) []Interval {
	ivals := make([]Interval, 0, len(outages))
	for _, o := range outages {
		end := rangeEnd
		if o.EndedAt != nil {
			end = *o.EndedAt
		}
		ivals = append(ivals, Interval{Start: o.StartedAt, End: end})
	}
	return ivals
}

// ComputeRange computes RangeStats for one monitor over [rangeStart,
// rangeEnd), clamped to the monitor's creation time.
//
// A check at time t with an up/down status covers [t, t+2·interval); time
// not covered by any such result is unknown, as are segments covered by an
// explicit unknown result. The first in-window result also covers up to one
// coverage span behind itself, since the probe cadence straddles the window
// boundary. Unknown time overlapping an outage is counted once, as downtime.
func ComputeRange(m db.Monitor, outages []db.Outage, checks []db.CheckResult, rangeStart, rangeEnd int64) RangeStats {
	if m.CreatedAt > rangeStart {
		rangeStart = m.CreatedAt
	}
	if rangeStart >= rangeEnd {
		return RangeStats{}
	}
	window := Interval{Start: rangeStart, End: rangeEnd}
	total := rangeEnd - rangeStart

	coverage := int64(2) * m.IntervalSec
	if coverage <= 0 {
		coverage = 120
	}

	downtime := clipIntervals(mergeIntervals(outageIntervals(outages, rangeEnd)), rangeStart, rangeEnd)

	var covered []Interval
	var forcedUnknown []Interval
	first := true
	for _, c := range checks {
		if c.CheckedAt >= rangeEnd {
			continue
		}
		switch c.Status {
		case db.StatusUp, db.StatusDown:
			start := c.CheckedAt
			if first {
				// The probe cadence straddles the window boundary: the
				// first result also vouches for up to one coverage span
				// behind it.
				start = c.CheckedAt - coverage
				if start < rangeStart {
					start = rangeStart
				}
			}
			covered = append(covered, Interval{Start: start, End: c.CheckedAt + coverage})
			first = false
		case db.StatusUnknown:
			forcedUnknown = append(forcedUnknown, Interval{Start: c.CheckedAt, End: c.CheckedAt + coverage})
			first = false
		}
	}
	covered = clipIntervals(mergeIntervals(covered), rangeStart, rangeEnd)

	unknown := subtractIntervals(window, covered)
	unknown = append(unknown, clipIntervals(forcedUnknown, rangeStart, rangeEnd)...)
	unknown = mergeIntervals(unknown)

	downtimeSec := intervalsTotal(downtime)
	unknownSec := intervalsTotal(unknown) - overlapSec(unknown, downtime)

	unavailable := downtimeSec + unknownSec
	if unavailable > total {
		unavailable = total
	}
	uptimeSec := total - unavailable

	pct := 100 * float64(uptimeSec) / float64(total)
	return RangeStats{
		TotalSec:    total,
		DowntimeSec: downtimeSec,
		UnknownSec:  unknownSec,
		UptimeSec:   uptimeSec,
		UptimePct:   &pct,
	}
}
