// Package window computes execution-time sequences: work/pause duty cycles,
// their daily/weekly/monthly recurrence, and slot visibility windows.
//
// Everything here is pure calendar arithmetic: no I/O, no wall-clock reads
// (callers inject "now" where it matters), deterministic output.
package window

import "time"

// Expand computes the start instant of every work period between start and
// end for a work/pause duty cycle.
//
// workMinutes <= 0 disables duty cycling: the result is a single instant at
// start, provided start does not lie after end. A negative pauseMinutes is
// treated as zero. A trailing window that would not fully fit before the
// effective end is excluded, never truncated.
//
// With endOnDateChange the effective end is capped to one second before
// midnight of start's local calendar date, and no window may begin on a
// later date than start.
func Expand(start, end time.Time, workMinutes, pauseMinutes int, endOnDateChange bool) []time.Time {
	if workMinutes <= 0 {
		if start.After(end) {
			return nil
		}
		return []time.Time{start}
	}

	if pauseMinutes < 0 {
		pauseMinutes = 0
	}
	work := time.Duration(workMinutes) * time.Minute
	cycle := work + time.Duration(pauseMinutes)*time.Minute

	effectiveEnd := end
	if endOnDateChange {
		if eod := endOfDay(start); end.After(eod) {
			effectiveEnd = eod
		}
	}

	var out []time.Time
	for cursor := start; !cursor.After(effectiveEnd); cursor = cursor.Add(cycle) {
		if endOnDateChange && !sameDate(cursor, start) {
			break
		}
		if !cursor.Add(work).After(effectiveEnd) {
			out = append(out, cursor)
		}
	}
	return out
}

// endOfDay is one second before midnight of t's local calendar date.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
