package window

import (
	"strings"
	"time"
)

// Frequency selects how a recurring schedule advances between occurrences.
type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
)

// ParseFrequency is lenient: anything unrecognized falls back to DAILY,
// matching the request defaults at the boundary.
func ParseFrequency(s string) Frequency {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(Weekly):
		return Weekly
	case string(Monthly):
		return Monthly
	default:
		return Daily
	}
}

// ExpandRecurring repeats Expand across successive occurrence anchors from
// rangeStart until the anchor passes rangeEnd. Each occurrence is capped at
// the next anchor (and at rangeEnd), so the instants of one occurrence never
// overlap the next and the combined sequence stays non-decreasing.
//
// DAILY advances one calendar day and WEEKLY seven, both re-pinning the
// time-of-day from rangeStart. MONTHLY advances one calendar month with the
// day-of-month clamped to the target month's length (Jan 31 -> Feb 28, or
// Feb 29 on leap years, then Mar 28/29) so month overflow never spills an
// extra day into the next month.
func ExpandRecurring(rangeStart, rangeEnd time.Time, freq Frequency, workMinutes, pauseMinutes int, endOnDateChange bool) []time.Time {
	var out []time.Time
	for anchor := rangeStart; !anchor.After(rangeEnd); {
		next := nextAnchor(anchor, rangeStart, freq)

		occurrenceEnd := rangeEnd
		if next.Before(occurrenceEnd) {
			occurrenceEnd = next
		}
		if endOnDateChange {
			if eod := endOfDay(anchor); eod.Before(occurrenceEnd) {
				occurrenceEnd = eod
			}
		}
		out = append(out, Expand(anchor, occurrenceEnd, workMinutes, pauseMinutes, endOnDateChange)...)
		anchor = next
	}
	return out
}

func nextAnchor(anchor, template time.Time, freq Frequency) time.Time {
	switch freq {
	case Weekly:
		return anchor.AddDate(0, 0, 7)
	case Monthly:
		return nextMonth(anchor, template)
	default:
		return withTimeOfDay(anchor.AddDate(0, 0, 1), template)
	}
}

// nextMonth advances anchor by one calendar month, clamping the day to the
// target month's last day instead of letting date normalization overflow
// (time.AddDate would turn Jan 31 + 1 month into Mar 2/3). The time-of-day
// is re-pinned from the template anchor.
func nextMonth(anchor, template time.Time) time.Time {
	y, m, d := anchor.Date()
	m++
	if m > time.December {
		m = time.January
		y++
	}
	if last := daysIn(y, m); d > last {
		d = last
	}
	return time.Date(y, m, d, template.Hour(), template.Minute(), template.Second(), 0, anchor.Location())
}

func withTimeOfDay(t, template time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, template.Hour(), template.Minute(), template.Second(), 0, t.Location())
}

// daysIn returns the number of days in the given month; day 0 of the next
// month normalizes to the last day of this one.
func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
