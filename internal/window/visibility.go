package window

import "time"

// TimeSlot is a time-of-day range within a single day, "HH:MM" strings.
// Only Start generates a trigger; End travels along as descriptive payload.
type TimeSlot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// VisibilitySchedule describes when a promotional slot should become
// visible: a validity range, optional weekday filter, time slots per day,
// and exclusion dates.
type VisibilitySchedule struct {
	ValidFrom      string     `json:"validFrom"`
	ValidTo        string     `json:"validTo"`
	DaysOfWeek     []string   `json:"daysOfWeek,omitempty"`
	TimeSlots      []TimeSlot `json:"timeSlots,omitempty"`
	ExclusionDates []string   `json:"exclusionDates,omitempty"`
}

// ExpandVisibility computes the visibility-start instants for sched in loc.
//
// Malformed input degrades to an empty result rather than an error: an
// unparsable validity bound, or validFrom after validTo, yields nothing.
// Unparsable weekdays and exclusion dates are skipped; an unparsable slot
// start defaults to midnight. An empty weekday filter allows every day, and
// no time slots means one slot spanning the whole day. Instants before now
// are dropped silently: a slot already past its start simply produces no
// trigger, unlike the work-window path where an all-past range is rejected
// at validation.
func ExpandVisibility(sched VisibilitySchedule, loc *time.Location, now time.Time) []time.Time {
	validFrom, ok := ParseFlexibleTime(sched.ValidFrom, loc)
	if !ok {
		return nil
	}
	validTo, ok := ParseFlexibleTime(sched.ValidTo, loc)
	if !ok {
		return nil
	}
	validFrom = validFrom.In(loc)
	validTo = validTo.In(loc)
	if validFrom.After(validTo) {
		return nil
	}

	allowed := parseWeekdaySet(sched.DaysOfWeek)
	excluded := parseDateSet(sched.ExclusionDates)
	slots := sched.TimeSlots
	if len(slots) == 0 {
		slots = []TimeSlot{{Start: "00:00", End: "23:59"}}
	}

	var out []time.Time
	day := midnight(validFrom)
	last := midnight(validTo)
	for ; !day.After(last); day = day.AddDate(0, 0, 1) {
		if excluded[day.Format(dateLayout)] {
			continue
		}
		if len(allowed) > 0 && !allowed[day.Weekday()] {
			continue
		}
		for _, slot := range slots {
			h, m, ok := parseHHMM(slot.Start)
			if !ok {
				h, m = 0, 0
			}
			at := time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc)
			if at.Before(validFrom) || at.After(validTo) {
				continue
			}
			if at.Before(now) {
				continue
			}
			out = append(out, at)
		}
	}
	return out
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
