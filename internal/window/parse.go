package window

import (
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// ParseFlexibleTime accepts the three timestamp forms seen in slot requests:
// a full zoned timestamp, a bare calendar date (treated as midnight UTC via
// the implicit suffix), or a date with surrounding whitespace resolved to
// midnight in loc. Reports ok=false instead of an error for anything else.
func ParseFlexibleTime(s string, loc *time.Location) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s+"T00:00:00Z"); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), loc); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func parseWeekdaySet(days []string) map[time.Weekday]bool {
	if len(days) == 0 {
		return nil
	}
	out := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		if wd, ok := parseWeekday(d); ok {
			out[wd] = true
		}
	}
	return out
}

func parseWeekday(s string) (time.Weekday, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MON":
		return time.Monday, true
	case "TUE":
		return time.Tuesday, true
	case "WED":
		return time.Wednesday, true
	case "THU":
		return time.Thursday, true
	case "FRI":
		return time.Friday, true
	case "SAT":
		return time.Saturday, true
	case "SUN":
		return time.Sunday, true
	default:
		return 0, false
	}
}

// parseDateSet keys exclusion dates by their ISO date form; unparsable
// entries are dropped.
func parseDateSet(dates []string) map[string]bool {
	if len(dates) == 0 {
		return nil
	}
	out := make(map[string]bool, len(dates))
	for _, d := range dates {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if t, err := time.Parse(dateLayout, d); err == nil {
			out[t.Format(dateLayout)] = true
		}
	}
	return out
}

func parseHHMM(s string) (hour, minute int, ok bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
