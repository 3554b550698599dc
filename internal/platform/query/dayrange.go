package query

import (
	"fmt"
	"time"
)

const DayLayout = "2006-01-02"

// DayRange returns the first and last millisecond of the calendar day that
// contains day in loc: [00:00:00.000, 23:59:59.999].
func DayRange(day time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := day.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1).Add(-time.Millisecond)
	return start, end
}

// ParseDay parses a YYYY-MM-DD value as a calendar day in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DayLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// InRange reports start <= t <= end.
func InRange(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
