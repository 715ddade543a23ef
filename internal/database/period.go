package database

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the layout of every date inside a period_id.
const DateLayout = "2006-01-02"

// GetToday returns today's UTC date as YYYY-MM-DD. Pattern hours are bucketed
// in UTC too, so a period never straddles two local days.
func GetToday() string {
	return time.Now().UTC().Format(DateLayout)
}

// MakePeriodID joins start and end into a period_id: "2026-02-06" when they
// match, "2026-02-01..2026-02-06" otherwise.
func MakePeriodID(start, end string) string {
	if start == end {
		return start
	}
	return start + ".." + end
}

// PeriodEndingOn returns the period_id covering days whole days up to and
// including end. Malformed dates are returned unchanged.
func PeriodEndingOn(end string, days int) string {
	if days <= 1 {
		return end
	}
	d, err := time.Parse(DateLayout, end)
	if err != nil {
		return end
	}
	return MakePeriodID(d.AddDate(0, 0, -(days-1)).Format(DateLayout), end)
}

// DaysBetween counts whole days from a to b. Unparseable dates yield 0.
func DaysBetween(a, b string) int {
	from, err := time.Parse(DateLayout, a)
	if err != nil {
		return 0
	}
	to, err := time.Parse(DateLayout, b)
	if err != nil {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}

// FormatPeriodDisplay renders a period_id for the dashboard:
// "Feb 06, 2026" or "Feb 01 - Feb 06, 2026".
func FormatPeriodDisplay(periodID string) string {
	start, end := splitPeriod(periodID)
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return periodID
	}
	if start == end {
		return e.Format("Jan 02, 2006")
	}
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return periodID
	}
	return fmt.Sprintf("%s - %s", s.Format("Jan 02"), e.Format("Jan 02, 2006"))
}

// PeriodEndDate returns the last date covered by a period_id.
func PeriodEndDate(periodID string) string {
	_, end := splitPeriod(periodID)
	return end
}

func splitPeriod(periodID string) (start, end string) {
	if s, e, ok := strings.Cut(periodID, ".."); ok {
		return s, e
	}
	return periodID, periodID
}
