// Package usage - keys.go formats time-bucket keys.
//
// All keys are computed in UTC so aggregation is stable regardless of where
// the daemon runs. Week keys are ISO-8601: weeks run Monday-Sunday and week 1
// is the week containing the year's first Thursday, so the ISO year can
// differ from the calendar year at the boundary (Dec 31, 2024 is 2025-W01).
package usage

import (
	"fmt"
	"time"
)

// DayKey returns the YYYY-MM-DD bucket key for t.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// HourKey returns the YYYY-MM-DDTHH bucket key for t.
func HourKey(t time.Time) string {
	return t.UTC().Format("2006-01-02T15")
}

// WeekKey returns the ISO-8601 YYYY-Www bucket key for t.
func WeekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// MonthKey returns the YYYY-MM bucket key for t.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
