package utils

import (
	"fmt"
	"time"
)

// DefaultDateFormat is the calendar date layout used by ledger rows and the API.
const DefaultDateFormat = "2006-01-02"

// ParseDate parses a YYYY-MM-DD calendar date in UTC.
func ParseDate(dateStr string) (time.Time, error) {
	t, err := time.ParseInLocation(DefaultDateFormat, dateStr, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%s', expected format %s: %w", dateStr, DefaultDateFormat, err)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DefaultDateFormat)
}

// WeekStart returns the Sunday on or before t.
func WeekStart(t time.Time) time.Time {
	return t.AddDate(0, 0, -int(t.Weekday()))
}

// MonthStart returns the first day of t's month.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
