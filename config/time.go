package config

import (
	"fmt"
	"time"
)

// ClockTime parses an "HH:MM" field into the hour/minute components used
// to build a time.Time gate for the current trading day.
func ClockTime(hhmm string) (hour, minute int, err error) {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
		return 0, 0, fmt.Errorf("config.ClockTime: parse %q: %w", hhmm, err)
	}
	return h, m, nil
}

// OnDay returns the time.Time for hhmm on the calendar day of ref, in ref's
// location.
func OnDay(hhmm string, ref time.Time) (time.Time, error) {
	h, m, err := ClockTime(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), h, m, 0, 0, ref.Location()), nil
}
