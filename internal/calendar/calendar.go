// Package calendar resolves instants to attendance days.
//
// A day is represented as a time.Time at midnight UTC carrying the local
// calendar date, which is what Postgres DATE columns scan into and out of.
package calendar

import (
	"fmt"
	"time"
)

// Layout is the wire format of a day.
const Layout = "2006-01-02"

// Day returns the calendar date of t in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Normalize strips time-of-day and zone from a stored or parsed day.
func Normalize(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Parse reads a YYYY-MM-DD day.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// Format renders a day as YYYY-MM-DD.
func Format(day time.Time) string {
	return day.Format(Layout)
}

// Location loads an IANA zone, returning fallback for empty or unknown names.
func Location(name string, fallback *time.Location) *time.Location {
	if fallback == nil {
		fallback = time.UTC
	}
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}
