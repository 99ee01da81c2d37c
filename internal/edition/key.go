package edition

import (
	"fmt"
	"time"
)

const (
	// KeyLayout is the textual format of a business key (DD-MM-YYYY).
	KeyLayout = "02-01-2006"
	// ISODateLayout is the user facing date format (YYYY-MM-DD).
	ISODateLayout = "2006-01-02"
)

// MidnightUTC truncates t to the start of its calendar day in UTC, keeping
// the year, month and day as seen in t's own location.
func MidnightUTC(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// BusinessKey formats the calendar date of t as DD-MM-YYYY.
func BusinessKey(t time.Time) string {
	return t.Format(KeyLayout)
}

// ParseBusinessKey parses a DD-MM-YYYY key into midnight UTC.
func ParseBusinessKey(key string) (time.Time, error) {
	t, err := time.Parse(KeyLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse business key %q: %w", key, err)
	}
	return t, nil
}

// ParseISODate parses a YYYY-MM-DD date into midnight UTC.
func ParseISODate(s string) (time.Time, error) {
	t, err := time.Parse(ISODateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}
