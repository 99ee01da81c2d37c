// Package system provides a real clock implementation.
package system

import "time"

// Clock implements edition.Clock using time.Now. Today is computed in the
// publication time zone so a run shortly after midnight picks the right day.
type Clock struct {
	loc *time.Location
}

// New creates a Clock whose calendar day follows UTC.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewIn creates a Clock whose calendar day follows loc.
func NewIn(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Today returns the current calendar day in the clock's zone as midnight UTC.
func (c Clock) Today() time.Time {
	return Day(c.Now(), c.loc)
}

// Day returns the calendar day of t as seen in loc, expressed as midnight UTC.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
