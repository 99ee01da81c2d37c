// Package gaps finds publication days that have no stored edition.
package gaps

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// monthDay is a recurring calendar day.
type monthDay struct {
	month time.Month
	day   int
}

// HolidaySet holds days with no edition, matched every year.
type HolidaySet map[monthDay]struct{}

// DefaultHolidays are the days the paper is not printed.
var DefaultHolidays = []string{"16/08", "01/01", "02/05", "25/12", "26/12"}

// ParseHolidays parses DD/MM entries.
func ParseHolidays(entries []string) (HolidaySet, error) {
	set := make(HolidaySet, len(entries))
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "/")
		if len(parts) != 2 {
			return nil, fmt.Errorf("holiday %q: want DD/MM", raw)
		}
		d, derr := strconv.Atoi(parts[0])
		m, merr := strconv.Atoi(parts[1])
		if derr != nil || merr != nil || m < 1 || m > 12 || d < 1 || d > daysIn(time.Month(m)) {
			return nil, fmt.Errorf("holiday %q: invalid day or month", raw)
		}
		set[monthDay{month: time.Month(m), day: d}] = struct{}{}
	}
	return set, nil
}

// Contains reports whether t falls on a holiday.
func (h HolidaySet) Contains(t time.Time) bool {
	_, ok := h[monthDay{month: t.Month(), day: t.Day()}]
	return ok
}

// Calendar describes which days are expected to have an edition.
type Calendar struct {
	// OffDay is the weekly day without an edition, nil for none.
	OffDay   *time.Weekday
	Holidays HolidaySet
}

// ParseWeekday parses an English weekday name; "none" or "" yields nil.
func ParseWeekday(s string) (*time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" || name == "none" {
		return nil, nil
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.ToLower(wd.String()) == name {
			found := wd
			return &found, nil
		}
	}
	return nil, fmt.Errorf("unknown weekday %q", s)
}

// Expected reports whether an edition should exist on t.
func (c Calendar) Expected(t time.Time) bool {
	if c.OffDay != nil && t.Weekday() == *c.OffDay {
		return false
	}
	return !c.Holidays.Contains(t)
}

// MissingDates walks from the oldest date in existing through today and
// returns every expected day not in existing, oldest first.
func MissingDates(existing []time.Time, today time.Time, cal Calendar) []time.Time {
	if len(existing) == 0 {
		return nil
	}
	present := make(map[time.Time]struct{}, len(existing))
	oldest := dayOf(existing[0])
	for _, t := range existing {
		d := dayOf(t)
		present[d] = struct{}{}
		if d.Before(oldest) {
			oldest = d
		}
	}

	var missing []time.Time
	end := dayOf(today)
	for d := oldest; !d.After(end); d = d.AddDate(0, 0, 1) {
		if _, ok := present[d]; ok {
			continue
		}
		if cal.Expected(d) {
			missing = append(missing, d)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Before(missing[j]) })
	return missing
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysIn(m time.Month) int {
	// Leap year so 29/02 is accepted.
	return time.Date(2024, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
