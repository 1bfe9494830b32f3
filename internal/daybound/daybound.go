// Package daybound converts instants into canonical day and week buckets.
//
// A day id is the locale-free "YYYY-MM-DD" calendar date in an explicit zone.
// Callers always pass the zone: the user's prayer day and the weekly history
// view may be configured with different zones, and neither may follow the
// device zone when it changes mid-session.
package daybound

import (
	"fmt"
	"strings"
	"time"
)

// DayIDLayout is the time layout of a day id.
const DayIDLayout = "2006-01-02"

// DefaultFallbackZone is the reference zone used when a lookup fails.
const DefaultFallbackZone = "UTC"

// ─── Pure Functions ─────────────────────────────────────────────────────────

// DayID returns the calendar date of t in loc.
func DayID(t time.Time, loc *time.Location) string {
	return t.In(orUTC(loc)).Format(DayIDLayout)
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	loc = orUTC(loc)
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// WeekStart returns the start of the 7-day bucket containing t.
func WeekStart(t time.Time, loc *time.Location, first time.Weekday) time.Time {
	loc = orUTC(loc)
	local := t.In(loc)
	back := (int(local.Weekday()) - int(first) + 7) % 7
	y, m, d := local.Date()
	return time.Date(y, m, d-back, 0, 0, 0, 0, loc)
}

// LastNWeekStarts returns n week starts; index 0 is the week containing now
// and index n-1 the oldest.
func LastNWeekStarts(now time.Time, n int, loc *time.Location, first time.Weekday) []time.Time {
	if n <= 0 {
		return nil
	}
	current := WeekStart(now, loc, first)
	y, m, d := current.Date()
	out := make([]time.Time, n)
	for i := range out {
		out[i] = time.Date(y, m, d-7*i, 0, 0, 0, 0, current.Location())
	}
	return out
}

// ParseDayID returns local midnight of the day id in loc.
func ParseDayID(id string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DayIDLayout, id, orUTC(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day id %q: %w", id, err)
	}
	return t, nil
}

// AddDays shifts a day id by n calendar days.
func AddDays(id string, n int) (string, error) {
	// Date-only arithmetic in UTC never crosses a DST transition.
	t, err := ParseDayID(id, time.UTC)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DayIDLayout), nil
}

// DaysBetween counts calendar days from the day of from to the day of to,
// both taken in loc. It is negative when to precedes from.
func DaysBetween(from, to time.Time, loc *time.Location) int {
	loc = orUTC(loc)
	fy, fm, fd := from.In(loc).Date()
	ty, tm, td := to.In(loc).Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// ─── Resolver ───────────────────────────────────────────────────────────────

// Resolver binds zone lookup, the week convention and a clock.
type Resolver struct {
	Fallback     *time.Location
	FirstWeekday time.Weekday
	Now          func() time.Time
}

// NewResolver returns a resolver whose failed lookups fall back to the
// named zone, or UTC if that name is itself unknown.
func NewResolver(fallback string) *Resolver {
	loc, err := time.LoadLocation(strings.TrimSpace(fallback))
	if err != nil || strings.TrimSpace(fallback) == "" {
		loc = time.UTC
	}
	return &Resolver{
		Fallback:     loc,
		FirstWeekday: time.Sunday,
		Now:          time.Now,
	}
}

// Location resolves an IANA zone name. Blank or unknown names yield the
// fallback zone.
func (r *Resolver) Location(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if r.Fallback != nil {
		return r.Fallback
	}
	return time.UTC
}

// NowTime returns the resolver clock's current instant.
func (r *Resolver) NowTime() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// Today returns the current day id in loc.
func (r *Resolver) Today(loc *time.Location) string {
	return DayID(r.NowTime(), loc)
}

// LastNWeekStarts returns the latest n week starts in loc.
func (r *Resolver) LastNWeekStarts(n int, loc *time.Location) []time.Time {
	return LastNWeekStarts(r.NowTime(), n, loc, r.FirstWeekday)
}
