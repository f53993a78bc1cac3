package domain

import (
	"fmt"
	"time"
)

// CadenceKind selects between interval and fixed local-time schedules.
type CadenceKind string

const (
	CadenceInterval CadenceKind = "interval"
	CadenceDailyAt  CadenceKind = "daily"
)

// Cadence describes when runs recur. Interval cadences fire every
// Interval; daily cadences fire at Hour:Minute local wall-clock time.
type Cadence struct {
	Kind     CadenceKind
	Interval time.Duration
	Hour     int
	Minute   int
}

// Validate rejects cadences the scheduler cannot anchor.
func (c Cadence) Validate() error {
	switch c.Kind {
	case CadenceInterval:
		if c.Interval < time.Minute {
			return fmt.Errorf("interval cadence below one minute: %s", c.Interval)
		}
	case CadenceDailyAt:
		if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
			return fmt.Errorf("daily cadence out of range: %02d:%02d", c.Hour, c.Minute)
		}
	default:
		return fmt.Errorf("unknown cadence kind %q", c.Kind)
	}
	return nil
}

// ScheduleEntry is the scheduler's per-owner state.
type ScheduleEntry struct {
	OwnerID  string
	Cadence  Cadence
	Timezone string
	NextDue  time.Time
}

// Location resolves the entry timezone, falling back to UTC.
func (e ScheduleEntry) Location() *time.Location {
	if loc, err := time.LoadLocation(e.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

// NextAfter computes the first due time strictly after t.
//
// Daily cadences are computed in the entry's location with time.Date,
// which normalizes wall-clock times that a DST transition removes: a
// schedule at 02:30 on a spring-forward day still yields exactly one
// firing for that calendar day. Interval cadences are anchored on the
// previous due time, so execution latency does not accumulate drift.
func (e ScheduleEntry) NextAfter(t time.Time) time.Time {
	switch e.Cadence.Kind {
	case CadenceDailyAt:
		loc := e.Location()
		local := t.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(),
			e.Cadence.Hour, e.Cadence.Minute, 0, 0, loc)
		for !next.After(t) {
			local = local.AddDate(0, 0, 1)
			next = time.Date(local.Year(), local.Month(), local.Day(),
				e.Cadence.Hour, e.Cadence.Minute, 0, 0, loc)
		}
		return next
	default:
		next := e.NextDue
		if next.IsZero() {
			return t.Add(e.Cadence.Interval)
		}
		for !next.After(t) {
			next = next.Add(e.Cadence.Interval)
		}
		return next
	}
}
