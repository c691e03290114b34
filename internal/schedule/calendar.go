// Package schedule computes send timestamps under business-calendar rules.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/confra/outreach/internal/crm"
)

// Options holds the calendar constraints applied after the interval is added
type Options struct {
	SkipWeekends bool
	WorkingHours *crm.WorkingHours
	Timezone     string
}

// NextSendTime returns the next eligible send timestamp: from + interval,
// clamped to working hours and pushed off weekends as configured.
// It is deterministic and idempotent for identical inputs.
func NextSendTime(from time.Time, interval crm.Interval, opts Options) (time.Time, error) {
	if err := interval.Validate(); err != nil {
		return time.Time{}, fmt.Errorf("invalid interval: %w", err)
	}

	loc := time.UTC
	if opts.Timezone != "" {
		l, err := time.LoadLocation(opts.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %q: %w", opts.Timezone, err)
		}
		loc = l
	}

	next := from.In(loc)
	switch interval.Unit {
	case crm.UnitMinutes:
		next = next.Add(time.Duration(interval.Value) * time.Minute)
	case crm.UnitHours:
		next = next.Add(time.Duration(interval.Value) * time.Hour)
	case crm.UnitDays:
		// AddDate keeps the wall-clock time stable across DST changes
		next = next.AddDate(0, 0, interval.Value)
	}

	if opts.WorkingHours != nil {
		clamped, err := clampToWorkingHours(next, opts.WorkingHours)
		if err != nil {
			return time.Time{}, err
		}
		next = clamped
	}

	if opts.SkipWeekends {
		next = skipWeekend(next, opts.WorkingHours)
	}

	return next, nil
}

// skipWeekend advances day-by-day until the timestamp lands on a weekday.
// When working hours are configured, days added by the skip start at the
// window start rather than carrying the weekend wall-clock time.
func skipWeekend(t time.Time, wh *crm.WorkingHours) time.Time {
	moved := false
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, 1)
		moved = true
	}
	if moved && wh != nil {
		h, m, err := parseClock(wh.Start)
		if err == nil {
			t = time.Date(t.Year(), t.Month(), t.Day(), h, m, 0, 0, t.Location())
		}
	}
	return t
}

// clampToWorkingHours pushes a timestamp outside [start,end) to the next
// window start boundary.
func clampToWorkingHours(t time.Time, wh *crm.WorkingHours) (time.Time, error) {
	sh, sm, err := parseClock(wh.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid working hours start: %w", err)
	}
	eh, em, err := parseClock(wh.End)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid working hours end: %w", err)
	}

	start := time.Date(t.Year(), t.Month(), t.Day(), sh, sm, 0, 0, t.Location())
	end := time.Date(t.Year(), t.Month(), t.Day(), eh, em, 0, 0, t.Location())
	if !end.After(start) {
		return time.Time{}, fmt.Errorf("working hours end %q is not after start %q", wh.End, wh.Start)
	}

	switch {
	case t.Before(start):
		return start, nil
	case !t.Before(end):
		return start.AddDate(0, 0, 1), nil
	default:
		return t, nil
	}
}

// parseClock parses an "HH:MM" 24h clock value.
func parseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed clock value %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("malformed clock value %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("malformed clock value %q", s)
	}
	return hour, minute, nil
}
