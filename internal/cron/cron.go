// Package cron parses five-field cron expressions and computes fire times.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// searchLimit bounds Next for expressions that fire very rarely
const searchLimit = 5 * 366 * 24 * time.Hour

// Schedule is a parsed cron expression
type Schedule struct {
	minutes     set
	hours       set
	daysOfMonth set
	months      set
	daysOfWeek  set

	// A literal "*" in a day field leaves the other day field in charge.
	domAny bool
	dowAny bool

	expr string
}

// Parse parses a cron expression of the form
// "minute hour day-of-month month day-of-week"
func Parse(expr string) (*Schedule, error) {
	return parse(expr)
}

// String returns the original expression
func (s *Schedule) String() string {
	return s.expr
}

// Next returns the first fire time strictly after t, in t's location.
// The zero time is returned when nothing fires within five years.
func (s *Schedule) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(searchLimit)

	for t.Before(limit) {
		if !s.months.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !s.hours.has(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !s.minutes.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

// Matches reports whether t falls on a fire minute
func (s *Schedule) Matches(t time.Time) bool {
	return s.months.has(int(t.Month())) &&
		s.dayMatches(t) &&
		s.hours.has(t.Hour()) &&
		s.minutes.has(t.Minute())
}

// dayMatches follows the usual cron rule: when both day fields are
// restricted either may match.
func (s *Schedule) dayMatches(t time.Time) bool {
	dom := s.daysOfMonth.has(t.Day())
	dow := s.daysOfWeek.has(int(t.Weekday()))

	switch {
	case s.domAny && s.dowAny:
		return true
	case s.domAny:
		return dow
	case s.dowAny:
		return dom
	default:
		return dom || dow
	}
}

// ForFrequency builds the schedule for a maintenance cadence starting at
// the "HH:MM" kickoff time (empty means midnight). Weekly runs fire on
// Sunday and monthly runs on the first of the month.
func ForFrequency(frequency, kickoff string) (*Schedule, error) {
	hour, minute, err := ParseKickoff(kickoff)
	if err != nil {
		return nil, err
	}

	var expr string
	switch strings.ToLower(frequency) {
	case "hourly":
		expr = fmt.Sprintf("%d * * * *", minute)
	case "daily":
		expr = fmt.Sprintf("%d %d * * *", minute, hour)
	case "weekly":
		expr = fmt.Sprintf("%d %d * * 0", minute, hour)
	case "monthly":
		expr = fmt.Sprintf("%d %d 1 * *", minute, hour)
	default:
		return nil, fmt.Errorf("unknown frequency %q", frequency)
	}
	return Parse(expr)
}

// ParseKickoff splits an "HH:MM" time of day
func ParseKickoff(kickoff string) (hour, minute int, err error) {
	kickoff = strings.TrimSpace(kickoff)
	if kickoff == "" {
		return 0, 0, nil
	}

	h, m, ok := strings.Cut(kickoff, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid kickoff time %q: expected HH:MM", kickoff)
	}
	if hour, err = strconv.Atoi(h); err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid kickoff hour %q", h)
	}
	if minute, err = strconv.Atoi(m); err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid kickoff minute %q", m)
	}
	return hour, minute, nil
}
