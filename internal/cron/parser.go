package cron

import (
	"fmt"
	"strconv"
	"strings"
)

// field describes the bounds of one cron field
type field struct {
	name     string
	min, max int
}

var fields = [5]field{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// set is a bitmask of the values a field accepts
type set uint64

func (s set) has(v int) bool {
	return s&(1<<uint(v)) != 0
}

func span(lo, hi, step int) set {
	var s set
	for v := lo; v <= hi; v += step {
		s |= 1 << uint(v)
	}
	return s
}

func parse(expr string) (*Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(fields) {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(parts))
	}

	var sets [5]set
	for i, f := range fields {
		s, err := parseField(parts[i], f)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", f.name, err)
		}
		sets[i] = s
	}

	sched := &Schedule{
		minutes:     sets[0],
		hours:       sets[1],
		daysOfMonth: sets[2],
		months:      sets[3],
		daysOfWeek:  sets[4],
		domAny:      parts[2] == "*",
		dowAny:      parts[4] == "*",
		expr:        expr,
	}
	if !sched.anyValidDay() {
		return nil, fmt.Errorf("invalid cron expression %q: no month contains the requested days", expr)
	}
	return sched, nil
}

// parseField accepts a comma-separated list of terms, each one of
// "*", "N", "N-M", optionally followed by "/step".
func parseField(text string, f field) (set, error) {
	if text == "" {
		return 0, fmt.Errorf("empty field")
	}

	var out set
	for _, term := range strings.Split(text, ",") {
		s, err := parseTerm(term, f)
		if err != nil {
			return 0, err
		}
		out |= s
	}
	return out, nil
}

func parseTerm(term string, f field) (set, error) {
	if term == "" {
		return 0, fmt.Errorf("empty value in list")
	}

	base, stepText, hasStep := strings.Cut(term, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepText)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid step %q", stepText)
		}
		step = n
	}

	lo, hi := f.min, f.max
	switch {
	case base == "*":
	case strings.Contains(base, "-"):
		loText, hiText, _ := strings.Cut(base, "-")
		var err error
		if lo, err = bound(loText, f); err != nil {
			return 0, err
		}
		if hi, err = bound(hiText, f); err != nil {
			return 0, err
		}
		if lo > hi {
			return 0, fmt.Errorf("invalid range %q: start after end", base)
		}
	default:
		v, err := bound(base, f)
		if err != nil {
			return 0, err
		}
		lo = v
		if !hasStep {
			hi = v
		}
	}

	return span(lo, hi, step), nil
}

func bound(text string, f field) (int, error) {
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", text)
	}
	if v < f.min || v > f.max {
		return 0, fmt.Errorf("value %d out of bounds [%d, %d]", v, f.min, f.max)
	}
	return v, nil
}

// maxDays is the longest each month can be, counting leap years
var maxDays = [13]int{0, 31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// anyValidDay reports whether some selected month has a selected day
func (s *Schedule) anyValidDay() bool {
	if !s.dowAny {
		return true
	}
	for m := 1; m <= 12; m++ {
		if !s.months.has(m) {
			continue
		}
		for d := 1; d <= maxDays[m]; d++ {
			if s.daysOfMonth.has(d) {
				return true
			}
		}
	}
	return false
}
