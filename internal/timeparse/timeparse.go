// Package timeparse resolves the fixed time-expression grammar used by
// schedule commands against a reference clock and timezone.
//
// Supported forms:
//
//	now
//	in <n> minutes|hours|days
//	[today|tomorrow|<weekday>] HH:MM (24h) or H[:MM]am/pm
//	HH:MM                       (next occurrence)
//	2006-01-02 [HH:MM]
//
// Results are returned in UTC. A bare clock prefers the future: a time
// already past today resolves to tomorrow. An explicit "today" is kept
// literal so the scheduler's own past-time policy applies.
package timeparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseError reports an expression outside the grammar.
type ParseError struct {
	Expr string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("timeparse: cannot parse %q", e.Expr)
}

var (
	relativeRE = regexp.MustCompile(`^in\s+(\d+)\s*(minutes?|mins?|m|hours?|hrs?|h|days?|d)$`)
	clockRE    = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// Parse resolves expr relative to now in the given location.
func Parse(expr string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := strings.ToLower(strings.TrimSpace(expr))
	s = strings.TrimPrefix(s, "at ")
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &ParseError{Expr: expr}
	}

	local := now.In(loc)

	if s == "now" {
		return now.UTC(), nil
	}

	if m := relativeRE.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, &ParseError{Expr: expr}
		}
		var unit time.Duration
		switch m[2][0] {
		case 'm':
			unit = time.Minute
		case 'h':
			unit = time.Hour
		case 'd':
			unit = 24 * time.Hour
		}
		return now.Add(time.Duration(n) * unit).UTC(), nil
	}

	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02t15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}

	// [day-word] clock
	dayPart, clockPart := "", s
	if i := strings.IndexByte(s, ' '); i > 0 {
		dayPart, clockPart = s[:i], strings.TrimSpace(s[i+1:])
	}

	hour, minute, ok := parseClock(clockPart)
	if !ok {
		return time.Time{}, &ParseError{Expr: expr}
	}

	day := local
	switch {
	case dayPart == "":
		at := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		if !at.After(local) {
			at = at.AddDate(0, 0, 1)
		}
		return at.UTC(), nil
	case dayPart == "today":
		at := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		return at.UTC(), nil
	case dayPart == "tomorrow":
		day = day.AddDate(0, 0, 1)
		at := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		return at.UTC(), nil
	default:
		wd, ok := weekdays[dayPart]
		if !ok {
			return time.Time{}, &ParseError{Expr: expr}
		}
		ahead := (int(wd) - int(local.Weekday()) + 7) % 7
		day = day.AddDate(0, 0, ahead)
		at := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		if !at.After(local) {
			at = at.AddDate(0, 0, 7)
		}
		return at.UTC(), nil
	}
}

// parseClock accepts "08:55", "9:05", "9am", "12:30pm".
func parseClock(s string) (hour, minute int, ok bool) {
	m := clockRE.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, false
	}
	h, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	min := 0
	if m[2] != "" {
		min, err = strconv.Atoi(m[2])
		if err != nil || min > 59 {
			return 0, 0, false
		}
	}
	switch m[3] {
	case "am":
		if h < 1 || h > 12 {
			return 0, 0, false
		}
		if h == 12 {
			h = 0
		}
	case "pm":
		if h < 1 || h > 12 {
			return 0, 0, false
		}
		if h != 12 {
			h += 12
		}
	default:
		if h > 23 {
			return 0, 0, false
		}
		// Bare "9" without am/pm or minutes is too ambiguous to accept.
		if m[2] == "" {
			return 0, 0, false
		}
	}
	return h, min, true
}
