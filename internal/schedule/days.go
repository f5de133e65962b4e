package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the upstream date format (DD/MM/YYYY).
const DateLayout = "02/01/2006"

// ParseError reports a collection date that does not match DateLayout.
type ParseError struct {
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse collection date %q: %v", e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseDate parses a DD/MM/YYYY string as a calendar date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, &ParseError{Value: s, Err: err}
	}
	return t, nil
}

// DaysBetween returns the number of calendar days from now's date to
// target's date. Time of day and DST transitions never affect the result.
func DaysBetween(target, now time.Time) int {
	a := time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(a.Sub(b).Hours() / 24)
}

// Describe renders a day count the way the dashboard shows it.
func Describe(days int) string {
	switch days {
	case 0:
		return "Today"
	case 1:
		return "Tomorrow"
	default:
		return strconv.Itoa(days) + " days"
	}
}

// DaysUntil describes how far the DD/MM/YYYY date is from now's local date:
// "Today", "Tomorrow" or "<n> days" (negative for past dates).
// A malformed date yields a *ParseError.
func DaysUntil(date string, now time.Time) (string, error) {
	t, err := ParseDate(date, now.Location())
	if err != nil {
		return "", err
	}
	return Describe(DaysBetween(t, now)), nil
}

// DaysUntilToday is DaysUntil against the wall clock.
func DaysUntilToday(date string) (string, error) {
	return DaysUntil(date, time.Now())
}
