package permit

import (
	"fmt"
	"time"
)

// Date is a calendar date with day precision. The store keeps dates as ISO
// "YYYY-MM-DD" strings, which compare correctly both as SQL text and via
// the underlying time.Time here.
type Date struct {
	t time.Time
}

// ParseDate parses an ISO "YYYY-MM-DD" date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// ParseDMY parses the registry's "DD-MM-YYYY" day-month-year format.
// Empty or unparseable input yields the zero Date and an error; callers that
// treat the field as optional should drop the value, not fail.
func ParseDMY(s string) (Date, error) {
	t, err := time.Parse("02-01-2006", s)
	if err != nil {
		return Date{}, fmt.Errorf("parse day-month-year date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// DateOf builds a Date from year, month, day.
func DateOf(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Today returns the current calendar date in UTC.
func Today() Date {
	now := time.Now().UTC()
	return DateOf(now.Year(), now.Month(), now.Day())
}

func (d Date) String() string { return d.t.Format("2006-01-02") }

// PrevDay returns the day before d. Closing an ownership period uses this so
// the closed period ends exactly one day before the new period opens.
func (d Date) PrevDay() Date { return Date{t: d.t.AddDate(0, 0, -1)} }

func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }
func (d Date) IsZero() bool       { return d.t.IsZero() }
