package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar date in a society's time zone
// =============================================================================

// Date is a calendar day with no time-of-day component. Due dates and grace
// windows are expressed in dates; payment timestamps are instants that get
// converted with DateIn before any due-day comparison.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// DateIn returns the calendar date of the instant t as observed in loc.
func DateIn(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(t.In(loc))
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(other Date) bool        { return d.midnight().Before(other.midnight()) }
func (d Date) Equal(other Date) bool         { return d.midnight().Equal(other.midnight()) }
func (d Date) After(other Date) bool         { return d.midnight().After(other.midnight()) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

func (d Date) midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (d Date) AddDays(n int) Date { return DateOf(d.midnight().AddDate(0, 0, n)) }

func (d Date) IsZero() bool   { return d.Year == 0 && d.Month == 0 && d.Day == 0 }
func (d Date) String() string { return d.midnight().Format(dateLayout) }

// Time returns midnight UTC of the date, for storage.
func (d Date) Time() time.Time { return d.midnight() }

// =============================================================================
// TIME UTILITIES
// =============================================================================

// DaysBetween returns the whole days from -> to (negative when to is earlier).
func DaysBetween(from, to Date) int {
	return int(to.midnight().Sub(from.midnight()).Hours() / 24)
}

// DaysInMonth returns the number of days of the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Clock supplies the current instant. Services take a Clock so tests can pin time.
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time { return time.Now() }
