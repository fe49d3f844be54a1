package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// CYCLE - The billing period
// =============================================================================

// Cycle is a billing cycle: one calendar month. Exactly one bill is issued per
// billable unit per cycle.
type Cycle struct {
	Year  int
	Month time.Month
}

const cycleLayout = "2006-01"

func NewCycle(year int, month time.Month) Cycle {
	return Cycle{Year: year, Month: month}
}

// ParseCycle parses "YYYY-MM".
func ParseCycle(s string) (Cycle, error) {
	t, err := time.Parse(cycleLayout, s)
	if err != nil {
		return Cycle{}, fmt.Errorf("invalid cycle %q (use YYYY-MM): %w", s, err)
	}
	return Cycle{Year: t.Year(), Month: t.Month()}, nil
}

// CycleOf returns the cycle containing the date.
func CycleOf(d Date) Cycle {
	return Cycle{Year: d.Year, Month: d.Month}
}

// DueDate combines the cycle with a due day, clamping to the month's last day
// (due day 31 in April becomes April 30).
func (c Cycle) DueDate(dueDay int) Date {
	last := DaysInMonth(c.Year, c.Month)
	if dueDay > last {
		dueDay = last
	}
	if dueDay < 1 {
		dueDay = 1
	}
	return NewDate(c.Year, c.Month, dueDay)
}

// Start returns the first day of the cycle.
func (c Cycle) Start() Date { return NewDate(c.Year, c.Month, 1) }

// End returns the last day of the cycle.
func (c Cycle) End() Date { return c.DueDate(31) }

// Contains returns true if the date is within the cycle.
func (c Cycle) Contains(d Date) bool {
	return d.Year == c.Year && d.Month == c.Month
}

// Next returns the cycle following this one.
func (c Cycle) Next() Cycle {
	t := time.Date(c.Year, c.Month+1, 1, 0, 0, 0, 0, time.UTC)
	return Cycle{Year: t.Year(), Month: t.Month()}
}

func (c Cycle) IsZero() bool { return c.Year == 0 && c.Month == 0 }

func (c Cycle) String() string {
	return fmt.Sprintf("%04d-%02d", c.Year, int(c.Month))
}
