package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/maintenance-engine/generic"
)

func TestCycle_DueDateClampsToMonthEnd(t *testing.T) {
	tests := []struct {
		name   string
		cycle  generic.Cycle
		dueDay int
		want   string
	}{
		{"inside month", generic.NewCycle(2025, time.March), 5, "2025-03-05"},
		{"april has 30 days", generic.NewCycle(2025, time.April), 31, "2025-04-30"},
		{"february", generic.NewCycle(2025, time.February), 30, "2025-02-28"},
		{"leap february", generic.NewCycle(2024, time.February), 31, "2024-02-29"},
		{"december", generic.NewCycle(2025, time.December), 31, "2025-12-31"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cycle.DueDate(tt.dueDay).String())
		})
	}
}

func TestCycle_Parse(t *testing.T) {
	c, err := generic.ParseCycle("2025-03")
	require.NoError(t, err)
	assert.Equal(t, generic.NewCycle(2025, time.March), c)
	assert.Equal(t, "2025-03", c.String())

	for _, bad := range []string{"", "2025-13", "03-2025", "2025/03"} {
		_, err := generic.ParseCycle(bad)
		assert.Error(t, err, bad)
	}
}

func TestCycle_NextAndContains(t *testing.T) {
	dec := generic.NewCycle(2025, time.December)
	assert.Equal(t, generic.NewCycle(2026, time.January), dec.Next())

	assert.True(t, dec.Contains(generic.NewDate(2025, time.December, 31)))
	assert.False(t, dec.Contains(generic.NewDate(2026, time.January, 1)))
	assert.Equal(t, dec, generic.CycleOf(generic.NewDate(2025, time.December, 15)))
}

func TestDate_InLocation(t *testing.T) {
	// 20:00 UTC on the 5th is already the 6th in Kolkata
	instant := time.Date(2025, time.March, 5, 20, 0, 0, 0, time.UTC)
	kolkata := time.FixedZone("IST", 5*3600+1800)

	assert.Equal(t, "2025-03-05", generic.DateIn(instant, time.UTC).String())
	assert.Equal(t, "2025-03-06", generic.DateIn(instant, kolkata).String())
	assert.Equal(t, "2025-03-05", generic.DateIn(instant, nil).String())
}

func TestDate_Arithmetic(t *testing.T) {
	d := generic.NewDate(2025, time.February, 27)
	assert.Equal(t, "2025-03-02", d.AddDays(3).String())
	assert.Equal(t, 3, generic.DaysBetween(d, d.AddDays(3)))
	assert.Equal(t, -3, generic.DaysBetween(d.AddDays(3), d))

	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.BeforeOrEqual(d))
	assert.True(t, d.AddDays(1).After(d))

	parsed, err := generic.ParseDate("2025-02-27")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(d))

	_, err = generic.ParseDate("27/02/2025")
	assert.Error(t, err)
}
