package markethours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newYorkGate(t *testing.T) *Gate {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return New(loc, TradingHours{OpenHour: 9, OpenMinute: 30, CloseHour: 16, CloseMinute: 0}, USHolidays())
}

func TestIsActive_DuringRegularHours(t *testing.T) {
	g := newYorkGate(t)
	// 2025-06-02 is a Monday; 14:00 UTC is 10:00 EDT.
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	require.True(t, g.IsActive(now))
}

func TestIsActive_BeforeOpen(t *testing.T) {
	g := newYorkGate(t)
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) // 08:00 EDT
	require.False(t, g.IsActive(now))
}

func TestIsActive_AfterClose(t *testing.T) {
	g := newYorkGate(t)
	now := time.Date(2025, 6, 2, 21, 0, 0, 0, time.UTC) // 17:00 EDT
	require.False(t, g.IsActive(now))
}

// TestIsActive_AcrossDSTSpringForward covers spec.md §4.11's "non-24h days around DST"
// requirement: the clock-time window must still be evaluated correctly the day US clocks
// spring forward (2025-03-09).
func TestIsActive_AcrossDSTSpringForward(t *testing.T) {
	g := newYorkGate(t)
	// 2025-03-09: EST->EDT transition at 2am local. 14:00 UTC is 10:00 EDT (market open).
	during := time.Date(2025, 3, 9, 14, 0, 0, 0, time.UTC)
	require.True(t, g.IsActive(during))
}

func TestIsActive_AcrossDSTFallBack(t *testing.T) {
	g := newYorkGate(t)
	// 2025-11-02: EDT->EST transition. 15:00 UTC is 10:00 EST (market open).
	during := time.Date(2025, 11, 2, 15, 0, 0, 0, time.UTC)
	require.True(t, g.IsActive(during))
}

func TestNextActiveBoundary_WhenInactiveReturnsTodayOpen(t *testing.T) {
	g := newYorkGate(t)
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) // 08:00 EDT, before open
	boundary := g.NextActiveBoundary(now)
	require.Equal(t, 9, boundary.Hour())
	require.Equal(t, 30, boundary.Minute())
}

func TestNextActiveBoundary_WhenActiveReturnsTodayClose(t *testing.T) {
	g := newYorkGate(t)
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC) // 10:00 EDT, active
	boundary := g.NextActiveBoundary(now)
	require.Equal(t, 16, boundary.Hour())
	require.Equal(t, 0, boundary.Minute())
}

func TestIsHoliday_Christmas(t *testing.T) {
	g := newYorkGate(t)
	christmas := time.Date(2025, 12, 25, 12, 0, 0, 0, time.UTC)
	require.True(t, g.IsHoliday(christmas))
}

func TestIsHoliday_ObservedOnNearestWeekday(t *testing.T) {
	g := newYorkGate(t)
	// July 4, 2026 falls on a Saturday; observed on Friday July 3.
	observed := time.Date(2026, 7, 3, 12, 0, 0, 0, time.UTC)
	require.True(t, g.IsHoliday(observed))
}

func TestIsHoliday_OrdinaryDayIsNotHoliday(t *testing.T) {
	g := newYorkGate(t)
	ordinary := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	require.False(t, g.IsHoliday(ordinary))
}

func TestCalculateEaster_KnownDates(t *testing.T) {
	require.Equal(t, "2025-04-20", CalculateEaster(2025, Gregorian).Format("2006-01-02"))
	require.Equal(t, "2024-03-31", CalculateEaster(2024, Gregorian).Format("2006-01-02"))
}
