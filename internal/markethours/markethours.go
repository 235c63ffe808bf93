// Package markethours implements the TradingHoursGate from spec.md §4.11: a timezone-aware
// active-window evaluator correct across DST transitions, generalized from an exchange-keyed
// market-hours package with Easter/Nth-weekday holiday-rule machinery. Per spec.md §4.11's
// explicit instruction that "weekend/holiday gating is explicitly not part of this gate",
// IsActive and NextActiveBoundary never consult the holiday calendar. The daemon loop and
// its maintenance cadence (internal/daemon) do not consult it either; IsHoliday is the only
// way to query it.
package markethours

import "time"

// CalendarType selects the Easter-calculation rule (Western vs Orthodox).
type CalendarType int

const (
	Gregorian CalendarType = iota
	Julian
)

// TradingHours is a single regular open/close window in local market time.
type TradingHours struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

// FixedDateHoliday is a holiday on a fixed month/day, optionally observed on the nearest
// weekday when it falls on a weekend.
type FixedDateHoliday struct {
	Month            int
	Day              int
	ObserveOnWeekday bool
}

// RuleBasedHoliday is the Nth (or last, N=-1) occurrence of a weekday in a month.
type RuleBasedHoliday struct {
	Month   int
	Weekday time.Weekday
	N       int
}

// EasterBasedHoliday is a fixed offset in days from Easter Sunday.
type EasterBasedHoliday struct {
	DaysOffset int
}

// HolidayCalendar is a named exchange's holiday rule set.
type HolidayCalendar struct {
	FixedDateHolidays  []FixedDateHoliday
	RuleBasedHolidays  []RuleBasedHoliday
	EasterBasedHolidays []EasterBasedHoliday
	EasterType         CalendarType
}

// Gate evaluates the single configured market's active trading window.
type Gate struct {
	Timezone *time.Location
	Hours    TradingHours
	Holidays HolidayCalendar

	holidayCache map[int][]time.Time
}

// New creates a Gate for one market timezone and daily trading window.
func New(tz *time.Location, hours TradingHours, holidays HolidayCalendar) *Gate {
	return &Gate{Timezone: tz, Hours: hours, Holidays: holidays, holidayCache: make(map[int][]time.Time)}
}

// IsActive reports whether nowUTC falls within the configured trading window in market
// local time. DST transitions are handled entirely by time.Time.In, so a day with 23 or 25
// hours is still evaluated correctly against the local wall-clock open/close times. Weekend
// and holiday gating are deliberately excluded (spec.md §4.11): the caller's scheduler
// simply fetches nothing on those days.
func (g *Gate) IsActive(nowUTC time.Time) bool {
	local := nowUTC.In(g.Timezone)
	open := time.Date(local.Year(), local.Month(), local.Day(), g.Hours.OpenHour, g.Hours.OpenMinute, 0, 0, g.Timezone)
	close_ := time.Date(local.Year(), local.Month(), local.Day(), g.Hours.CloseHour, g.Hours.CloseMinute, 0, 0, g.Timezone)
	return !local.Before(open) && local.Before(close_)
}

// NextActiveBoundary returns the next instant at which IsActive's return value would flip:
// either the opening of the current or next day's window (if currently inactive) or the
// close of today's window (if currently active).
func (g *Gate) NextActiveBoundary(nowUTC time.Time) time.Time {
	local := nowUTC.In(g.Timezone)

	if g.IsActive(nowUTC) {
		return time.Date(local.Year(), local.Month(), local.Day(), g.Hours.CloseHour, g.Hours.CloseMinute, 0, 0, g.Timezone)
	}

	open := time.Date(local.Year(), local.Month(), local.Day(), g.Hours.OpenHour, g.Hours.OpenMinute, 0, 0, g.Timezone)
	if local.Before(open) {
		return open
	}
	next := local.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), g.Hours.OpenHour, g.Hours.OpenMinute, 0, 0, g.Timezone)
}

// IsHoliday reports whether date (interpreted in the gate's market timezone) is a
// configured holiday. Not consulted by IsActive or by the daemon loop.
func (g *Gate) IsHoliday(date time.Time) bool {
	local := date.In(g.Timezone)
	dateStr := local.Format("2006-01-02")
	for _, h := range g.holidaysForYear(local.Year()) {
		if h.Format("2006-01-02") == dateStr {
			return true
		}
	}
	return false
}

func (g *Gate) holidaysForYear(year int) []time.Time {
	if cached, ok := g.holidayCache[year]; ok {
		return cached
	}

	var holidays []time.Time
	for _, h := range g.Holidays.FixedDateHolidays {
		date := time.Date(year, time.Month(h.Month), h.Day, 0, 0, 0, 0, g.Timezone)
		if h.ObserveOnWeekday {
			date = observeOnWeekday(date)
		}
		holidays = append(holidays, date)
	}
	for _, h := range g.Holidays.RuleBasedHolidays {
		if h.N == -1 {
			holidays = append(holidays, findLastWeekday(year, h.Month, h.Weekday, g.Timezone))
		} else {
			holidays = append(holidays, findNthWeekday(year, h.Month, h.Weekday, h.N, g.Timezone))
		}
	}
	for _, h := range g.Holidays.EasterBasedHolidays {
		easter := CalculateEaster(year, g.Holidays.EasterType)
		holidays = append(holidays, easter.AddDate(0, 0, h.DaysOffset))
	}

	g.holidayCache[year] = holidays
	return holidays
}

// CalculateEaster computes Easter Sunday for year under the given calendar, ported from the
// teacher's holidays.go computus implementation.
func CalculateEaster(year int, calendarType CalendarType) time.Time {
	if calendarType == Julian {
		return calculateJulianEaster(year)
	}
	return calculateGregorianEaster(year)
}

func calculateGregorianEaster(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := ((h + l - 7*m + 114) % 31) + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func calculateJulianEaster(year int) time.Time {
	a := year % 19
	b := year % 4
	c := year % 7
	d := (19*a + 15) % 30
	e := (2*b + 4*c + 6*d + 6) % 7
	julianEasterDay := 22 + d + e
	julianMonth := time.Month(3)
	if julianEasterDay > 31 {
		julianEasterDay -= 31
		julianMonth = 4
	}
	julianDate := time.Date(year, julianMonth, julianEasterDay, 0, 0, 0, 0, time.UTC)
	return julianDate.AddDate(0, 0, 13) // valid for 1900-2099
}

func findNthWeekday(year, month int, weekday time.Weekday, n int, loc *time.Location) time.Time {
	date := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
	daysToAdd := int(weekday - date.Weekday())
	if daysToAdd < 0 {
		daysToAdd += 7
	}
	date = date.AddDate(0, 0, daysToAdd)
	return date.AddDate(0, 0, (n-1)*7)
}

func findLastWeekday(year, month int, weekday time.Weekday, loc *time.Location) time.Time {
	date := time.Date(year, time.Month(month+1), 0, 0, 0, 0, 0, loc)
	daysToSubtract := int(date.Weekday() - weekday)
	if daysToSubtract < 0 {
		daysToSubtract += 7
	}
	return date.AddDate(0, 0, -daysToSubtract)
}

func observeOnWeekday(date time.Time) time.Time {
	switch date.Weekday() {
	case time.Saturday:
		return date.AddDate(0, 0, -1)
	case time.Sunday:
		return date.AddDate(0, 0, 1)
	default:
		return date
	}
}

// USHolidays returns the standard US market holiday calendar as a ready-made HolidayCalendar
// for the common case.
func USHolidays() HolidayCalendar {
	return HolidayCalendar{
		EasterType: Gregorian,
		FixedDateHolidays: []FixedDateHoliday{
			{Month: 1, Day: 1, ObserveOnWeekday: true},   // New Year's Day
			{Month: 6, Day: 19, ObserveOnWeekday: true},  // Juneteenth
			{Month: 7, Day: 4, ObserveOnWeekday: true},   // Independence Day
			{Month: 12, Day: 25, ObserveOnWeekday: true}, // Christmas
		},
		RuleBasedHolidays: []RuleBasedHoliday{
			{Month: 1, Weekday: time.Monday, N: 3},   // MLK Day
			{Month: 2, Weekday: time.Monday, N: 3},   // Presidents Day
			{Month: 5, Weekday: time.Monday, N: -1},  // Memorial Day
			{Month: 9, Weekday: time.Monday, N: 1},   // Labor Day
			{Month: 11, Weekday: time.Thursday, N: 4}, // Thanksgiving
		},
		EasterBasedHolidays: []EasterBasedHoliday{
			{DaysOffset: -2}, // Good Friday
		},
	}
}
