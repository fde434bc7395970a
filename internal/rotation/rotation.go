// Package rotation decides which retention copies a backup taken on a given
// day receives.
package rotation

import (
	"time"

	"mrb/internal/util"
)

// Policy mirrors the rotation settings. A zero WeeklyDay or MonthlyDay
// disables that copy.
type Policy struct {
	Enabled    bool
	WeeklyDay  int // ISO weekday, Monday=1 .. Sunday=7
	MonthlyDay int // 1..31
	Latest     bool
}

// IsLeapYear applies the Gregorian rule.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DaysInMonth returns the number of days of month (1..12) in year.
func DaysInMonth(month, year int) int {
	days := 28 + (month+month/8)%2 + 2%month + 2*(1/month)
	if month == 2 && IsLeapYear(year) {
		days++
	}
	return days
}

// ISOWeekday returns Monday=1 .. Sunday=7.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func (p Policy) Weekly(now time.Time) bool {
	if !p.Enabled || p.WeeklyDay == 0 {
		return false
	}
	return ISOWeekday(now.UTC()) == p.WeeklyDay
}

// Monthly also fires on the last day of a month too short to contain
// MonthlyDay, so day 31 still yields one copy in a 30-day month.
func (p Policy) Monthly(now time.Time) bool {
	if !p.Enabled || p.MonthlyDay == 0 {
		return false
	}
	now = now.UTC()
	day := now.Day()
	if day == p.MonthlyDay {
		return true
	}
	last := DaysInMonth(int(now.Month()), now.Year())
	return day == last && last < p.MonthlyDay
}

// Slots returns the rotation slots that receive a copy at now, in the order
// the copies are made.
func (p Policy) Slots(now time.Time) []string {
	if !p.Enabled {
		return nil
	}
	var slots []string
	if p.Weekly(now) {
		slots = append(slots, util.SlotWeekly)
	}
	if p.Monthly(now) {
		slots = append(slots, util.SlotMonthly)
	}
	if p.Latest {
		slots = append(slots, util.SlotLatest)
	}
	return slots
}
