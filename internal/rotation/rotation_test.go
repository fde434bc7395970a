package rotation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDaysInMonth(t *testing.T) {
	tests := []struct {
		month, year, want int
	}{
		{1, 2023, 31},
		{2, 2023, 28},
		{2, 2024, 29},
		{2, 1900, 28},
		{2, 2000, 29},
		{3, 2023, 31},
		{4, 2023, 30},
		{4, 2024, 30},
		{5, 2023, 31},
		{6, 2023, 30},
		{7, 2023, 31},
		{8, 2023, 31},
		{9, 2023, 30},
		{10, 2023, 31},
		{11, 2023, 30},
		{12, 2023, 31},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DaysInMonth(tt.month, tt.year), "month %d year %d", tt.month, tt.year)
	}
}

func TestDaysInMonthMatchesCalendar(t *testing.T) {
	for year := 1896; year <= 2104; year++ {
		for month := 1; month <= 12; month++ {
			firstOfNext := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
			want := firstOfNext.AddDate(0, 0, -1).Day()
			if got := DaysInMonth(month, year); got != want {
				t.Fatalf("DaysInMonth(%d, %d) = %d, want %d", month, year, got, want)
			}
		}
	}
}

func TestISOWeekday(t *testing.T) {
	// 2024-01-01 was a Monday.
	for i := 0; i < 7; i++ {
		day := time.Date(2024, 1, 1+i, 12, 0, 0, 0, time.UTC)
		assert.Equal(t, i+1, ISOWeekday(day), day.Weekday().String())
	}
}

func TestWeekly(t *testing.T) {
	saturday := time.Date(2024, 1, 6, 3, 0, 0, 0, time.UTC)
	sunday := time.Date(2024, 1, 7, 3, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		policy Policy
		now    time.Time
		want   bool
	}{
		{"matching day", Policy{Enabled: true, WeeklyDay: 6}, saturday, true},
		{"other day", Policy{Enabled: true, WeeklyDay: 6}, sunday, false},
		{"sunday is 7", Policy{Enabled: true, WeeklyDay: 7}, sunday, true},
		{"disabled day", Policy{Enabled: true, WeeklyDay: 0}, saturday, false},
		{"rotation off", Policy{Enabled: false, WeeklyDay: 6}, saturday, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Weekly(tt.now))
		})
	}

	t.Run("weekly day zero never matches", func(t *testing.T) {
		p := Policy{Enabled: true, WeeklyDay: 0}
		for i := 0; i < 7; i++ {
			assert.False(t, p.Weekly(saturday.AddDate(0, 0, i)))
		}
	})
}

func TestMonthly(t *testing.T) {
	date := func(y, m, d int) time.Time { return time.Date(y, time.Month(m), d, 1, 0, 0, 0, time.UTC) }

	tests := []struct {
		name       string
		monthlyDay int
		now        time.Time
		want       bool
	}{
		{"exact day", 1, date(2024, 5, 1), true},
		{"other day", 1, date(2024, 5, 2), false},
		{"31 in a 30 day month", 31, date(2024, 4, 30), true},
		{"31 on the 29th of a 30 day month", 31, date(2024, 4, 29), false},
		{"31 in a 31 day month waits", 31, date(2024, 5, 30), false},
		{"31 in a 31 day month", 31, date(2024, 5, 31), true},
		{"30 in leap february", 30, date(2024, 2, 29), true},
		{"29 in leap february", 29, date(2024, 2, 29), true},
		{"29 in common february", 29, date(2023, 2, 28), true},
		{"28 in leap february fires on 28th only", 28, date(2024, 2, 29), false},
		{"disabled", 0, date(2024, 4, 30), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{Enabled: true, MonthlyDay: tt.monthlyDay}
			assert.Equal(t, tt.want, p.Monthly(tt.now))
		})
	}
}

func TestSlots(t *testing.T) {
	// Saturday the 1st of June 2024.
	now := time.Date(2024, 6, 1, 0, 30, 0, 0, time.UTC)

	assert.Equal(t, []string{"weekly", "monthly", "latest"},
		Policy{Enabled: true, WeeklyDay: 6, MonthlyDay: 1, Latest: true}.Slots(now))
	assert.Equal(t, []string{"latest"},
		Policy{Enabled: true, WeeklyDay: 0, MonthlyDay: 0, Latest: true}.Slots(now))
	assert.Empty(t, Policy{Enabled: true, WeeklyDay: 1, MonthlyDay: 2}.Slots(now))
	assert.Empty(t, Policy{Enabled: false, WeeklyDay: 6, MonthlyDay: 1, Latest: true}.Slots(now))
}
