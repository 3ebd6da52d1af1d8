package schedcalc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEveryMinuteFiresWithinSameMinute(t *testing.T) {
	r := EveryMinute(30)
	after := time.Date(2026, 7, 30, 12, 0, 10, 0, time.UTC)
	want := time.Date(2026, 7, 30, 12, 0, 30, 0, time.UTC)
	assert.Equal(t, want, r.NextDate(after))
}

func TestEveryMinuteRollsOverYearBoundary(t *testing.T) {
	r := EveryMinute(0)
	after := time.Date(2026, 12, 31, 23, 59, 30, 0, time.UTC)
	want := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, want, r.NextDate(after))
}

func TestDailyOnLeapYearFeb29(t *testing.T) {
	r := Daily(9, 0, time.UTC)
	after := time.Date(2028, 2, 28, 10, 0, 0, 0, time.UTC)
	want := time.Date(2028, 2, 29, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, want, r.NextDate(after))
}

func TestMonthlyRollsOverYearBoundary(t *testing.T) {
	r := Monthly(31, 0, 0, time.UTC)
	after := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	// January has a 31st; the next fire is Jan 31 of the following year, not
	// a clamp to a shorter month.
	want := time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, want, r.NextDate(after))
}

func TestMonthlySkipsFebruaryWhenDayOfMonthIs31(t *testing.T) {
	r := Monthly(31, 0, 0, time.UTC)
	after := time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC)
	want := time.Date(2027, 3, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, want, r.NextDate(after))
}

func TestHourlyFiresAtGivenMinute(t *testing.T) {
	r := Hourly(15)
	after := time.Date(2026, 7, 30, 12, 20, 0, 0, time.UTC)
	want := time.Date(2026, 7, 30, 13, 15, 0, 0, time.UTC)
	assert.Equal(t, want, r.NextDate(after))
}

func TestWeeklyFiresOnGivenWeekday(t *testing.T) {
	r := Weekly(time.Monday, 9, 0, time.UTC)
	// 2026-07-30 is a Thursday.
	after := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	want := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, want, r.NextDate(after))
}

func TestDailyDefaultsNilLocationToUTC(t *testing.T) {
	r := Daily(6, 0, nil)
	after := time.Date(2026, 7, 30, 7, 0, 0, 0, time.UTC)
	want := time.Date(2026, 7, 31, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, want, r.NextDate(after))
}

func TestNextDateIsStrictlyAfter(t *testing.T) {
	r := EveryMinute(0)
	after := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	got := r.NextDate(after)
	assert.True(t, got.After(after))
}
