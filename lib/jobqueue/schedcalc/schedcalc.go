// Package schedcalc computes the next fire instant for a recurrence rule.
//
// Each Recurrence variant compiles to a 6-field (seconds-enabled) cron
// expression and delegates to github.com/robfig/cron/v3's
// cron.Schedule.Next, which already implements month-length skipping
// (a monthly(31) rule in a 30-day month rolls forward to the next month
// that has a 31st, rather than clamping) and correct DST/leap-year
// arithmetic by operating in the given time.Time's own Location — exactly
// what's needed to resolve O2 and the leap-year/DST requirements of
// spec.md §4.5 without hand-rolled calendar math.
package schedcalc

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Recurrence computes the next instant strictly after a given instant that
// matches a scheduling rule.
type Recurrence interface {
	// NextDate returns the earliest instant strictly greater than after
	// that matches the rule, evaluated in the rule's own Location.
	NextDate(after time.Time) time.Time
}

type cronRecurrence struct {
	expr string
	loc  *time.Location
	sched cron.Schedule
}

func newCronRecurrence(loc *time.Location, expr string) cronRecurrence {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		// Every variant below builds a syntactically fixed expression from
		// validated inputs; a parse failure here is a programming error.
		panic(fmt.Sprintf("schedcalc: invalid generated cron expression %q: %v", expr, err))
	}
	return cronRecurrence{expr: expr, loc: loc, sched: sched}
}

func (r cronRecurrence) NextDate(after time.Time) time.Time {
	return r.sched.Next(after.In(r.loc))
}

// EveryMinute fires once a minute, at the given second (0-59).
func EveryMinute(second int) Recurrence {
	return newCronRecurrence(time.UTC, fmt.Sprintf("%d * * * * *", second))
}

// Hourly fires once an hour, at the given minute (0-59).
func Hourly(minute int) Recurrence {
	return newCronRecurrence(time.UTC, fmt.Sprintf("0 %d * * * *", minute))
}

// Daily fires once a day, at hour:minute:00 in loc. A nil loc means UTC.
func Daily(hour, minute int, loc *time.Location) Recurrence {
	return newCronRecurrence(loc, fmt.Sprintf("0 %d %d * * *", minute, hour))
}

// Weekly fires once a week, on weekday at hour:minute:00 in loc.
func Weekly(weekday time.Weekday, hour, minute int, loc *time.Location) Recurrence {
	return newCronRecurrence(loc, fmt.Sprintf("0 %d %d * * %d", minute, hour, int(weekday)))
}

// Monthly fires once a month, on dayOfMonth (1-31) at hour:minute:00 in
// loc. Months that lack dayOfMonth are skipped (spec.md O2: skip, not
// clamp).
func Monthly(dayOfMonth, hour, minute int, loc *time.Location) Recurrence {
	return newCronRecurrence(loc, fmt.Sprintf("0 %d %d %d * *", minute, hour, dayOfMonth))
}
