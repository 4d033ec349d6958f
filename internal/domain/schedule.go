package domain

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DailySchedule returns a cron schedule that fires every day at the given local time in tz.
// The CRON_TZ prefix makes the schedule evaluate wall-clock time in that zone, so daylight
// saving shifts move the UTC instant while the local time stays fixed.
func DailySchedule(at ClockTime, tz string) (cron.Schedule, error) {
	if _, err := ValidateTZ(tz); err != nil {
		return nil, err
	}
	spec := fmt.Sprintf("CRON_TZ=%s %d %d * * *", tz, at.Minute, at.Hour)
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return sched, nil
}

// NextFire computes the first instant strictly after `after` whose local time in tz equals at.
// A local time that falls into a spring-forward gap fires at the first instant after the gap
// on that same day. The result is in UTC.
func NextFire(after time.Time, at ClockTime, tz string) (time.Time, error) {
	sched, err := DailySchedule(at, tz)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("load tz %q: %w", tz, err)
	}
	next := sched.Next(after)
	// cron skips a day on which the wall time does not exist; time.Date moves it past the gap.
	if wall := nextWallTime(after, at, loc); !wall.IsZero() && (next.IsZero() || wall.Before(next)) {
		next = wall
	}
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("no next occurrence of %s in %s", at, tz)
	}
	return next.UTC(), nil
}

func nextWallTime(after time.Time, at ClockTime, loc *time.Location) time.Time {
	local := after.In(loc)
	for i := 0; i < 2; i++ {
		t := time.Date(local.Year(), local.Month(), local.Day()+i, at.Hour, at.Minute, 0, 0, loc)
		if t.After(after) {
			return t
		}
	}
	return time.Time{}
}
