package monitor

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// nextExpected returns the next time a check-in is due after from, given
// sched. Cron expressions use the standard five-field syntax; robfig/cron
// already implements the same schedule algebra the background scheduler
// (component M) runs on.
func nextExpected(sched Schedule, from time.Time) (time.Time, error) {
	switch sched.Kind {
	case ScheduleCron:
		parsed, err := cron.ParseStandard(sched.CronExpression)
		if err != nil {
			return time.Time{}, fmt.Errorf("monitor: parse cron expression %q: %w", sched.CronExpression, err)
		}
		return parsed.Next(from), nil
	case ScheduleInterval:
		if sched.IntervalMinutes <= 0 {
			return time.Time{}, fmt.Errorf("monitor: interval minutes must be positive")
		}
		return from.Add(time.Duration(sched.IntervalMinutes) * time.Minute), nil
	default:
		return time.Time{}, fmt.Errorf("monitor: unknown schedule kind %d", sched.Kind)
	}
}
