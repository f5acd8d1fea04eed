package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// staggeredSchedule wraps a fixed-interval cron.Schedule and offsets only
// its first computed run, so a scheduler with many jobs on round
// intervals doesn't tick them all in lockstep.
type staggeredSchedule struct {
	inner   cron.Schedule
	stagger time.Duration
	fired   bool
}

func staggered(interval, stagger time.Duration) cron.Schedule {
	return &staggeredSchedule{inner: cron.Every(interval), stagger: stagger}
}

// Next satisfies cron.Schedule.
func (s *staggeredSchedule) Next(t time.Time) time.Time {
	if !s.fired {
		s.fired = true
		return s.inner.Next(t.Add(s.stagger))
	}
	return s.inner.Next(t)
}
