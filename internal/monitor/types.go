// Package monitor implements cron check-in monitoring: a monitor is a
// scheduled job a client pings on success, and the server tracks whether
// those pings keep arriving inside the job's expected window.
package monitor

import (
	"time"

	"github.com/loom-platform/loom/infrastructure/ids"
)

// ScheduleKind distinguishes a monitor's schedule representation.
type ScheduleKind int

const (
	ScheduleCron ScheduleKind = iota
	ScheduleInterval
)

// Schedule is the tagged union over a monitor's expected cadence.
type Schedule struct {
	Kind            ScheduleKind
	CronExpression  string // set when Kind == ScheduleCron
	IntervalMinutes int    // set when Kind == ScheduleInterval
}

// Health is the current state of a monitor, derived from its check-in
// history and schedule.
type Health int

const (
	HealthUnknown Health = iota
	HealthHealthy
	HealthLate
	HealthFailed
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthLate:
		return "late"
	case HealthFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Monitor is a cron job a client is expected to check in with, on the
// cadence described by Schedule.
type Monitor struct {
	ID                   ids.MonitorID
	OrgID                ids.OrgID
	Slug                 string
	Name                 string
	Schedule             Schedule
	Timezone             string
	CheckinMarginMinutes int
	MaxRuntimeMinutes    *int
	PingKey              string

	Health             Health
	LastCheckinAt      *time.Time
	NextExpectedAt     *time.Time
	ConsecutiveFailures int
	TotalCheckins      int
	TotalFailures      int
}
