// Package scheduler runs a set of independent periodic background jobs,
// staggering their first tick and logging each run's start, end, and
// outcome without letting one job's failure affect the others.
package scheduler

import (
	"context"
	"time"
)

// Job is one periodic unit of work.
type Job struct {
	// Name identifies the job in logs and history records.
	Name string
	// Interval is how often the job runs.
	Interval time.Duration
	// Run executes one tick. Its error is logged and recorded but never
	// propagated to other jobs.
	Run func(ctx context.Context) error
}

// Record is a completed job tick, retained for history_retention_days
// before being purged.
type Record struct {
	Name      string
	StartedAt time.Time
	EndedAt   time.Time
	Err       string
}
