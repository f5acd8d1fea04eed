package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loom-platform/loom/infrastructure/logging"
	"github.com/robfig/cron/v3"
)

const (
	// staggerStep spaces each successively-registered job's first tick,
	// bounded by maxStagger so a long job list doesn't push later jobs'
	// first runs out arbitrarily far.
	staggerStep = 2 * time.Second
	maxStagger  = 30 * time.Second

	historyPurgeInterval = 24 * time.Hour
)

// Config configures a Scheduler.
type Config struct {
	Logger               *logging.Logger
	HistoryRetentionDays int
}

// Scheduler owns a set of independent periodic jobs plus the scheduler's
// own daily history-purge job.
type Scheduler struct {
	cron   *cron.Cron
	logger *logging.Logger

	historyRetention time.Duration
	registered       int

	mu      sync.Mutex
	history []Record
}

// New creates a Scheduler. Call Register for each job, then Start.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logging.New("scheduler", "info", "json")
	}
	retentionDays := cfg.HistoryRetentionDays
	if retentionDays <= 0 {
		retentionDays = 30
	}

	s := &Scheduler{
		cron:             cron.New(),
		logger:           cfg.Logger,
		historyRetention: time.Duration(retentionDays) * 24 * time.Hour,
	}
	s.cron.Schedule(staggered(historyPurgeInterval, 0), cron.FuncJob(s.purgeHistory))
	return s
}

// Register adds a job to the scheduler, staggering its first tick a
// little further than the previously registered job's.
func (s *Scheduler) Register(job Job) {
	stagger := time.Duration(s.registered+1) * staggerStep
	if stagger > maxStagger {
		stagger = maxStagger
	}
	s.registered++

	s.cron.Schedule(staggered(job.Interval, stagger), cron.FuncJob(func() {
		s.runOnce(job)
	}))
}

// Start begins running registered jobs on their schedules. It returns
// immediately; jobs run on the cron instance's own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts all jobs after any in-flight tick completes.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// History returns a snapshot of retained job records, most recent last.
func (s *Scheduler) History() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Scheduler) runOnce(job Job) {
	rec := Record{Name: job.Name, StartedAt: time.Now()}
	s.logger.Info(context.Background(), "job tick started", map[string]interface{}{"job": job.Name})

	err := s.runGuarded(job)

	rec.EndedAt = time.Now()
	if err != nil {
		rec.Err = err.Error()
		s.logger.Error(context.Background(), "job tick failed", err, map[string]interface{}{
			"job":         job.Name,
			"duration_ms": rec.EndedAt.Sub(rec.StartedAt).Milliseconds(),
		})
	} else {
		s.logger.Info(context.Background(), "job tick finished", map[string]interface{}{
			"job":         job.Name,
			"duration_ms": rec.EndedAt.Sub(rec.StartedAt).Milliseconds(),
		})
	}

	s.mu.Lock()
	s.history = append(s.history, rec)
	s.mu.Unlock()
}

// runGuarded isolates one job's panic or error so it cannot affect any
// other registered job.
func (s *Scheduler) runGuarded(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(context.Background())
}

// purgeHistory drops completed job records older than the retention
// window. Runs as the scheduler's own daily job.
func (s *Scheduler) purgeHistory() {
	cutoff := time.Now().Add(-s.historyRetention)

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.history[:0]
	for _, rec := range s.history {
		if rec.EndedAt.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	s.history = kept
}
