// Package release implements the release-health SDK session tracker:
// sampled session lifecycle reporting with atomic error/crash counters,
// safe to call from panic and signal handlers.
package release

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/loom-platform/loom/infrastructure/ids"
)

// Status is a session's terminal outcome, computed at shutdown.
type Status string

const (
	StatusExited  Status = "exited"
	StatusErrored Status = "errored"
	StatusCrashed Status = "crashed"
)

// StartEvent is POSTed when a sampled session begins.
type StartEvent struct {
	ProjectID   ids.ProjectID
	DistinctID  string
	Platform    string
	Environment string
	Release     string
	SampleRate  float64
}

// EndEvent is POSTed when a session ends, if it was sampled or crashed.
type EndEvent struct {
	ProjectID  ids.ProjectID
	SessionID  string
	Status     Status
	ErrorCount int64
	CrashCount int64
	DurationMs int64
}

// Transport delivers start/end events to the release-health backend. The
// HTTP detail of the request is out of scope here.
type Transport interface {
	Start(ctx context.Context, ev StartEvent) (authoritativeSessionID string, err error)
	End(ctx context.Context, ev EndEvent) error
}

// Session tracks one SDK run's error/crash counts and reports its
// lifecycle through Transport, subject to sampling.
type Session struct {
	transport Transport

	projectID   ids.ProjectID
	platform    string
	environment string
	release     string
	sampleRate  float64

	id        string
	sampled   bool
	startedAt time.Time

	errorCount int64
	crashCount int64
	ended      int32 // one-shot guard against double-end
}

// Config describes one SDK session's identifying metadata.
type Config struct {
	ProjectID   ids.ProjectID
	DistinctID  string
	Platform    string
	Environment string
	Release     string
	SampleRate  float64
}

// Start generates a session id, decides sampling deterministically, and
// (if sampled) reports a start event, adopting the backend's authoritative
// session id in its place.
func Start(ctx context.Context, transport Transport, cfg Config) (*Session, error) {
	sessionID, err := ids.NewSessionID()
	if err != nil {
		return nil, err
	}

	s := &Session{
		transport:   transport,
		projectID:   cfg.ProjectID,
		platform:    cfg.Platform,
		environment: cfg.Environment,
		release:     cfg.Release,
		sampleRate:  cfg.SampleRate,
		id:          sessionID.String(),
		startedAt:   time.Now(),
	}
	s.sampled = sampled(s.id, cfg.SampleRate)

	if s.sampled {
		authoritative, err := transport.Start(ctx, StartEvent{
			ProjectID:   cfg.ProjectID,
			DistinctID:  cfg.DistinctID,
			Platform:    cfg.Platform,
			Environment: cfg.Environment,
			Release:     cfg.Release,
			SampleRate:  cfg.SampleRate,
		})
		if err != nil {
			return nil, err
		}
		if authoritative != "" {
			s.id = authoritative
		}
	}

	return s, nil
}

// ID returns the session's (possibly backend-assigned) id.
func (s *Session) ID() string { return s.id }

// RecordError increments the session's handled-error count. Safe for
// concurrent use.
func (s *Session) RecordError() {
	atomic.AddInt64(&s.errorCount, 1)
}

// RecordCrash increments the session's crash count. Safe to call from a
// panic or OS signal handler: it performs no allocation, no locking, and
// no I/O.
func (s *Session) RecordCrash() {
	atomic.AddInt64(&s.crashCount, 1)
}

// status computes the session's terminal status from its counters.
func (s *Session) status() Status {
	if atomic.LoadInt64(&s.crashCount) > 0 {
		return StatusCrashed
	}
	if atomic.LoadInt64(&s.errorCount) > 0 {
		return StatusErrored
	}
	return StatusExited
}

// End reports the session's end event, if it was sampled or ended in a
// crash, and is idempotent: a second call is a no-op.
func (s *Session) End(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.ended, 0, 1) {
		return nil
	}

	status := s.status()
	if !s.sampled && status != StatusCrashed {
		return nil
	}

	return s.transport.End(ctx, EndEvent{
		ProjectID:  s.projectID,
		SessionID:  s.id,
		Status:     status,
		ErrorCount: atomic.LoadInt64(&s.errorCount),
		CrashCount: atomic.LoadInt64(&s.crashCount),
		DurationMs: time.Since(s.startedAt).Milliseconds(),
	})
}
