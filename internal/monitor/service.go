package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/loom-platform/loom/infrastructure/logging"
)

// Store is the persistence boundary for monitors.
type Store interface {
	// GetByPingKey resolves an opaque ping key to its monitor. Returns a
	// NotFound ServiceError if the key is unknown.
	GetByPingKey(ctx context.Context, pingKey string) (Monitor, error)

	// Save persists the full monitor row, including its derived health
	// and check-in counters.
	Save(ctx context.Context, m Monitor) error

	// ListAll returns every monitor, for the periodic overdue sweep.
	ListAll(ctx context.Context) ([]Monitor, error)
}

// SweepOverdue re-derives health for every monitor past its expected
// check-in window. Intended to be called periodically by the background
// scheduler (component M).
func (s *Service) SweepOverdue(ctx context.Context) (int, error) {
	monitors, err := s.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	marked := 0
	for _, m := range monitors {
		updated, changed := s.CheckOverdue(m, now)
		if !changed {
			continue
		}
		if err := s.store.Save(ctx, updated); err != nil {
			return marked, err
		}
		marked++
	}
	return marked, nil
}

// Config holds a Service's dependencies.
type Config struct {
	Store  Store
	Logger *logging.Logger
}

// Service records check-ins against monitors and derives their health.
type Service struct {
	store  Store
	logger *logging.Logger
}

// New constructs a Service from cfg.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("monitor: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("monitor", "info", "json")
	}
	return &Service{store: cfg.Store, logger: logger}, nil
}

// CheckIn records a successful check-in against the monitor owning
// pingKey: the ping key is not tenant-scoped on its own, the monitor it
// resolves to carries the org.
func (s *Service) CheckIn(ctx context.Context, pingKey string) error {
	m, err := s.store.GetByPingKey(ctx, pingKey)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	m.LastCheckinAt = &now
	m.TotalCheckins++
	m.ConsecutiveFailures = 0
	m.Health = HealthHealthy

	next, err := nextExpected(m.Schedule, now)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("monitor: could not compute next expected check-in")
	} else {
		m.NextExpectedAt = &next
	}

	return s.store.Save(ctx, m)
}

// RecordFailure records an explicit failure report against the monitor
// owning pingKey, distinct from a missed check-in window.
func (s *Service) RecordFailure(ctx context.Context, pingKey string) error {
	m, err := s.store.GetByPingKey(ctx, pingKey)
	if err != nil {
		return err
	}

	m.ConsecutiveFailures++
	m.TotalFailures++
	m.Health = HealthFailed
	return s.store.Save(ctx, m)
}

// CheckOverdue marks a monitor late if it has passed next_expected_at plus
// its check-in margin without a fresh check-in. Intended to be called
// periodically by the background scheduler (component M).
func (s *Service) CheckOverdue(m Monitor, now time.Time) (Monitor, bool) {
	if m.NextExpectedAt == nil || m.Health == HealthLate {
		return m, false
	}
	deadline := m.NextExpectedAt.Add(time.Duration(m.CheckinMarginMinutes) * time.Minute)
	if now.Before(deadline) {
		return m, false
	}
	m.Health = HealthLate
	m.ConsecutiveFailures++
	return m, true
}
