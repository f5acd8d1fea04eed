package query

import (
	"sync"
	"time"
)

// Trace records one query's full lifecycle for later inspection.
type Trace struct {
	ID         string
	SessionID  string
	QueryType  QueryType
	SentAt     time.Time
	DurationMs int64
	Outcome    string // "success", "timeout", "error", "session_gone"
	Events     int
}

// TraceStats summarizes a TraceStore snapshot.
type TraceStats struct {
	Total           int
	WithErrors      int
	AvgEventsPerRun float64
}

// TraceStore is a bounded FIFO ring of the most recent traces, filterable
// by session id and by a slow-query threshold.
type TraceStore struct {
	mu      sync.Mutex
	cap     int
	traces  []Trace
	nextIdx int
	full    bool
}

// NewTraceStore creates a store retaining at most capacity traces.
func NewTraceStore(capacity int) *TraceStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &TraceStore{cap: capacity, traces: make([]Trace, capacity)}
}

// Add records a trace, evicting the oldest entry once the store is full.
func (s *TraceStore) Add(t Trace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces[s.nextIdx] = t
	s.nextIdx = (s.nextIdx + 1) % s.cap
	if s.nextIdx == 0 {
		s.full = true
	}
}

// snapshot returns the stored traces in insertion order, oldest first.
func (s *TraceStore) snapshot() []Trace {
	if !s.full {
		out := make([]Trace, s.nextIdx)
		copy(out, s.traces[:s.nextIdx])
		return out
	}
	out := make([]Trace, s.cap)
	copy(out, s.traces[s.nextIdx:])
	copy(out[s.cap-s.nextIdx:], s.traces[:s.nextIdx])
	return out
}

// Filter returns stored traces, optionally restricted to a session id and
// to traces at or above a minimum duration. Pass "" / 0 to skip a filter.
func (s *TraceStore) Filter(sessionID string, minDurationMs int64) []Trace {
	s.mu.Lock()
	all := s.snapshot()
	s.mu.Unlock()

	out := make([]Trace, 0, len(all))
	for _, t := range all {
		if sessionID != "" && t.SessionID != sessionID {
			continue
		}
		if minDurationMs > 0 && t.DurationMs < minDurationMs {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Stats computes aggregate statistics over the current store contents.
func (s *TraceStore) Stats() TraceStats {
	s.mu.Lock()
	all := s.snapshot()
	s.mu.Unlock()

	stats := TraceStats{Total: len(all)}
	if len(all) == 0 {
		return stats
	}
	var events int
	for _, t := range all {
		if t.Outcome != "success" {
			stats.WithErrors++
		}
		events += t.Events
	}
	stats.AvgEventsPerRun = float64(events) / float64(len(all))
	return stats
}

// ForgetSession drops every stored trace belonging to sessionID, used once
// a session disconnects to avoid unbounded retention of dead-session data.
func (s *TraceStore) ForgetSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.snapshot()
	filtered := kept[:0]
	for _, t := range kept {
		if t.SessionID != sessionID {
			filtered = append(filtered, t)
		}
	}
	s.traces = make([]Trace, s.cap)
	s.nextIdx = 0
	s.full = false
	for _, t := range filtered {
		s.traces[s.nextIdx] = t
		s.nextIdx = (s.nextIdx + 1) % s.cap
		if s.nextIdx == 0 {
			s.full = true
		}
	}
}
