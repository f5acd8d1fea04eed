package query

import (
	"context"
	"sync"
	"time"

	"github.com/loom-platform/loom/infrastructure/logging"
	"github.com/loom-platform/loom/infrastructure/metrics"
)

const defaultTimeout = 30 * time.Second

// Config configures a Bridge.
type Config struct {
	Registry *Registry
	Traces   *TraceStore
	Metrics  *metrics.Metrics
	Logger   *logging.Logger
}

// Bridge correlates outbound queries with their inbound responses by id.
type Bridge struct {
	registry *Registry
	traces   *TraceStore
	metrics  *metrics.Metrics
	logger   *logging.Logger

	mu      sync.Mutex
	waiters map[string]chan Response // keyed by query id
}

// New creates a Bridge. Traces and Metrics default to a fresh TraceStore
// and an unregistered Metrics instance when omitted, so callers that only
// want the correlation behavior (tests) need not wire observability.
func New(cfg Config) *Bridge {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Traces == nil {
		cfg.Traces = NewTraceStore(1000)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewWithRegistry("query-bridge", nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New("query-bridge", "info", "json")
	}
	return &Bridge{
		registry: cfg.Registry,
		traces:   cfg.Traces,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		waiters:  make(map[string]chan Response),
	}
}

// Registry exposes the bridge's session registry so transports can
// register/unregister sessions as they connect and disconnect.
func (b *Bridge) Registry() *Registry { return b.registry }

// Traces exposes the bridge's trace store for admin inspection.
func (b *Bridge) Traces() *TraceStore { return b.traces }

// SendQuery sends q to the session identified by sessionID and blocks
// until a matching response arrives, the context is cancelled, q's
// timeout elapses, or the session disconnects mid-flight.
func (b *Bridge) SendQuery(ctx context.Context, sessionID string, q Query) (Response, error) {
	if q.ID == "" {
		q.ID = NewQueryID()
	}
	timeout := time.Duration(q.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	sess, ok := b.registry.Get(sessionID)
	if !ok {
		b.recordFailure(q.Type, sessionID, "session_gone")
		return Response{}, ErrSessionGone
	}

	wait := make(chan Response, 1)
	b.mu.Lock()
	b.waiters[q.ID] = wait
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.waiters, q.ID)
		b.mu.Unlock()
	}()

	start := time.Now()
	b.metrics.QueriesPending.Inc()
	defer b.metrics.QueriesPending.Dec()
	b.metrics.QueriesSentTotal.WithLabelValues(string(q.Type), sessionID).Inc()

	if err := sess.Send(q); err != nil {
		b.recordFailure(q.Type, sessionID, "send_error")
		b.recordTrace(q, sessionID, start, "error", 0)
		return Response{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-wait:
		elapsed := time.Since(start)
		b.metrics.QueriesSucceededTotal.WithLabelValues(string(q.Type), sessionID).Inc()
		b.metrics.QueryLatencySeconds.WithLabelValues(string(q.Type)).Observe(elapsed.Seconds())
		b.logger.LogQueryBridge(ctx, sessionID, string(q.Type), "success", elapsed)
		b.recordTrace(q, sessionID, start, "success", 0)
		return resp, nil
	case <-timer.C:
		b.metrics.QueriesTimeoutsTotal.WithLabelValues(string(q.Type)).Inc()
		b.recordFailure(q.Type, sessionID, "timeout")
		b.recordTrace(q, sessionID, start, "timeout", 0)
		return Response{}, ErrTimeout
	case <-sess.Closed():
		b.recordFailure(q.Type, sessionID, "session_gone")
		b.recordTrace(q, sessionID, start, "session_gone", 0)
		return Response{}, ErrSessionGone
	case <-ctx.Done():
		b.recordFailure(q.Type, sessionID, "cancelled")
		b.recordTrace(q, sessionID, start, "error", 0)
		return Response{}, ctx.Err()
	}
}

// ReceiveResponse delivers an inbound response to whichever SendQuery call
// is waiting on its QueryID. It is a no-op if no call is waiting, which
// happens when a response arrives after its query already timed out.
func (b *Bridge) ReceiveResponse(resp Response) {
	b.mu.Lock()
	wait, ok := b.waiters[resp.QueryID]
	if ok {
		delete(b.waiters, resp.QueryID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	wait <- resp
}

// ForgetSession releases trace and metric state for a disconnected
// session, bounding memory and label cardinality growth over the
// service's lifetime.
func (b *Bridge) ForgetSession(sessionID string) {
	b.traces.ForgetSession(sessionID)
	b.metrics.ForgetSession(sessionID)
}

func (b *Bridge) recordFailure(queryType QueryType, sessionID, errorType string) {
	b.metrics.QueriesFailedTotal.WithLabelValues(string(queryType), errorType, sessionID).Inc()
}

func (b *Bridge) recordTrace(q Query, sessionID string, start time.Time, outcome string, events int) {
	b.traces.Add(Trace{
		ID:         NewTraceID(),
		SessionID:  sessionID,
		QueryType:  q.Type,
		SentAt:     start,
		DurationMs: time.Since(start).Milliseconds(),
		Outcome:    outcome,
		Events:     events,
	})
}
