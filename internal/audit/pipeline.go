package audit

import (
	"context"
	"sync"
	"time"

	"github.com/loom-platform/loom/infrastructure/logging"
	"github.com/loom-platform/loom/infrastructure/metrics"
	"github.com/loom-platform/loom/infrastructure/queue"
	"github.com/loom-platform/loom/infrastructure/redaction"
	"github.com/loom-platform/loom/infrastructure/secret"
)

const (
	defaultQueueCapacity       = 10_000
	defaultHealthCheckInterval = 30 * time.Second
)

// Config holds a Pipeline's dependencies and tunables.
type Config struct {
	Logger  *logging.Logger
	Metrics *metrics.Metrics

	Enricher      Enricher
	MinSeverity   Severity
	IncludeEvents []string
	ExcludeEvents []string

	Sinks []Sink

	QueueCapacity       int
	OverflowPolicy      queue.OverflowPolicy
	HealthCheckInterval time.Duration
}

// Pipeline runs the enrich -> filter -> redact -> fan-out stages over
// queued audit entries.
type Pipeline struct {
	enricher Enricher
	filter   globalFilter
	redactor *redaction.Redactor
	sinks    []Sink

	queue               *queue.Queue[AuditLogEntry]
	logger              *logging.Logger
	metrics             *metrics.Metrics
	healthCheckInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Pipeline from cfg, applying defaults for any unset
// tunable.
func New(cfg Config) (*Pipeline, error) {
	enricher := cfg.Enricher
	if enricher == nil {
		enricher = NoopEnricher{}
	}
	queueCapacity := cfg.QueueCapacity
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}
	healthCheckInterval := cfg.HealthCheckInterval
	if healthCheckInterval <= 0 {
		healthCheckInterval = defaultHealthCheckInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("audit", "info", "json")
	}

	redactionConfig := redaction.DefaultConfig()
	redactionConfig.RedactionText = secret.Redacted

	p := &Pipeline{
		enricher:            enricher,
		filter:              newGlobalFilter(cfg.MinSeverity, cfg.IncludeEvents, cfg.ExcludeEvents),
		redactor:            redaction.NewRedactor(redactionConfig),
		sinks:               cfg.Sinks,
		queue:               queue.New[AuditLogEntry](queueCapacity, cfg.OverflowPolicy),
		logger:              logger,
		metrics:             cfg.Metrics,
		healthCheckInterval: healthCheckInterval,
		stopCh:              make(chan struct{}),
	}
	p.queue.OnDrop = func(entry AuditLogEntry, reason string) {
		p.logger.WithFields(map[string]interface{}{
			"event_type": entry.EventType,
			"reason":     reason,
		}).Warn("dropped audit log entry from overflowing queue")
	}
	return p, nil
}

// Log enqueues entry without blocking the caller, applying the configured
// overflow policy. It reports whether the entry was actually queued.
func (p *Pipeline) Log(entry AuditLogEntry) bool {
	queued, err := p.queue.TryEnqueue(entry)
	if err != nil {
		p.logger.WithFields(map[string]interface{}{"event_type": entry.EventType}).WithError(err).Warn("audit log() failed")
		return false
	}
	return queued
}

// LogBlocking enqueues entry, awaiting capacity regardless of the
// configured overflow policy.
func (p *Pipeline) LogBlocking(ctx context.Context, entry AuditLogEntry) error {
	return p.queue.EnqueueWait(ctx, entry)
}

// Start launches the background drain loop and, if at least one sink is
// configured, the sink health-check loop.
func (p *Pipeline) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.runDrainLoop(ctx)

	if len(p.sinks) > 0 {
		p.wg.Add(1)
		go p.runHealthChecks(ctx)
	}
}

// Stop stops accepting new entries, processes whatever remains queued, and
// waits for background loops to exit.
func (p *Pipeline) Stop(ctx context.Context) {
	p.queue.Close()
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Pipeline) runDrainLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		batch := p.queue.DrainUpTo(64)
		for _, entry := range batch {
			p.process(ctx, entry)
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			p.drainRemaining(context.Background())
			return
		case <-p.stopCh:
			p.drainRemaining(context.Background())
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (p *Pipeline) drainRemaining(ctx context.Context) {
	for _, entry := range p.queue.DrainAll() {
		p.process(ctx, entry)
	}
}

func (p *Pipeline) process(ctx context.Context, entry AuditLogEntry) {
	enriched := p.enricher.Enrich(ctx, entry)
	if !p.filter.allows(enriched) {
		return
	}
	enriched = redact(p.redactor, enriched)
	p.fanOut(ctx, enriched)
}

// fanOut publishes event to every sink whose own filter passes, each on its
// own goroutine, so a failing sink does not stop delivery to the others.
// fanOut returns only after every publish has finished, so a slow sink
// delays the processing of later events.
func (p *Pipeline) fanOut(ctx context.Context, event EnrichedAuditEvent) {
	var wg sync.WaitGroup
	for _, sink := range p.sinks {
		if !sink.Filter(event) {
			continue
		}
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := s.Publish(ctx, event); err != nil {
				p.logger.WithContext(ctx).WithFields(map[string]interface{}{
					"sink":       s.Name(),
					"event_type": event.Base.EventType,
				}).WithError(err).Error("audit sink publish failed")
			}
		}(sink)
	}
	wg.Wait()
}

func (p *Pipeline) runHealthChecks(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.healthCheckInterval)
	defer ticker.Stop()

	p.checkAllSinks(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.checkAllSinks(ctx)
		}
	}
}

func (p *Pipeline) checkAllSinks(ctx context.Context) {
	for _, sink := range p.sinks {
		healthy := sink.HealthCheck(ctx) == nil
		if p.metrics != nil {
			value := 0.0
			if healthy {
				value = 1.0
			}
			p.metrics.AuditSinkHealthy.WithLabelValues(sink.Name()).Set(value)
		}
	}
}
