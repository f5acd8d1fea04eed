// Package ingest validates, rate-limits, and batches analytics capture
// calls ahead of the store's transactional batch insert.
package ingest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/loom-platform/loom/infrastructure/errors"
	"github.com/loom-platform/loom/infrastructure/httputil"
	"github.com/loom-platform/loom/infrastructure/ids"
	"github.com/loom-platform/loom/infrastructure/logging"
	"github.com/loom-platform/loom/infrastructure/queue"
	"github.com/loom-platform/loom/infrastructure/secret"
	"github.com/loom-platform/loom/internal/analytics/identity"
	"github.com/loom-platform/loom/internal/analytics/store"
)

const (
	defaultMaxBatchSize   = 50
	defaultFlushInterval  = 2 * time.Second
	defaultMaxQueueSize   = 10_000
	defaultRatePerSecond  = 100
	defaultRateBurst      = 200
)

// ClientMetadata is the caller-identifying information extracted from an
// SDK capture request.
type ClientMetadata struct {
	IPAddress string
	UserAgent string
}

// ExtractClientMetadata pulls the fields Capture needs off an inbound HTTP
// request.
func ExtractClientMetadata(r *http.Request) ClientMetadata {
	return ClientMetadata{
		IPAddress: httputil.ClientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
	}
}

// CaptureInput is a single event as presented to Capture, before
// enrichment with an id, person_id, or timestamps.
type CaptureInput struct {
	DistinctID string
	EventName  string
	Properties map[string]interface{}
	Timestamp  time.Time // zero means "now"
	Lib        *string
	LibVersion *string
}

// Config holds the dependencies and tunables for a Batcher.
type Config struct {
	Store    store.Store
	Identity *identity.Service
	Logger   *logging.Logger

	MaxBatchSize   int
	FlushInterval  time.Duration
	MaxQueueSize   int
	OverflowPolicy queue.OverflowPolicy

	RatePerSecond rate.Limit // per API key, defaults to defaultRatePerSecond
	RateBurst     int        // defaults to defaultRateBurst
}

// Batcher validates and enqueues analytics events, draining the queue into
// the store on a max-batch-size or flush-interval trigger, whichever comes
// first.
type Batcher struct {
	store    store.Store
	identity *identity.Service
	logger   *logging.Logger

	queue         *queue.Queue[store.Event]
	maxBatchSize  int
	flushInterval time.Duration
	kickCh        chan struct{}
	stopCh        chan struct{}
	wg            sync.WaitGroup

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rateLimit rate.Limit
	rateBurst int
}

// New constructs a Batcher from cfg, applying defaults for any unset
// tunable.
func New(cfg Config) (*Batcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("ingest: store is required")
	}

	maxBatchSize := cfg.MaxBatchSize
	if maxBatchSize <= 0 {
		maxBatchSize = defaultMaxBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	maxQueueSize := cfg.MaxQueueSize
	if maxQueueSize <= 0 {
		maxQueueSize = defaultMaxQueueSize
	}
	rateLimit := cfg.RatePerSecond
	if rateLimit <= 0 {
		rateLimit = defaultRatePerSecond
	}
	rateBurst := cfg.RateBurst
	if rateBurst <= 0 {
		rateBurst = defaultRateBurst
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("ingest", "info", "json")
	}

	b := &Batcher{
		store:         cfg.Store,
		identity:      cfg.Identity,
		logger:        logger,
		queue:         queue.New[store.Event](maxQueueSize, cfg.OverflowPolicy),
		maxBatchSize:  maxBatchSize,
		flushInterval: flushInterval,
		kickCh:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		limiters:      make(map[string]*rate.Limiter),
		rateLimit:     rateLimit,
		rateBurst:     rateBurst,
	}
	b.queue.OnDrop = func(event store.Event, reason string) {
		b.logger.WithFields(map[string]interface{}{
			"event_id": event.ID.String(),
			"reason":   reason,
		}).Warn("dropped analytics event from overflowing batch queue")
	}
	return b, nil
}

// Start launches the background drain loop. Call once; Stop ends it.
func (b *Batcher) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.runDrainLoop(ctx)
}

// Stop closes the queue to new enqueues, performs one final drain of
// whatever remains, and waits for the drain loop to exit.
func (b *Batcher) Stop(ctx context.Context) {
	b.queue.Close()
	close(b.stopCh)
	b.wg.Wait()
}

func (b *Batcher) runDrainLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flushAll(context.Background())
			return
		case <-b.stopCh:
			b.flushAll(context.Background())
			return
		case <-ticker.C:
			b.flush(ctx, b.queue.DrainUpTo(b.maxBatchSize))
		case <-b.kickCh:
			b.flush(ctx, b.queue.DrainUpTo(b.maxBatchSize))
		}
	}
}

func (b *Batcher) flush(ctx context.Context, batch []store.Event) {
	if len(batch) == 0 {
		return
	}
	if err := b.store.InsertEvents(ctx, batch); err != nil {
		b.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"batch_size": len(batch),
		}).WithError(err).Error("batch insert failed, discarding batch")
	}
}

func (b *Batcher) flushAll(ctx context.Context) {
	b.flush(ctx, b.queue.DrainAll())
}

func (b *Batcher) maybeKick() {
	if b.queue.Len() >= b.maxBatchSize {
		select {
		case b.kickCh <- struct{}{}:
		default:
		}
	}
}

func (b *Batcher) limiterFor(apiKeyID string) *rate.Limiter {
	b.limiterMu.Lock()
	defer b.limiterMu.Unlock()
	l, ok := b.limiters[apiKeyID]
	if !ok {
		l = rate.NewLimiter(b.rateLimit, b.rateBurst)
		b.limiters[apiKeyID] = l
	}
	return l
}

// Capture validates and enqueues a single event, resolving its person_id
// along the way. Identity resolution failures are logged and the event is
// still captured, without a person_id.
func (b *Batcher) Capture(ctx context.Context, org ids.OrgID, apiKeyID string, meta ClientMetadata, input CaptureInput) (ids.EventID, error) {
	if !b.limiterFor(apiKeyID).Allow() {
		return ids.EventID{}, errors.RateLimitExceeded(int(b.rateLimit), "1s")
	}
	if err := ValidateEventName(input.EventName); err != nil {
		return ids.EventID{}, err
	}
	if err := ValidateDistinctID(input.DistinctID); err != nil {
		return ids.EventID{}, err
	}
	if err := ValidatePropertiesSize(input.Properties); err != nil {
		return ids.EventID{}, err
	}

	eventID, err := ids.NewEventID()
	if err != nil {
		return ids.EventID{}, errors.Internal("generate event id", err)
	}

	var personID *ids.PersonID
	if b.identity != nil {
		resolved, err := b.identity.ResolvePersonForDistinctID(ctx, org, input.DistinctID)
		if err != nil {
			b.logger.WithContext(ctx).WithError(err).Warn("identity resolution failed, capturing without person_id")
		} else {
			pid := resolved.Person.ID
			personID = &pid
		}
	}

	timestamp := input.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	event := store.Event{
		ID:         eventID,
		OrgID:      org,
		PersonID:   personID,
		DistinctID: input.DistinctID,
		EventName:  input.EventName,
		Properties: input.Properties,
		Timestamp:  timestamp,
		IPAddress:  secret.New(meta.IPAddress),
		Lib:        input.Lib,
		LibVersion: input.LibVersion,
		CreatedAt:  time.Now().UTC(),
	}
	if meta.UserAgent != "" {
		userAgent := meta.UserAgent
		event.UserAgent = &userAgent
	}

	if err := b.queue.Enqueue(event); err != nil {
		return ids.EventID{}, err
	}
	b.maybeKick()
	return eventID, nil
}

// CaptureBatch validates and enqueues 1 to 100 events atomically with
// respect to validation: a validation failure on any event fails the whole
// batch before any of it is enqueued.
func (b *Batcher) CaptureBatch(ctx context.Context, org ids.OrgID, apiKeyID string, meta ClientMetadata, inputs []CaptureInput) ([]ids.EventID, error) {
	if len(inputs) == 0 {
		return nil, errors.InvalidInput("batch", "must not be empty")
	}
	if len(inputs) > 100 {
		return nil, errors.InvalidInput("batch", "must contain at most 100 events")
	}
	for _, input := range inputs {
		if err := ValidateEventName(input.EventName); err != nil {
			return nil, err
		}
		if err := ValidateDistinctID(input.DistinctID); err != nil {
			return nil, err
		}
		if err := ValidatePropertiesSize(input.Properties); err != nil {
			return nil, err
		}
	}

	eventIDs := make([]ids.EventID, 0, len(inputs))
	for _, input := range inputs {
		eventID, err := b.Capture(ctx, org, apiKeyID, meta, input)
		if err != nil {
			return nil, err
		}
		eventIDs = append(eventIDs, eventID)
	}
	return eventIDs, nil
}
