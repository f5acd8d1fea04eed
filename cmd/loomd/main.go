// Command loomd runs the Loom ingestion, identity, audit, monitor, and
// query-bridge HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/loom-platform/loom/infrastructure/cache"
	"github.com/loom-platform/loom/infrastructure/config"
	"github.com/loom-platform/loom/infrastructure/httputil"
	"github.com/loom-platform/loom/infrastructure/ids"
	"github.com/loom-platform/loom/infrastructure/logging"
	"github.com/loom-platform/loom/infrastructure/metrics"
	"github.com/loom-platform/loom/infrastructure/queue"
	"github.com/loom-platform/loom/internal/analytics/identity"
	"github.com/loom-platform/loom/internal/analytics/ingest"
	"github.com/loom-platform/loom/internal/analytics/store"
	"github.com/loom-platform/loom/internal/analytics/store/postgres"
	"github.com/loom-platform/loom/internal/audit"
	"github.com/loom-platform/loom/internal/httpapi"
	"github.com/loom-platform/loom/internal/monitor"
	"github.com/loom-platform/loom/internal/query"
	"github.com/loom-platform/loom/internal/scheduler"
)

func main() {
	envFile := flag.String("env-file", ".env", "path to a dotenv file, loaded before reading the process environment")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatalf("load env file: %v", err)
	}
	cfg, err := config.LoadServicesConfig()
	if err != nil {
		log.Fatalf("load services config: %v", err)
	}

	logger := logging.New("loomd", cfg.Logging.Level, cfg.Logging.Format)
	metricsRegistry := metrics.New("loomd")

	rootCtx := context.Background()

	dbStore, err := postgres.Open(rootCtx, cfg.Database.DSN, "loom")
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	analyticsStore := store.Store(dbStore)
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		analyticsStore = store.NewCachedStore(dbStore, cache.NewRedisCache(redisClient, "loom:", 5*time.Minute))
	}

	pepperSecret, err := config.RequireEnvOrSecret("LOOM_API_KEY_PEPPER")
	if err != nil {
		log.Fatalf("load api key pepper: %v", err)
	}
	pepper := []byte(pepperSecret.Expose())

	auditPipeline := buildAuditPipeline(cfg.Audit, cfg.Retry, logger, metricsRegistry)
	if auditPipeline != nil {
		auditPipeline.Start(rootCtx)
		defer auditPipeline.Stop(context.Background())
	}

	identitySvc, err := identity.New(identity.Config{
		Store:     analyticsStore,
		Logger:    logger,
		AuditHook: auditMergeHook(auditPipeline),
	})
	if err != nil {
		log.Fatalf("init identity service: %v", err)
	}

	batcher, err := ingest.New(ingest.Config{
		Store:          analyticsStore,
		Identity:       identitySvc,
		Logger:         logger,
		MaxBatchSize:   cfg.Ingest.MaxBatchSize,
		FlushInterval:  cfg.Ingest.FlushInterval,
		MaxQueueSize:   cfg.Ingest.MaxQueueSize,
		OverflowPolicy: parseOverflowPolicy(cfg.Ingest.OverflowPolicy),
		RatePerSecond:  rate.Limit(cfg.Ingest.RateLimitPerSec),
		RateBurst:      cfg.Ingest.RateLimitBurst,
	})
	if err != nil {
		log.Fatalf("init ingest batcher: %v", err)
	}
	batcher.Start(rootCtx)
	defer batcher.Stop(context.Background())

	registry := query.NewRegistry()
	traces := query.NewTraceStore(1000)
	bridge := query.New(query.Config{
		Registry: registry,
		Traces:   traces,
		Metrics:  metricsRegistry,
		Logger:   logger,
	})

	monitorStore := monitor.NewMemoryStore()
	monitorSvc, err := monitor.New(monitor.Config{Store: monitorStore, Logger: logger})
	if err != nil {
		log.Fatalf("init monitor service: %v", err)
	}

	sched := scheduler.New(scheduler.Config{
		Logger:               logger,
		HistoryRetentionDays: cfg.Scheduler.HistoryRetentionDays,
	})
	sched.Register(scheduler.Job{
		Name:     "monitor_sweep",
		Interval: time.Minute,
		Run: func(ctx context.Context) error {
			_, err := monitorSvc.SweepOverdue(ctx)
			return err
		},
	})
	sched.Start()
	defer sched.Stop()

	server := httpapi.NewServer(httpapi.Config{
		Store:    analyticsStore,
		Batcher:  batcher,
		Identity: identitySvc,
		Monitor:  monitorSvc,
		Bridge:   bridge,
		Logger:   logger,
		Pepper:   pepper,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", server.Router())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", httpPort(cfg.HTTPPort)),
		Handler: mux,
	}

	go func() {
		logger.WithContext(rootCtx).WithFields(map[string]interface{}{"addr": httpServer.Addr}).Info("loomd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

func httpPort(port int) int {
	if port <= 0 {
		return 8080
	}
	return port
}

func parseOverflowPolicy(raw string) queue.OverflowPolicy {
	switch raw {
	case "drop_newest":
		return queue.DropNewest
	case "drop_oldest":
		return queue.DropOldest
	default:
		return queue.Block
	}
}

func parseSeverity(raw string) audit.Severity {
	switch raw {
	case "debug":
		return audit.SeverityDebug
	case "notice":
		return audit.SeverityNotice
	case "warning":
		return audit.SeverityWarning
	case "error":
		return audit.SeverityError
	case "critical":
		return audit.SeverityCritical
	default:
		return audit.SeverityInfo
	}
}

// auditMergeHook adapts identity's merge callback to an audit log entry.
// Returns nil when no pipeline is configured, leaving identity.Service's
// AuditHook unset.
func auditMergeHook(pipeline *audit.Pipeline) identity.AuditHook {
	if pipeline == nil {
		return nil
	}
	return func(ctx context.Context, org ids.OrgID, merge store.PersonMerge) {
		entry := audit.NewEntry("identity.merge", audit.SeverityNotice).
			WithResource("person", merge.WinnerID.String()).
			WithDetails(map[string]interface{}{
				"org_id":    org.String(),
				"winner_id": merge.WinnerID.String(),
				"loser_id":  merge.LoserID.String(),
				"reason":    merge.Reason,
			})
		pipeline.Log(entry)
	}
}

// buildAuditPipeline wires whichever sinks are configured. With none
// configured, audit logging is a no-op: callers fall through the pipeline
// entirely rather than pay queueing cost for nothing.
func buildAuditPipeline(cfg config.AuditConfig, retry config.RetryPolicyConfig, logger *logging.Logger, m *metrics.Metrics) *audit.Pipeline {
	var sinks []audit.Sink
	if cfg.FileSinkPath != "" {
		format := audit.FormatJSONLines
		if cfg.FileSinkFormat == "cef" {
			format = audit.FormatCEF
		}
		sinks = append(sinks, audit.NewFileSink("file", cfg.FileSinkPath, format, nil))
	}
	if cfg.HTTPSinkURL != "" {
		base := &http.Client{Transport: httputil.DefaultTransportWithMinTLS12()}
		client, _ := httputil.NewClient(httputil.ClientConfig{HTTPClient: base}, httputil.DefaultClientDefaults())
		sinks = append(sinks, audit.NewHTTPSink(audit.HTTPSinkConfig{
			Name:              "http",
			URL:               cfg.HTTPSinkURL,
			Client:            client,
			RetryMaxAttempts:  retry.MaxAttempts,
			RetryInitialDelay: retry.InitialDelay,
			RetryMaxDelay:     retry.MaxDelay,
			RetryMultiplier:   retry.Multiplier,
			RetryJitter:       retry.Jitter,
		}))
	}
	if len(sinks) == 0 {
		return nil
	}

	pipeline, err := audit.New(audit.Config{
		Logger:         logger,
		Metrics:        m,
		MinSeverity:    parseSeverity(cfg.MinSeverity),
		Sinks:          sinks,
		QueueCapacity:  cfg.QueueCapacity,
		OverflowPolicy: parseOverflowPolicy(cfg.OverflowPolicy),
	})
	if err != nil {
		log.Fatalf("init audit pipeline: %v", err)
	}
	return pipeline
}
