package config

import "time"

// ServicesConfig is the top-level configuration for cmd/loomd, decoded from
// the process environment via envdecode. Each nested struct corresponds to
// one SPEC_FULL.md component's tunables.
type ServicesConfig struct {
	HTTPPort int `env:"LOOM_HTTP_PORT,default=8080"`

	Database  DatabaseConfig
	Redis     RedisConfig
	Ingest    IngestConfig
	Audit     AuditConfig
	Retry     RetryPolicyConfig
	LLMPool   LLMPoolConfig
	Scheduler SchedulerConfig
	Logging   LoggingConfig
}

// DatabaseConfig configures the Postgres-backed analytics store (component E).
type DatabaseConfig struct {
	DSN             string        `env:"LOOM_DATABASE_DSN,required"`
	MaxOpenConns    int           `env:"LOOM_DATABASE_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns    int           `env:"LOOM_DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"LOOM_DATABASE_CONN_MAX_LIFETIME,default=30m"`
}

// RedisConfig configures the optional cache-aside layer (component E) and
// cross-instance cooldown visibility (component K).
type RedisConfig struct {
	Addr    string `env:"LOOM_REDIS_ADDR,default="`
	Enabled bool   `env:"LOOM_REDIS_ENABLED,default=false"`
}

// IngestConfig configures event ingestion and batching (component G).
type IngestConfig struct {
	MaxBatchSize      int           `env:"LOOM_INGEST_MAX_BATCH_SIZE,default=500"`
	FlushInterval     time.Duration `env:"LOOM_INGEST_FLUSH_INTERVAL,default=5s"`
	MaxQueueSize      int           `env:"LOOM_INGEST_MAX_QUEUE_SIZE,default=10000"`
	OverflowPolicy    string        `env:"LOOM_INGEST_OVERFLOW_POLICY,default=block"`
	RateLimitPerSec   float64       `env:"LOOM_INGEST_RATE_LIMIT_PER_SEC,default=1000"`
	RateLimitBurst    int           `env:"LOOM_INGEST_RATE_LIMIT_BURST,default=2000"`
}

// AuditConfig configures the audit pipeline (component H).
type AuditConfig struct {
	QueueCapacity  int    `env:"LOOM_AUDIT_QUEUE_CAPACITY,default=5000"`
	OverflowPolicy string `env:"LOOM_AUDIT_OVERFLOW_POLICY,default=block"`
	MinSeverity    string `env:"LOOM_AUDIT_MIN_SEVERITY,default=info"`
	FileSinkPath   string `env:"LOOM_AUDIT_FILE_SINK_PATH,default="`
	FileSinkFormat string `env:"LOOM_AUDIT_FILE_SINK_FORMAT,default=jsonlines"`
	HTTPSinkURL    string `env:"LOOM_AUDIT_HTTP_SINK_URL,default="`
}

// RetryPolicyConfig configures the shared retry/backoff driver (component C),
// wired into the audit HTTP sink's resilience.RetryConfig in
// cmd/loomd's buildAuditPipeline.
type RetryPolicyConfig struct {
	MaxAttempts  int           `env:"LOOM_RETRY_MAX_ATTEMPTS,default=5"`
	InitialDelay time.Duration `env:"LOOM_RETRY_INITIAL_DELAY,default=100ms"`
	MaxDelay     time.Duration `env:"LOOM_RETRY_MAX_DELAY,default=30s"`
	Multiplier   float64       `env:"LOOM_RETRY_MULTIPLIER,default=2.0"`
	// Jitter is the 0-1 randomization fraction resilience.RetryConfig.Jitter
	// expects, not a boolean toggle: 0 disables jitter entirely.
	Jitter float64 `env:"LOOM_RETRY_JITTER,default=0.5"`
}

// LLMPoolConfig configures the LLM upstream account pool (component K).
type LLMPoolConfig struct {
	CooldownDuration  time.Duration `env:"LOOM_LLM_POOL_COOLDOWN,default=5h"`
	TokenRefreshEvery time.Duration `env:"LOOM_LLM_POOL_TOKEN_REFRESH_INTERVAL,default=10m"`
	TokenRefreshSlack time.Duration `env:"LOOM_LLM_POOL_TOKEN_REFRESH_SLACK,default=15m"`
}

// SchedulerConfig configures the background job scheduler (component M).
type SchedulerConfig struct {
	StaggerInterval       time.Duration `env:"LOOM_SCHEDULER_STAGGER_INTERVAL,default=2s"`
	HistoryRetentionDays  int           `env:"LOOM_SCHEDULER_HISTORY_RETENTION_DAYS,default=30"`
}

// LoggingConfig configures infrastructure/logging.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}
