// Package config loads alertcore's environment-driven configuration,
// patterned directly on internal/config/config.go in the teacher repo: a flat
// struct populated by getEnv*-style helpers with defaults, no external config
// file format.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config bundles every tunable the binary needs to wire the pipeline.
type Config struct {
	Debug bool

	HTTPAddr string

	// DatabaseDSN is passed straight through to store.Open, which infers
	// Postgres vs SQLite from the DSN's scheme.
	DatabaseDSN string
	// DatabaseDriver mirrors store.Open's own DSN sniffing ("postgres" or
	// "sqlite") so callers can log/report the resolved driver without
	// reaching into the store package.
	DatabaseDriver string

	// Ingestion
	WebhookSecret       string
	DedupTTL            time.Duration
	IngestQueueCapacity int
	EnqueueDeadline     time.Duration

	// Matcher -> Trade Manager -> Dispatcher pipeline pool (spec §5: its own
	// bounded worker pool, independent of the scheduler's).
	PipelineWorkers int

	// Evaluation Scheduler
	SchedulerTickCron     string
	SchedulerWorkers      int
	SchedulerBatchSize    int
	SchedulerBaseBackoff  time.Duration
	SchedulerMaxBackoff   time.Duration
	DefaultCheckInterval  time.Duration

	// Dispatcher
	DispatchBaseDelay   time.Duration
	DispatchFactor      float64
	DispatchMaxAttempts int
	DispatchMaxDelay    time.Duration

	// Telegram notification bus
	TelegramToken string

	ShutdownDrainTimeout time.Duration
}

// Load reads Config from the environment, applying the same defaults-plus-
// override pattern as the teacher's config.Load.
func Load() (*Config, error) {
	cfg := &Config{
		Debug:    getEnvBool("DEBUG", false),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DatabaseDSN: getEnv("DATABASE_DSN", "data/alertcore.db"),

		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		DedupTTL:            getEnvDuration("DEDUP_TTL", 60*time.Second),
		IngestQueueCapacity: getEnvInt("INGEST_QUEUE_CAPACITY", 1024),
		EnqueueDeadline:     getEnvDuration("ENQUEUE_DEADLINE", 2*time.Second),
		PipelineWorkers:     getEnvInt("PIPELINE_WORKERS", 8),

		SchedulerTickCron:    getEnv("SCHEDULER_TICK_CRON", "*/5 * * * * *"),
		SchedulerWorkers:     getEnvInt("SCHEDULER_WORKERS", 8),
		SchedulerBatchSize:   getEnvInt("SCHEDULER_BATCH_SIZE", 200),
		SchedulerBaseBackoff: getEnvDuration("SCHEDULER_BASE_BACKOFF", 30*time.Second),
		SchedulerMaxBackoff:  getEnvDuration("SCHEDULER_MAX_BACKOFF", 30*time.Minute),
		DefaultCheckInterval: getEnvDuration("DEFAULT_CHECK_INTERVAL", time.Minute),

		DispatchBaseDelay:   getEnvDuration("DISPATCH_BASE_DELAY", time.Second),
		DispatchFactor:      getEnvFloat("DISPATCH_FACTOR", 2),
		DispatchMaxAttempts: getEnvInt("DISPATCH_MAX_ATTEMPTS", 5),
		DispatchMaxDelay:    getEnvDuration("DISPATCH_MAX_DELAY", 30*time.Second),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		ShutdownDrainTimeout: getEnvDuration("SHUTDOWN_DRAIN_TIMEOUT", 10*time.Second),
	}
	cfg.DatabaseDriver = databaseDriver(cfg.DatabaseDSN)

	return cfg, nil
}

// databaseDriver mirrors store.Open's own DSN sniffing: a "postgres://" or
// "postgresql://" scheme selects Postgres, anything else (file paths,
// ":memory:") selects SQLite.
func databaseDriver(dsn string) string {
	if len(dsn) >= 11 && (dsn[:11] == "postgres://" || (len(dsn) >= 14 && dsn[:14] == "postgresql://")) {
		return "postgres"
	}
	return "sqlite"
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1" || v == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
