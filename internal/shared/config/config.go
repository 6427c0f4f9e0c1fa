package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Database   DatabaseConfig
	Sync       SyncConfig
	Scheduler  SchedulerConfig
	Locks      LocksConfig
	Firebase   FirebaseConfig
	Telemetry  TelemetryConfig
	Encryption EncryptionConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// SyncConfig controls the sync orchestrator.
type SyncConfig struct {
	// RunBudget is the wall-clock budget for a single connection sync.
	RunBudget time.Duration
	// AccountFanout bounds concurrent per-account transaction fetches.
	AccountFanout int
	// BatchChunkSize is the number of items per persistence chunk.
	BatchChunkSize int
	// MinSyncInterval throttles back-to-back syncs of one connection.
	MinSyncInterval time.Duration
}

type SchedulerConfig struct {
	Enabled       bool
	ScheduleTimes []string
	WorkerCount   int
	JobDelay      time.Duration
	QueueSize     int
	RunOnStartup  bool
}

// LocksConfig selects the per-connection sync lock backend.
// When RedisAddr is empty the in-memory locker is used.
type LocksConfig struct {
	RedisAddr     string
	RedisPassword string
	LockTTL       time.Duration
}

// EncryptionConfig holds the key for provider credential storage.
type EncryptionConfig struct {
	Key string
}

type FirebaseConfig struct {
	CredentialsFile string
	MessagesFile    string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

func Load() (*Config, error) {

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	runBudget, err := time.ParseDuration(getEnv("SYNC_RUN_BUDGET", "10m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_RUN_BUDGET: %w", err)
	}
	accountFanout, err := strconv.Atoi(getEnv("SYNC_ACCOUNT_FANOUT", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_ACCOUNT_FANOUT: %w", err)
	}
	batchChunkSize, err := strconv.Atoi(getEnv("SYNC_BATCH_CHUNK_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_BATCH_CHUNK_SIZE: %w", err)
	}
	minSyncInterval, err := time.ParseDuration(getEnv("SYNC_MIN_INTERVAL", "30m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_MIN_INTERVAL: %w", err)
	}

	schedulerEnabled := getBoolEnv("SCHEDULER_ENABLED", true)
	schedulerTimes := strings.Split(getEnv("SCHEDULER_TIMES", "05:00,10:00,14:00,20:00"), ",")
	schedulerWorkers, err := strconv.Atoi(getEnv("SCHEDULER_WORKERS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %w", err)
	}
	schedulerJobDelay, err := time.ParseDuration(getEnv("SCHEDULER_JOB_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_JOB_DELAY: %w", err)
	}
	schedulerQueueSize, err := strconv.Atoi(getEnv("SCHEDULER_QUEUE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_QUEUE_SIZE: %w", err)
	}

	lockTTL, err := time.ParseDuration(getEnv("SYNC_LOCK_TTL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_LOCK_TTL: %w", err)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "ledgerline"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "ledgerline"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Sync: SyncConfig{
			RunBudget:       runBudget,
			AccountFanout:   accountFanout,
			BatchChunkSize:  batchChunkSize,
			MinSyncInterval: minSyncInterval,
		},
		Scheduler: SchedulerConfig{
			Enabled:       schedulerEnabled,
			ScheduleTimes: schedulerTimes,
			WorkerCount:   schedulerWorkers,
			JobDelay:      schedulerJobDelay,
			QueueSize:     schedulerQueueSize,
			RunOnStartup:  getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
		},
		Locks: LocksConfig{
			RedisAddr:     getEnv("SYNC_LOCK_REDIS_ADDR", ""),
			RedisPassword: getEnv("SYNC_LOCK_REDIS_PASSWORD", ""),
			LockTTL:       lockTTL,
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
			MessagesFile:    getEnv("NOTIFICATION_MESSAGES_FILE", "configs/notifications.json"),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "ledgerline-syncd"),
			Environment:  getEnv("OTEL_ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9090"),
		},
	}

	if cfg.Sync.AccountFanout < 1 {
		return nil, fmt.Errorf("SYNC_ACCOUNT_FANOUT must be at least 1")
	}
	if cfg.Sync.BatchChunkSize < 1 {
		return nil, fmt.Errorf("SYNC_BATCH_CHUNK_SIZE must be at least 1")
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
