package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL     string
	TemporalAddress string
	RedisAddress    string
	RedisPassword   string
	HTTPListenAddr  string
	MetricsAddr     string
	LogLevel        string
	ServiceName     string

	// WorkerID identifies this worker in logs and in the liveness heartbeat.
	WorkerID string

	// UploadConcurrency bounds parallel file uploads within one job.
	UploadConcurrency int

	// ProgressInterval throttles progress emission during uploads.
	ProgressInterval time.Duration

	// HeartbeatInterval and HeartbeatTTL control the worker liveness key.
	// The TTL must exceed the interval or the key expires between refreshes.
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration

	// StuckJobTimeout is how long a history may sit in a non-terminal status
	// before the cleanup cron marks it failed.
	StuckJobTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		RedisAddress:      getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsAddr:       getEnv("METRICS_ADDR", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ServiceName:       getEnv("SERVICE_NAME", "backhaul"),
		WorkerID:          getEnv("WORKER_ID", hostnameOr("worker")),
		UploadConcurrency: getEnvInt("UPLOAD_CONCURRENCY", 10),
		ProgressInterval:  getEnvDuration("PROGRESS_INTERVAL", 500*time.Millisecond),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		HeartbeatTTL:      getEnvDuration("HEARTBEAT_TTL", 60*time.Second),
		StuckJobTimeout:   getEnvDuration("STUCK_JOB_TIMEOUT", 6*time.Hour),
	}

	return cfg, nil
}

// Validate checks that the config is complete for the given role.
func (c *Config) Validate(role string) error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for %s", role)
	}
	if c.UploadConcurrency < 1 {
		return fmt.Errorf("UPLOAD_CONCURRENCY must be at least 1")
	}
	if c.HeartbeatTTL <= c.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_TTL (%s) must exceed HEARTBEAT_INTERVAL (%s)", c.HeartbeatTTL, c.HeartbeatInterval)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}
