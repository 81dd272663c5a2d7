/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL (e.g., https://radio.example.org)
	DBBackend   DatabaseBackend
	DBDSN       string
	MetricsBind string

	// Uploaded media storage
	MediaRoot       string
	MaxUploadSizeMB int // Optional multipart upload limit override (MB)

	// S3 object storage (filesystem storage is used when no bucket is set)
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN base URL
	S3UsePathStyle    bool   // Required for MinIO

	// Redis read-side cache (disabled when addr is empty)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Broadcast engine
	ClockOffsetSeconds int    // Initial manual offset for the effective clock
	IdleAudioURL       string // Fallback asset played when nothing is scheduled
	IdleLoopSeconds    int    // Loop length of the fallback asset

	// Tracing
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ETHERWAVE_ENV", "development"),
		HTTPBind:    getEnv("ETHERWAVE_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("ETHERWAVE_HTTP_PORT", 8080),
		BaseURL:     getEnv("ETHERWAVE_BASE_URL", ""),
		DBBackend:   DatabaseBackend(getEnv("ETHERWAVE_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:       getEnv("ETHERWAVE_DB_DSN", ""),
		MetricsBind: getEnv("ETHERWAVE_METRICS_BIND", "127.0.0.1:9000"),

		MediaRoot:       getEnv("ETHERWAVE_MEDIA_ROOT", "./media"),
		MaxUploadSizeMB: getEnvInt("ETHERWAVE_MAX_UPLOAD_SIZE_MB", 0),

		S3AccessKeyID:     getEnvAny([]string{"ETHERWAVE_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"ETHERWAVE_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"ETHERWAVE_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnv("ETHERWAVE_S3_BUCKET", ""),
		S3Endpoint:        getEnv("ETHERWAVE_S3_ENDPOINT", ""),
		S3PublicBaseURL:   getEnv("ETHERWAVE_S3_PUBLIC_BASE_URL", ""),
		S3UsePathStyle:    getEnvBool("ETHERWAVE_S3_USE_PATH_STYLE", false),

		RedisAddr:     getEnv("ETHERWAVE_REDIS_ADDR", ""),
		RedisPassword: getEnv("ETHERWAVE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("ETHERWAVE_REDIS_DB", 0),

		ClockOffsetSeconds: getEnvInt("ETHERWAVE_CLOCK_OFFSET_SECONDS", 0),
		IdleAudioURL:       getEnv("ETHERWAVE_IDLE_AUDIO_URL", "/static/white-noise.mp3"),
		IdleLoopSeconds:    getEnvInt("ETHERWAVE_IDLE_LOOP_SECONDS", 300),

		TracingEnabled:    getEnvBool("ETHERWAVE_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("ETHERWAVE_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("ETHERWAVE_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("ETHERWAVE_DB_DSN must be provided")
	}

	if cfg.IdleLoopSeconds <= 0 {
		return nil, fmt.Errorf("ETHERWAVE_IDLE_LOOP_SECONDS must be positive")
	}

	return cfg, nil
}

// MaxUploadSizeBytes returns the configured upload limit in bytes.
// A value of 0 means "not configured" and callers should use endpoint defaults.
func (c *Config) MaxUploadSizeBytes() int64 {
	if c == nil || c.MaxUploadSizeMB <= 0 {
		return 0
	}
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}

// ClockOffset returns the initial manual clock offset as a duration.
func (c *Config) ClockOffset() time.Duration {
	return time.Duration(c.ClockOffsetSeconds) * time.Second
}

// IdleLoop returns the idle placeholder loop length as a duration.
func (c *Config) IdleLoop() time.Duration {
	return time.Duration(c.IdleLoopSeconds) * time.Second
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}
