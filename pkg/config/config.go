package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/contractdesk/audittrail/pkg/audit"
	"github.com/contractdesk/audittrail/pkg/documents"
	"github.com/contractdesk/audittrail/pkg/observability"
	"github.com/contractdesk/audittrail/pkg/storage"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Storage       storage.Config      `yaml:"storage"`
	Audit         AuditConfig         `yaml:"audit"`
	Retention     RetentionConfig     `yaml:"retention"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string        `yaml:"url"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

// AuditConfig tunes the query and export surface of the trail.
type AuditConfig struct {
	ExportCap   int `yaml:"export_cap"`
	MaxPageSize int `yaml:"max_page_size"`
}

// RetentionConfig governs the soft-delete purge lifecycle.
type RetentionConfig struct {
	// Days a soft-deleted document survives before the sweep may purge it.
	Days int `yaml:"days"`

	// SweepSchedule is a cron expression for the background sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// ParsedLogLevel converts the configured level string.
func (c ObservabilityConfig) ParsedLogLevel() observability.LogLevel {
	return observability.ParseLogLevel(c.LogLevel)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			URL:          "postgres://localhost:5432/audittrail?sslmode=disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			ConnLifetime: 5 * time.Minute,
		},
		Storage: storage.DefaultConfig(),
		Audit: AuditConfig{
			ExportCap:   audit.DefaultExportCap,
			MaxPageSize: audit.DefaultMaxPageSize,
		},
		Retention: RetentionConfig{
			Days:          documents.DefaultRetentionDays,
			SweepSchedule: "30 3 * * *",
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
		},
	}
}

// Load builds the configuration by layering, lowest precedence first:
// built-in defaults, an optional YAML file, then AUDITTRAIL_* environment
// variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv builds the configuration from defaults and environment only,
// honoring AUDITTRAIL_CONFIG_FILE if set.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv("AUDITTRAIL_CONFIG_FILE"))
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("AUDITTRAIL_HOST", c.Server.Host)
	c.Server.Port = getEnv("AUDITTRAIL_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("AUDITTRAIL_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("AUDITTRAIL_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("AUDITTRAIL_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("AUDITTRAIL_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Database.URL = getEnv("AUDITTRAIL_POSTGRES_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvInt("AUDITTRAIL_POSTGRES_MAX_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("AUDITTRAIL_POSTGRES_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnLifetime = getEnvDuration("AUDITTRAIL_POSTGRES_CONN_LIFETIME", c.Database.ConnLifetime)

	c.Storage.Type = getEnv("AUDITTRAIL_STORAGE_TYPE", c.Storage.Type)
	c.Storage.FilesystemRoot = getEnv("AUDITTRAIL_FILESYSTEM_ROOT", c.Storage.FilesystemRoot)
	c.Storage.S3Endpoint = getEnv("AUDITTRAIL_S3_ENDPOINT", c.Storage.S3Endpoint)
	c.Storage.S3Region = getEnv("AUDITTRAIL_S3_REGION", c.Storage.S3Region)
	c.Storage.S3Bucket = getEnv("AUDITTRAIL_S3_BUCKET", c.Storage.S3Bucket)
	c.Storage.S3AccessKey = getEnv("AUDITTRAIL_S3_ACCESS_KEY", c.Storage.S3AccessKey)
	c.Storage.S3SecretKey = getEnv("AUDITTRAIL_S3_SECRET_KEY", c.Storage.S3SecretKey)
	c.Storage.S3UsePathStyle = getEnvBool("AUDITTRAIL_S3_USE_PATH_STYLE", c.Storage.S3UsePathStyle)
	c.Storage.Timeout = getEnvDuration("AUDITTRAIL_STORAGE_TIMEOUT", c.Storage.Timeout)

	c.Audit.ExportCap = getEnvInt("AUDITTRAIL_EXPORT_CAP", c.Audit.ExportCap)
	c.Audit.MaxPageSize = getEnvInt("AUDITTRAIL_MAX_PAGE_SIZE", c.Audit.MaxPageSize)

	c.Retention.Days = getEnvInt("AUDITTRAIL_RETENTION_DAYS", c.Retention.Days)
	c.Retention.SweepSchedule = getEnv("AUDITTRAIL_SWEEP_SCHEDULE", c.Retention.SweepSchedule)

	c.Observability.LogLevel = getEnv("AUDITTRAIL_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("AUDITTRAIL_METRICS_ENABLED", c.Observability.MetricsEnabled)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Audit.ExportCap < 1 {
		return fmt.Errorf("export cap must be at least 1")
	}
	if c.Audit.MaxPageSize < 1 {
		return fmt.Errorf("max page size must be at least 1")
	}
	if c.Retention.Days < 1 {
		return fmt.Errorf("retention days must be at least 1")
	}
	if c.Retention.SweepSchedule == "" {
		return fmt.Errorf("sweep schedule is required")
	}

	switch c.Storage.Type {
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem storage")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be filesystem or s3)", c.Storage.Type)
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
