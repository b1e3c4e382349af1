package config

import (
	"slices"
	"time"

	"github.com/sdejongh/kopier/pkg/compare"
	"github.com/sdejongh/kopier/pkg/models"
	"github.com/sdejongh/kopier/pkg/ratelimit"
	"github.com/sdejongh/kopier/pkg/storage"
)

// Config represents the application configuration
type Config struct {
	Transfer TransferConfig   `yaml:"transfer"`
	Output   OutputConfig     `yaml:"output"`
	Logging  LoggingConfig    `yaml:"logging"`
	Metrics  MetricsConfig    `yaml:"metrics"`
	S3       storage.S3Config `yaml:"s3"`
	Journal  JournalConfig    `yaml:"journal"`
}

// TransferConfig holds job related settings
type TransferConfig struct {
	Conflict           models.ConflictPolicy `yaml:"conflict"`
	DefaultPermissions bool                  `yaml:"default_permissions"`
	ResolveLocalURLs   bool                  `yaml:"resolve_local_urls"`
	ReportInterval     time.Duration         `yaml:"report_interval"`
	BufferSize         int                   `yaml:"buffer_size"`
	Bandwidth          string                `yaml:"bandwidth"` // e.g. "10M", empty = unlimited
	MaxConcurrentJobs  int                   `yaml:"max_concurrent_jobs"`
	SkipIdentical      string                `yaml:"skip_identical"` // comparison method, empty = disabled
}

// OutputConfig holds output-related settings
type OutputConfig struct {
	Format   string `yaml:"format"`   // "human" or "json"
	Progress bool   `yaml:"progress"` // Show progress bars
	Quiet    bool   `yaml:"quiet"`    // Suppress non-error output
}

// LoggingConfig holds logging-related settings
type LoggingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Format     string `yaml:"format"` // "json" or "text"
	Level      string `yaml:"level"`  // "debug", "info", "warn", "error"
	File       string `yaml:"file"`   // Log file path (empty = stderr)
	MaxSize    int64  `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
}

// MetricsConfig holds the Prometheus exposition settings
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty = disabled
}

// JournalConfig holds undo journal settings
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"` // empty = user config directory
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Transfer: TransferConfig{
			Conflict:          models.PolicyAsk,
			ReportInterval:    200 * time.Millisecond,
			BufferSize:        65536,
			MaxConcurrentJobs: 1,
		},
		Output: OutputConfig{
			Format:   "human",
			Progress: true,
		},
		Logging: LoggingConfig{
			Enabled:    false,
			Format:     "json",
			Level:      "info",
			MaxSize:    10 * 1024 * 1024,
			MaxBackups: 3,
		},
		S3: storage.S3Config{
			Region: "us-east-1",
		},
		Journal: JournalConfig{
			Enabled: true,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := models.ParseConflictPolicy(string(c.Transfer.Conflict)); err != nil {
		return &models.ValidationError{
			Field:   "transfer.conflict",
			Message: "must be 'ask', 'skip', 'overwrite', 'rename', or 'fail'",
		}
	}

	if c.Transfer.ReportInterval <= 0 {
		return &models.ValidationError{
			Field:   "transfer.report_interval",
			Message: "must be positive",
		}
	}

	if c.Transfer.BufferSize < 1024 {
		return &models.ValidationError{
			Field:   "transfer.buffer_size",
			Message: "must be at least 1024 bytes",
		}
	}

	if _, err := ratelimit.ParseRate(c.Transfer.Bandwidth); err != nil {
		return &models.ValidationError{
			Field:   "transfer.bandwidth",
			Message: err.Error(),
		}
	}

	if c.Transfer.MaxConcurrentJobs < 1 {
		return &models.ValidationError{
			Field:   "transfer.max_concurrent_jobs",
			Message: "must be at least 1",
		}
	}

	if c.Transfer.SkipIdentical != "" && !slices.Contains(compare.Methods, c.Transfer.SkipIdentical) {
		return &models.ValidationError{
			Field:   "transfer.skip_identical",
			Message: "must be 'size', 'timestamp', 'hash' or 'binary'",
		}
	}

	validFormats := map[string]bool{"human": true, "json": true}
	if !validFormats[c.Output.Format] {
		return &models.ValidationError{
			Field:   "output.format",
			Message: "must be 'human' or 'json'",
		}
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return &models.ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'text'",
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return &models.ValidationError{
			Field:   "logging.level",
			Message: "must be 'debug', 'info', 'warn', or 'error'",
		}
	}

	if c.Logging.MaxSize < 0 || c.Logging.MaxBackups < 0 {
		return &models.ValidationError{
			Field:   "logging.max_size",
			Message: "rotation limits cannot be negative",
		}
	}

	return nil
}
