// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// ErrTranscoderPathRequired is returned when the transcoder path resolves empty.
var ErrTranscoderPathRequired = errors.New("config: FileConverter.TranscoderPath is required")

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Performance: worker pool sizes, queue depths, recovery tuning.
	MaxConcurrentDownloads        int `env:"PERF_MAX_CONCURRENT_DOWNLOADS, default=5" json:"max_concurrent_downloads"`
	MaxConcurrentYoutubeDownloads int `env:"PERF_MAX_CONCURRENT_YOUTUBE_DOWNLOADS, default=3" json:"max_concurrent_youtube_downloads"`
	MaxConcurrentConversions      int `env:"PERF_MAX_CONCURRENT_CONVERSIONS, default=0" json:"max_concurrent_conversions"` // 0 => cores-1
	MaxConcurrentUploads          int `env:"PERF_MAX_CONCURRENT_UPLOADS, default=5" json:"max_concurrent_uploads"`

	DownloadQueueCapacity int `env:"PERF_DOWNLOAD_QUEUE_CAPACITY, default=100" json:"download_queue_capacity"`
	YoutubeQueueCapacity  int `env:"PERF_YOUTUBE_QUEUE_CAPACITY, default=100" json:"youtube_queue_capacity"`
	ConvertQueueCapacity  int `env:"PERF_CONVERT_QUEUE_CAPACITY, default=0" json:"convert_queue_capacity"` // 0 => cores-1
	UploadQueueCapacity   int `env:"PERF_UPLOAD_QUEUE_CAPACITY, default=10" json:"upload_queue_capacity"`

	StaleJobThresholdMinutes int `env:"PERF_STALE_JOB_THRESHOLD_MINUTES, default=30" json:"stale_job_threshold_minutes"`
	JobRetryLimit            int `env:"PERF_JOB_RETRY_LIMIT, default=3" json:"job_retry_limit"`
	RecoveryIntervalMinutes  int `env:"PERF_RECOVERY_INTERVAL_MINUTES, default=10" json:"recovery_interval_minutes"`

	// FileConverter: temp storage, size caps, transcoder binary, allowed types.
	TempDirectory     string `env:"FC_TEMP_DIRECTORY, default=/tmp/videomp3" json:"temp_directory"`
	MaxTempSizeBytes  int64  `env:"FC_MAX_TEMP_SIZE_BYTES, default=10737418240" json:"max_temp_size_bytes"` // 10 GiB
	MaxFileSizeBytes  int64  `env:"FC_MAX_FILE_SIZE_BYTES, default=5368709120" json:"max_file_size_bytes"`  // 5 GiB
	AllowedFileTypes  string `env:"FC_ALLOWED_FILE_TYPES, default=video/mp4,video/webm,video/quicktime,audio/mpeg" json:"allowed_file_types"`
	TranscoderPath    string `env:"FC_TRANSCODER_PATH, default=ffmpeg" json:"transcoder_path"`
	TranscoderBitrate string `env:"FC_TRANSCODER_BITRATE, default=128k" json:"transcoder_bitrate"`

	// Youtube: retry/backoff tuning for the youtube worker.
	YoutubeMaxRetryAttempts        int `env:"YT_MAX_RETRY_ATTEMPTS, default=3" json:"youtube_max_retry_attempts"`
	YoutubeRetryDelaySeconds       int `env:"YT_RETRY_DELAY_SECONDS, default=2" json:"youtube_retry_delay_seconds"`
	YoutubeOperationTimeoutSeconds int `env:"YT_OPERATION_TIMEOUT_SECONDS, default=120" json:"youtube_operation_timeout_seconds"`

	// Caching: artifact/log retention.
	CachingDefaultExpirationDays  int `env:"CACHE_DEFAULT_EXPIRATION_DAYS, default=1" json:"caching_default_expiration_days"`
	CachingSlidingExpirationHours int `env:"CACHE_SLIDING_EXPIRATION_HOURS, default=1" json:"caching_sliding_expiration_hours"`
	LogRetentionDays              int `env:"LOG_RETENTION_DAYS, default=30" json:"log_retention_days"`

	// Storage settings
	DBPath             string `env:"DB_PATH, default=/tmp/videomp3/jobs.db" json:"db_path"`
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// AllowedFileTypeSet returns the configured content-type whitelist as a set.
func (c *Config) AllowedFileTypeSet() map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range strings.Split(c.AllowedFileTypes, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// ConvertWorkers resolves the configured conversion worker count, defaulting
// to cores-1 (minimum 1) when left at 0, per spec's Convert queue sizing.
func (c *Config) ConvertWorkers() int {
	if c.MaxConcurrentConversions > 0 {
		return c.MaxConcurrentConversions
	}
	return cpuBound()
}

// ConvertQueueDepth resolves the configured Convert queue depth, defaulting
// to cores-1 (minimum 1) when left at 0.
func (c *Config) ConvertQueueDepth() int {
	if c.ConvertQueueCapacity > 0 {
		return c.ConvertQueueCapacity
	}
	return cpuBound()
}

func cpuBound() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}
	return n
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TranscoderPath) == "" {
		return ErrTranscoderPathRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDirectory: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDirectory,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
