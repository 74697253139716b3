// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Provide New() to build a Config with defaults.
//   - Values stay as loaded; typed views (Schedule, MinIntervalDuration) are
//     derived on demand and validated by Validate.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/okian/holdout/internal/domain/stage"
)

// TimeLayout is the competition timestamp format, interpreted as UTC.
const TimeLayout = "2006/01/02 15:04:05"

// Storage and sink kinds.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	SinkDir         = "dir"
	SinkS3          = "s3"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Name labels the competition in metrics and responses.
	Name string `koanf:"name"`

	// Competition schedule, TimeLayout (UTC) or RFC3339.
	OpenTime      string `koanf:"open_time"`
	CloseTime     string `koanf:"close_time"`
	TerminateTime string `koanf:"terminate_time"`

	// MinInterval between two submissions of a participant: plain seconds
	// ("300") or a Go duration ("5m").
	MinInterval string `koanf:"min_interval"`
	MaxQuota    int    `koanf:"max_quota"`

	AdminUserID    string `koanf:"admin_user_id"`
	BaselineUserID string `koanf:"baseline_user_id"`

	// APIKeysFile is a JSON object mapping user id to API key.
	APIKeysFile  string `koanf:"api_keys_file"`
	SolutionFile string `koanf:"solution_file"`

	UploadDir      string `koanf:"upload_dir"`
	MaxUploadBytes int64  `koanf:"max_upload_bytes"`

	// Metric is one of accuracy, rmse, mae, r2. ScoreOrder overrides its
	// direction (desc/higher or asc/lower) when set.
	Metric     string `koanf:"metric"`
	ScoreOrder string `koanf:"score_order"`

	// DedupeSize bounds the idempotency key cache.
	DedupeSize int `koanf:"dedupe_size"`

	ExportWorkers   int `koanf:"export_workers"`
	ExportQueueSize int `koanf:"export_queue_size"`

	Storage     string `koanf:"storage"`
	PostgresDSN string `koanf:"postgres_dsn"`

	ExportSink        string `koanf:"export_sink"`
	DumpDir           string `koanf:"dump_dir"`
	S3Bucket          string `koanf:"s3_bucket"`
	S3Prefix          string `koanf:"s3_prefix"`
	S3Region          string `koanf:"s3_region"`
	S3Endpoint        string `koanf:"s3_endpoint"`
	S3AccessKeyID     string `koanf:"s3_access_key_id"`
	S3SecretAccessKey string `koanf:"s3_secret_access_key"`
}

// New creates a Config with defaults. The schedule has no default.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Addr:            ":9080",
		Name:            "holdout",
		MinInterval:     "300",
		MaxQuota:        100,
		AdminUserID:     "prof",
		BaselineUserID:  "baseline",
		APIKeysFile:     "api_keys.json",
		SolutionFile:    "solution.csv",
		UploadDir:       "uploads",
		MaxUploadBytes:  16 << 20,
		Metric:          "accuracy",
		DedupeSize:      10_000,
		ExportWorkers:   2,
		ExportQueueSize: 16,
		Storage:         StorageMemory,
		ExportSink:      SinkDir,
		DumpDir:         "dumps",
		S3Region:        "us-east-1",
	}
}

// ParseTime accepts TimeLayout (UTC) or RFC3339.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(TimeLayout, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q: expected %q or RFC3339", s, TimeLayout)
	}
	return t.UTC(), nil
}

// Schedule builds the competition schedule.
func (c *Config) Schedule() (stage.Schedule, error) {
	var ts [3]time.Time
	for i, kv := range [][2]string{
		{"open_time", c.OpenTime},
		{"close_time", c.CloseTime},
		{"terminate_time", c.TerminateTime},
	} {
		t, err := ParseTime(kv[1])
		if err != nil {
			return stage.Schedule{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, kv[0], err)
		}
		ts[i] = t
	}
	s, err := stage.NewSchedule(ts[0], ts[1], ts[2])
	if err != nil {
		return stage.Schedule{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return s, nil
}

// MinIntervalDuration parses MinInterval.
func (c *Config) MinIntervalDuration() (time.Duration, error) {
	s := strings.TrimSpace(c.MinInterval)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%w: min_interval must not be negative", ErrInvalidConfig)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: min_interval %q", ErrInvalidConfig, c.MinInterval)
	}
	return d, nil
}

// Validate checks the configuration for startup.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if _, err := c.Schedule(); err != nil {
		return err
	}
	if _, err := c.MinIntervalDuration(); err != nil {
		return err
	}
	if c.MaxQuota < 1 {
		return fmt.Errorf("%w: max_quota must be positive", ErrInvalidConfig)
	}
	if c.AdminUserID != "" && c.AdminUserID == c.BaselineUserID {
		return fmt.Errorf("%w: admin and baseline must be different users", ErrInvalidConfig)
	}
	if c.APIKeysFile == "" || c.SolutionFile == "" || c.UploadDir == "" {
		return fmt.Errorf("%w: api_keys_file, solution_file and upload_dir are required", ErrInvalidConfig)
	}
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres_dsn is required for postgres storage", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage %q", ErrInvalidConfig, c.Storage)
	}
	switch c.ExportSink {
	case SinkDir:
		if c.DumpDir == "" {
			return fmt.Errorf("%w: dump_dir is required for the dir sink", ErrInvalidConfig)
		}
	case SinkS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("%w: s3_bucket is required for the s3 sink", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown export_sink %q", ErrInvalidConfig, c.ExportSink)
	}
	return nil
}
