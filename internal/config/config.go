package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the mail manager.
type Config struct {
	Server      ServerConfig    `yaml:"server"`
	Environment string          `yaml:"environment"` // "production", "staging", "local"
	Database    DatabaseConfig  `yaml:"database"`
	Redis       RedisConfig     `yaml:"redis"`
	SES         SESConfig       `yaml:"ses"`
	SQS         SQSConfig       `yaml:"sqs"`
	Tracking    TrackingConfig  `yaml:"tracking"`
	Sending     SendingConfig   `yaml:"sending"`
	Dispatch    DispatchConfig  `yaml:"dispatch"`
	Retention   RetentionConfig `yaml:"retention"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds Redis settings for the message-type cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// SESConfig holds AWS SES API configuration for the transport.
type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration.
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SQSConfig holds the queue settings for async tracking/webhook processing.
type SQSConfig struct {
	TrackerQueueURL string `yaml:"tracker_queue_url"`
	Region          string `yaml:"region"`
	Enabled         bool   `yaml:"enabled"`
}

// TrackingConfig holds open/click tracking and content logging settings.
type TrackingConfig struct {
	BaseURL            string `yaml:"base_url"`             // public base URL of the tracking endpoints
	SigningKey         string `yaml:"signing_key"`          // HMAC key for the click redirect
	InjectPixel        bool   `yaml:"inject_pixel"`
	TrackLinks         bool   `yaml:"track_links"`
	FallbackURL        string `yaml:"fallback_url"`         // redirect target for empty/missing links
	SNSTopicARN        string `yaml:"sns_topic_arn"`        // expected TopicArn on /sns, empty disables the check
	LogContent         bool   `yaml:"log_content"`
	LogContentStrategy string `yaml:"log_content_strategy"` // "database" or "s3"
	ContentMaxSize     int    `yaml:"content_max_size"`     // byte cap for inline content
	S3Bucket           string `yaml:"s3_bucket"`
	S3Folder           string `yaml:"s3_folder"`
}

// SendingConfig holds send-gate and error policy settings.
type SendingConfig struct {
	DevBcc                string `yaml:"dev_bcc"`                  // BCC address added outside production
	StagingThrottle       bool   `yaml:"staging_throttle"`         // 1s pause between sends in staging
	StaleLeaseMinutes     int    `yaml:"stale_lease_minutes"`      // reservation/error age before retry reclaims
	MaxAttemptsBeforeStop int    `yaml:"max_attempts_before_stop"` // backoff classifier cap
}

// StaleLeaseWindow returns the stale reservation window as a duration.
func (c SendingConfig) StaleLeaseWindow() time.Duration {
	return time.Duration(c.StaleLeaseMinutes) * time.Minute
}

// DispatchConfig holds scheduler pass settings.
type DispatchConfig struct {
	ChunkSize            int `yaml:"chunk_size"`
	PollIntervalSeconds  int `yaml:"poll_interval_seconds"`
	RetryIntervalSeconds int `yaml:"retry_interval_seconds"`
}

// PollInterval returns how often the scheduled pass runs.
func (c DispatchConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// RetryInterval returns how often the retry pass runs.
func (c DispatchConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSeconds) * time.Second
}

// RetentionConfig holds cleanup job settings.
type RetentionConfig struct {
	PurgeDeletedAfterDays int `yaml:"purge_deleted_after_days"`
	PurgeContentAfterDays int `yaml:"purge_content_after_days"`
}

// IsProduction reports whether sends should actually reach the transport.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsStaging reports whether the staging courtesy throttle applies.
func (c *Config) IsStaging() bool {
	return c.Environment == "staging"
}

// Load reads and parses the configuration file. A missing file is not
// an error: defaults apply and env overrides fill in the rest.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Environment == "" {
		cfg.Environment = "local"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "eu-west-1"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Tracking.LogContentStrategy == "" {
		cfg.Tracking.LogContentStrategy = "database"
	}
	if cfg.Tracking.ContentMaxSize == 0 {
		cfg.Tracking.ContentMaxSize = 65535
	}
	if cfg.Tracking.FallbackURL == "" {
		cfg.Tracking.FallbackURL = "/"
	}
	if cfg.Tracking.S3Folder == "" {
		cfg.Tracking.S3Folder = "mail-manager-tracker"
	}
	if cfg.Sending.StaleLeaseMinutes == 0 {
		cfg.Sending.StaleLeaseMinutes = 60
	}
	if cfg.Sending.MaxAttemptsBeforeStop == 0 {
		cfg.Sending.MaxAttemptsBeforeStop = 7
	}
	if cfg.Dispatch.ChunkSize == 0 {
		cfg.Dispatch.ChunkSize = 250
	}
	if cfg.Dispatch.PollIntervalSeconds == 0 {
		cfg.Dispatch.PollIntervalSeconds = 60
	}
	if cfg.Dispatch.RetryIntervalSeconds == 0 {
		cfg.Dispatch.RetryIntervalSeconds = 900
	}
	if cfg.Retention.PurgeDeletedAfterDays == 0 {
		cfg.Retention.PurgeDeletedAfterDays = 90
	}
	if cfg.Retention.PurgeContentAfterDays == 0 {
		cfg.Retention.PurgeContentAfterDays = 30
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SQS_TRACKER_QUEUE_URL"); v != "" {
		cfg.SQS.TrackerQueueURL = v
		cfg.SQS.Enabled = true
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("TRACKING_SIGNING_KEY"); v != "" {
		cfg.Tracking.SigningKey = v
	}
	if v := os.Getenv("SNS_TOPIC_ARN"); v != "" {
		cfg.Tracking.SNSTopicARN = v
	}
	if v := os.Getenv("TRACKING_S3_BUCKET"); v != "" {
		cfg.Tracking.S3Bucket = v
	}
	if v := os.Getenv("STALE_LEASE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sending.StaleLeaseMinutes = n
		}
	}

	return cfg, nil
}
