package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Database
	DatabaseURL string

	// Server
	APIPort int

	// Storage
	BlobStoragePath string
	WorkDir         string

	// Ingestion
	BatchSize            int
	InlineBodyLimit      int
	AttachmentWorkers    int
	StorageRetryAttempts int

	// Logging
	LogLevel string

	// Security
	APIKey         string
	AllowedOrigins string
	AppEnv         string

	// Rate Limiting
	RateLimitRequests float64
	RateLimitBurst    int

	// Optional integrations
	RedisURL       string
	SentryDSN      string
	SMTPNotifyAddr string
	NotifyFrom     string
	NotifyTo       []string
}

// LoadDotEnv reads variables from the given .env files into the process
// environment. Variables that are already set win. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// Required: DATABASE_URL
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set")
	}

	if cfg.APIPort, err = intEnv("API_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = intEnv("BATCH_SIZE", 500); err != nil {
		return nil, err
	}
	if cfg.InlineBodyLimit, err = intEnv("INLINE_BODY_LIMIT", 10*1024); err != nil {
		return nil, err
	}
	if cfg.AttachmentWorkers, err = intEnv("ATTACHMENT_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.StorageRetryAttempts, err = intEnv("STORAGE_RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}

	cfg.BlobStoragePath = stringEnv("BLOB_STORAGE_PATH", "./blobs")
	cfg.WorkDir = stringEnv("WORK_DIR", os.TempDir())
	cfg.LogLevel = stringEnv("LOG_LEVEL", "info")

	// Security configuration
	cfg.APIKey = os.Getenv("API_KEY")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.AppEnv = stringEnv("APP_ENV", "development")

	// Rate limiting configuration
	if rps := os.Getenv("RATE_LIMIT_REQUESTS"); rps != "" {
		if v, err := strconv.ParseFloat(rps, 64); err == nil {
			cfg.RateLimitRequests = v
		}
	} else {
		cfg.RateLimitRequests = 10.0
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		if v, err := strconv.Atoi(burst); err == nil {
			cfg.RateLimitBurst = v
		}
	} else {
		cfg.RateLimitBurst = 20
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.SentryDSN = os.Getenv("SENTRY_DSN")
	cfg.SMTPNotifyAddr = os.Getenv("SMTP_NOTIFY_ADDR")
	cfg.NotifyFrom = os.Getenv("NOTIFY_FROM")
	cfg.NotifyTo = SplitList(os.Getenv("NOTIFY_TO"))

	return cfg, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return n, nil
}

// SplitList splits a comma separated value, dropping blanks
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadWithValidation loads and validates configuration, failing fast on errors
func LoadWithValidation() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Production-specific validation
	if cfg.IsProduction() {
		if err := cfg.ValidateProduction(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// IsProduction reports whether APP_ENV is production
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// NotificationsEnabled reports whether terminal jobs are mailed
func (c *Config) NotificationsEnabled() bool {
	return c.SMTPNotifyAddr != "" && len(c.NotifyTo) > 0
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DatabaseURL cannot be empty")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("APIPort must be between 1 and 65535")
	}
	if c.BlobStoragePath == "" {
		return fmt.Errorf("BlobStoragePath cannot be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("WorkDir cannot be empty")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive")
	}
	if c.InlineBodyLimit <= 0 {
		return fmt.Errorf("INLINE_BODY_LIMIT must be positive")
	}
	if c.AttachmentWorkers <= 0 {
		return fmt.Errorf("ATTACHMENT_WORKERS must be positive")
	}
	if c.StorageRetryAttempts < 0 {
		return fmt.Errorf("STORAGE_RETRY_ATTEMPTS cannot be negative")
	}

	if c.SMTPNotifyAddr != "" {
		if len(c.NotifyTo) == 0 {
			return fmt.Errorf("NOTIFY_TO is required when SMTP_NOTIFY_ADDR is set")
		}
		if err := checkmail.ValidateFormat(c.NotifyFrom); err != nil {
			return fmt.Errorf("NOTIFY_FROM %q is not a valid address: %w", c.NotifyFrom, err)
		}
		for _, to := range c.NotifyTo {
			if err := checkmail.ValidateFormat(to); err != nil {
				return fmt.Errorf("NOTIFY_TO %q is not a valid address: %w", to, err)
			}
		}
	}
	return nil
}

// ValidateProduction performs additional validation for production environment
func (c *Config) ValidateProduction() error {
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required in production")
	}

	if c.AllowedOrigins == "" {
		return fmt.Errorf("ALLOWED_ORIGINS is required in production")
	}

	// Check for wildcard in production
	if strings.Contains(c.AllowedOrigins, "*") {
		return fmt.Errorf("wildcard (*) origins are not allowed in production")
	}

	// Check for sslmode=disable in database URL
	if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		return fmt.Errorf("sslmode=disable is not allowed in production")
	}

	if strings.HasPrefix(c.DatabaseURL, "sqlite://") {
		return fmt.Errorf("sqlite databases are not allowed in production")
	}

	return nil
}

// LogConfig logs configuration values (excluding secrets)
func (c *Config) LogConfig(logger *slog.Logger) {
	logger.Info("configuration loaded",
		slog.Int("api_port", c.APIPort),
		slog.String("blob_storage_path", c.BlobStoragePath),
		slog.String("work_dir", c.WorkDir),
		slog.Int("batch_size", c.BatchSize),
		slog.Int("inline_body_limit", c.InlineBodyLimit),
		slog.Int("attachment_workers", c.AttachmentWorkers),
		slog.Int("storage_retry_attempts", c.StorageRetryAttempts),
		slog.String("log_level", c.LogLevel),
		slog.String("app_env", c.AppEnv),
		slog.Bool("api_key_set", c.APIKey != ""),
		slog.Bool("allowed_origins_set", c.AllowedOrigins != ""),
		slog.Float64("rate_limit_rps", c.RateLimitRequests),
		slog.Int("rate_limit_burst", c.RateLimitBurst),
		slog.Bool("redis_lock", c.RedisURL != ""),
		slog.Bool("sentry_enabled", c.SentryDSN != ""),
		slog.Bool("notifications_enabled", c.NotificationsEnabled()),
	)
}
