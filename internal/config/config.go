// Package config loads CiteWatch configuration from the process
// environment, with an optional .env file for deployment overrides and an
// optional encrypted credentials file for provider API keys.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/citewatch/citewatch/internal/models"
)

// ProviderConfig is the per-provider adapter configuration. A provider is
// registered iff its API key is present.
type ProviderConfig struct {
	APIKey     string
	BaseURL    string // optional endpoint override
	Model      string // optional model override
	RatePerMin int    // sliding-window cap, calls per 60s
}

// Config holds all application configuration.
type Config struct {
	// Required connection targets
	DatabaseURL string
	QueueURL    string

	// Server settings
	ListenAddr     string
	MetricsAddr    string // empty disables the metrics listener
	AllowedOrigins string
	DataDir        string

	// Worker settings
	WorkerConcurrency  int
	JobDeadline        time.Duration
	MaxRetries         int
	KeywordSpacing     time.Duration
	ShutdownGrace      time.Duration
	StoreDownThreshold int

	// Planner settings
	TrackingIntervalHours int
	DailyTrackingTime     string // "HH:MM" local time

	// Retention settings
	RetentionCitationsDays int
	RetentionAlertsDays    int
	RetentionJobsDays      int

	// Logging settings
	LogLevel   string
	LogFormat  string
	LogFile    string
	LogMaxSize int // MB
	LogMaxAge  int // days

	// Sentiment settings
	SentimentLexiconFile string

	// Alert webhook targets
	AlertWebhookURLs []string

	// Encrypted credentials file (env vars win on conflict)
	CredentialsFile       string
	CredentialsPassphrase string

	// Providers registered for this process, keyed by platform name
	Providers map[models.Platform]ProviderConfig
}

const (
	defaultRatePerMin = 10
	defaultDataDir    = "/var/lib/citewatch"
)

// Load reads configuration from the environment. A .env file in the
// current directory is honored when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	cfg := &Config{
		ListenAddr:             ":8080",
		MetricsAddr:            ":9091",
		DataDir:                defaultDataDir,
		WorkerConcurrency:      5,
		JobDeadline:            60 * time.Second,
		MaxRetries:             3,
		KeywordSpacing:         time.Second,
		ShutdownGrace:          30 * time.Second,
		StoreDownThreshold:     10,
		TrackingIntervalHours:  24,
		DailyTrackingTime:      "02:00",
		RetentionCitationsDays: 365,
		RetentionAlertsDays:    90,
		RetentionJobsDays:      30,
		LogLevel:               "info",
		LogFormat:              "auto",
		LogMaxSize:             100,
		LogMaxAge:              30,
		Providers:              make(map[models.Platform]ProviderConfig),
	}

	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.QueueURL = envString("QUEUE_URL", cfg.QueueURL)
	cfg.ListenAddr = envString("LISTEN_ADDR", cfg.ListenAddr)
	cfg.MetricsAddr = envString("METRICS_ADDR", cfg.MetricsAddr)
	cfg.AllowedOrigins = envString("ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.DataDir = envString("DATA_DIR", cfg.DataDir)

	cfg.WorkerConcurrency = envInt("WORKER_CONCURRENCY", cfg.WorkerConcurrency)
	cfg.JobDeadline = envSeconds("JOB_DEADLINE_SECONDS", cfg.JobDeadline)
	cfg.MaxRetries = envInt("MAX_RETRIES", cfg.MaxRetries)
	cfg.KeywordSpacing = envMillis("KEYWORD_SPACING_MS", cfg.KeywordSpacing)
	cfg.ShutdownGrace = envSeconds("SHUTDOWN_GRACE_SECONDS", cfg.ShutdownGrace)
	cfg.StoreDownThreshold = envInt("STORE_DOWN_THRESHOLD", cfg.StoreDownThreshold)

	cfg.TrackingIntervalHours = envInt("TRACKING_INTERVAL_HOURS", cfg.TrackingIntervalHours)
	cfg.DailyTrackingTime = envString("DAILY_TRACKING_TIME", cfg.DailyTrackingTime)

	cfg.RetentionCitationsDays = envInt("RETENTION_CITATIONS_DAYS", cfg.RetentionCitationsDays)
	cfg.RetentionAlertsDays = envInt("RETENTION_ALERTS_DAYS", cfg.RetentionAlertsDays)
	cfg.RetentionJobsDays = envInt("RETENTION_JOBS_DAYS", cfg.RetentionJobsDays)

	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envString("LOG_FORMAT", cfg.LogFormat)
	cfg.LogFile = envString("LOG_FILE", cfg.LogFile)
	cfg.LogMaxSize = envInt("LOG_MAX_SIZE", cfg.LogMaxSize)
	cfg.LogMaxAge = envInt("LOG_MAX_AGE", cfg.LogMaxAge)

	cfg.SentimentLexiconFile = envString("SENTIMENT_LEXICON_FILE", cfg.SentimentLexiconFile)

	if raw := os.Getenv("ALERT_WEBHOOK_URLS"); raw != "" {
		for _, u := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(u); trimmed != "" {
				cfg.AlertWebhookURLs = append(cfg.AlertWebhookURLs, trimmed)
			}
		}
	}

	cfg.CredentialsFile = envString("CREDENTIALS_FILE", cfg.CredentialsFile)
	cfg.CredentialsPassphrase = os.Getenv("CREDENTIALS_PASSPHRASE")

	if err := cfg.loadProviders(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadProviders resolves per-provider settings: the encrypted credentials
// file first (when configured), then environment variables on top.
func (c *Config) loadProviders() error {
	fromFile, err := loadCredentialsFile(c.CredentialsFile, c.CredentialsPassphrase, c.DataDir)
	if err != nil {
		return fmt.Errorf("load credentials file: %w", err)
	}

	for _, platform := range models.AllPlatforms() {
		pc := fromFile[platform]

		envName := strings.ToUpper(string(platform))
		if key := os.Getenv("PROVIDER_" + envName + "_API_KEY"); key != "" {
			pc.APIKey = key
		}
		if base := os.Getenv("PROVIDER_" + envName + "_BASE_URL"); base != "" {
			pc.BaseURL = base
		}
		if model := os.Getenv("PROVIDER_" + envName + "_MODEL"); model != "" {
			pc.Model = model
		}
		if rate := os.Getenv("PROVIDER_" + envName + "_RATE_PER_MIN"); rate != "" {
			n, err := strconv.Atoi(rate)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid PROVIDER_%s_RATE_PER_MIN %q", envName, rate)
			}
			pc.RatePerMin = n
		}
		if pc.RatePerMin <= 0 {
			pc.RatePerMin = defaultRatePerMin
		}

		// Presence of an API key registers the adapter; absence leaves
		// the platform unregistered for this process.
		if pc.APIKey != "" {
			c.Providers[platform] = pc
		}
	}

	if len(c.Providers) == 0 {
		log.Warn().Msg("No provider API keys configured; tracking jobs will fail until a provider is enabled")
	}

	return nil
}

// Validate checks configuration consistency. Callers exit with status 1
// when it fails.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.QueueURL == "" {
		return fmt.Errorf("QUEUE_URL is required")
	}
	if _, err := url.Parse(c.QueueURL); err != nil {
		return fmt.Errorf("QUEUE_URL is not a valid URL: %w", err)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}
	if c.JobDeadline < time.Second {
		return fmt.Errorf("JOB_DEADLINE_SECONDS must be at least 1, got %s", c.JobDeadline)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.TrackingIntervalHours < 1 {
		return fmt.Errorf("TRACKING_INTERVAL_HOURS must be at least 1, got %d", c.TrackingIntervalHours)
	}
	if _, _, err := ParseClockTime(c.DailyTrackingTime); err != nil {
		return fmt.Errorf("DAILY_TRACKING_TIME: %w", err)
	}
	for name, days := range map[string]int{
		"RETENTION_CITATIONS_DAYS": c.RetentionCitationsDays,
		"RETENTION_ALERTS_DAYS":    c.RetentionAlertsDays,
		"RETENTION_JOBS_DAYS":      c.RetentionJobsDays,
	} {
		if days < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, days)
		}
	}
	return nil
}

// ParseClockTime parses a "HH:MM" wall-clock string.
func ParseClockTime(value string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour, minute, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-integer environment value")
		return fallback
	}
	return n
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring invalid seconds value")
		return fallback
	}
	return time.Duration(n) * time.Second
}

func envMillis(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring invalid milliseconds value")
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}
