package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/citewatch/citewatch/internal/models"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "file:citewatch.db")
	t.Setenv("QUEUE_URL", "redis://localhost:6379/0")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.WorkerConcurrency != 5 {
		t.Errorf("WorkerConcurrency = %d, want 5", cfg.WorkerConcurrency)
	}
	if cfg.JobDeadline != 60*time.Second {
		t.Errorf("JobDeadline = %s, want 60s", cfg.JobDeadline)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.TrackingIntervalHours != 24 {
		t.Errorf("TrackingIntervalHours = %d, want 24", cfg.TrackingIntervalHours)
	}
	if cfg.RetentionCitationsDays != 365 || cfg.RetentionAlertsDays != 90 || cfg.RetentionJobsDays != 30 {
		t.Errorf("retention defaults = %d/%d/%d, want 365/90/30",
			cfg.RetentionCitationsDays, cfg.RetentionAlertsDays, cfg.RetentionJobsDays)
	}
	if cfg.KeywordSpacing != time.Second {
		t.Errorf("KeywordSpacing = %s, want 1s", cfg.KeywordSpacing)
	}
	if len(cfg.Providers) != 0 {
		t.Errorf("expected no providers without API keys, got %d", len(cfg.Providers))
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("JOB_DEADLINE_SECONDS", "90")
	t.Setenv("KEYWORD_SPACING_MS", "250")
	t.Setenv("DAILY_TRACKING_TIME", "06:30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.WorkerConcurrency != 8 {
		t.Errorf("WorkerConcurrency = %d, want 8", cfg.WorkerConcurrency)
	}
	if cfg.JobDeadline != 90*time.Second {
		t.Errorf("JobDeadline = %s, want 90s", cfg.JobDeadline)
	}
	if cfg.KeywordSpacing != 250*time.Millisecond {
		t.Errorf("KeywordSpacing = %s, want 250ms", cfg.KeywordSpacing)
	}
	if cfg.DailyTrackingTime != "06:30" {
		t.Errorf("DailyTrackingTime = %s, want 06:30", cfg.DailyTrackingTime)
	}
}

func TestLoadRegistersProvidersByKeyPresence(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PROVIDER_GEMINI_API_KEY", "g-key")
	t.Setenv("PROVIDER_GEMINI_RATE_PER_MIN", "15")
	t.Setenv("PROVIDER_CHATGPT_API_KEY", "c-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	gemini, ok := cfg.Providers[models.PlatformGemini]
	if !ok {
		t.Fatal("gemini should be registered")
	}
	if gemini.APIKey != "g-key" || gemini.RatePerMin != 15 {
		t.Errorf("gemini config = %+v", gemini)
	}

	chatgpt, ok := cfg.Providers[models.PlatformChatGPT]
	if !ok {
		t.Fatal("chatgpt should be registered")
	}
	if chatgpt.RatePerMin != defaultRatePerMin {
		t.Errorf("chatgpt rate = %d, want default %d", chatgpt.RatePerMin, defaultRatePerMin)
	}

	if _, ok := cfg.Providers[models.PlatformClaude]; ok {
		t.Error("claude has no key and should not be registered")
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("QUEUE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}

	t.Setenv("DATABASE_URL", "file:x.db")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when QUEUE_URL is missing")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	setRequiredEnv(t)
	tests := []struct {
		key   string
		value string
	}{
		{"WORKER_CONCURRENCY", "0"},
		{"DAILY_TRACKING_TIME", "24:00"},
		{"DAILY_TRACKING_TIME", "nope"},
		{"RETENTION_ALERTS_DAYS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected Load to fail with %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestParseClockTime(t *testing.T) {
	hour, minute, err := ParseClockTime("02:00")
	if err != nil || hour != 2 || minute != 0 {
		t.Errorf("ParseClockTime(02:00) = %d,%d,%v", hour, minute, err)
	}
	if _, _, err := ParseClockTime("7"); err == nil {
		t.Error("expected error for missing minutes")
	}
	if _, _, err := ParseClockTime("12:61"); err == nil {
		t.Error("expected error for out-of-range minutes")
	}
}

func TestCredentialsFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.enc")

	creds := map[models.Platform]ProviderConfig{
		models.PlatformPerplexity: {APIKey: "pplx-1", RatePerMin: 20},
		models.PlatformClaude:     {APIKey: "sk-ant-1", Model: "claude-sonnet-4-5"},
	}

	if err := SaveCredentialsFile(path, creds, "passphrase", dir); err != nil {
		t.Fatalf("SaveCredentialsFile: %v", err)
	}

	loaded, err := loadCredentialsFile(path, "passphrase", dir)
	if err != nil {
		t.Fatalf("loadCredentialsFile: %v", err)
	}

	if loaded[models.PlatformPerplexity].APIKey != "pplx-1" {
		t.Errorf("perplexity key = %q", loaded[models.PlatformPerplexity].APIKey)
	}
	if loaded[models.PlatformClaude].Model != "claude-sonnet-4-5" {
		t.Errorf("claude model = %q", loaded[models.PlatformClaude].Model)
	}

	if _, err := loadCredentialsFile(path, "wrong", dir); err == nil {
		t.Error("expected decrypt failure with wrong passphrase")
	}
}

func TestCredentialsFileEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.enc")

	creds := map[models.Platform]ProviderConfig{
		models.PlatformGrok: {APIKey: "file-key", RatePerMin: 4},
	}
	if err := SaveCredentialsFile(path, creds, "pp", dir); err != nil {
		t.Fatalf("SaveCredentialsFile: %v", err)
	}

	setRequiredEnv(t)
	t.Setenv("DATA_DIR", dir)
	t.Setenv("CREDENTIALS_FILE", path)
	t.Setenv("CREDENTIALS_PASSPHRASE", "pp")
	t.Setenv("PROVIDER_GROK_API_KEY", "env-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	grok := cfg.Providers[models.PlatformGrok]
	if grok.APIKey != "env-key" {
		t.Errorf("env should win over file, got %q", grok.APIKey)
	}
	if grok.RatePerMin != 4 {
		t.Errorf("file rate should survive, got %d", grok.RatePerMin)
	}
}
