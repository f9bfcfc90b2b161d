package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ALERT_MODE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.GammaAPIBaseURL != "https://gamma-api.polymarket.com" {
		t.Errorf("unexpected gamma url: %s", cfg.GammaAPIBaseURL)
	}
	if cfg.MarketPageSize != 500 || cfg.MarketMaxPages != 10 {
		t.Errorf("unexpected paging defaults: %d x %d", cfg.MarketPageSize, cfg.MarketMaxPages)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("unexpected poll interval: %v", cfg.PollInterval)
	}
	if cfg.CacheRefreshInterval != time.Minute {
		t.Errorf("unexpected cache refresh interval: %v", cfg.CacheRefreshInterval)
	}
	if cfg.SearchLimit != 20 {
		t.Errorf("unexpected search limit: %d", cfg.SearchLimit)
	}
	if modes := cfg.AlertModes(); len(modes) != 1 || modes[0] != "log" {
		t.Errorf("unexpected alert modes: %v", modes)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("POLL_INTERVAL_SEC", "30")
	t.Setenv("POLL_WORKERS", "8")
	t.Setenv("ALERT_MODE", "log, telegram")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("SMTP_TO", "a@example.com, b@example.com,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.PollInterval != 30*time.Second {
		t.Errorf("poll interval = %v, want 30s", cfg.PollInterval)
	}
	if cfg.PollWorkers != 8 {
		t.Errorf("poll workers = %d, want 8", cfg.PollWorkers)
	}
	if cfg.TelegramChatID != -100123 {
		t.Errorf("telegram chat id = %d", cfg.TelegramChatID)
	}
	if len(cfg.SMTPTo) != 2 || cfg.SMTPTo[1] != "b@example.com" {
		t.Errorf("smtp to = %v", cfg.SMTPTo)
	}
}

func TestLoadSecretFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("file-token\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ALERT_MODE", "telegram")
	t.Setenv("TELEGRAM_BOT_TOKEN_FILE", path)
	t.Setenv("TELEGRAM_CHAT_ID", "42")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.TelegramBotToken != "file-token" {
		t.Errorf("token = %q, want file-token", cfg.TelegramBotToken)
	}
}

func TestLoadInvalidChatID(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid TELEGRAM_CHAT_ID")
	}
}

func validConfig() Config {
	return Config{
		LogFormat:            "json",
		StoreDriver:          StoreDriverMemory,
		GammaAPIBaseURL:      "https://gamma-api.polymarket.com",
		MarketPageSize:       500,
		MarketMaxPages:       10,
		CacheRefreshInterval: time.Minute,
		PollInterval:         10 * time.Second,
		PriceFetchTimeout:    10 * time.Second,
		PollWorkers:          5,
		SearchLimit:          20,
		AlertMode:            "log",
		TickLockTTL:          time.Minute,
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown store driver", func(c *Config) { c.StoreDriver = "postgres" }},
		{"mysql without dsn", func(c *Config) { c.StoreDriver = StoreDriverMySQL; c.DatabaseDSN = "" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"empty gamma url", func(c *Config) { c.GammaAPIBaseURL = "" }},
		{"zero page size", func(c *Config) { c.MarketPageSize = 0 }},
		{"zero max pages", func(c *Config) { c.MarketMaxPages = 0 }},
		{"sub-second poll interval", func(c *Config) { c.PollInterval = 100 * time.Millisecond }},
		{"zero fetch timeout", func(c *Config) { c.PriceFetchTimeout = 0 }},
		{"zero workers", func(c *Config) { c.PollWorkers = 0 }},
		{"empty alert mode", func(c *Config) { c.AlertMode = " , " }},
		{"unknown alert mode", func(c *Config) { c.AlertMode = "pager" }},
		{"discord without urls", func(c *Config) { c.AlertMode = "discord" }},
		{"smtp without host", func(c *Config) { c.AlertMode = "smtp"; c.SMTPTo = []string{"a@example.com"} }},
		{"smtp without recipients", func(c *Config) { c.AlertMode = "smtp"; c.SMTPHost = "mail" }},
		{"telegram without token", func(c *Config) { c.AlertMode = "telegram"; c.TelegramChatID = 1 }},
		{"telegram without chat", func(c *Config) { c.AlertMode = "telegram"; c.TelegramBotToken = "t" }},
		{"lock ttl too short", func(c *Config) { c.RedisAddr = "redis:6379"; c.TickLockTTL = 5 * time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
