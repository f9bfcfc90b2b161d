package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/leduftw/polymarket-price-alert/internal/secrets"
)

// StoreDriver selects the alert store implementation
type StoreDriver string

const (
	StoreDriverMySQL  StoreDriver = "mysql"
	StoreDriverMemory StoreDriver = "memory"
)

// Config holds all application configuration
type Config struct {
	// Environment
	Environment string
	LogLevel    string
	LogFormat   string // json, text

	// Storage
	StoreDriver         StoreDriver
	DatabaseDSN         string
	DatabaseMaxConns    int
	DatabaseMaxIdleTime time.Duration

	// Gamma API
	GammaAPIBaseURL string
	GammaAPIRPS     float64
	GammaAPITimeout time.Duration

	// Market cache
	MarketPageSize       int
	MarketMaxPages       int
	CacheRefreshInterval time.Duration

	// Polling
	PollInterval      time.Duration
	PriceFetchTimeout time.Duration
	PollWorkers       int

	// Notifications
	AlertMode          string // csv of log, discord, smtp, telegram, socket
	NotifyTimeout      time.Duration
	DiscordWebhookURLs []string
	SMTPHost           string
	SMTPPort           int
	SMTPUser           string
	SMTPPassword       string
	SMTPFrom           string
	SMTPTo             []string
	TelegramBotToken   string
	TelegramChatID     int64

	// HTTP
	HTTPPort    int
	SearchLimit int

	// Tick lock (optional, shared across replicas)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TickLockTTL   time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:          getEnv("ENVIRONMENT", "production"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		StoreDriver:          StoreDriver(getEnv("STORE_DRIVER", string(StoreDriverMySQL))),
		DatabaseDSN:          secrets.GetOptionalSecret("DATABASE_DSN", "pricealert:pricealert@tcp(mysql:3306)/pricealert?parseTime=true"),
		DatabaseMaxConns:     getEnvInt("DATABASE_MAX_CONNS", 10),
		DatabaseMaxIdleTime:  time.Duration(getEnvInt("DATABASE_MAX_IDLE_TIME_MINS", 5)) * time.Minute,
		GammaAPIBaseURL:      getEnv("GAMMA_API_BASE_URL", "https://gamma-api.polymarket.com"),
		GammaAPIRPS:          getEnvFloat("GAMMA_API_RPS", 5.0),
		GammaAPITimeout:      getEnvSeconds("GAMMA_API_TIMEOUT_SEC", 30),
		MarketPageSize:       getEnvInt("MARKET_PAGE_SIZE", 500),
		MarketMaxPages:       getEnvInt("MARKET_MAX_PAGES", 10),
		CacheRefreshInterval: getEnvSeconds("CACHE_REFRESH_INTERVAL_SEC", 60),
		PollInterval:         getEnvSeconds("POLL_INTERVAL_SEC", 10),
		PriceFetchTimeout:    getEnvSeconds("PRICE_FETCH_TIMEOUT_SEC", 10),
		PollWorkers:          getEnvInt("POLL_WORKERS", 5),
		AlertMode:            getEnv("ALERT_MODE", "log"),
		NotifyTimeout:        getEnvSeconds("NOTIFY_TIMEOUT_SEC", 10),
		DiscordWebhookURLs:   parseCSV(secrets.GetOptionalSecret("DISCORD_WEBHOOK_URLS", "")),
		SMTPHost:             getEnv("SMTP_HOST", ""),
		SMTPPort:             getEnvInt("SMTP_PORT", 587),
		SMTPUser:             getEnv("SMTP_USER", ""),
		SMTPPassword:         secrets.GetOptionalSecret("SMTP_PASSWORD", ""),
		SMTPFrom:             getEnv("SMTP_FROM", "pricealert@example.com"),
		SMTPTo:               parseCSV(getEnv("SMTP_TO", "")),
		TelegramBotToken:     secrets.GetOptionalSecret("TELEGRAM_BOT_TOKEN", ""),
		HTTPPort:             getEnvInt("HTTP_PORT", 8080),
		SearchLimit:          getEnvInt("SEARCH_LIMIT", 20),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        secrets.GetOptionalSecret("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		TickLockTTL:          getEnvSeconds("TICK_LOCK_TTL_SEC", 60),
	}

	if chatID := getEnv("TELEGRAM_CHAT_ID", ""); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// AlertModes returns the configured notification channels
func (c *Config) AlertModes() []string {
	return parseCSV(c.AlertMode)
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverMySQL:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_DSN is required when STORE_DRIVER is mysql")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER: %s (must be mysql or memory)", c.StoreDriver)
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be json or text)", c.LogFormat)
	}

	if c.GammaAPIBaseURL == "" {
		return fmt.Errorf("GAMMA_API_BASE_URL is required")
	}
	if c.MarketPageSize < 1 {
		return fmt.Errorf("MARKET_PAGE_SIZE must be at least 1")
	}
	if c.MarketMaxPages < 1 {
		return fmt.Errorf("MARKET_MAX_PAGES must be at least 1")
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("POLL_INTERVAL_SEC must be at least 1")
	}
	if c.CacheRefreshInterval < time.Second {
		return fmt.Errorf("CACHE_REFRESH_INTERVAL_SEC must be at least 1")
	}
	if c.PriceFetchTimeout <= 0 {
		return fmt.Errorf("PRICE_FETCH_TIMEOUT_SEC must be positive")
	}
	if c.PollWorkers < 1 {
		return fmt.Errorf("POLL_WORKERS must be at least 1")
	}
	if c.SearchLimit < 1 {
		return fmt.Errorf("SEARCH_LIMIT must be at least 1")
	}

	modes := c.AlertModes()
	if len(modes) == 0 {
		return fmt.Errorf("ALERT_MODE must name at least one channel")
	}
	for _, mode := range modes {
		switch mode {
		case "log", "socket":
		case "discord":
			if len(c.DiscordWebhookURLs) == 0 {
				return fmt.Errorf("DISCORD_WEBHOOK_URLS is required when discord is in ALERT_MODE")
			}
		case "smtp":
			if c.SMTPHost == "" {
				return fmt.Errorf("SMTP_HOST is required when smtp is in ALERT_MODE")
			}
			if len(c.SMTPTo) == 0 {
				return fmt.Errorf("SMTP_TO is required when smtp is in ALERT_MODE")
			}
		case "telegram":
			if c.TelegramBotToken == "" {
				return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when telegram is in ALERT_MODE")
			}
			if c.TelegramChatID == 0 {
				return fmt.Errorf("TELEGRAM_CHAT_ID is required when telegram is in ALERT_MODE")
			}
		default:
			return fmt.Errorf("invalid ALERT_MODE value: %s (valid values: log, discord, smtp, telegram, socket)", mode)
		}
	}

	if c.RedisAddr != "" && c.TickLockTTL <= c.PriceFetchTimeout {
		return fmt.Errorf("TICK_LOCK_TTL_SEC must exceed PRICE_FETCH_TIMEOUT_SEC")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}

func parseCSV(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
