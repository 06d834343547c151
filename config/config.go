package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Schedule  ScheduleConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Captcha   CaptchaConfig
	Telegram  TelegramConfig
	Webhook   WebhookConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig

	// SitesFile is the YAML file holding the site definitions.
	SitesFile string // default: "config/sites_config.yaml"

	// ScreenshotDir is the base directory for per-site screenshots.
	ScreenshotDir string // default: "screenshots"
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Chrome instance launched per parse attempt.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// Timeout bounds every single browser interaction.
	Timeout time.Duration // default: 30s

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: true

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is an optional upstream proxy URL.
	Proxy string

	// BlockedResourceTypes lists resource types to block, e.g. "Media,Font".
	BlockedResourceTypes []string
}

// ScheduleConfig controls the recurring batch.
type ScheduleConfig struct {
	Interval            time.Duration // default: 1h (PARSE_INTERVAL_HOURS)
	ScreenshotRetention time.Duration // default: 30 days
	ResultRetention     time.Duration // default: 90 days
}

// StorageConfig selects and configures the result store.
type StorageConfig struct {
	Driver   string // "postgres" or "memory"; default: "postgres"
	Host     string // default: "localhost"
	Port     int    // default: 5432
	Name     string // default: "parser_db"
	User     string // default: "postgres"
	Password string
	SSLMode  string // default: "disable"
}

// DSN renders the pgx connection string.
func (s StorageConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(s.User, s.Password),
		Host:     fmt.Sprintf("%s:%d", s.Host, s.Port),
		Path:     "/" + s.Name,
		RawQuery: "sslmode=" + url.QueryEscape(s.SSLMode),
	}
	return u.String()
}

// RedisConfig enables the cross-process run lock when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CaptchaConfig controls the CapMonster Cloud client.
type CaptchaConfig struct {
	APIKey       string
	BaseURL      string        // default: "https://api.capmonster.cloud"
	PollInterval time.Duration // default: 2s
	Timeout      time.Duration // default: 120s
}

// TelegramConfig enables the operator bot when Token is set.
type TelegramConfig struct {
	Token   string
	AdminID int64
	BaseURL string // default: "https://api.telegram.org"
}

// WebhookConfig enables batch.completed delivery when URL is set.
type WebhookConfig struct {
	URL    string
	Secret string
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// CacheConfig controls the latest-results read cache.
type CacheConfig struct {
	TTL time.Duration // default: 1m
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("PAYWATCH_HOST", "0.0.0.0"),
			Port: envIntOr("PAYWATCH_PORT", 8080),
			Mode: envOr("PAYWATCH_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:             envBoolOr("HEADLESS_MODE", true),
			Timeout:              envMillisOr("BROWSER_TIMEOUT", 30*time.Second),
			NoSandbox:            envBoolOr("BROWSER_NO_SANDBOX", true),
			BrowserBin:           os.Getenv("BROWSER_BIN"),
			Proxy:                os.Getenv("BROWSER_PROXY"),
			BlockedResourceTypes: envSliceOr("BROWSER_BLOCK_RESOURCES", nil),
		},
		Schedule: ScheduleConfig{
			Interval:            time.Duration(envIntOr("PARSE_INTERVAL_HOURS", 1)) * time.Hour,
			ScreenshotRetention: days(envIntOr("SCREENSHOT_RETENTION_DAYS", 30)),
			ResultRetention:     days(envIntOr("DB_RETENTION_DAYS", 90)),
		},
		Storage: StorageConfig{
			Driver:   envOr("DB_DRIVER", "postgres"),
			Host:     envOr("DB_HOST", "localhost"),
			Port:     envIntOr("DB_PORT", 5432),
			Name:     envOr("DB_NAME", "parser_db"),
			User:     envOr("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
			SSLMode:  envOr("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envIntOr("REDIS_DB", 0),
		},
		Captcha: CaptchaConfig{
			APIKey:       os.Getenv("CAPMONSTER_KEY"),
			BaseURL:      envOr("CAPMONSTER_URL", "https://api.capmonster.cloud"),
			PollInterval: envDurationOr("CAPTCHA_POLL_INTERVAL", 2*time.Second),
			Timeout:      envDurationOr("CAPTCHA_TIMEOUT", 120*time.Second),
		},
		Telegram: TelegramConfig{
			Token:   os.Getenv("TELEGRAM_BOT_TOKEN"),
			AdminID: int64(envIntOr("TELEGRAM_ADMIN_ID", 0)),
			BaseURL: envOr("TELEGRAM_API_URL", "https://api.telegram.org"),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("WEBHOOK_URL"),
			Secret: os.Getenv("WEBHOOK_SECRET"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("PAYWATCH_AUTH_ENABLED", true),
			APIKeys: envSliceOr("PAYWATCH_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("PAYWATCH_RATE_RPS", 5.0),
			Burst:             envIntOr("PAYWATCH_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			TTL: envDurationOr("RESULTS_CACHE_TTL", time.Minute),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envOr("LOG_LEVEL", "info")),
			Format: envOr("LOG_FORMAT", "json"),
		},
		SitesFile:     envOr("PAYWATCH_SITES_FILE", "config/sites_config.yaml"),
		ScreenshotDir: envOr("SCREENSHOT_PATH", "screenshots"),
	}
}

// Validate reports settings that make the service unable to start.
func (c *Config) Validate() error {
	var problems []string
	if c.Schedule.Interval <= 0 {
		problems = append(problems, "PARSE_INTERVAL_HOURS must be positive")
	}
	if c.Browser.Timeout <= 0 {
		problems = append(problems, "BROWSER_TIMEOUT must be positive")
	}
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.Password == "" {
			problems = append(problems, "DB_PASSWORD is not set")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("unknown DB_DRIVER %q", c.Storage.Driver))
	}
	if c.Captcha.PollInterval <= 0 || c.Captcha.Timeout <= 0 {
		problems = append(problems, "captcha poll interval and timeout must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(problems, "; "))
	}
	return nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envMillisOr accepts either a Go duration ("45s") or a bare integer
// number of milliseconds ("30000").
func envMillisOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
