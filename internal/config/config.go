package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is assembled in three layers: code defaults, then an optional
// json5 file (with a .local. override next to it), then environment
// variables. Later layers win.
type Config struct {
	Logging LoggingConfig
	Server  ServerConfig
	Crawler CrawlerConfig
	Browser BrowserConfig
	Storage StorageConfig
	Journal JournalConfig
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ServerConfig struct {
	Enabled         bool
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type CrawlerConfig struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	JitterMin      time.Duration
	JitterMax      time.Duration
	StallThreshold time.Duration
	StallInterval  time.Duration
	ItemDelayMin   time.Duration
	ItemDelayMax   time.Duration
	RestartDelay   time.Duration
	MaxRestarts    int
}

type BrowserConfig struct {
	Headless       bool
	NavTimeout     time.Duration
	WaitTimeout    time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	Proxy          string
}

type StorageConfig struct {
	DataDir string
}

type JournalConfig struct {
	Enabled       bool
	DatabaseURL   string
	RedisAddr     string
	RedisStream   string
	RelayInterval time.Duration
	BufferSize    int
}

func defaults() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Crawler: CrawlerConfig{
			MaxAttempts:    3,
			BackoffBase:    1 * time.Second,
			BackoffCap:     10 * time.Second,
			JitterMin:      200 * time.Millisecond,
			JitterMax:      800 * time.Millisecond,
			StallThreshold: 290 * time.Second,
			StallInterval:  10 * time.Second,
			ItemDelayMin:   400 * time.Millisecond,
			ItemDelayMax:   1200 * time.Millisecond,
			RestartDelay:   10 * time.Second,
			MaxRestarts:    0,
		},
		Browser: BrowserConfig{
			Headless:       true,
			NavTimeout:     30 * time.Second,
			WaitTimeout:    15 * time.Second,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			AcceptLanguage: "en-US,en;q=0.9",
			TimezoneID:     "America/Chicago",
			Locale:         "en-US",
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		Journal: JournalConfig{
			Enabled:       false,
			RedisStream:   "crawl.events",
			RelayInterval: 2 * time.Second,
			BufferSize:    1000,
		},
	}
}

// Load builds the config. path names the optional json5 file; "" skips
// the file layer entirely. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		overrides, err := readOverrides(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err == nil {
			if err := cfg.applyFile(overrides); err != nil {
				return nil, fmt.Errorf("applying config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvOrDefault("LOG_FORMAT", c.Logging.Format)

	c.Server.Enabled = getBoolOrDefault("SERVER_ENABLED", c.Server.Enabled)
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvOrDefault("SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = getDurationOrDefault("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getDurationOrDefault("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Crawler.MaxAttempts = getIntOrDefault("CRAWLER_MAX_ATTEMPTS", c.Crawler.MaxAttempts)
	c.Crawler.BackoffBase = getDurationOrDefault("CRAWLER_BACKOFF_BASE", c.Crawler.BackoffBase)
	c.Crawler.BackoffCap = getDurationOrDefault("CRAWLER_BACKOFF_CAP", c.Crawler.BackoffCap)
	c.Crawler.JitterMin = getDurationOrDefault("CRAWLER_JITTER_MIN", c.Crawler.JitterMin)
	c.Crawler.JitterMax = getDurationOrDefault("CRAWLER_JITTER_MAX", c.Crawler.JitterMax)
	c.Crawler.StallThreshold = getDurationOrDefault("CRAWLER_STALL_THRESHOLD", c.Crawler.StallThreshold)
	c.Crawler.StallInterval = getDurationOrDefault("CRAWLER_STALL_INTERVAL", c.Crawler.StallInterval)
	c.Crawler.ItemDelayMin = getDurationOrDefault("CRAWLER_ITEM_DELAY_MIN", c.Crawler.ItemDelayMin)
	c.Crawler.ItemDelayMax = getDurationOrDefault("CRAWLER_ITEM_DELAY_MAX", c.Crawler.ItemDelayMax)
	c.Crawler.RestartDelay = getDurationOrDefault("CRAWLER_RESTART_DELAY", c.Crawler.RestartDelay)
	c.Crawler.MaxRestarts = getIntOrDefault("CRAWLER_MAX_RESTARTS", c.Crawler.MaxRestarts)

	c.Browser.Headless = getBoolOrDefault("BROWSER_HEADLESS", c.Browser.Headless)
	c.Browser.NavTimeout = getDurationOrDefault("BROWSER_NAV_TIMEOUT", c.Browser.NavTimeout)
	c.Browser.WaitTimeout = getDurationOrDefault("BROWSER_WAIT_TIMEOUT", c.Browser.WaitTimeout)
	c.Browser.ViewportWidth = getIntOrDefault("BROWSER_VIEWPORT_WIDTH", c.Browser.ViewportWidth)
	c.Browser.ViewportHeight = getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", c.Browser.ViewportHeight)
	c.Browser.AcceptLanguage = getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", c.Browser.AcceptLanguage)
	c.Browser.TimezoneID = getEnvOrDefault("BROWSER_TIMEZONE", c.Browser.TimezoneID)
	c.Browser.Locale = getEnvOrDefault("BROWSER_LOCALE", c.Browser.Locale)
	c.Browser.Proxy = getEnvOrDefault("BROWSER_PROXY", c.Browser.Proxy)

	c.Storage.DataDir = getEnvOrDefault("DATA_DIR", c.Storage.DataDir)

	c.Journal.Enabled = getBoolOrDefault("JOURNAL_ENABLED", c.Journal.Enabled)
	c.Journal.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.Journal.DatabaseURL)
	c.Journal.RedisAddr = getEnvOrDefault("REDIS_ADDR", c.Journal.RedisAddr)
	c.Journal.RedisStream = getEnvOrDefault("REDIS_STREAM", c.Journal.RedisStream)
	c.Journal.RelayInterval = getDurationOrDefault("JOURNAL_RELAY_INTERVAL", c.Journal.RelayInterval)
	c.Journal.BufferSize = getIntOrDefault("JOURNAL_BUFFER_SIZE", c.Journal.BufferSize)
}

func (c *Config) Validate() error {
	if c.Crawler.MaxAttempts < 1 {
		return fmt.Errorf("CRAWLER_MAX_ATTEMPTS must be at least 1")
	}
	if c.Crawler.ItemDelayMin > c.Crawler.ItemDelayMax {
		return fmt.Errorf("CRAWLER_ITEM_DELAY_MIN cannot be greater than CRAWLER_ITEM_DELAY_MAX")
	}
	if c.Crawler.StallInterval >= c.Crawler.StallThreshold {
		return fmt.Errorf("CRAWLER_STALL_INTERVAL must be below CRAWLER_STALL_THRESHOLD")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("SERVER_PORT must be numeric: %q", c.Server.Port)
	}
	// Redis is optional: without it the journal still writes to Postgres
	// and the outbox simply accumulates.
	if c.Journal.Enabled && c.Journal.DatabaseURL == "" {
		return fmt.Errorf("journal enabled but DATABASE_URL is empty")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
