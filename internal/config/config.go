package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// QuoteProviderConfig holds the settings for a single upstream quote provider.
type QuoteProviderConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Enabled bool
	Timeout time.Duration
}

// RateLimitTier is one endpoint-class throttling policy.
type RateLimitTier struct {
	Requests int
	Window   time.Duration
}

// Config holds all configuration for the application.
type Config struct {
	Port     string
	LogLevel string

	// Upstream quote providers. AlphaVantage is primary, TwelveData secondary.
	AlphaVantage QuoteProviderConfig
	TwelveData   QuoteProviderConfig

	// Shared store. An empty RedisAddr is valid: the service runs with
	// local-only caching and local rate-limit counters.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CacheTTL            time.Duration
	CacheMaxEntries     int
	CacheStaleRetention time.Duration

	RefreshInterval time.Duration
	// MaxRetries is recognized for compatibility but not consumed: the
	// service performs a single attempt per provider and fails over.
	MaxRetries      int
	FallbackToCache bool
	EnableRealtime  bool

	RateLimitEnabled bool
	RateLimitGeneric RateLimitTier
	RateLimitData    RateLimitTier
	RateLimitStrict  RateLimitTier

	KoreanBasket []string
	KoreanIndex  string
	ForexMajors  []string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:     getEnv("PORT", "8081"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AlphaVantage: QuoteProviderConfig{
			Name:    "alphavantage",
			BaseURL: getEnv("ALPHA_VANTAGE_BASE_URL", "https://www.alphavantage.co/query"),
			APIKey:  getEnv("ALPHA_VANTAGE_API_KEY", ""),
			Enabled: getEnv("ALPHA_VANTAGE_ENABLED", "true") == "true",
			Timeout: envSeconds("ALPHA_VANTAGE_TIMEOUT_SECONDS", 10),
		},
		TwelveData: QuoteProviderConfig{
			Name:    "twelvedata",
			BaseURL: getEnv("TWELVE_DATA_BASE_URL", "https://api.twelvedata.com"),
			APIKey:  getEnv("TWELVE_DATA_API_KEY", ""),
			Enabled: getEnv("TWELVE_DATA_ENABLED", "true") == "true",
			Timeout: envSeconds("TWELVE_DATA_TIMEOUT_SECONDS", 10),
		},

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		CacheTTL:            envSeconds("CACHE_TTL_SECONDS", 300),
		CacheMaxEntries:     envInt("CACHE_MAX_ENTRIES", 1000),
		CacheStaleRetention: envSeconds("CACHE_STALE_RETENTION_SECONDS", 1800),

		RefreshInterval: envSeconds("REFRESH_INTERVAL_SECONDS", 60),
		MaxRetries:      envInt("MAX_RETRIES", 3),
		FallbackToCache: getEnv("FALLBACK_TO_CACHE", "true") == "true",
		EnableRealtime:  getEnv("ENABLE_REALTIME", "false") == "true",

		RateLimitEnabled: getEnv("RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitGeneric: RateLimitTier{
			Requests: envInt("RATE_LIMIT_GENERIC_REQUESTS", 300),
			Window:   envSeconds("RATE_LIMIT_GENERIC_WINDOW_SECONDS", 60),
		},
		RateLimitData: RateLimitTier{
			Requests: envInt("RATE_LIMIT_DATA_REQUESTS", 60),
			Window:   envSeconds("RATE_LIMIT_DATA_WINDOW_SECONDS", 60),
		},
		RateLimitStrict: RateLimitTier{
			Requests: envInt("RATE_LIMIT_STRICT_REQUESTS", 5),
			Window:   envSeconds("RATE_LIMIT_STRICT_WINDOW_SECONDS", 3600),
		},

		KoreanBasket: envList("KOREAN_BASKET_SYMBOLS", "005930.KRX,000660.KRX,035420.KRX,005380.KRX"),
		KoreanIndex:  getEnv("KOREAN_INDEX_SYMBOL", "KOSPI"),
		ForexMajors:  envList("FOREX_MAJOR_PAIRS", "USD/KRW,EUR/USD,USD/JPY,GBP/USD"),
	}, nil
}

// SharedStoreConfigured reports whether a shared redis store was supplied.
func (c *Config) SharedStoreConfigured() bool {
	return c.RedisAddr != ""
}

// getEnv gets an environment variable with a fallback value.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}

func envList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
