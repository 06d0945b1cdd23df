package testutils

import (
	"time"

	"market-data-api/internal/config"
	"market-data-api/internal/logger"
)

// MockLogger creates a quiet logger for testing.
func MockLogger() *logger.Logger {
	return logger.New("error")
}

// MockConfig creates a test configuration pointing both providers at the
// given mock server URLs.
func MockConfig(alphaVantageURL, twelveDataURL string) *config.Config {
	return &config.Config{
		Port:     "0",
		LogLevel: "error",

		AlphaVantage: config.QuoteProviderConfig{
			Name:    "alphavantage",
			BaseURL: alphaVantageURL,
			APIKey:  "test-key",
			Enabled: true,
			Timeout: 5 * time.Second,
		},
		TwelveData: config.QuoteProviderConfig{
			Name:    "twelvedata",
			BaseURL: twelveDataURL,
			APIKey:  "test-key",
			Enabled: true,
			Timeout: 5 * time.Second,
		},

		CacheTTL:            time.Minute,
		CacheMaxEntries:     100,
		CacheStaleRetention: 30 * time.Minute,

		RefreshInterval: time.Minute,
		MaxRetries:      3,
		FallbackToCache: true,

		RateLimitEnabled: true,
		RateLimitGeneric: config.RateLimitTier{Requests: 300, Window: time.Minute},
		RateLimitData:    config.RateLimitTier{Requests: 60, Window: time.Minute},
		RateLimitStrict:  config.RateLimitTier{Requests: 5, Window: time.Hour},

		KoreanBasket: []string{"005930.KRX", "000660.KRX"},
		KoreanIndex:  "KOSPI",
		ForexMajors:  []string{"USD/KRW", "EUR/USD"},
	}
}
