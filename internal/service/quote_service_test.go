package service

import (
	"context"
	"testing"
	"time"

	"market-data-api/internal/cache"
	"market-data-api/internal/config"
	"market-data-api/internal/models"
	"market-data-api/internal/provider"
	"market-data-api/internal/telemetry"
	"market-data-api/internal/testutils"
)

type serviceFixture struct {
	service       *QuoteService
	alphaVantage  *testutils.MockAlphaVantageServer
	twelveData    *testutils.MockTwelveDataServer
	configuration *config.Config
	recorder      *telemetry.Recorder
}

func newFixture(t *testing.T, ttl time.Duration) *serviceFixture {
	t.Helper()

	alphaVantage := testutils.NewMockAlphaVantageServer()
	t.Cleanup(alphaVantage.Close)
	twelveData := testutils.NewMockTwelveDataServer()
	t.Cleanup(twelveData.Close)

	configuration := testutils.MockConfig(alphaVantage.URL(), twelveData.URL())
	configuration.CacheTTL = ttl

	log := testutils.MockLogger()
	recorder := telemetry.NewRecorder(log, nil)
	quoteCache := cache.New(cache.NewLocal(configuration.CacheMaxEntries), nil, log, ttl, configuration.CacheStaleRetention)
	providers := []provider.QuoteProvider{
		provider.NewAlphaVantage(configuration.AlphaVantage, log),
		provider.NewTwelveData(configuration.TwelveData, log),
	}

	return &serviceFixture{
		service:       NewQuoteService(configuration, log, recorder, quoteCache, providers),
		alphaVantage:  alphaVantage,
		twelveData:    twelveData,
		configuration: configuration,
		recorder:      recorder,
	}
}

func TestGetStockQuoteCachesResult(t *testing.T) {
	fixture := newFixture(t, time.Minute)
	fixture.alphaVantage.SetPrice("AAPL", 190.00)

	first, err := fixture.service.GetStockQuote(context.Background(), "AAPL", false)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.Cached {
		t.Error("first fetch must not be marked cached")
	}
	if first.Source != models.SourceAlphaVantage {
		t.Errorf("first fetch source = %q, want primary", first.Source)
	}

	second, err := fixture.service.GetStockQuote(context.Background(), "AAPL", false)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !second.Cached {
		t.Error("second fetch within TTL must be served from cache")
	}
	if second.Price != first.Price || second.Symbol != first.Symbol {
		t.Error("cached quote must match the original")
	}
	if fixture.alphaVantage.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", fixture.alphaVantage.Calls())
	}
}

func TestForceRefreshBypassesCache(t *testing.T) {
	fixture := newFixture(t, time.Minute)
	fixture.alphaVantage.SetPrice("AAPL", 190.00)

	if _, err := fixture.service.GetStockQuote(context.Background(), "AAPL", false); err != nil {
		t.Fatalf("prime: %v", err)
	}

	fixture.alphaVantage.SetPrice("AAPL", 191.50)
	quote, err := fixture.service.GetStockQuote(context.Background(), "AAPL", true)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if quote.Cached {
		t.Error("forced refresh must not serve from cache")
	}
	if quote.Price != 191.50 {
		t.Errorf("price = %v, want the refreshed 191.50", quote.Price)
	}
}

func TestFailoverToSecondaryProvider(t *testing.T) {
	fixture := newFixture(t, time.Minute)
	fixture.alphaVantage.SetFailing(true)
	fixture.twelveData.SetPrice("AAPL", 189.10)

	quote, err := fixture.service.GetStockQuote(context.Background(), "AAPL", false)
	if err != nil {
		t.Fatalf("fetch with primary down: %v", err)
	}
	if quote.Source != models.SourceTwelveData {
		t.Errorf("source = %q, want secondary after failover", quote.Source)
	}
	if quote.Price != 189.10 {
		t.Errorf("price = %v", quote.Price)
	}
}

func TestStaleCacheFallback(t *testing.T) {
	fixture := newFixture(t, 10*time.Millisecond)
	fixture.alphaVantage.SetPrice("AAPL", 190.00)

	if _, err := fixture.service.GetStockQuote(context.Background(), "AAPL", false); err != nil {
		t.Fatalf("prime: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	fixture.alphaVantage.SetFailing(true)
	fixture.twelveData.SetFailing(true)

	quote, err := fixture.service.GetStockQuote(context.Background(), "AAPL", false)
	if err != nil {
		t.Fatalf("stale fallback should succeed: %v", err)
	}
	if !quote.Cached {
		t.Error("stale quote must be marked cached")
	}
	if quote.Price != 190.00 {
		t.Errorf("price = %v, want the last good value", quote.Price)
	}
}

func TestAllProvidersFailed(t *testing.T) {
	fixture := newFixture(t, time.Minute)
	fixture.alphaVantage.SetFailing(true)
	fixture.twelveData.SetFailing(true)

	_, err := fixture.service.GetStockQuote(context.Background(), "NOCACHE", false)
	if err == nil {
		t.Fatal("fetch with no providers and no cache must fail")
	}
	if !IsAllProvidersFailed(err) {
		t.Errorf("error = %v, want typed all-providers failure", err)
	}

	// The failure is recorded, not swallowed.
	found := false
	for _, stats := range fixture.service.ErrorStats() {
		if stats.Source == "aggregator" && stats.Code == telemetry.CodeAllProvidersFailed {
			found = true
		}
	}
	if !found {
		t.Error("terminal failure must show up in error statistics")
	}
}

func TestStaleFallbackDisabled(t *testing.T) {
	fixture := newFixture(t, 10*time.Millisecond)
	fixture.configuration.FallbackToCache = false
	fixture.alphaVantage.SetPrice("AAPL", 190.00)

	if _, err := fixture.service.GetStockQuote(context.Background(), "AAPL", false); err != nil {
		t.Fatalf("prime: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	fixture.alphaVantage.SetFailing(true)
	fixture.twelveData.SetFailing(true)

	if _, err := fixture.service.GetStockQuote(context.Background(), "AAPL", false); !IsAllProvidersFailed(err) {
		t.Errorf("with fallback disabled the fetch must fail, got %v", err)
	}
}

func TestGetStockQuotesPartialSuccess(t *testing.T) {
	fixture := newFixture(t, time.Minute)
	fixture.alphaVantage.SetFailing(true)
	fixture.twelveData.SetBadSymbol("BADSYM")
	fixture.twelveData.SetPrice("AAPL", 189.10)
	fixture.twelveData.SetPrice("MSFT", 410.10)

	result := fixture.service.GetStockQuotes(context.Background(), []string{"AAPL", "BADSYM", "MSFT"}, false)
	if len(result.Quotes) != 2 {
		t.Errorf("quotes = %d, want 2", len(result.Quotes))
	}
	if _, ok := result.Errors["BADSYM"]; !ok {
		t.Errorf("errors = %v, want an entry for the bad symbol", result.Errors)
	}
}

func TestGetStockQuotesServesFromCache(t *testing.T) {
	fixture := newFixture(t, time.Minute)

	first := fixture.service.GetStockQuotes(context.Background(), []string{"AAPL", "MSFT"}, false)
	if len(first.Quotes) != 2 || len(first.Errors) != 0 {
		t.Fatalf("first batch: %d quotes, errors %v", len(first.Quotes), first.Errors)
	}

	second := fixture.service.GetStockQuotes(context.Background(), []string{"AAPL", "MSFT"}, false)
	for _, quote := range second.Quotes {
		if !quote.Cached {
			t.Errorf("second batch quote %s must come from cache", quote.Symbol)
		}
	}
}

func TestGetForexRateAndBasket(t *testing.T) {
	fixture := newFixture(t, time.Minute)
	fixture.alphaVantage.SetPrice("USD/KRW", 1351.00)

	rate, err := fixture.service.GetForexRate(context.Background(), "USD/KRW", false)
	if err != nil {
		t.Fatalf("GetForexRate: %v", err)
	}
	if rate.Rate != 1351.00 {
		t.Errorf("rate = %v", rate.Rate)
	}

	basket := fixture.service.GetForexBasket(context.Background(), false)
	if len(basket.Rates) != len(fixture.configuration.ForexMajors) {
		t.Errorf("basket rates = %d, want %d", len(basket.Rates), len(fixture.configuration.ForexMajors))
	}
	if basket.Errors != nil {
		t.Errorf("basket errors = %v", basket.Errors)
	}
}

func TestGetKoreanBasket(t *testing.T) {
	fixture := newFixture(t, time.Minute)

	basket := fixture.service.GetKoreanBasket(context.Background(), false)
	if basket.Index == nil {
		t.Fatalf("index missing: %s", basket.IndexError)
	}
	if basket.Index.Symbol != "KOSPI" {
		t.Errorf("index symbol = %q", basket.Index.Symbol)
	}
	if len(basket.Stocks.Quotes) != len(fixture.configuration.KoreanBasket) {
		t.Errorf("stocks = %d, want %d", len(basket.Stocks.Quotes), len(fixture.configuration.KoreanBasket))
	}
}

func TestHealthDegradedWhenOneProviderDown(t *testing.T) {
	fixture := newFixture(t, time.Minute)
	fixture.twelveData.SetFailing(true)

	health := fixture.service.Health(context.Background())
	if health.Status != "degraded" {
		t.Errorf("status = %q, want degraded", health.Status)
	}
	if len(health.Providers) != 2 {
		t.Fatalf("probes = %d, want 2", len(health.Providers))
	}

	fixture.alphaVantage.SetFailing(true)
	if status := fixture.service.Health(context.Background()).Status; status != "unhealthy" {
		t.Errorf("status with both down = %q, want unhealthy", status)
	}
}

func TestRateLimitedErrorDetection(t *testing.T) {
	fixture := newFixture(t, time.Minute)
	fixture.alphaVantage.SetRateLimited(true)
	fixture.twelveData.SetRateLimited(true)
	fixture.configuration.FallbackToCache = false

	_, err := fixture.service.GetStockQuote(context.Background(), "AAPL", false)
	if err == nil {
		t.Fatal("expected failure")
	}
	if !RateLimitedError(err) {
		t.Errorf("error chain %v should expose the provider quota rejection", err)
	}
}
