package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"market-data-api/internal/cache"
	"market-data-api/internal/config"
	"market-data-api/internal/models"
	"market-data-api/internal/provider"
	"market-data-api/internal/ratelimit"
	"market-data-api/internal/service"
	"market-data-api/internal/telemetry"
	"market-data-api/internal/testutils"
)

type apiFixture struct {
	router        *gin.Engine
	alphaVantage  *testutils.MockAlphaVantageServer
	twelveData    *testutils.MockTwelveDataServer
	configuration *config.Config
}

func newAPIFixture(t *testing.T, mutate func(*config.Config)) *apiFixture {
	t.Helper()

	alphaVantage := testutils.NewMockAlphaVantageServer()
	t.Cleanup(alphaVantage.Close)
	twelveData := testutils.NewMockTwelveDataServer()
	t.Cleanup(twelveData.Close)

	configuration := testutils.MockConfig(alphaVantage.URL(), twelveData.URL())
	if mutate != nil {
		mutate(configuration)
	}

	log := testutils.MockLogger()
	recorder := telemetry.NewRecorder(log, nil)
	quoteCache := cache.New(cache.NewLocal(configuration.CacheMaxEntries), nil, log, configuration.CacheTTL, configuration.CacheStaleRetention)
	providers := []provider.QuoteProvider{
		provider.NewAlphaVantage(configuration.AlphaVantage, log),
		provider.NewTwelveData(configuration.TwelveData, log),
	}
	quoteService := service.NewQuoteService(configuration, log, recorder, quoteCache, providers)

	limiter := ratelimit.NewLimiter(configuration, log, nil)
	t.Cleanup(limiter.Stop)

	handlers := NewHandlers(quoteService, log).WithRateLimit(limiter)
	return &apiFixture{
		router:        handlers.SetupRoutes(),
		alphaVantage:  alphaVantage,
		twelveData:    twelveData,
		configuration: configuration,
	}
}

func (f *apiFixture) do(method, target string, header map[string]string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, target, nil)
	for key, value := range header {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, request)
	return recorder
}

func TestHealthEndpoint(t *testing.T) {
	fixture := newAPIFixture(t, nil)

	response := fixture.do(http.MethodGet, "/health", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d", response.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(response.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
	if response.Header().Get("X-Request-ID") == "" {
		t.Error("request id header missing")
	}
	if response.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestGetStockQuoteEndpoint(t *testing.T) {
	fixture := newAPIFixture(t, nil)
	fixture.alphaVantage.SetPrice("AAPL", 188.80)

	response := fixture.do(http.MethodGet, "/api/v1/stocks/aapl", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", response.Code, response.Body.String())
	}
	var quote models.StockQuote
	if err := json.Unmarshal(response.Body.Bytes(), &quote); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if quote.Symbol != "AAPL" {
		t.Errorf("symbol = %q", quote.Symbol)
	}
	if quote.Price != 188.80 {
		t.Errorf("price = %v", quote.Price)
	}
	if response.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("rate limit headers missing on data endpoints")
	}
}

func TestGetStockQuotesEndpoint(t *testing.T) {
	fixture := newAPIFixture(t, nil)

	response := fixture.do(http.MethodGet, "/api/v1/stocks?symbols=AAPL,MSFT", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d", response.Code)
	}
	var result models.BatchQuoteResult
	if err := json.Unmarshal(response.Body.Bytes(), &result); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(result.Quotes) != 2 {
		t.Errorf("quotes = %d, want 2", len(result.Quotes))
	}

	if code := fixture.do(http.MethodGet, "/api/v1/stocks", nil).Code; code != http.StatusBadRequest {
		t.Errorf("missing symbols: status = %d, want 400", code)
	}
}

func TestForexPairPathTranslation(t *testing.T) {
	fixture := newAPIFixture(t, nil)
	fixture.alphaVantage.SetPrice("USD/KRW", 1352.70)

	response := fixture.do(http.MethodGet, "/api/v1/forex/usd-krw", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", response.Code, response.Body.String())
	}
	var rate models.ForexRate
	if err := json.Unmarshal(response.Body.Bytes(), &rate); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if rate.Pair != "USD/KRW" {
		t.Errorf("pair = %q, want dash translated to slash", rate.Pair)
	}

	if code := fixture.do(http.MethodGet, "/api/v1/forex/USDKRW", nil).Code; code != http.StatusBadRequest {
		t.Errorf("pair without separator: status = %d, want 400", code)
	}
}

func TestFetchFailureMapsToBadGateway(t *testing.T) {
	fixture := newAPIFixture(t, func(c *config.Config) {
		c.FallbackToCache = false
	})
	fixture.alphaVantage.SetFailing(true)
	fixture.twelveData.SetFailing(true)

	response := fixture.do(http.MethodGet, "/api/v1/stocks/AAPL", nil)
	if response.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", response.Code)
	}
	var body models.ErrorResponse
	if err := json.Unmarshal(response.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body.Code != http.StatusBadGateway || body.Error == "" {
		t.Errorf("error body = %+v", body)
	}
}

func TestStrictTierGatesAdminReset(t *testing.T) {
	fixture := newAPIFixture(t, func(c *config.Config) {
		c.RateLimitStrict = config.RateLimitTier{Requests: 2, Window: time.Hour}
	})
	header := map[string]string{"X-Operator": "ops-1"}

	for i := 1; i <= 2; i++ {
		if code := fixture.do(http.MethodPost, "/api/v1/admin/errors/reset", header).Code; code != http.StatusOK {
			t.Fatalf("reset %d: status = %d", i, code)
		}
	}

	response := fixture.do(http.MethodPost, "/api/v1/admin/errors/reset", header)
	if response.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", response.Code)
	}
	if response.Header().Get("Retry-After") == "" {
		t.Error("429 must carry Retry-After")
	}

	// A different operator identity from the same address has its own budget.
	other := map[string]string{"X-Operator": "ops-2"}
	if code := fixture.do(http.MethodPost, "/api/v1/admin/errors/reset", other).Code; code != http.StatusOK {
		t.Errorf("other identity: status = %d, want 200", code)
	}
}

func TestBasketEndpoints(t *testing.T) {
	fixture := newAPIFixture(t, nil)

	response := fixture.do(http.MethodGet, "/api/v1/baskets/korea", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("korea basket: status = %d", response.Code)
	}
	var korea models.KoreanBasketResult
	if err := json.Unmarshal(response.Body.Bytes(), &korea); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if korea.Index == nil || len(korea.Stocks.Quotes) == 0 {
		t.Errorf("korea basket incomplete: %+v", korea)
	}

	response = fixture.do(http.MethodGet, "/api/v1/baskets/forex", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("forex basket: status = %d", response.Code)
	}
	var forex models.ForexBasketResult
	if err := json.Unmarshal(response.Body.Bytes(), &forex); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(forex.Rates) != len(fixture.configuration.ForexMajors) {
		t.Errorf("forex basket rates = %d, want %d", len(forex.Rates), len(fixture.configuration.ForexMajors))
	}
}

func TestStatusEndpoint(t *testing.T) {
	fixture := newAPIFixture(t, nil)

	response := fixture.do(http.MethodGet, "/api/v1/status", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d", response.Code)
	}
	var body struct {
		Health models.HealthStatus    `json:"health"`
		Errors []telemetry.ErrorStats `json:"errors"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body.Health.Status != "healthy" {
		t.Errorf("health status = %q", body.Health.Status)
	}
	if len(body.Health.Providers) != 2 {
		t.Errorf("provider probes = %d, want 2", len(body.Health.Providers))
	}
}

func TestUnknownRoute(t *testing.T) {
	fixture := newAPIFixture(t, nil)
	if code := fixture.do(http.MethodGet, "/api/v1/nope", nil).Code; code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}
