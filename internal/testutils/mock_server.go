package testutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockAlphaVantageServer mimics the primary provider's wire format:
// GLOBAL_QUOTE with numbered field labels and CURRENCY_EXCHANGE_RATE.
type MockAlphaVantageServer struct {
	server *httptest.Server

	mu          sync.Mutex
	failing     bool
	rateLimited bool
	prices      map[string]float64
	calls       int
}

// NewMockAlphaVantageServer starts a mock server with a default price book.
func NewMockAlphaVantageServer() *MockAlphaVantageServer {
	mock := &MockAlphaVantageServer{
		prices: map[string]float64{},
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handler))
	return mock
}

// URL returns the mock server URL.
func (m *MockAlphaVantageServer) URL() string { return m.server.URL }

// Close closes the mock server.
func (m *MockAlphaVantageServer) Close() { m.server.Close() }

// SetFailing makes every request fail with a 500.
func (m *MockAlphaVantageServer) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// SetRateLimited makes every request return the provider's quota message.
func (m *MockAlphaVantageServer) SetRateLimited(limited bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited = limited
}

// SetPrice overrides the quoted price for one symbol.
func (m *MockAlphaVantageServer) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[strings.ToUpper(symbol)] = price
}

// Calls reports how many requests the server has handled.
func (m *MockAlphaVantageServer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockAlphaVantageServer) handler(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.calls++
	failing, limited := m.failing, m.rateLimited
	m.mu.Unlock()

	if failing {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if limited {
		json.NewEncoder(w).Encode(map[string]string{
			"Note": "Thank you for using our API. Our standard API rate limit is 25 requests per day.",
		})
		return
	}

	query := r.URL.Query()
	switch query.Get("function") {
	case "GLOBAL_QUOTE":
		symbol := strings.ToUpper(query.Get("symbol"))
		price := m.priceFor(symbol, 123.45)
		json.NewEncoder(w).Encode(map[string]map[string]string{
			"Global Quote": {
				"01. symbol":         symbol,
				"02. open":           fmt.Sprintf("%.4f", price-1),
				"03. high":           fmt.Sprintf("%.4f", price+2),
				"04. low":            fmt.Sprintf("%.4f", price-2),
				"05. price":          fmt.Sprintf("%.4f", price),
				"06. volume":         "1024000",
				"09. change":         "1.2300",
				"10. change percent": "1.0100%",
			},
		})
	case "CURRENCY_EXCHANGE_RATE":
		pair := query.Get("from_currency") + "/" + query.Get("to_currency")
		rate := m.priceFor(strings.ToUpper(pair), 1324.5)
		json.NewEncoder(w).Encode(map[string]map[string]string{
			"Realtime Currency Exchange Rate": {
				"1. From_Currency Code": query.Get("from_currency"),
				"3. To_Currency Code":   query.Get("to_currency"),
				"5. Exchange Rate":      fmt.Sprintf("%.4f", rate),
				"8. Bid Price":          fmt.Sprintf("%.4f", rate-0.5),
				"9. Ask Price":          fmt.Sprintf("%.4f", rate+0.5),
			},
		})
	default:
		json.NewEncoder(w).Encode(map[string]string{"Error Message": "Invalid API call."})
	}
}

func (m *MockAlphaVantageServer) priceFor(key string, fallback float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if price, ok := m.prices[key]; ok {
		return price
	}
	return fallback
}

// MockTwelveDataServer mimics the secondary provider's /quote endpoint,
// including the batched comma-separated form and error bodies with a code.
type MockTwelveDataServer struct {
	server *httptest.Server

	mu          sync.Mutex
	failing     bool
	rateLimited bool
	prices      map[string]float64
	badSymbols  map[string]bool
	calls       int
}

// NewMockTwelveDataServer starts a mock server with a default price book.
func NewMockTwelveDataServer() *MockTwelveDataServer {
	mock := &MockTwelveDataServer{
		prices:     map[string]float64{},
		badSymbols: map[string]bool{},
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handler))
	return mock
}

// URL returns the mock server URL.
func (m *MockTwelveDataServer) URL() string { return m.server.URL }

// Close closes the mock server.
func (m *MockTwelveDataServer) Close() { m.server.Close() }

// SetFailing makes every request fail with a 500.
func (m *MockTwelveDataServer) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// SetRateLimited makes every request return a 429-coded error body.
func (m *MockTwelveDataServer) SetRateLimited(limited bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited = limited
}

// SetPrice overrides the quoted price for one symbol or pair.
func (m *MockTwelveDataServer) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[strings.ToUpper(symbol)] = price
}

// SetBadSymbol makes one symbol fail inside an otherwise-healthy batch.
func (m *MockTwelveDataServer) SetBadSymbol(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.badSymbols[strings.ToUpper(symbol)] = true
}

// Calls reports how many requests the server has handled.
func (m *MockTwelveDataServer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockTwelveDataServer) handler(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.calls++
	failing, limited := m.failing, m.rateLimited
	m.mu.Unlock()

	if failing {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if limited {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code":    429,
			"message": "You have run out of API credits for the current minute.",
			"status":  "error",
		})
		return
	}

	symbols := strings.Split(r.URL.Query().Get("symbol"), ",")
	if len(symbols) == 1 {
		json.NewEncoder(w).Encode(m.quoteBody(strings.ToUpper(symbols[0])))
		return
	}

	batch := make(map[string]interface{}, len(symbols))
	for _, symbol := range symbols {
		batch[symbol] = m.quoteBody(strings.ToUpper(symbol))
	}
	json.NewEncoder(w).Encode(batch)
}

func (m *MockTwelveDataServer) quoteBody(symbol string) map[string]interface{} {
	m.mu.Lock()
	bad := m.badSymbols[symbol]
	m.mu.Unlock()
	if bad {
		return map[string]interface{}{
			"code":    400,
			"message": "symbol not found: " + symbol,
			"status":  "error",
		}
	}
	price := m.priceFor(symbol, 321.09)
	return map[string]interface{}{
		"symbol":         symbol,
		"open":           fmt.Sprintf("%.4f", price-1),
		"high":           fmt.Sprintf("%.4f", price+2),
		"low":            fmt.Sprintf("%.4f", price-2),
		"close":          fmt.Sprintf("%.4f", price),
		"volume":         "2048000",
		"change":         "-0.5500",
		"percent_change": "-0.4200",
	}
}

func (m *MockTwelveDataServer) priceFor(key string, fallback float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if price, ok := m.prices[key]; ok {
		return price
	}
	return fallback
}
