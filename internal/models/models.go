package models

import "time"

// QuoteSource identifies which upstream provider produced a quote.
type QuoteSource string

const (
	SourceAlphaVantage QuoteSource = "alphavantage"
	SourceTwelveData   QuoteSource = "twelvedata"
)

// QuoteKind distinguishes the three canonical quote families.
type QuoteKind string

const (
	KindStock QuoteKind = "stock"
	KindForex QuoteKind = "forex"
	KindIndex QuoteKind = "index"
)

// StockQuote is the canonical price snapshot for a single equity symbol.
type StockQuote struct {
	Symbol        string      `json:"symbol"`
	Price         float64     `json:"price"`
	Change        float64     `json:"change"`
	ChangePercent float64     `json:"change_percent"`
	Open          float64     `json:"open,omitempty"`
	High          float64     `json:"high,omitempty"`
	Low           float64     `json:"low,omitempty"`
	Volume        int64       `json:"volume,omitempty"`
	MarketCap     float64     `json:"market_cap,omitempty"`
	Source        QuoteSource `json:"source"`
	Cached        bool        `json:"cached"`
	Timestamp     int64       `json:"timestamp"` // epoch milliseconds
}

// ForexRate is the canonical snapshot for a currency pair such as USD/KRW.
type ForexRate struct {
	Pair          string      `json:"pair"`
	Rate          float64     `json:"rate"`
	Change        float64     `json:"change"`
	ChangePercent float64     `json:"change_percent"`
	Bid           float64     `json:"bid,omitempty"`
	Ask           float64     `json:"ask,omitempty"`
	Source        QuoteSource `json:"source"`
	Cached        bool        `json:"cached"`
	Timestamp     int64       `json:"timestamp"`
}

// IndexQuote is the canonical snapshot for a market index such as KOSPI.
type IndexQuote struct {
	Symbol        string      `json:"symbol"`
	Value         float64     `json:"value"`
	Change        float64     `json:"change"`
	ChangePercent float64     `json:"change_percent"`
	Source        QuoteSource `json:"source"`
	Cached        bool        `json:"cached"`
	Timestamp     int64       `json:"timestamp"`
}

// BatchQuoteResult reports a multi-symbol fetch. Partial success is a valid
// outcome: resolved quotes and per-symbol failures travel together.
type BatchQuoteResult struct {
	Quotes []StockQuote      `json:"quotes"`
	Errors map[string]string `json:"errors,omitempty"`
}

// KoreanBasketResult bundles the Korean market basket: the index level plus
// the configured stock symbols.
type KoreanBasketResult struct {
	Index      *IndexQuote      `json:"index,omitempty"`
	IndexError string           `json:"index_error,omitempty"`
	Stocks     BatchQuoteResult `json:"stocks"`
}

// ForexBasketResult bundles the major currency pairs.
type ForexBasketResult struct {
	Rates  []ForexRate       `json:"rates"`
	Errors map[string]string `json:"errors,omitempty"`
}

// ProviderHealth is the outcome of probing one upstream provider.
type ProviderHealth struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// CacheStats summarizes both cache tiers for the status endpoint.
type CacheStats struct {
	LocalEntries    int     `json:"local_entries"`
	LocalMaxEntries int     `json:"local_max_entries"`
	SharedEnabled   bool    `json:"shared_enabled"`
	Hits            int64   `json:"hits"`
	Misses          int64   `json:"misses"`
	HitRate         float64 `json:"hit_rate"`
}

// HealthStatus is the aggregated status report.
type HealthStatus struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Providers []ProviderHealth `json:"providers"`
	Cache     CacheStats       `json:"cache"`
	Uptime    string           `json:"uptime,omitempty"`
}

// ErrorResponse is the JSON error body returned by the HTTP layer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
