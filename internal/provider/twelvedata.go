package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"market-data-api/internal/config"
	"market-data-api/internal/logger"
	"market-data-api/internal/models"
)

// TwelveData is the secondary upstream client. Unlike the primary it has a
// real bulk endpoint: a comma-separated symbol list in one /quote call.
type TwelveData struct {
	configuration config.QuoteProviderConfig
	logger        *logger.Logger
	httpClient    *http.Client
}

// NewTwelveData creates the Twelve Data client.
func NewTwelveData(configuration config.QuoteProviderConfig, log *logger.Logger) *TwelveData {
	return &TwelveData{
		configuration: configuration,
		logger:        log,
		httpClient:    newHTTPClient(configuration.Timeout),
	}
}

func (p *TwelveData) Name() string { return p.configuration.Name }

// tdQuote is the upstream /quote shape. Numeric values arrive as strings and
// are parsed strictly. Error payloads share the same body with code/status.
type tdQuote struct {
	Symbol        string `json:"symbol"`
	Open          string `json:"open"`
	High          string `json:"high"`
	Low           string `json:"low"`
	Close         string `json:"close"`
	Volume        string `json:"volume"`
	Change        string `json:"change"`
	PercentChange string `json:"percent_change"`

	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// FetchStock fetches one quote.
func (p *TwelveData) FetchStock(ctx context.Context, symbol string) (models.StockQuote, error) {
	quote, err := p.quote(ctx, symbol)
	if err != nil {
		return models.StockQuote{}, err
	}
	return p.stockFromQuote(symbol, quote)
}

// FetchStocks issues a single batched /quote call. A failure of the batch
// call itself is reported through the error return; per-symbol upstream
// errors are isolated into the failures map.
func (p *TwelveData) FetchStocks(ctx context.Context, symbols []string) (map[string]models.StockQuote, map[string]error, error) {
	if len(symbols) == 1 {
		quote, err := p.FetchStock(ctx, symbols[0])
		if err != nil {
			return nil, map[string]error{symbols[0]: err}, nil
		}
		return map[string]models.StockQuote{symbols[0]: quote}, nil, nil
	}

	body, err := p.call(ctx, "/quote", url.Values{"symbol": []string{strings.Join(symbols, ",")}})
	if err != nil {
		return nil, nil, err
	}

	// Batched responses key quote objects by symbol.
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, nil, p.wrap(CodeParse, "parse batch response", err)
	}
	if status, ok := entries["status"]; ok && strings.Contains(string(status), "error") {
		return nil, nil, p.classifyErrorBody(body)
	}

	quotes := make(map[string]models.StockQuote, len(symbols))
	failures := make(map[string]error)
	for _, symbol := range symbols {
		raw, ok := entries[symbol]
		if !ok {
			failures[symbol] = p.wrap(CodeParse, fmt.Sprintf("symbol %s absent from batch response", symbol), nil)
			continue
		}
		var quote tdQuote
		if err := json.Unmarshal(raw, &quote); err != nil {
			failures[symbol] = p.wrap(CodeParse, "parse batch entry", err)
			continue
		}
		if quote.Status == "error" {
			failures[symbol] = p.classifyQuoteError(quote)
			continue
		}
		stock, err := p.stockFromQuote(symbol, quote)
		if err != nil {
			failures[symbol] = err
			continue
		}
		quotes[symbol] = stock
	}
	return quotes, failures, nil
}

// FetchForex fetches a currency pair quote (e.g. USD/KRW).
func (p *TwelveData) FetchForex(ctx context.Context, pair string) (models.ForexRate, error) {
	from, to, err := SplitPair(pair)
	if err != nil {
		return models.ForexRate{}, p.wrap(CodeParse, err.Error(), nil)
	}
	quote, err := p.quote(ctx, from+"/"+to)
	if err != nil {
		return models.ForexRate{}, err
	}

	rate, err := p.requiredFloat(quote.Close, "close")
	if err != nil {
		return models.ForexRate{}, err
	}
	change, _ := strconv.ParseFloat(quote.Change, 64)
	changePercent, _ := strconv.ParseFloat(quote.PercentChange, 64)

	return models.ForexRate{
		Pair:          from + "/" + to,
		Rate:          rate,
		Change:        change,
		ChangePercent: changePercent,
		Source:        models.SourceTwelveData,
		Timestamp:     time.Now().UnixMilli(),
	}, nil
}

// FetchIndex fetches an index level.
func (p *TwelveData) FetchIndex(ctx context.Context, symbol string) (models.IndexQuote, error) {
	quote, err := p.quote(ctx, symbol)
	if err != nil {
		return models.IndexQuote{}, err
	}
	value, err := p.requiredFloat(quote.Close, "close")
	if err != nil {
		return models.IndexQuote{}, err
	}
	change, err := p.requiredFloat(quote.Change, "change")
	if err != nil {
		return models.IndexQuote{}, err
	}
	changePercent, err := p.requiredFloat(quote.PercentChange, "percent_change")
	if err != nil {
		return models.IndexQuote{}, err
	}
	return models.IndexQuote{
		Symbol:        strings.ToUpper(symbol),
		Value:         value,
		Change:        change,
		ChangePercent: changePercent,
		Source:        models.SourceTwelveData,
		Timestamp:     time.Now().UnixMilli(),
	}, nil
}

func (p *TwelveData) quote(ctx context.Context, symbol string) (tdQuote, error) {
	body, err := p.call(ctx, "/quote", url.Values{"symbol": []string{symbol}})
	if err != nil {
		return tdQuote{}, err
	}
	var quote tdQuote
	if err := json.Unmarshal(body, &quote); err != nil {
		return tdQuote{}, p.wrap(CodeParse, "parse quote response", err)
	}
	if quote.Status == "error" {
		return tdQuote{}, p.classifyQuoteError(quote)
	}
	return quote, nil
}

func (p *TwelveData) stockFromQuote(symbol string, quote tdQuote) (models.StockQuote, error) {
	price, err := p.requiredFloat(quote.Close, "close")
	if err != nil {
		return models.StockQuote{}, err
	}
	change, err := p.requiredFloat(quote.Change, "change")
	if err != nil {
		return models.StockQuote{}, err
	}
	changePercent, err := p.requiredFloat(quote.PercentChange, "percent_change")
	if err != nil {
		return models.StockQuote{}, err
	}

	open, _ := strconv.ParseFloat(quote.Open, 64)
	high, _ := strconv.ParseFloat(quote.High, 64)
	low, _ := strconv.ParseFloat(quote.Low, 64)
	volume, _ := strconv.ParseInt(quote.Volume, 10, 64)

	resolved := quote.Symbol
	if resolved == "" {
		resolved = strings.ToUpper(symbol)
	}

	return models.StockQuote{
		Symbol:        resolved,
		Price:         price,
		Change:        change,
		ChangePercent: changePercent,
		Open:          open,
		High:          high,
		Low:           low,
		Volume:        volume,
		Source:        models.SourceTwelveData,
		Timestamp:     time.Now().UnixMilli(),
	}, nil
}

func (p *TwelveData) call(ctx context.Context, path string, query url.Values) ([]byte, error) {
	query.Set("apikey", p.configuration.APIKey)
	endpoint := p.configuration.BaseURL + path + "?" + query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, p.wrap(CodeHTTP, "build request", err)
	}

	response, err := p.httpClient.Do(request)
	if err != nil {
		if ctx.Err() != nil || strings.Contains(err.Error(), "Timeout") || strings.Contains(err.Error(), "deadline") {
			return nil, p.wrap(CodeTimeout, "request timeout", err)
		}
		return nil, p.wrap(CodeHTTP, "request failed", err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusTooManyRequests {
		return nil, p.wrap(CodeRateLimited, "rate limit exceeded (status 429)", nil)
	}
	if response.StatusCode != http.StatusOK {
		return nil, p.wrap(CodeHTTP, fmt.Sprintf("unexpected status %d", response.StatusCode), nil)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, p.wrap(CodeHTTP, "read response body", err)
	}
	return body, nil
}

func (p *TwelveData) classifyErrorBody(body []byte) error {
	var quote tdQuote
	_ = json.Unmarshal(body, &quote)
	return p.classifyQuoteError(quote)
}

func (p *TwelveData) classifyQuoteError(quote tdQuote) error {
	switch quote.Code {
	case http.StatusTooManyRequests:
		return p.wrap(CodeRateLimited, "rate limit exceeded: "+quote.Message, nil)
	case http.StatusUnauthorized, http.StatusForbidden:
		return p.wrap(CodeAuth, "api key rejected: "+quote.Message, nil)
	default:
		message := quote.Message
		if message == "" {
			message = "provider reported error"
		}
		return p.wrap(CodeParse, message, nil)
	}
}

func (p *TwelveData) requiredFloat(raw, field string) (float64, error) {
	if raw == "" {
		return 0, p.wrap(CodeParse, fmt.Sprintf("missing field %q", field), nil)
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, p.wrap(CodeParse, fmt.Sprintf("missing field %q: unparsable value", field), err)
	}
	return value, nil
}

func (p *TwelveData) wrap(code, message string, cause error) error {
	return &Error{Provider: p.configuration.Name, Code: code, Message: message, Cause: cause}
}
