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

// AlphaVantage is the primary upstream client. Its responses name fields
// with numbered labels ("01. symbol", "05. price", ...) which are parsed
// strictly: a missing required field is a failure, never a zero-value quote.
type AlphaVantage struct {
	configuration config.QuoteProviderConfig
	logger        *logger.Logger
	httpClient    *http.Client
}

// NewAlphaVantage creates the Alpha Vantage client.
func NewAlphaVantage(configuration config.QuoteProviderConfig, log *logger.Logger) *AlphaVantage {
	return &AlphaVantage{
		configuration: configuration,
		logger:        log,
		httpClient:    newHTTPClient(configuration.Timeout),
	}
}

func (p *AlphaVantage) Name() string { return p.configuration.Name }

// FetchStock fetches one GLOBAL_QUOTE snapshot.
func (p *AlphaVantage) FetchStock(ctx context.Context, symbol string) (models.StockQuote, error) {
	fields, err := p.globalQuote(ctx, symbol)
	if err != nil {
		return models.StockQuote{}, err
	}
	return p.stockFromFields(symbol, fields)
}

// FetchStocks has no bulk endpoint upstream; it degrades to sequential
// per-symbol calls. One symbol's failure never aborts the others.
func (p *AlphaVantage) FetchStocks(ctx context.Context, symbols []string) (map[string]models.StockQuote, map[string]error, error) {
	quotes := make(map[string]models.StockQuote, len(symbols))
	failures := make(map[string]error)
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return quotes, failures, p.wrap(CodeTimeout, "batch cancelled", ctx.Err())
		}
		quote, err := p.FetchStock(ctx, symbol)
		if err != nil {
			failures[symbol] = err
			continue
		}
		quotes[symbol] = quote
	}
	return quotes, failures, nil
}

// FetchForex fetches a realtime currency exchange rate.
func (p *AlphaVantage) FetchForex(ctx context.Context, pair string) (models.ForexRate, error) {
	from, to, err := SplitPair(pair)
	if err != nil {
		return models.ForexRate{}, p.wrap(CodeParse, err.Error(), nil)
	}

	query := url.Values{}
	query.Set("function", "CURRENCY_EXCHANGE_RATE")
	query.Set("from_currency", from)
	query.Set("to_currency", to)

	body, err := p.call(ctx, query)
	if err != nil {
		return models.ForexRate{}, err
	}

	var payload struct {
		Rate map[string]string `json:"Realtime Currency Exchange Rate"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.ForexRate{}, p.wrap(CodeParse, "parse exchange rate response", err)
	}
	if len(payload.Rate) == 0 {
		return models.ForexRate{}, p.classifyEmpty(body)
	}

	rate, err := p.requiredFloat(payload.Rate, "5. Exchange Rate")
	if err != nil {
		return models.ForexRate{}, err
	}
	bid, _ := strconv.ParseFloat(payload.Rate["8. Bid Price"], 64)
	ask, _ := strconv.ParseFloat(payload.Rate["9. Ask Price"], 64)

	return models.ForexRate{
		Pair:      from + "/" + to,
		Rate:      rate,
		Bid:       bid,
		Ask:       ask,
		Source:    models.SourceAlphaVantage,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// FetchIndex fetches an index level via GLOBAL_QUOTE.
func (p *AlphaVantage) FetchIndex(ctx context.Context, symbol string) (models.IndexQuote, error) {
	fields, err := p.globalQuote(ctx, symbol)
	if err != nil {
		return models.IndexQuote{}, err
	}
	value, err := p.requiredFloat(fields, "05. price")
	if err != nil {
		return models.IndexQuote{}, err
	}
	change, err := p.requiredFloat(fields, "09. change")
	if err != nil {
		return models.IndexQuote{}, err
	}
	changePercent, err := p.requiredPercent(fields, "10. change percent")
	if err != nil {
		return models.IndexQuote{}, err
	}
	return models.IndexQuote{
		Symbol:        strings.ToUpper(symbol),
		Value:         value,
		Change:        change,
		ChangePercent: changePercent,
		Source:        models.SourceAlphaVantage,
		Timestamp:     time.Now().UnixMilli(),
	}, nil
}

func (p *AlphaVantage) globalQuote(ctx context.Context, symbol string) (map[string]string, error) {
	query := url.Values{}
	query.Set("function", "GLOBAL_QUOTE")
	query.Set("symbol", symbol)

	body, err := p.call(ctx, query)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Quote map[string]string `json:"Global Quote"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, p.wrap(CodeParse, "parse global quote response", err)
	}
	if len(payload.Quote) == 0 {
		return nil, p.classifyEmpty(body)
	}
	return payload.Quote, nil
}

func (p *AlphaVantage) stockFromFields(symbol string, fields map[string]string) (models.StockQuote, error) {
	price, err := p.requiredFloat(fields, "05. price")
	if err != nil {
		return models.StockQuote{}, err
	}
	change, err := p.requiredFloat(fields, "09. change")
	if err != nil {
		return models.StockQuote{}, err
	}
	changePercent, err := p.requiredPercent(fields, "10. change percent")
	if err != nil {
		return models.StockQuote{}, err
	}

	open, _ := strconv.ParseFloat(fields["02. open"], 64)
	high, _ := strconv.ParseFloat(fields["03. high"], 64)
	low, _ := strconv.ParseFloat(fields["04. low"], 64)
	volume, _ := strconv.ParseInt(fields["06. volume"], 10, 64)

	resolved := fields["01. symbol"]
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
		Source:        models.SourceAlphaVantage,
		Timestamp:     time.Now().UnixMilli(),
	}, nil
}

// call performs one upstream request. The API key is added here and never
// logged.
func (p *AlphaVantage) call(ctx context.Context, query url.Values) ([]byte, error) {
	query.Set("apikey", p.configuration.APIKey)
	endpoint := p.configuration.BaseURL + "?" + query.Encode()

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

// classifyEmpty inspects an empty-looking payload. Alpha Vantage reports
// quota exhaustion as a 200 with a Note/Information message.
func (p *AlphaVantage) classifyEmpty(body []byte) error {
	var meta struct {
		Note        string `json:"Note"`
		Information string `json:"Information"`
		Message     string `json:"Error Message"`
	}
	_ = json.Unmarshal(body, &meta)

	switch {
	case meta.Note != "" || meta.Information != "":
		return p.wrap(CodeRateLimited, "rate limit quota message from provider", nil)
	case strings.Contains(strings.ToLower(meta.Message), "apikey") || strings.Contains(strings.ToLower(meta.Message), "api key"):
		return p.wrap(CodeAuth, "api key rejected", nil)
	case meta.Message != "":
		return p.wrap(CodeParse, "provider error: "+meta.Message, nil)
	default:
		return p.wrap(CodeParse, "empty quote payload", nil)
	}
}

func (p *AlphaVantage) requiredFloat(fields map[string]string, key string) (float64, error) {
	raw, ok := fields[key]
	if !ok || raw == "" {
		return 0, p.wrap(CodeParse, fmt.Sprintf("missing field %q", key), nil)
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, p.wrap(CodeParse, fmt.Sprintf("missing field %q: unparsable value", key), err)
	}
	return value, nil
}

func (p *AlphaVantage) requiredPercent(fields map[string]string, key string) (float64, error) {
	raw, ok := fields[key]
	if !ok || raw == "" {
		return 0, p.wrap(CodeParse, fmt.Sprintf("missing field %q", key), nil)
	}
	value, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
	if err != nil {
		return 0, p.wrap(CodeParse, fmt.Sprintf("missing field %q: unparsable percent", key), err)
	}
	return value, nil
}

func (p *AlphaVantage) wrap(code, message string, cause error) error {
	return &Error{Provider: p.configuration.Name, Code: code, Message: message, Cause: cause}
}
