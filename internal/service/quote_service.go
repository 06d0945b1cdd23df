package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"market-data-api/internal/cache"
	"market-data-api/internal/config"
	"market-data-api/internal/logger"
	"market-data-api/internal/models"
	"market-data-api/internal/provider"
	"market-data-api/internal/telemetry"

	"golang.org/x/sync/errgroup"
)

// probeSymbol is a known-good symbol used for provider health probes.
const probeSymbol = "AAPL"

// QuoteService orchestrates cache lookup, primary-provider calls, secondary
// failover, stale-cache fallback and write-back.
type QuoteService struct {
	configuration *config.Config
	logger        *logger.Logger
	telemetry     *telemetry.Recorder
	cache         *cache.TwoTier

	// providers in failover order: primary first.
	providers []provider.QuoteProvider

	startTime time.Time
}

// NewQuoteService wires the aggregation service. providers must be in
// failover order.
func NewQuoteService(configuration *config.Config, log *logger.Logger, recorder *telemetry.Recorder, quoteCache *cache.TwoTier, providers []provider.QuoteProvider) *QuoteService {
	return &QuoteService{
		configuration: configuration,
		logger:        log,
		telemetry:     recorder,
		cache:         quoteCache,
		providers:     providers,
		startTime:     time.Now(),
	}
}

// GetStockQuote fetches one stock quote through the cache/failover chain.
func (s *QuoteService) GetStockQuote(ctx context.Context, symbol string, forceRefresh bool) (models.StockQuote, error) {
	var quote models.StockQuote

	if !forceRefresh {
		if ok := s.readFresh(ctx, models.KindStock, symbol, &quote); ok {
			quote.Cached = true
			return quote, nil
		}
	}

	var lastErr error
	for _, p := range s.providers {
		p := p
		err := s.telemetry.WithLogging("fetch_stock", p.Name(), func() error {
			fetched, fetchErr := p.FetchStock(ctx, symbol)
			if fetchErr != nil {
				return fetchErr
			}
			quote = fetched
			return nil
		})
		if err == nil {
			quote.Cached = false
			s.writeBack(models.KindStock, symbol, quote)
			return quote, nil
		}
		lastErr = err
	}

	if s.configuration.FallbackToCache {
		if ok := s.readStale(ctx, models.KindStock, symbol, &quote); ok {
			s.logger.Warnf("serving stale stock quote for %s after provider failures", symbol)
			quote.Cached = true
			return quote, nil
		}
	}

	failed := allProvidersFailed("stock", symbol, lastErr)
	s.telemetry.Record("aggregator", failed)
	return models.StockQuote{}, failed
}

// GetForexRate fetches one currency pair through the same chain.
func (s *QuoteService) GetForexRate(ctx context.Context, pair string, forceRefresh bool) (models.ForexRate, error) {
	var rate models.ForexRate

	if !forceRefresh {
		if ok := s.readFresh(ctx, models.KindForex, pair, &rate); ok {
			rate.Cached = true
			return rate, nil
		}
	}

	var lastErr error
	for _, p := range s.providers {
		p := p
		err := s.telemetry.WithLogging("fetch_forex", p.Name(), func() error {
			fetched, fetchErr := p.FetchForex(ctx, pair)
			if fetchErr != nil {
				return fetchErr
			}
			rate = fetched
			return nil
		})
		if err == nil {
			rate.Cached = false
			s.writeBack(models.KindForex, pair, rate)
			return rate, nil
		}
		lastErr = err
	}

	if s.configuration.FallbackToCache {
		if ok := s.readStale(ctx, models.KindForex, pair, &rate); ok {
			s.logger.Warnf("serving stale forex rate for %s after provider failures", pair)
			rate.Cached = true
			return rate, nil
		}
	}

	failed := allProvidersFailed("forex", pair, lastErr)
	s.telemetry.Record("aggregator", failed)
	return models.ForexRate{}, failed
}

// GetIndexQuote fetches one index level through the same chain.
func (s *QuoteService) GetIndexQuote(ctx context.Context, symbol string, forceRefresh bool) (models.IndexQuote, error) {
	var quote models.IndexQuote

	if !forceRefresh {
		if ok := s.readFresh(ctx, models.KindIndex, symbol, &quote); ok {
			quote.Cached = true
			return quote, nil
		}
	}

	var lastErr error
	for _, p := range s.providers {
		p := p
		err := s.telemetry.WithLogging("fetch_index", p.Name(), func() error {
			fetched, fetchErr := p.FetchIndex(ctx, symbol)
			if fetchErr != nil {
				return fetchErr
			}
			quote = fetched
			return nil
		})
		if err == nil {
			quote.Cached = false
			s.writeBack(models.KindIndex, symbol, quote)
			return quote, nil
		}
		lastErr = err
	}

	if s.configuration.FallbackToCache {
		if ok := s.readStale(ctx, models.KindIndex, symbol, &quote); ok {
			s.logger.Warnf("serving stale index quote for %s after provider failures", symbol)
			quote.Cached = true
			return quote, nil
		}
	}

	failed := allProvidersFailed("index", symbol, lastErr)
	s.telemetry.Record("aggregator", failed)
	return models.IndexQuote{}, failed
}

// GetStockQuotes fetches multiple symbols. It tries one batched primary
// call; symbols the batch could not resolve (or a batch-mechanism failure
// as a whole) fall back to independent single fetches so one bad symbol
// cannot sink the rest. Partial success is reported, never dropped.
func (s *QuoteService) GetStockQuotes(ctx context.Context, symbols []string, forceRefresh bool) models.BatchQuoteResult {
	result := models.BatchQuoteResult{Errors: make(map[string]string)}

	pending := make([]string, 0, len(symbols))
	if !forceRefresh {
		for _, symbol := range symbols {
			var quote models.StockQuote
			if ok := s.readFresh(ctx, models.KindStock, symbol, &quote); ok {
				quote.Cached = true
				result.Quotes = append(result.Quotes, quote)
				continue
			}
			pending = append(pending, symbol)
		}
	} else {
		pending = append(pending, symbols...)
	}
	if len(pending) == 0 {
		return s.finishBatch(result)
	}

	remaining := pending
	if len(s.providers) > 0 {
		primary := s.providers[0]
		var quotes map[string]models.StockQuote
		var failures map[string]error
		err := s.telemetry.WithLogging("fetch_stock_batch", primary.Name(), func() error {
			var batchErr error
			quotes, failures, batchErr = primary.FetchStocks(ctx, pending)
			return batchErr
		})
		if err == nil {
			remaining = remaining[:0]
			for _, symbol := range pending {
				if quote, ok := quotes[symbol]; ok {
					quote.Cached = false
					s.writeBack(models.KindStock, symbol, quote)
					result.Quotes = append(result.Quotes, quote)
					continue
				}
				if failure, ok := failures[symbol]; ok {
					s.telemetry.Record(primary.Name(), failure)
				}
				remaining = append(remaining, symbol)
			}
		}
	}

	// Decompose what is left into independent single fetches, each going
	// through the full failover/cache chain.
	for _, symbol := range remaining {
		quote, err := s.GetStockQuote(ctx, symbol, forceRefresh)
		if err != nil {
			result.Errors[symbol] = err.Error()
			continue
		}
		result.Quotes = append(result.Quotes, quote)
	}
	return s.finishBatch(result)
}

func (s *QuoteService) finishBatch(result models.BatchQuoteResult) models.BatchQuoteResult {
	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	return result
}

// GetKoreanBasket fetches the configured Korean market basket plus index.
func (s *QuoteService) GetKoreanBasket(ctx context.Context, forceRefresh bool) models.KoreanBasketResult {
	basket := models.KoreanBasketResult{
		Stocks: s.GetStockQuotes(ctx, s.configuration.KoreanBasket, forceRefresh),
	}
	index, err := s.GetIndexQuote(ctx, s.configuration.KoreanIndex, forceRefresh)
	if err != nil {
		basket.IndexError = err.Error()
	} else {
		basket.Index = &index
	}
	return basket
}

// GetForexBasket fetches the configured major currency pairs with per-pair
// failure isolation.
func (s *QuoteService) GetForexBasket(ctx context.Context, forceRefresh bool) models.ForexBasketResult {
	basket := models.ForexBasketResult{Errors: make(map[string]string)}
	for _, pair := range s.configuration.ForexMajors {
		rate, err := s.GetForexRate(ctx, pair, forceRefresh)
		if err != nil {
			basket.Errors[pair] = err.Error()
			continue
		}
		basket.Rates = append(basket.Rates, rate)
	}
	if len(basket.Errors) == 0 {
		basket.Errors = nil
	}
	return basket
}

// Health probes both providers in parallel with a lightweight call and
// reports cache statistics. Total latency is bounded by the slower probe,
// not their sum.
func (s *QuoteService) Health(ctx context.Context) models.HealthStatus {
	probes := make([]models.ProviderHealth, len(s.providers))

	group, probeCtx := errgroup.WithContext(ctx)
	for i, p := range s.providers {
		i, p := i, p
		group.Go(func() error {
			callCtx, cancel := context.WithTimeout(probeCtx, 10*time.Second)
			defer cancel()

			start := time.Now()
			_, err := p.FetchStock(callCtx, probeSymbol)
			probe := models.ProviderHealth{
				Name:      p.Name(),
				Healthy:   err == nil,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				probe.Error = err.Error()
			}
			probes[i] = probe
			return nil
		})
	}
	_ = group.Wait()

	healthy := 0
	for _, probe := range probes {
		if probe.Healthy {
			healthy++
		}
	}
	status := "healthy"
	switch {
	case healthy == 0 && len(probes) > 0:
		status = "unhealthy"
	case healthy < len(probes):
		status = "degraded"
	}

	return models.HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Providers: probes,
		Cache:     s.cache.Stats(),
		Uptime:    time.Since(s.startTime).String(),
	}
}

// ErrorStats exposes the telemetry snapshot for the status endpoint.
func (s *QuoteService) ErrorStats() []telemetry.ErrorStats {
	return s.telemetry.Snapshot()
}

// ResetErrorStats clears accumulated error statistics. Operator action.
func (s *QuoteService) ResetErrorStats() {
	s.telemetry.Reset()
}

func (s *QuoteService) readFresh(ctx context.Context, kind models.QuoteKind, id string, out any) bool {
	payload, ok := s.cache.Get(ctx, kind, id)
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		s.logger.Debugf("discarding unreadable cache entry for %s %s: %v", kind, id, err)
		return false
	}
	return true
}

func (s *QuoteService) readStale(ctx context.Context, kind models.QuoteKind, id string, out any) bool {
	payload, ok := s.cache.GetStale(ctx, kind, id)
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		s.logger.Debugf("discarding unreadable stale cache entry for %s %s: %v", kind, id, err)
		return false
	}
	return true
}

func (s *QuoteService) writeBack(kind models.QuoteKind, id string, quote any) {
	payload, err := json.Marshal(quote)
	if err != nil {
		s.logger.Warnf("cache write-back marshal for %s %s: %v", kind, id, err)
		return
	}
	s.cache.Set(kind, id, payload)
}

// RateLimitedError distinguishes a provider quota rejection from a generic
// failure.
func RateLimitedError(err error) bool {
	var providerErr *provider.Error
	return errors.As(err, &providerErr) && providerErr.RateLimited()
}
