package provider

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"market-data-api/internal/models"
)

// Error codes attached to provider failures.
const (
	CodeHTTP        = "HTTP"
	CodeTimeout     = "TIMEOUT"
	CodeParse       = "PARSE"
	CodeAuth        = "AUTH"
	CodeRateLimited = "RATE_LIMITED"
)

// Error is a typed provider failure. A rate-limit or quota response from the
// upstream is distinguished from generic failures so callers can treat it as
// retryable.
type Error struct {
	Provider string
	Code     string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// RateLimited reports whether the provider rejected the call for quota
// reasons.
func (e *Error) RateLimited() bool { return e.Code == CodeRateLimited }

// QuoteProvider is the contract both upstream adapters satisfy. The
// aggregation service treats primary/secondary as ordering policy, not as
// distinct types.
//
// FetchStocks returns resolved quotes and per-symbol failures; the error
// return reports a failure of the batch mechanism as a whole.
type QuoteProvider interface {
	Name() string
	FetchStock(ctx context.Context, symbol string) (models.StockQuote, error)
	FetchStocks(ctx context.Context, symbols []string) (map[string]models.StockQuote, map[string]error, error)
	FetchForex(ctx context.Context, pair string) (models.ForexRate, error)
	FetchIndex(ctx context.Context, symbol string) (models.IndexQuote, error)
}

// newHTTPClient builds the provider HTTP client with a hard timeout ceiling
// so a hung upstream never blocks a caller indefinitely.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 || timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// SplitPair splits a forex pair like "USD/KRW" into its currencies.
func SplitPair(pair string) (from, to string, err error) {
	parts := strings.Split(strings.ToUpper(pair), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid forex pair %q", pair)
	}
	return parts[0], parts[1], nil
}
