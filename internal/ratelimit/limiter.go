package ratelimit

import (
	"context"
	"time"

	"market-data-api/internal/config"
	"market-data-api/internal/logger"
)

// Class names an endpoint throttling tier.
type Class string

const (
	ClassGeneric Class = "generic"
	ClassData    Class = "data"
	ClassStrict  Class = "strict"
)

// Result is the outcome of one limiter check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter is a fixed-window request gate with per-class policies and a
// pluggable counter store. A shared store is preferred for cross-instance
// correctness; on store failure the limiter degrades to local counting, and
// if that also fails it allows the request and logs. An actual exceeded
// determination always fails closed.
type Limiter struct {
	logger   *logger.Logger
	enabled  bool
	tiers    map[Class]config.RateLimitTier
	store    CounterStore
	fallback *LocalStore
}

// NewLimiter creates a limiter. store may be nil, in which case counting is
// local-only.
func NewLimiter(configuration *config.Config, log *logger.Logger, store CounterStore) *Limiter {
	fallback := NewLocalStore()
	if store == nil {
		store = fallback
	}
	return &Limiter{
		logger:  log,
		enabled: configuration.RateLimitEnabled,
		tiers: map[Class]config.RateLimitTier{
			ClassGeneric: configuration.RateLimitGeneric,
			ClassData:    configuration.RateLimitData,
			ClassStrict:  configuration.RateLimitStrict,
		},
		store:    store,
		fallback: fallback,
	}
}

// Check counts one request for key under the class tier and decides whether
// it is allowed.
func (l *Limiter) Check(ctx context.Context, class Class, key string) Result {
	tier, ok := l.tiers[class]
	if !l.enabled || !ok || tier.Requests <= 0 {
		return Result{Allowed: true, Limit: tier.Requests}
	}

	counterKey := string(class) + ":" + key
	count, resetAt, err := l.store.Incr(ctx, counterKey, tier.Window)
	if err != nil {
		l.logger.Warnf("rate limit store error, degrading to local counters: %v", err)
		count, resetAt, err = l.fallback.Incr(ctx, counterKey, tier.Window)
		if err != nil {
			// Infrastructure failure never blocks the request path.
			l.logger.Warnf("rate limit fallback store error, allowing request: %v", err)
			return Result{Allowed: true, Limit: tier.Requests, ResetAt: time.Now().Add(tier.Window)}
		}
	}

	remaining := tier.Requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(tier.Requests),
		Limit:     tier.Requests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Stop stops the fallback store's cleanup goroutine.
func (l *Limiter) Stop() {
	l.fallback.Stop()
}
