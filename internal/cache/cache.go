package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"market-data-api/internal/logger"
	"market-data-api/internal/models"
)

const sharedWriteTimeout = 3 * time.Second

// Key builds the bucketed local cache key for (kind, id). The one-minute
// bucket collapses near-simultaneous requests for the same symbol onto the
// same entry.
func Key(kind models.QuoteKind, id string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%d", kind, strings.ToUpper(id), at.Unix()/60)
}

func keyPrefix(kind models.QuoteKind, id string) string {
	return fmt.Sprintf("%s:%s:", kind, strings.ToUpper(id))
}

func sharedKey(kind models.QuoteKind, id string) string {
	return fmt.Sprintf("quote:%s:%s", kind, strings.ToUpper(id))
}

// envelope is the stored form of a quote: payload plus its logical expiry.
// The shared tier keeps envelopes past expiry (up to the stale retention
// horizon) so the fallback path can still read them.
type envelope struct {
	Quote     json.RawMessage `json:"quote"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// TwoTier layers the local tier over an optional shared store. A nil shared
// store degrades to local-only caching without errors.
type TwoTier struct {
	local          *Local
	shared         SharedStore
	logger         *logger.Logger
	ttl            time.Duration
	staleRetention time.Duration

	hits   atomic.Int64
	misses atomic.Int64

	now func() time.Time
}

// New creates a two-tier cache. shared may be nil.
func New(local *Local, shared SharedStore, log *logger.Logger, ttl, staleRetention time.Duration) *TwoTier {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if staleRetention < ttl {
		staleRetention = ttl
	}
	return &TwoTier{
		local:          local,
		shared:         shared,
		logger:         log,
		ttl:            ttl,
		staleRetention: staleRetention,
		now:            time.Now,
	}
}

// TTL returns the configured freshness window.
func (c *TwoTier) TTL() time.Duration {
	return c.ttl
}

// Get returns a fresh payload for (kind, id): local tier first, then the
// shared tier with a local backfill on hit. Shared-store failures degrade
// silently to a miss.
func (c *TwoTier) Get(ctx context.Context, kind models.QuoteKind, id string) ([]byte, bool) {
	now := c.now()
	if value, ok := c.local.Get(Key(kind, id, now), now); ok {
		c.hits.Add(1)
		return value, true
	}

	if c.shared != nil {
		if env, ok := c.sharedGet(ctx, kind, id); ok && now.Before(env.ExpiresAt) {
			c.local.Set(Key(kind, id, now), env.Quote, env.ExpiresAt.Sub(now), now)
			c.hits.Add(1)
			return env.Quote, true
		}
	}

	c.misses.Add(1)
	return nil, false
}

// GetStale returns the newest payload for (kind, id) ignoring expiry. Used
// only when every provider has failed.
func (c *TwoTier) GetStale(ctx context.Context, kind models.QuoteKind, id string) ([]byte, bool) {
	if value, ok := c.local.GetStale(keyPrefix(kind, id)); ok {
		return value, true
	}
	if c.shared != nil {
		if env, ok := c.sharedGet(ctx, kind, id); ok {
			return env.Quote, true
		}
	}
	return nil, false
}

// Set writes payload to the local tier synchronously; that write alone
// decides the operation's success. The shared write is detached and
// best-effort with its own timeout and error handling.
func (c *TwoTier) Set(kind models.QuoteKind, id string, payload []byte) {
	now := c.now()
	c.local.Set(Key(kind, id, now), payload, c.ttl, now)

	if c.shared == nil {
		return
	}
	env, err := json.Marshal(envelope{Quote: payload, ExpiresAt: now.Add(c.ttl)})
	if err != nil {
		c.logger.Warnf("cache: marshal shared envelope for %s %s: %v", kind, id, err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sharedWriteTimeout)
		defer cancel()
		if err := c.shared.Set(ctx, sharedKey(kind, id), env, c.staleRetention); err != nil {
			c.logger.Warnf("cache: shared write for %s %s failed: %v", kind, id, err)
		}
	}()
}

// Stats reports tier sizes and the hit rate since startup.
func (c *TwoTier) Stats() models.CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return models.CacheStats{
		LocalEntries:    c.local.Len(),
		LocalMaxEntries: c.local.maxEntries,
		SharedEnabled:   c.shared != nil,
		Hits:            hits,
		Misses:          misses,
		HitRate:         rate,
	}
}

func (c *TwoTier) sharedGet(ctx context.Context, kind models.QuoteKind, id string) (envelope, bool) {
	var env envelope
	value, err := c.shared.Get(ctx, sharedKey(kind, id))
	if err != nil {
		if err != ErrNotFound {
			c.logger.Debugf("cache: shared read for %s %s failed: %v", kind, id, err)
		}
		return env, false
	}
	if err := json.Unmarshal(value, &env); err != nil {
		c.logger.Debugf("cache: shared entry for %s %s unreadable: %v", kind, id, err)
		return env, false
	}
	return env, true
}
