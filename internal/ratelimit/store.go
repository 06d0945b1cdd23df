package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore counts requests per key inside a fixed window. Incr must be
// atomic: concurrent callers hitting the same key may not lose updates.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

type localCounter struct {
	count   int64
	resetAt time.Time
}

// LocalStore is the in-memory fallback counter store. Counters past their
// reset instant are recreated; a cleanup goroutine discards abandoned keys.
type LocalStore struct {
	mu       sync.Mutex
	counters map[string]*localCounter

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

// NewLocalStore creates a local counter store with background cleanup.
func NewLocalStore() *LocalStore {
	store := &LocalStore{
		counters:      make(map[string]*localCounter),
		cleanupTicker: time.NewTicker(5 * time.Minute),
		stopCleanup:   make(chan struct{}),
	}
	go store.cleanup()
	return store
}

func (s *LocalStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || now.After(counter.resetAt) {
		counter = &localCounter{resetAt: now.Add(window)}
		s.counters[key] = counter
	}
	counter.count++
	return counter.count, counter.resetAt, nil
}

func (s *LocalStore) cleanup() {
	for {
		select {
		case <-s.cleanupTicker.C:
			now := time.Now()
			s.mu.Lock()
			for key, counter := range s.counters {
				if now.After(counter.resetAt) {
					delete(s.counters, key)
				}
			}
			s.mu.Unlock()
		case <-s.stopCleanup:
			s.cleanupTicker.Stop()
			return
		}
	}
}

// Stop stops the cleanup goroutine.
func (s *LocalStore) Stop() {
	close(s.stopCleanup)
}

// RedisStore counts in redis so limits hold across service instances.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-connected redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := time.Now()
	storeKey := "ratelimit:" + key

	count, err := s.client.Incr(ctx, storeKey).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if count == 1 {
		if err := s.client.Expire(ctx, storeKey, window).Err(); err != nil {
			return 0, time.Time{}, err
		}
		return count, now.Add(window), nil
	}

	ttl, err := s.client.PTTL(ctx, storeKey).Result()
	if err != nil || ttl < 0 {
		// Counter without expiry (e.g. a crashed Expire); reattach one.
		_ = s.client.Expire(ctx, storeKey, window).Err()
		ttl = window
	}
	return count, now.Add(ttl), nil
}
