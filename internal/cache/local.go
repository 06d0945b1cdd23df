package cache

import (
	"strings"
	"sync"
	"time"
)

type localEntry struct {
	value     []byte
	storedAt  time.Time
	expiresAt time.Time
}

// Local is the process-bound cache tier: a bounded map with per-entry expiry.
// Expired entries are kept until evicted so the stale-read path can still
// reach them.
type Local struct {
	maxEntries int

	mu      sync.RWMutex
	entries map[string]localEntry
}

// NewLocal creates a local tier holding at most maxEntries entries.
func NewLocal(maxEntries int) *Local {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Local{
		maxEntries: maxEntries,
		entries:    make(map[string]localEntry),
	}
}

// Get returns the value for key if present and not expired.
func (l *Local) Get(key string, now time.Time) ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[key]
	if !ok || now.After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// GetStale returns the newest entry whose key starts with prefix, expired or
// not. Separate from Get on purpose: only the fallback path may call it.
func (l *Local) GetStale(prefix string) ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var (
		best  localEntry
		found bool
	)
	for key, entry := range l.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !found || entry.storedAt.After(best.storedAt) {
			best = entry
			found = true
		}
	}
	if !found {
		return nil, false
	}
	return best.value, true
}

// Set stores value under key, evicting once the entry cap is exceeded:
// expired entries first, then arbitrary ones.
func (l *Local) Set(key string, value []byte, ttl time.Duration, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = localEntry{value: value, storedAt: now, expiresAt: now.Add(ttl)}

	if len(l.entries) <= l.maxEntries {
		return
	}
	for k, e := range l.entries {
		if len(l.entries) <= l.maxEntries {
			break
		}
		if k != key && now.After(e.expiresAt) {
			delete(l.entries, k)
		}
	}
	for k := range l.entries {
		if len(l.entries) <= l.maxEntries {
			break
		}
		if k != key {
			delete(l.entries, k)
		}
	}
}

// Len reports the current entry count.
func (l *Local) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
