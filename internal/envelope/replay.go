package envelope

import (
	"encoding/hex"
	"sync"
	"time"
)

// ReplayCache is a bounded nonce-keyed set, each entry expiring at
// insertion-timestamp + window + margin. It is process-local and does
// not survive a daemon restart.
type ReplayCache struct {
	mu      sync.Mutex
	entries map[string]time.Time // nonce (hex) -> expiry
	window  time.Duration
	margin  time.Duration
}

// NewReplayCache builds a cache with the given acceptance window and
// eviction margin.
func NewReplayCache(window, margin time.Duration) *ReplayCache {
	return &ReplayCache{
		entries: make(map[string]time.Time),
		window:  window,
		margin:  margin,
	}
}

// CheckAndInsert reports whether nonce was already seen within the
// window (a replay); if not, it records it with an expiry derived from
// ts and returns false.
func (c *ReplayCache) CheckAndInsert(nonce []byte, ts time.Time) bool {
	key := hex.EncodeToString(nonce)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked(ts)

	if _, seen := c.entries[key]; seen {
		return true
	}
	c.entries[key] = ts.Add(c.window + c.margin)
	return false
}

// evictLocked drops entries whose expiry has passed relative to now.
// Must be called with c.mu held.
func (c *ReplayCache) evictLocked(now time.Time) {
	for k, expiry := range c.entries {
		if now.After(expiry) {
			delete(c.entries, k)
		}
	}
}

// Len reports the current number of tracked nonces, for tests and metrics.
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
