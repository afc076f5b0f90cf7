package convstate

import (
	"sync"
	"time"
)

// CacheConfig configures the TTL-backed state store.
type CacheConfig struct {
	// TTL is how long idle conversation state is retained. Each access
	// refreshes the clock.
	TTL time.Duration
	// MaxConversations bounds the store (0 = unlimited). When full, the
	// oldest entry is evicted.
	MaxConversations int
	// CleanupInterval sets how often expired entries are scanned out
	// (0 = no background cleanup).
	CleanupInterval time.Duration
}

type cacheEntry struct {
	state     *State
	expiresAt time.Time
	createdAt time.Time
}

// CacheStore is a thread-safe Store with per-conversation expiration.
type CacheStore struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	maxSize int
	stopCh  chan struct{}
	stopped bool
}

// NewCacheStore creates a TTL-backed state store.
func NewCacheStore(config CacheConfig) *CacheStore {
	if config.TTL <= 0 {
		config.TTL = 30 * time.Minute
	}
	c := &CacheStore{
		entries: make(map[string]*cacheEntry),
		ttl:     config.TTL,
		maxSize: config.MaxConversations,
		stopCh:  make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go c.cleanupLoop(config.CleanupInterval)
	}
	return c
}

// Get returns retained state and refreshes its TTL.
func (c *CacheStore) Get(conversationID string) (*State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[conversationID]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, conversationID)
		return nil, false
	}
	entry.expiresAt = time.Now().Add(c.ttl)
	return entry.state, true
}

// GetOrCreate returns retained state or installs a fresh one.
func (c *CacheStore) GetOrCreate(conversationID string) *State {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if entry, ok := c.entries[conversationID]; ok && now.Before(entry.expiresAt) {
		entry.expiresAt = now.Add(c.ttl)
		return entry.state
	}

	st := NewState()
	c.set(conversationID, st, now)
	return st
}

// Put stores state for a conversation with a fresh TTL.
func (c *CacheStore) Put(conversationID string, st *State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(conversationID, st, time.Now())
}

// Delete drops a conversation's state.
func (c *CacheStore) Delete(conversationID string) {
	c.mu.Lock()
	delete(c.entries, conversationID)
	c.mu.Unlock()
}

// Len returns the number of retained entries, including expired ones not
// yet cleaned up.
func (c *CacheStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop halts the background cleanup goroutine.
func (c *CacheStore) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.stopCh)
	}
}

// set installs an entry. Must be called with mu held.
func (c *CacheStore) set(conversationID string, st *State, now time.Time) {
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		if _, exists := c.entries[conversationID]; !exists {
			c.evictOldest()
		}
	}
	c.entries[conversationID] = &cacheEntry{
		state:     st,
		expiresAt: now.Add(c.ttl),
		createdAt: now,
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *CacheStore) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

func (c *CacheStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

func (c *CacheStore) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
