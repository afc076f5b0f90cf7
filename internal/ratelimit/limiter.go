// Package ratelimit provides per-caller request quotas for the message API.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// Requests is the number of requests allowed per window.
	Requests int `yaml:"requests"`
	// Window is the fixed quota window.
	Window time.Duration `yaml:"window"`
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		Requests: 20,
		Window:   60 * time.Second,
		Enabled:  true,
	}
}

// window tracks request counts for one caller within a fixed window.
type window struct {
	mu      sync.Mutex
	count   int
	startAt time.Time
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long the caller should wait before retrying.
	// Zero when the request is allowed.
	RetryAfter time.Duration
}

// Limiter enforces a fixed-window quota per key (callers, users).
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	config  Config
	maxKeys int
	now     func() time.Time
}

// NewLimiter creates a new rate limiter.
func NewLimiter(config Config) *Limiter {
	if config.Requests <= 0 {
		config.Requests = DefaultConfig().Requests
	}
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	return &Limiter{
		windows: make(map[string]*window),
		config:  config,
		maxKeys: 10000,
		now:     time.Now,
	}
}

// Check records a request for the given key and reports whether it is
// within quota. The check itself consumes quota only when allowed.
func (l *Limiter) Check(key string) Decision {
	if !l.config.Enabled {
		return Decision{Allowed: true}
	}

	w := l.getWindow(key)
	now := l.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if now.Sub(w.startAt) >= l.config.Window {
		w.startAt = now
		w.count = 0
	}

	if w.count < l.config.Requests {
		w.count++
		return Decision{Allowed: true}
	}

	retry := l.config.Window - now.Sub(w.startAt)
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retry}
}

func (l *Limiter) getWindow(key string) *window {
	l.mu.RLock()
	w, exists := l.windows[key]
	l.mu.RUnlock()
	if exists {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if w, exists = l.windows[key]; exists {
		return w
	}

	if len(l.windows) >= l.maxKeys {
		l.prune()
	}

	w = &window{startAt: l.now()}
	l.windows[key] = w
	return w
}

// prune removes windows that have fully expired (inactive callers).
func (l *Limiter) prune() {
	cutoff := l.now().Add(-l.config.Window)
	for key, w := range l.windows {
		w.mu.Lock()
		stale := w.startAt.Before(cutoff)
		w.mu.Unlock()
		if stale {
			delete(l.windows, key)
		}
	}
}
