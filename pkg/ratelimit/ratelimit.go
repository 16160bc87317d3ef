// Package ratelimit implements fixed-window request limiting keyed by client
// identity (IP address, session id or socket connection id).
package ratelimit

import (
	"sync"
	"time"
)

// counter tracks one key's current window.
type counter struct {
	windowStart time.Time
	count       int
}

// Limiter counts requests per key within a fixed, non-sliding window. When a
// window expires the count fully resets. Expired entries are evicted by a
// background sweep so the key map stays bounded.
type Limiter struct {
	mu            sync.Mutex
	max           int
	window        time.Duration
	entries       map[string]*counter
	sweepInterval time.Duration
	stopSweep     chan struct{}
	stopOnce      sync.Once
}

// New creates a limiter allowing max requests per window per key and starts
// its eviction sweep.
func New(max int, window time.Duration) *Limiter {
	l := &Limiter{
		max:           max,
		window:        window,
		entries:       make(map[string]*counter),
		sweepInterval: 5 * time.Minute,
		stopSweep:     make(chan struct{}),
	}

	go l.startSweep()

	return l
}

// Allow records a request for key and reports whether it is within the limit.
// When the request is rejected, retryAfter is the time until the current
// window expires.
func (l *Limiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	c, exists := l.entries[key]
	if !exists || now.Sub(c.windowStart) >= l.window {
		l.entries[key] = &counter{windowStart: now, count: 1}
		return true, 0
	}

	c.count++
	if c.count > l.max {
		return false, c.windowStart.Add(l.window).Sub(now)
	}

	return true, 0
}

// Stop stops the eviction sweep.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopSweep)
	})
}

func (l *Limiter) startSweep() {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stopSweep:
			return
		}
	}
}

// sweep drops every key whose window has expired.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, c := range l.entries {
		if now.Sub(c.windowStart) >= l.window {
			delete(l.entries, key)
		}
	}
}

// Set bundles the limiter scopes used across the transports.
type Set struct {
	General  *Limiter // all REST traffic, per IP
	Chat     *Limiter // chat submissions, per IP
	Realtime *Limiter // socket events, per connection id
	Admin    *Limiter // administrative endpoints, per IP
	Health   *Limiter // health checks, per IP
}

// ScopeConfig holds one scope's limits.
type ScopeConfig struct {
	Max    int
	Window time.Duration
}

// SetConfig configures all limiter scopes.
type SetConfig struct {
	General  ScopeConfig
	Chat     ScopeConfig
	Realtime ScopeConfig
	Admin    ScopeConfig
	Health   ScopeConfig
}

// DefaultSetConfig returns the stock per-scope limits.
func DefaultSetConfig() SetConfig {
	return SetConfig{
		General:  ScopeConfig{Max: 100, Window: 15 * time.Minute},
		Chat:     ScopeConfig{Max: 10, Window: time.Minute},
		Realtime: ScopeConfig{Max: 20, Window: time.Minute},
		Admin:    ScopeConfig{Max: 50, Window: 5 * time.Minute},
		Health:   ScopeConfig{Max: 60, Window: time.Minute},
	}
}

// NewSet creates limiters for every scope.
func NewSet(cfg SetConfig) *Set {
	return &Set{
		General:  New(cfg.General.Max, cfg.General.Window),
		Chat:     New(cfg.Chat.Max, cfg.Chat.Window),
		Realtime: New(cfg.Realtime.Max, cfg.Realtime.Window),
		Admin:    New(cfg.Admin.Max, cfg.Admin.Window),
		Health:   New(cfg.Health.Max, cfg.Health.Window),
	}
}

// Stop stops every scope's eviction sweep.
func (s *Set) Stop() {
	s.General.Stop()
	s.Chat.Stop()
	s.Realtime.Stop()
	s.Admin.Stop()
	s.Health.Stop()
}
