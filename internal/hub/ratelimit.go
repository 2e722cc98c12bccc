package hub

import (
	"sync"
	"time"
)

// eventsPerMinute bounds how many realtime events a single connection may
// submit. Form autosave progress is the chattiest client behavior; 120
// leaves headroom for one update every half second.
const eventsPerMinute = 120

// RateLimiter implements per-connection event rate limiting.
type RateLimiter struct {
	mu          sync.Mutex
	connections map[string]*connectionLimit
}

// connectionLimit tracks the current minute window for one connection.
type connectionLimit struct {
	eventCount  int
	windowStart time.Time
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		connections: make(map[string]*connectionLimit),
	}
}

// Allow checks if the connection may submit another event.
func (rl *RateLimiter) Allow(connectionID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	limit, exists := rl.connections[connectionID]
	if !exists {
		rl.connections[connectionID] = &connectionLimit{
			eventCount:  1,
			windowStart: now,
		}
		return true
	}

	if now.Sub(limit.windowStart) >= time.Minute {
		limit.eventCount = 1
		limit.windowStart = now
		return true
	}

	if limit.eventCount >= eventsPerMinute {
		return false
	}

	limit.eventCount++
	return true
}

// Forget drops tracking state for a disconnected connection.
func (rl *RateLimiter) Forget(connectionID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.connections, connectionID)
}

// Cleanup removes stale entries left behind by connections that never
// disconnected cleanly. Call periodically.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for connectionID, limit := range rl.connections {
		if now.Sub(limit.windowStart) > 5*time.Minute {
			delete(rl.connections, connectionID)
		}
	}
}
