package main

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterEntry holds a client's rate limiter along with metadata for
// idle eviction.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LimiterStore provides thread-safe per-client rate limiters with idle
// eviction, so the map does not grow with every visitor the relay ever
// saw.
type LimiterStore struct {
	mu       sync.Mutex
	entries  map[string]*limiterEntry
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	stopChan chan struct{}
}

// NewLimiterStore creates a new LimiterStore. Each client may make rps
// requests per second with the given burst; clients idle for longer
// than idleTTL are forgotten.
func NewLimiterStore(rps float64, burst int, idleTTL time.Duration) *LimiterStore {
	return &LimiterStore{
		entries:  make(map[string]*limiterEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  idleTTL,
		stopChan: make(chan struct{}),
	}
}

// Allow reports whether the client identified by key may make a request
// now. An evicted client that comes back starts over with a full burst.
func (s *LimiterStore) Allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.rps, s.burst)}
		s.entries[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// StartCleanup starts a background goroutine that periodically removes
// idle entries.
func (s *LimiterStore) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.cleanup()
			case <-s.stopChan:
				return
			}
		}
	}()
}

// StopCleanup stops the background cleanup goroutine.
func (s *LimiterStore) StopCleanup() {
	close(s.stopChan)
}

// cleanup removes all idle entries from the store.
func (s *LimiterStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, entry := range s.entries {
		if now.Sub(entry.lastSeen) > s.idleTTL {
			delete(s.entries, key)
		}
	}
}
