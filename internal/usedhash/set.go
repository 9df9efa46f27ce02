// Package usedhash implements the process-local set of spent L402 payment
// hashes (spec.md §4.2, C2): a mutex-guarded map with put-if-absent
// semantics and opportunistic TTL cleanup, the same shape as the teacher's
// idempotency store repurposed from caching responses to remembering spends.
package usedhash

import (
	"sync"
	"time"
)

// Set is a concurrent-safe TTL set of canonical payment hashes.
type Set struct {
	mu              sync.Mutex
	entries         map[string]time.Time
	ttl             time.Duration
	cleanupInterval time.Duration
	lastCleanup     time.Time
	stop            chan struct{}
	stopped         chan struct{}
}

// Option configures a Set at construction.
type Option func(*Set)

// WithTTL overrides the default 3600s entry lifetime (spec.md §4.2).
func WithTTL(ttl time.Duration) Option {
	return func(s *Set) { s.ttl = ttl }
}

// WithCleanupInterval overrides the default 300s opportunistic-cleanup cadence.
func WithCleanupInterval(interval time.Duration) Option {
	return func(s *Set) { s.cleanupInterval = interval }
}

// New creates a Set and starts its background cleanup goroutine at the same
// cadence as the opportunistic sweep. Call Close to stop it.
func New(opts ...Option) *Set {
	s := &Set{
		entries:         make(map[string]time.Time),
		ttl:             3600 * time.Second,
		cleanupInterval: 300 * time.Second,
		lastCleanup:     time.Now(),
		stop:            make(chan struct{}),
		stopped:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.backgroundCleanup()
	return s
}

// IsUsed reports whether h is currently present in the set.
func (s *Set) IsUsed(h string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	_, present := s.entries[h]
	return present
}

// MarkUsed inserts h if absent and returns true on a fresh insertion, false
// if h was already present. This put-if-absent check is the idempotency
// fence spec.md §4.2/§4.7 relies on to defend against concurrent replay.
func (s *Set) MarkUsed(h string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	if _, present := s.entries[h]; present {
		return false
	}
	s.entries[h] = time.Now()
	return true
}

// cleanupLocked drops entries older than ttl, but only if cleanupInterval
// has elapsed since the last sweep. Caller must hold s.mu.
func (s *Set) cleanupLocked() {
	now := time.Now()
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return
	}
	s.lastCleanup = now
	for h, insertedAt := range s.entries {
		if now.Sub(insertedAt) > s.ttl {
			delete(s.entries, h)
		}
	}
}

func (s *Set) backgroundCleanup() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	defer close(s.stopped)

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.lastCleanup = time.Now()
			now := s.lastCleanup
			for h, insertedAt := range s.entries {
				if now.Sub(insertedAt) > s.ttl {
					delete(s.entries, h)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Close stops the background cleanup task and waits for it to exit,
// satisfying the io.Closer contract the lifecycle manager expects.
func (s *Set) Close() error {
	close(s.stop)
	<-s.stopped
	return nil
}

// Len reports the current entry count, for metrics/tests.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
