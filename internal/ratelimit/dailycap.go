package ratelimit

import (
	"sync"
	"time"
)

// DailyCapCounter tracks per-endpoint call counts that reset at UTC
// midnight, process-local and lost on restart (spec.md §4.7 step 5, §9
// open question "durable variant is a future extension, not a current
// requirement"). Grounded on the same mutex-guarded-map shape as
// internal/usedhash, applied to a reset-by-day key instead of a TTL.
type DailyCapCounter struct {
	mu     sync.Mutex
	day    string
	counts map[string]int
}

// NewDailyCapCounter creates an empty counter.
func NewDailyCapCounter() *DailyCapCounter {
	return &DailyCapCounter{
		day:    currentUTCDay(),
		counts: make(map[string]int),
	}
}

// Increment bumps key's count for today and returns the new count,
// resetting every key's count first if the UTC day has rolled over.
func (c *DailyCapCounter) Increment(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfNewDayLocked()
	c.counts[key]++
	return c.counts[key]
}

// Count returns key's current count for today without incrementing it.
func (c *DailyCapCounter) Count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfNewDayLocked()
	return c.counts[key]
}

func (c *DailyCapCounter) resetIfNewDayLocked() {
	today := currentUTCDay()
	if today != c.day {
		c.day = today
		c.counts = make(map[string]int)
	}
}

func currentUTCDay() string {
	return time.Now().UTC().Format("2006-01-02")
}
