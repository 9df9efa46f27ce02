package usedhash

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMarkUsedOnlyWinsOnce(t *testing.T) {
	s := New(WithTTL(time.Hour), WithCleanupInterval(time.Hour))
	defer s.Close()

	assert.True(t, s.MarkUsed("hash-a"))
	assert.False(t, s.MarkUsed("hash-a"))
	assert.True(t, s.IsUsed("hash-a"))
	assert.False(t, s.IsUsed("hash-b"))
}

func TestMarkUsedConcurrentExactlyOneWinner(t *testing.T) {
	s := New(WithTTL(time.Hour), WithCleanupInterval(time.Hour))
	defer s.Close()

	const n = 50
	var wg sync.WaitGroup
	wins := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wins[i] = s.MarkUsed("shared-hash")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, w := range wins {
		if w {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestCleanupExpiresOldEntries(t *testing.T) {
	s := New(WithTTL(10*time.Millisecond), WithCleanupInterval(5*time.Millisecond))
	defer s.Close()

	s.MarkUsed("stale")
	time.Sleep(30 * time.Millisecond)

	// A fresh write/read triggers the opportunistic sweep.
	assert.True(t, s.MarkUsed("fresh-trigger"))
	assert.False(t, s.IsUsed("stale"))
}
