package btcprice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubSource struct {
	mu       sync.Mutex
	price    float64
	err      error
	fetchCnt int32
}

func (s *stubSource) FetchUSD(ctx context.Context) (float64, error) {
	atomic.AddInt32(&s.fetchCnt, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.price, nil
}

func (s *stubSource) calls() int32 {
	return atomic.LoadInt32(&s.fetchCnt)
}

func TestCache_FetchesOnFirstUse(t *testing.T) {
	src := &stubSource{price: 65000}
	c := New(src, time.Minute)

	price, err := c.USD(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 65000 {
		t.Errorf("price = %v, want 65000", price)
	}
	if src.calls() != 1 {
		t.Errorf("expected 1 fetch, got %d", src.calls())
	}
}

func TestCache_ServesCachedValueWithinTTL(t *testing.T) {
	src := &stubSource{price: 65000}
	c := New(src, time.Minute)

	for i := 0; i < 5; i++ {
		if _, err := c.USD(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if src.calls() != 1 {
		t.Errorf("expected 1 fetch across repeated calls, got %d", src.calls())
	}
}

func TestCache_RefetchesAfterTTLExpires(t *testing.T) {
	src := &stubSource{price: 65000}
	c := New(src, 10*time.Millisecond)

	if _, err := c.USD(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := c.USD(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if src.calls() != 2 {
		t.Errorf("expected 2 fetches after TTL expiry, got %d", src.calls())
	}
}

func TestCache_ServesStaleValueOnFetchError(t *testing.T) {
	src := &stubSource{price: 65000}
	c := New(src, 10*time.Millisecond)

	if _, err := c.USD(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	src.mu.Lock()
	src.err = errors.New("price source down")
	src.mu.Unlock()

	price, err := c.USD(context.Background())
	if err != nil {
		t.Fatalf("expected stale value served without error, got %v", err)
	}
	if price != 65000 {
		t.Errorf("price = %v, want stale 65000", price)
	}
}

func TestCache_ReturnsErrorWhenNeverFetched(t *testing.T) {
	src := &stubSource{err: errors.New("price source down")}
	c := New(src, time.Minute)

	_, err := c.USD(context.Background())
	if err == nil {
		t.Fatal("expected error when no cached value exists and fetch fails")
	}
}

func TestCache_SatsToUSD(t *testing.T) {
	src := &stubSource{price: 50000}
	c := New(src, time.Minute)

	usd, err := c.SatsToUSD(context.Background(), 100_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usd != 50000 {
		t.Errorf("SatsToUSD(1 BTC) = %v, want 50000", usd)
	}

	usd, err = c.SatsToUSD(context.Background(), 50_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usd != 25 {
		t.Errorf("SatsToUSD(50000 sats) = %v, want 25", usd)
	}
}

func TestCache_ConcurrentAccessSingleFetch(t *testing.T) {
	src := &stubSource{price: 65000}
	c := New(src, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.USD(context.Background())
		}()
	}
	wg.Wait()

	if src.calls() != 1 {
		t.Errorf("expected exactly 1 fetch under concurrent access, got %d", src.calls())
	}
}
