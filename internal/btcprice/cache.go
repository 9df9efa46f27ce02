// Package btcprice maintains a read-through cache of the BTC/USD spot price
// used to annotate catalog responses with a human-readable estimate. It is
// never consulted on the settlement path: all debits, credits and escrow
// transfers are denominated in satoshis.
package btcprice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/l402gate/server/internal/config"
	"github.com/l402gate/server/internal/cacheutil"
	"github.com/l402gate/server/internal/httputil"
)

// PriceSource fetches the current BTC/USD spot price.
type PriceSource interface {
	FetchUSD(ctx context.Context) (float64, error)
}

// Cache is a read-through BTC/USD price cache, grounded on
// cacheutil.ReadThrough's mutex + monotonic staleness check.
type Cache struct {
	mu     sync.RWMutex
	source PriceSource
	ttl    time.Duration

	value     float64
	fetchedAt time.Time
}

// New creates a price cache backed by source, refreshing at most once per ttl.
func New(source PriceSource, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{source: source, ttl: ttl}
}

// NewFromConfig wires the default HTTP-based price source from configuration.
func NewFromConfig(cfg config.BTCPriceConfig) *Cache {
	ttl := time.Duration(cfg.CacheSeconds) * time.Second
	return New(NewHTTPSource(cfg), ttl)
}

// USD returns the cached BTC/USD price, fetching a fresh value if the cache
// is empty or stale. Returns 0 and the fetch error if the source is
// unreachable and no cached value exists yet.
func (c *Cache) USD(ctx context.Context) (float64, error) {
	return cacheutil.ReadThrough(
		&c.mu,
		func(now time.Time) (float64, bool) {
			if c.fetchedAt.IsZero() {
				return 0, false
			}
			if now.Sub(c.fetchedAt) >= c.ttl {
				return 0, false
			}
			return c.value, true
		},
		func(now time.Time) (float64, error) {
			price, err := c.source.FetchUSD(ctx)
			if err != nil {
				// Serve a stale value rather than fail the catalog endpoint
				// outright when the upstream price source is down.
				if !c.fetchedAt.IsZero() {
					return c.value, nil
				}
				return 0, err
			}
			c.value = price
			c.fetchedAt = now
			return price, nil
		},
	)
}

// SatsToUSD converts a satoshi amount to an estimated USD value using the
// cached price. Purely informational; never used for settlement.
func (c *Cache) SatsToUSD(ctx context.Context, sats int64) (float64, error) {
	price, err := c.USD(ctx)
	if err != nil {
		return 0, err
	}
	btc := float64(sats) / 1e8
	return btc * price, nil
}

// HTTPSource fetches the BTC/USD price from a configurable HTTP endpoint
// (e.g. CoinGecko's simple price API) returning `{"bitcoin":{"usd":<price>}}`.
type HTTPSource struct {
	url        string
	httpClient *http.Client
}

// NewHTTPSource builds an HTTPSource from configuration.
func NewHTTPSource(cfg config.BTCPriceConfig) *HTTPSource {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	url := cfg.Source
	if url == "" {
		url = "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd"
	}
	return &HTTPSource{url: url, httpClient: httputil.NewClient(timeout)}
}

func (s *HTTPSource) FetchUSD(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build price request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("price source returned status %d", resp.StatusCode)
	}

	var payload struct {
		Bitcoin struct {
			USD float64 `json:"usd"`
		} `json:"bitcoin"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode price response: %w", err)
	}

	if payload.Bitcoin.USD <= 0 {
		return 0, fmt.Errorf("price source returned non-positive price")
	}

	return payload.Bitcoin.USD, nil
}
