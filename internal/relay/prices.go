package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultPriceTTL = time.Minute

// PriceFeed fetches USD token quotes and caches them so UI polling does
// not hammer the upstream feed.
type PriceFeed struct {
	URL    string // simple-price endpoint, queried with ?ids=...&vs_currencies=usd
	Client *http.Client
	TTL    time.Duration

	mu        sync.Mutex
	cached    map[string]float64
	fetchedAt time.Time
}

// NewPriceFeed creates a feed against url with a one minute cache.
func NewPriceFeed(url string) *PriceFeed {
	return &PriceFeed{
		URL:    url,
		Client: &http.Client{Timeout: rpcTimeout},
		TTL:    defaultPriceTTL,
	}
}

// Prices returns USD quotes for the given token IDs. Results are cached
// for the feed's TTL; a cached answer is returned even if it covers more
// tokens than requested.
func (f *PriceFeed) Prices(ctx context.Context, tokens []string) (map[string]float64, error) {
	f.mu.Lock()
	if f.cached != nil && time.Since(f.fetchedAt) < f.ttl() && coversAll(f.cached, tokens) {
		out := copyPrices(f.cached)
		f.mu.Unlock()
		return out, nil
	}
	f.mu.Unlock()

	fresh, err := f.fetch(ctx, tokens)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.cached = fresh
	f.fetchedAt = time.Now()
	f.mu.Unlock()
	return copyPrices(fresh), nil
}

// Refresh forces a fetch for the given tokens, replacing the cache. Used
// by the maintenance job so interactive requests usually hit warm data.
func (f *PriceFeed) Refresh(ctx context.Context, tokens []string) error {
	fresh, err := f.fetch(ctx, tokens)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.cached = fresh
	f.fetchedAt = time.Now()
	f.mu.Unlock()
	return nil
}

func (f *PriceFeed) fetch(ctx context.Context, tokens []string) (map[string]float64, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(tokens, ","))
	q.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("relay: create price request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: price request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("relay: read price response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay: price status %d: %s", resp.StatusCode, string(body))
	}

	// {"ethereum": {"usd": 2410.5}, ...}
	var raw map[string]map[string]float64
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("relay: parse price response: %w", err)
	}

	out := make(map[string]float64, len(raw))
	for token, quotes := range raw {
		out[token] = quotes["usd"]
	}
	return out, nil
}

func (f *PriceFeed) ttl() time.Duration {
	if f.TTL > 0 {
		return f.TTL
	}
	return defaultPriceTTL
}

func coversAll(cache map[string]float64, tokens []string) bool {
	for _, t := range tokens {
		if _, ok := cache[t]; !ok {
			return false
		}
	}
	return true
}

func copyPrices(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
