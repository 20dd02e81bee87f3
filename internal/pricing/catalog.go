// Package pricing - catalog.go fetches the remote model price catalog.
//
// The catalog endpoint is public and unauthenticated and prices models per
// single token; conversion to per-million happens in the resolver.
package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tokenledger/token-ledger/internal/config"
)

// CatalogEntry is one model's per-token price as served by the catalog.
type CatalogEntry struct {
	PromptPerToken     float64 `json:"prompt"`
	CompletionPerToken float64 `json:"completion"`
}

// CatalogCache is the persisted catalog state.
type CatalogCache struct {
	Entries     map[string]CatalogEntry `json:"data"`
	LastFetched *time.Time              `json:"lastFetched"`
}

// Fetcher retrieves the full catalog.
type Fetcher struct {
	url    string
	client *http.Client
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// NewFetcher creates a catalog fetcher.
func NewFetcher(url string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		url:    url,
		client: &http.Client{Timeout: config.DefaultCatalogTimeout},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads and parses the catalog. The response shape is
// {"data":[{"id":..., "pricing":{"prompt":..., "completion":...}}]}; prices
// may arrive as JSON strings or numbers, gjson normalizes both.
func (f *Fetcher) Fetch(ctx context.Context) (map[string]CatalogEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	entries := make(map[string]CatalogEntry)
	gjson.GetBytes(body, "data").ForEach(func(_, model gjson.Result) bool {
		id := model.Get("id").String()
		if id == "" {
			return true
		}
		pricing := model.Get("pricing")
		if !pricing.Exists() {
			return true
		}
		entries[id] = CatalogEntry{
			PromptPerToken:     pricing.Get("prompt").Float(),
			CompletionPerToken: pricing.Get("completion").Float(),
		}
		return true
	})
	if len(entries) == 0 {
		return nil, fmt.Errorf("catalog: no models in response")
	}
	return entries, nil
}
