// Package pricing resolves model prices and computes exchange costs.
//
// DESIGN: Price resolution is a strict priority chain: user-configured
// overrides are authoritative and never overwritten automatically; behind
// them sits the cached remote catalog (per-token, converted x1e6 to
// per-million); behind that, zero. The catalog refresh only runs while the
// active source is the catalog's own provider and replaces the cache
// wholesale, never partially.
//
// FILES:
//   - resolver.go: Resolver - priority chain, cost math, refresh gating
//   - catalog.go:  Fetcher - remote catalog download and parsing
package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// perMillion converts a per-token price into a per-million-token price.
const perMillion = 1_000_000

// Price is a per-million-token price pair.
type Price struct {
	InputPerMTok  float64 `json:"in"`
	OutputPerMTok float64 `json:"out"`
}

// IsZero reports whether both prices are zero.
func (p Price) IsZero() bool {
	return p.InputPerMTok == 0 && p.OutputPerMTok == 0
}

// Clock supplies the current time for freshness checks.
type Clock interface {
	Now() time.Time
}

// Health describes the catalog refresh state for the stats endpoint.
type Health struct {
	LastFetched *time.Time `json:"lastFetched"`
	LastError   string     `json:"lastError,omitempty"`
}

// Resolver resolves {modelID} -> per-million prices.
type Resolver struct {
	mu        sync.RWMutex
	overrides map[string]Price
	cache     CatalogCache
	lastError string

	provider string
	maxAge   time.Duration
	fetcher  *Fetcher
	clock    Clock
}

// NewResolver creates a Resolver. fetcher may be nil to disable refresh.
func NewResolver(provider string, maxAge time.Duration, fetcher *Fetcher, clk Clock) *Resolver {
	return &Resolver{
		overrides: make(map[string]Price),
		provider:  provider,
		maxAge:    maxAge,
		fetcher:   fetcher,
		clock:     clk,
	}
}

// GetPrice resolves a model's price: user override, then catalog, then zero.
func (r *Resolver) GetPrice(modelID string) Price {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.overrides[modelID]; ok {
		return p
	}
	if e, ok := r.cache.Entries[modelID]; ok {
		return Price{
			InputPerMTok:  e.PromptPerToken * perMillion,
			OutputPerMTok: e.CompletionPerToken * perMillion,
		}
	}
	return Price{}
}

// CalculateCost computes the USD cost for an exchange. A fully zero price
// short-circuits to exactly 0 to avoid floating rounding noise.
func (r *Resolver) CalculateCost(inputTokens, outputTokens int64, modelID string) float64 {
	p := r.GetPrice(modelID)
	if p.IsZero() {
		return 0
	}
	return float64(inputTokens)/perMillion*p.InputPerMTok +
		float64(outputTokens)/perMillion*p.OutputPerMTok
}

// SetOverride sets a user-configured price for a model.
func (r *Resolver) SetOverride(modelID string, p Price) {
	r.mu.Lock()
	r.overrides[modelID] = p
	r.mu.Unlock()
}

// RemoveOverride deletes a user-configured price.
func (r *Resolver) RemoveOverride(modelID string) {
	r.mu.Lock()
	delete(r.overrides, modelID)
	r.mu.Unlock()
}

// Overrides returns a copy of the user-configured price map.
func (r *Resolver) Overrides() map[string]Price {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Price, len(r.overrides))
	for k, v := range r.overrides {
		out[k] = v
	}
	return out
}

// MergeOverrides applies incoming prices by overwrite, last writer wins per
// key. Used by restore and import.
func (r *Resolver) MergeOverrides(prices map[string]Price) {
	r.mu.Lock()
	for k, v := range prices {
		r.overrides[k] = v
	}
	r.mu.Unlock()
}

// Cache returns a copy of the catalog cache for persistence.
func (r *Resolver) Cache() CatalogCache {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := CatalogCache{LastFetched: r.cache.LastFetched}
	if r.cache.Entries != nil {
		out.Entries = make(map[string]CatalogEntry, len(r.cache.Entries))
		for k, v := range r.cache.Entries {
			out.Entries[k] = v
		}
	}
	return out
}

// RestoreCache installs a previously persisted catalog cache.
func (r *Resolver) RestoreCache(c CatalogCache) {
	r.mu.Lock()
	r.cache = c
	r.mu.Unlock()
}

// Health reports the catalog refresh status.
func (r *Resolver) Health() Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Health{LastFetched: r.cache.LastFetched, LastError: r.lastError}
}

// MaybeRefreshCatalog refreshes the catalog cache if the active source is
// the catalog's provider and the cache is stale. Fetch failures leave the
// existing cache untouched and are recorded in Health, never returned.
func (r *Resolver) MaybeRefreshCatalog(ctx context.Context, activeSource string) {
	if r.fetcher == nil || activeSource != r.provider {
		return
	}

	r.mu.RLock()
	last := r.cache.LastFetched
	r.mu.RUnlock()
	now := r.clock.Now()
	if last != nil && now.Sub(*last) < r.maxAge {
		return
	}

	entries, err := r.fetcher.Fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("pricing: catalog refresh failed, keeping stale cache")
		r.mu.Lock()
		r.lastError = err.Error()
		r.mu.Unlock()
		return
	}

	fetched := r.clock.Now()
	r.mu.Lock()
	r.cache = CatalogCache{Entries: entries, LastFetched: &fetched}
	r.lastError = ""
	r.mu.Unlock()
	log.Info().Int("models", len(entries)).Msg("pricing: catalog refreshed")
}
