// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// TokenEstimateRatio is the approximate number of characters per token.
// Used as a fallback when the tokenizer fails or no encoding is available.
const TokenEstimateRatio = 3.35

// =============================================================================
// PRICE CATALOG
// =============================================================================

// DefaultCatalogURL is the public model price catalog endpoint.
const DefaultCatalogURL = "https://openrouter.ai/api/v1/models"

// DefaultCatalogProvider is the source id the catalog belongs to.
// The catalog is only refreshed while this provider is the active source.
const DefaultCatalogProvider = "openrouter"

// DefaultCatalogMaxAge is how long a fetched catalog stays fresh.
const DefaultCatalogMaxAge = 24 * time.Hour

// DefaultCatalogTimeout bounds a single catalog fetch.
const DefaultCatalogTimeout = 15 * time.Second

// =============================================================================
// CLOCK
// =============================================================================

// DefaultResyncInterval is how often the corrected clock re-checks the
// external reference.
const DefaultResyncInterval = 10 * time.Minute

// DefaultClockTimeout bounds a single reference-clock probe.
const DefaultClockTimeout = 5 * time.Second

// =============================================================================
// FINALIZATION
// =============================================================================

// DefaultCountWait bounds how long finalization waits for an in-flight
// token-count task before falling back to zero.
const DefaultCountWait = 10 * time.Second

// =============================================================================
// HOST BRIDGE
// =============================================================================

// DefaultHostURL is the chat host's websocket event stream.
const DefaultHostURL = "ws://127.0.0.1:8000/api/events"

// DefaultHostAPIURL is the chat host's HTTP API base, used for the chat
// state accessors (messages, streaming buffer, active model/source).
const DefaultHostAPIURL = "http://127.0.0.1:8000"

// DefaultReconnectBackoff is the initial delay between reconnect attempts.
const DefaultReconnectBackoff = 2 * time.Second

// MaxReconnectBackoff caps the reconnect delay.
const MaxReconnectBackoff = time.Minute

// =============================================================================
// STATS ENDPOINT
// =============================================================================

// DefaultStatsAddr is the loopback-only stats listen address.
const DefaultStatsAddr = "127.0.0.1:7209"

// =============================================================================
// EXPORT FORMAT
// =============================================================================

// ExportVersion is the export file format version.
const ExportVersion = "1.0"

// ExtensionName is the identity tag embedded in exports. Imports with a
// different tag are rejected.
const ExtensionName = "token-ledger"
