// Package transfer serializes the ledger for export and merges external
// snapshots back in.
//
// DESIGN: Import is validate-then-apply: the whole payload is parsed and
// checked (JSON shape, format version, extension identity) before a single
// aggregate is touched, so a malformed file can never leave the store half
// mutated. Bucket maps merge additively by default - re-importing the same
// export doubles counts, which is the documented trade-off - with an
// explicit replace strategy for restores. Price and color maps merge by
// overwrite. Session data is never imported; sessions are ephemeral.
package transfer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/tokenledger/token-ledger/internal/config"
	"github.com/tokenledger/token-ledger/internal/pricing"
	"github.com/tokenledger/token-ledger/internal/settings"
	"github.com/tokenledger/token-ledger/internal/usage"
	"github.com/tokenledger/token-ledger/internal/utils"
)

// MergeStrategy selects how imported bucket keys combine with existing ones.
type MergeStrategy int

const (
	// MergeAdd adds incoming buckets into existing keys (the default).
	MergeAdd MergeStrategy = iota
	// MergeReplace replaces existing keys wholesale. Use for restores.
	MergeReplace
)

// Envelope is the export file format.
type Envelope struct {
	Version       string                   `json:"version"`
	ExportDate    time.Time                `json:"exportDate"`
	ExtensionName string                   `json:"extensionName"`
	Usage         usage.State              `json:"usage"`
	ModelPrices   map[string]pricing.Price `json:"modelPrices"`
	ModelColors   map[string]string        `json:"modelColors"`
}

// Merger exports and imports ledger snapshots.
type Merger struct {
	store  *usage.Store
	prices *pricing.Resolver
	blob   *settings.Blob
	clock  usage.Clock
}

// NewMerger creates a Merger. blob may be nil when color persistence is not
// wired.
func NewMerger(store *usage.Store, prices *pricing.Resolver, blob *settings.Blob, clk usage.Clock) *Merger {
	return &Merger{store: store, prices: prices, blob: blob, clock: clk}
}

// Export produces the versioned export file.
func (m *Merger) Export() ([]byte, error) {
	env := Envelope{
		Version:       config.ExportVersion,
		ExportDate:    m.clock.Now().UTC(),
		ExtensionName: config.ExtensionName,
		Usage:         m.store.State(),
		ModelPrices:   m.prices.Overrides(),
		ModelColors:   m.colors(),
	}
	out, err := utils.MarshalNoEscape(env)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return out, nil
}

// Import validates payload and merges it into the ledger. Bucket maps follow
// the given strategy; prices and colors are overwritten per key; session
// data is skipped.
func (m *Merger) Import(payload []byte, strategy MergeStrategy) error {
	if !gjson.ValidBytes(payload) {
		return fmt.Errorf("import: payload is not valid JSON")
	}
	version := gjson.GetBytes(payload, "version").String()
	if version != config.ExportVersion {
		return fmt.Errorf("import: unsupported export version %q (want %q)", version, config.ExportVersion)
	}
	identity := gjson.GetBytes(payload, "extensionName").String()
	if identity != config.ExtensionName {
		return fmt.Errorf("import: file belongs to %q, not %q", identity, config.ExtensionName)
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("import: decode payload: %w", err)
	}

	// Validation done; apply.
	m.store.Merge(env.Usage, strategy == MergeAdd)
	if len(env.ModelPrices) > 0 {
		m.prices.MergeOverrides(env.ModelPrices)
		if m.blob != nil {
			if err := m.blob.Set(settings.SectionModelPrices, m.prices.Overrides()); err != nil {
				log.Error().Err(err).Msg("transfer: persist prices failed")
			}
		}
	}
	if len(env.ModelColors) > 0 {
		m.mergeColors(env.ModelColors)
	}
	log.Info().Str("exported", env.ExportDate.Format(time.RFC3339)).
		Int("prices", len(env.ModelPrices)).Msg("transfer: import merged")
	return nil
}

func (m *Merger) colors() map[string]string {
	colors := make(map[string]string)
	if m.blob == nil {
		return colors
	}
	m.blob.Get(settings.SectionModelColors).ForEach(func(key, value gjson.Result) bool {
		colors[key.String()] = value.String()
		return true
	})
	return colors
}

func (m *Merger) mergeColors(incoming map[string]string) {
	if m.blob == nil {
		return
	}
	merged := m.colors()
	for k, v := range incoming {
		merged[k] = v
	}
	if err := m.blob.Set(settings.SectionModelColors, merged); err != nil {
		log.Error().Err(err).Msg("transfer: persist colors failed")
	}
}
