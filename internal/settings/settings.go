// Package settings persists the versioned settings blob.
//
// DESIGN: The host hands us one generic JSON settings document; the core
// only ever patches named top-level sections (usage, modelPrices,
// openRouterPrices, modelColors, miniview) and leaves everything else,
// including UI-owned sections, byte-for-byte intact. Patching goes through
// sjson so unrelated sections never get re-marshaled; every write bumps the
// blob version.
//
// FILES:
//   - settings.go: Blob - section get/set over a Backend
//   - sqlite.go:   SQLite-backed Backend
package settings

import (
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Top-level section keys of the settings blob.
const (
	SectionUsage        = "usage"
	SectionModelPrices  = "modelPrices"
	SectionCatalogCache = "openRouterPrices"
	SectionModelColors  = "modelColors"
	SectionMiniview     = "miniview"
)

// Backend stores the raw blob and its version.
type Backend interface {
	Load() (blob []byte, version int64, err error)
	Save(blob []byte, version int64) error
	Close() error
}

// Blob is the in-memory view of the settings document.
type Blob struct {
	mu      sync.Mutex
	backend Backend
	data    []byte
	version int64
}

// Open loads the blob from the backend. A missing document starts as an
// empty object at version zero.
func Open(backend Backend) (*Blob, error) {
	data, version, err := backend.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("load settings: stored blob is not valid JSON")
	}
	return &Blob{backend: backend, data: data, version: version}, nil
}

// Get reads a section (or any gjson path) from the blob.
func (b *Blob) Get(path string) gjson.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return gjson.GetBytes(b.data, path)
}

// Set patches one section with a Go value, bumps the version, and saves.
func (b *Blob) Set(path string, value any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	patched, err := sjson.SetBytes(b.data, path, value)
	if err != nil {
		return fmt.Errorf("patch settings %q: %w", path, err)
	}
	return b.commitLocked(patched)
}

// SetRaw patches one section with pre-marshaled JSON.
func (b *Blob) SetRaw(path string, raw []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	patched, err := sjson.SetRawBytes(b.data, path, raw)
	if err != nil {
		return fmt.Errorf("patch settings %q: %w", path, err)
	}
	return b.commitLocked(patched)
}

func (b *Blob) commitLocked(patched []byte) error {
	version := b.version + 1
	if err := b.backend.Save(patched, version); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	b.data = patched
	b.version = version
	return nil
}

// Bytes returns a copy of the full blob.
func (b *Blob) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Version returns the current blob version.
func (b *Blob) Version() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// Close releases the backend.
func (b *Blob) Close() error {
	return b.backend.Close()
}

// MemoryBackend is an in-process Backend for tests and --no-persist runs.
type MemoryBackend struct {
	mu      sync.Mutex
	blob    []byte
	version int64
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load implements Backend.
func (m *MemoryBackend) Load() ([]byte, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.blob))
	copy(out, m.blob)
	return out, m.version, nil
}

// Save implements Backend.
func (m *MemoryBackend) Save(blob []byte, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = make([]byte, len(blob))
	copy(m.blob, blob)
	m.version = version
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }
