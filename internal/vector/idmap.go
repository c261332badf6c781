package vector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// IdentifierMap resolves index ordinals to stable document identifiers.
// Position i holds the identifier of the vector at ordinal i; the two
// artifacts grow in lockstep. The persisted form is a single JSON array;
// the inverse lookup is derived in memory and never written out.
type IdentifierMap struct {
	ids     []string
	inverse map[string]int
	mu      sync.RWMutex
}

// NewIdentifierMap creates an empty map.
func NewIdentifierMap() *IdentifierMap {
	return &IdentifierMap{
		ids:     make([]string, 0),
		inverse: make(map[string]int),
	}
}

// Append adds identifiers in ordinal order.
func (m *IdentifierMap) Append(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.inverse[id] = len(m.ids)
		m.ids = append(m.ids, id)
	}
}

// Resolve returns the identifier stored at ordinal.
func (m *IdentifierMap) Resolve(ordinal int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ordinal < 0 || ordinal >= len(m.ids) {
		return "", fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, ordinal, len(m.ids))
	}
	return m.ids[ordinal], nil
}

// ResolveAll returns a copy of all identifiers in ordinal order.
func (m *IdentifierMap) ResolveAll() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.ids))
	copy(out, m.ids)
	return out
}

// Has reports whether id is already indexed. The indexing job uses this to
// diff the corpus against the index.
func (m *IdentifierMap) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.inverse[id]
	return ok
}

// Count returns the number of identifiers.
func (m *IdentifierMap) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Save writes the identifier array to path atomically (temp file + rename).
func (m *IdentifierMap) Save(path string) error {
	m.mu.RLock()
	data, err := json.Marshal(m.ids)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal identifier map: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create map dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write identifier map: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename identifier map: %w", err)
	}
	return nil
}

// LoadIdentifierMap reads a map previously written by Save and rebuilds the
// inverse lookup.
func LoadIdentifierMap(path string) (*IdentifierMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identifier map: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("parse identifier map: %w", err)
	}
	m := NewIdentifierMap()
	m.Append(ids)
	return m, nil
}
