package vector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Artifact file names inside the index directory.
const (
	IndexFile = "vectors.idx"
	MapFile   = "idmap.json"
	MetaFile  = "meta.json"
)

// IndexPath returns the vector index path under dir.
func IndexPath(dir string) string { return filepath.Join(dir, IndexFile) }

// MapPath returns the identifier map path under dir.
func MapPath(dir string) string { return filepath.Join(dir, MapFile) }

// MetaPath returns the metadata record path under dir.
func MetaPath(dir string) string { return filepath.Join(dir, MetaFile) }

// Meta describes the artifacts in an index directory: which model produced
// them, the vector dimension, and the count at the last successful write.
// Jobs rewrite it last, after the index and the identifier map, so a meta
// update signals a complete artifact set.
type Meta struct {
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
	Count     int       `json:"total_vectors"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Save writes the record to path atomically (temp file + rename).
func (m *Meta) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create meta dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename meta: %w", err)
	}
	return nil
}

// LoadMeta reads a record previously written by Save.
func LoadMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse meta: %w", err)
	}
	return &m, nil
}
