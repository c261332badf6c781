// Package config provides configuration loading and structs for the afin server and jobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Index   IndexConfig   `yaml:"index"`
	Encoder EncoderConfig `yaml:"encoder"`
	Search  SearchConfig  `yaml:"search"`
	Topics  TopicsConfig  `yaml:"topics"`
	Indexer IndexerConfig `yaml:"indexer"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the backing metadata store location.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// IndexConfig holds the index artifact directory and reload watching.
type IndexConfig struct {
	// Dir contains vectors.idx, idmap.json, and meta.json.
	Dir string `yaml:"dir"`
	// Model overrides the active model identifier; when empty the manager
	// takes it from meta.json at cold start.
	Model string `yaml:"model"`
	// Watch enables hot reload when an offline job rewrites the artifacts.
	Watch           *bool `yaml:"watch"`
	WatchDebounceMS int   `yaml:"watch_debounce_ms"`
}

// WatchOrDefault returns whether to watch the artifact directory; defaults to true when unset.
func (ic *IndexConfig) WatchOrDefault() bool {
	if ic.Watch != nil {
		return *ic.Watch
	}
	return true
}

// EncoderConfig holds embedding encoder settings. Kind selects the
// implementation: "remote" (HTTP encoder service), "onnx" (in-process,
// cgo builds only), or "mock" (deterministic, for tests and dry runs).
type EncoderConfig struct {
	Kind           string `yaml:"kind"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// RateLimit caps requests per second against the encoder service.
	RateLimit float64 `yaml:"rate_limit"`
	CacheSize int     `yaml:"cache_size"`
	// ModelPath and MaxTokens apply to the onnx encoder only.
	ModelPath string `yaml:"model_path"`
	MaxTokens int    `yaml:"max_tokens"`
}

// SearchConfig holds recommendation settings.
type SearchConfig struct {
	DefaultK int `yaml:"default_k"`
	MaxK     int `yaml:"max_k"`
}

// TopicsConfig holds density clustering and labeling settings.
type TopicsConfig struct {
	MinClusterSize int     `yaml:"min_cluster_size"`
	MinSamples     int     `yaml:"min_samples"`
	Epsilon        float64 `yaml:"epsilon"`
	LabelTerms     int     `yaml:"label_terms"`
}

// IndexerConfig holds incremental indexing settings.
type IndexerConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// Load reads and parses the config file at path, applies defaults and
// environment overrides, and expands relative paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	applyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Index.Dir = expandPath(cfg.Index.Dir, configDir)
	if cfg.Encoder.ModelPath != "" {
		cfg.Encoder.ModelPath = expandPath(cfg.Encoder.ModelPath, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnv layers environment overrides on top of the file values. A .env
// file, when present, is loaded by the CLI entry points before this runs.
func applyEnv(cfg *Config) {
	if v := os.Getenv("AFIN_ENCODER_URL"); v != "" {
		cfg.Encoder.BaseURL = v
	}
	if v := os.Getenv("AFIN_DB_PATH"); v != "" {
		cfg.Storage.DatabasePath = v
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
