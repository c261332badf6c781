package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if cfg.Encoder.Kind != "remote" {
		t.Errorf("encoder kind should default to remote, got %s", cfg.Encoder.Kind)
	}
}

func TestLoad_debugTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "./data/afin.db"
index:
  dir: "./data/index"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "afin.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	wantIdx := filepath.Join(dir, "data", "index")
	if cfg.Index.Dir != wantIdx {
		t.Errorf("index dir = %s, want %s", cfg.Index.Dir, wantIdx)
	}
}

func TestLoad_envOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
encoder:
  base_url: "http://file-value:1234"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AFIN_ENCODER_URL", "http://env-value:5678")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Encoder.BaseURL != "http://env-value:5678" {
		t.Errorf("encoder base_url = %s, want env override", cfg.Encoder.BaseURL)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Search.DefaultK != 10 || cfg.Search.MaxK != 100 {
		t.Errorf("search defaults: got %+v", cfg.Search)
	}
	if cfg.Encoder.Dimensions != 384 {
		t.Errorf("default dimensions: got %d", cfg.Encoder.Dimensions)
	}
	if cfg.Topics.MinClusterSize != 5 || cfg.Topics.MinSamples != 3 {
		t.Errorf("topics defaults: got %+v", cfg.Topics)
	}
	if cfg.Topics.Epsilon != 0.25 {
		t.Errorf("default epsilon: got %f", cfg.Topics.Epsilon)
	}
	if cfg.Topics.LabelTerms != 3 {
		t.Errorf("default label_terms: got %d", cfg.Topics.LabelTerms)
	}
	if cfg.Indexer.BatchSize != 64 {
		t.Errorf("default batch_size: got %d", cfg.Indexer.BatchSize)
	}
	if cfg.Index.WatchDebounceMS != 2000 {
		t.Errorf("default watch_debounce_ms: got %d", cfg.Index.WatchDebounceMS)
	}
}

func TestIndexConfig_WatchOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		ic := &IndexConfig{}
		if got := ic.WatchOrDefault(); !got {
			t.Errorf("WatchOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		ic := &IndexConfig{Watch: &f}
		if got := ic.WatchOrDefault(); got {
			t.Errorf("WatchOrDefault() = %v, want false", got)
		}
	})
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
}
