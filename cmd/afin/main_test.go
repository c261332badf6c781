package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/altiplano/afin/internal/cli"
	"github.com/altiplano/afin/internal/config"
	"github.com/altiplano/afin/internal/embedding"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"glacier mass balance", "-k", "5"},
			expected: []string{"-k", "5", "glacier mass balance"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-k", "5", "glacier mass balance"},
			expected: []string{"-k", "5", "glacier mass balance"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"glacier mass balance"},
			expected: []string{"glacier mass balance"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "-same-topic"},
			expected: []string{"-same-topic", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"glacier"}, "glacier"},
		{"multiple words", []string{"glacier", "retreat"}, "glacier retreat"},
		{"single quoted phrase", []string{"glacier retreat"}, "glacier retreat"},
		{"three words", []string{"andes", "water", "security"}, "andes water security"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
		{"one space", []string{" "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    cli.OutputFormat
		wantErr bool
	}{
		{"text", cli.OutputText, false},
		{"json", cli.OutputJSON, false},
		{"", cli.OutputText, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := parseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseOutputFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseOutputFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildEncoder(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	cfg.Encoder.Kind = "mock"
	enc, err := buildEncoder(cfg)
	if err != nil {
		t.Fatalf("buildEncoder(mock): %v", err)
	}
	if _, ok := enc.(*embedding.MockEncoder); !ok {
		t.Errorf("buildEncoder(mock) = %T, want *embedding.MockEncoder", enc)
	}

	cfg.Encoder.Kind = "remote"
	enc, err = buildEncoder(cfg)
	if err != nil {
		t.Fatalf("buildEncoder(remote): %v", err)
	}
	if _, ok := enc.(*embedding.RemoteEncoder); !ok {
		t.Errorf("buildEncoder(remote) = %T, want *embedding.RemoteEncoder", enc)
	}

	cfg.Encoder.Kind = "carrier-pigeon"
	if _, err := buildEncoder(cfg); err == nil {
		t.Error("buildEncoder with unknown kind should fail")
	}
}

func TestActiveModel(t *testing.T) {
	cfg := &config.Config{}
	encoder := embedding.NewMockEncoder(8)

	if got := activeModel(cfg, encoder); got != "mock" {
		t.Errorf("activeModel with empty override = %q, want %q", got, "mock")
	}

	cfg.Index.Model = "all-minilm-l6-v2"
	if got := activeModel(cfg, encoder); got != "all-minilm-l6-v2" {
		t.Errorf("activeModel with override = %q, want %q", got, "all-minilm-l6-v2")
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "./afin.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while configPath from t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s (canon %s), want %s (canon %s)", resolved, resolvedCanon, configPath, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./afin.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}
