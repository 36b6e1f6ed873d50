package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	_, err := Load("/nonexistent/path/hyperiondb.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
	// Load with empty path uses default search (may use defaults if no config
	// file); the defaults must come back validated.
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with defaults: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr: got %s", cfg.Server.Addr)
	}
	if cfg.Server.HTTPAddr != ":8081" {
		t.Errorf("default http_addr: got %s", cfg.Server.HTTPAddr)
	}
	if cfg.System.NumShards != 8 {
		t.Errorf("default num_shards: got %d", cfg.System.NumShards)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("default backend: got %s", cfg.Storage.Backend)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	content := `
server:
  addr: ":9000"
  http_addr: ":9001"
  idle_timeout: 60
storage:
  data_dir: "test_data"
  backend: "snapshot"
system:
  num_shards: 4
  indexed_fields:
    - field: city
      type: String
    - field: age
      type: Numeric
    - field: specs.ram
      type: Numeric
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr: got %s", cfg.Server.Addr)
	}
	if cfg.Server.IdleTimeout != 60 {
		t.Errorf("idle_timeout: got %d", cfg.Server.IdleTimeout)
	}
	if cfg.System.NumShards != 4 {
		t.Errorf("num_shards: got %d", cfg.System.NumShards)
	}
	if cfg.Storage.Backend != "snapshot" {
		t.Errorf("backend: got %s", cfg.Storage.Backend)
	}
	if len(cfg.System.IndexedFields) != 3 {
		t.Fatalf("indexed_fields: got %d", len(cfg.System.IndexedFields))
	}
	if cfg.System.IndexedFields[2].Field != "specs.ram" {
		t.Errorf("dotted indexed field: got %s", cfg.System.IndexedFields[2].Field)
	}
}

func TestValidateRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"zero shards", func(c *Config) { c.System.NumShards = 0 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "tape" }},
		{"bad index type", func(c *Config) {
			c.System.IndexedFields = []IndexedField{{Field: "age", Type: "Integer"}}
		}},
		{"empty field name", func(c *Config) {
			c.System.IndexedFields = []IndexedField{{Field: "", Type: "String"}}
		}},
		{"duplicate field", func(c *Config) {
			c.System.IndexedFields = []IndexedField{
				{Field: "age", Type: "Numeric"},
				{Field: "age", Type: "String"},
			}
		}},
	}
	for _, tt := range tests {
		cfg, _ := Load("")
		tt.mut(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}
