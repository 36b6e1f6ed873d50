package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/PailletJuanPablo/hyperiondb/pkg/index"
	"github.com/PailletJuanPablo/hyperiondb/pkg/storage"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	System  SystemConfig  `yaml:"system"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`         // TCP listen address (e.g. :8080)
	HTTPAddr    string `yaml:"http_addr"`    // stats/metrics HTTP address
	IdleTimeout int    `yaml:"idle_timeout"` // seconds a connection may sit between commands
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	Backend string `yaml:"backend"` // sqlite | snapshot
}

type SystemConfig struct {
	NumShards     int            `yaml:"num_shards"`
	IndexedFields []IndexedField `yaml:"indexed_fields"`
}

// IndexedField names one document field to maintain a secondary index for.
// The same list must be supplied on every start against a data directory.
type IndexedField struct {
	Field string `yaml:"field"`
	Type  string `yaml:"type"` // String | Numeric
}

func (f IndexedField) Kind() index.Kind {
	return index.Kind(f.Type)
}

func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			HTTPAddr:    ":8081",
			IdleTimeout: 300,
		},
		Storage: StorageConfig{
			DataDir: "hyperiondb_data",
			Backend: storage.KindSQLite,
		},
		System: SystemConfig{
			NumShards: 8,
		},
	}

	if configPath == "" {
		for _, p := range []string{"configs/hyperiondb.yaml", "hyperiondb.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, err
				}
				applyDefaults(cfg)
				return cfg, cfg.Validate()
			}
		}
		applyDefaults(cfg)
		return cfg, cfg.Validate() // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}

	applyDefaults(cfg)
	return cfg, cfg.Validate()
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":8081"
	}
	if cfg.Server.IdleTimeout <= 0 {
		cfg.Server.IdleTimeout = 300
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "hyperiondb_data"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = storage.KindSQLite
	}
	if cfg.System.NumShards <= 0 {
		cfg.System.NumShards = 8
	}
}

// Validate rejects configuration shapes the engine cannot start with.
// These are the only faults that are fatal to the process.
func (cfg *Config) Validate() error {
	if cfg.System.NumShards <= 0 {
		return fmt.Errorf("config: num_shards must be positive, got %d", cfg.System.NumShards)
	}
	if cfg.Storage.Backend != storage.KindSQLite && cfg.Storage.Backend != storage.KindSnapshot {
		return fmt.Errorf("config: unknown storage backend %q", cfg.Storage.Backend)
	}
	seen := make(map[string]bool)
	for _, f := range cfg.System.IndexedFields {
		if f.Field == "" {
			return fmt.Errorf("config: indexed field with empty name")
		}
		if seen[f.Field] {
			return fmt.Errorf("config: duplicate indexed field %q", f.Field)
		}
		seen[f.Field] = true
		if k := f.Kind(); k != index.KindString && k != index.KindNumeric {
			return fmt.Errorf("config: invalid index type %q for field %q (want String or Numeric)", f.Type, f.Field)
		}
	}
	return nil
}
