package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage StorageConfig `yaml:"storage"`
}

type StorageConfig struct {
	Path              string `yaml:"path"`
	SnapshotThreshold int    `yaml:"snapshot_threshold"` // applied mutations between snapshots
	WALSyncMode       string `yaml:"wal_sync_mode"`      // always | batch | never
	LeafCapacity      int    `yaml:"leaf_capacity"`      // max entries per leaf node
	BranchCapacity    int    `yaml:"branch_capacity"`    // max separator keys per internal node
	BlockSize         int    `yaml:"block_size"`         // upper bound for a single key/value pair
}

func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			Path:              "wundra_data",
			SnapshotThreshold: 1000,
			WALSyncMode:       "always",
			LeafCapacity:      64,
			BranchCapacity:    64,
			BlockSize:         4096,
		},
	}

	if configPath == "" {
		for _, p := range []string{"configs/wundra.yaml", "wundra.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, err
				}
				applyStorageDefaults(cfg)
				return cfg, nil
			}
		}
		applyStorageDefaults(cfg)
		return cfg, nil // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}

	applyStorageDefaults(cfg)
	return cfg, nil
}

func applyStorageDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "wundra_data"
	}
	if cfg.Storage.SnapshotThreshold <= 0 {
		cfg.Storage.SnapshotThreshold = 1000
	}
	if cfg.Storage.WALSyncMode == "" {
		cfg.Storage.WALSyncMode = "always"
	}
	if cfg.Storage.LeafCapacity < 2 {
		cfg.Storage.LeafCapacity = 64
	}
	if cfg.Storage.BranchCapacity < 2 {
		cfg.Storage.BranchCapacity = 64
	}
	if cfg.Storage.BlockSize <= 0 {
		cfg.Storage.BlockSize = 4096
	}
}
