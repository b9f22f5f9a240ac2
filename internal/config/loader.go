// Package config loads the daemon configuration from YAML, JSON, or TOML
// files, keyed on the file extension.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"predictd/internal/common/fsutil"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// Workers is the number of local inference workers.
	Workers int `json:"workers" yaml:"workers" toml:"workers"`
	// MaxConcurrent caps dispatched requests; 0 follows Workers.
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent"`
	// ResultDir persists terminal snapshots; empty keeps them in memory only.
	ResultDir string `json:"result_dir" yaml:"result_dir" toml:"result_dir"`
	// ResultTTLSeconds bounds how long results stay queryable.
	ResultTTLSeconds int `json:"result_ttl_seconds" yaml:"result_ttl_seconds" toml:"result_ttl_seconds"`
	// CleanupIntervalSeconds is the cadence of the background cleanup pass.
	CleanupIntervalSeconds int `json:"cleanup_interval_seconds" yaml:"cleanup_interval_seconds" toml:"cleanup_interval_seconds"`
	// RetentionSeconds is how long terminal requests stay in the queue table.
	RetentionSeconds int `json:"retention_seconds" yaml:"retention_seconds" toml:"retention_seconds"`
	// LoadTimeoutSeconds bounds the wait for a resource load per request.
	LoadTimeoutSeconds int `json:"load_timeout_seconds" yaml:"load_timeout_seconds" toml:"load_timeout_seconds"`

	Pool   PoolConfig   `json:"pool" yaml:"pool" toml:"pool"`
	Broker BrokerConfig `json:"broker" yaml:"broker" toml:"broker"`
}

// PoolConfig bounds the resource pool.
type PoolConfig struct {
	MaxCount    int    `json:"max_count" yaml:"max_count" toml:"max_count"`
	MaxMemoryMB int    `json:"max_memory_mb" yaml:"max_memory_mb" toml:"max_memory_mb"`
	HeadroomMB  int    `json:"headroom_mb" yaml:"headroom_mb" toml:"headroom_mb"`
	Strategy    string `json:"eviction_strategy" yaml:"eviction_strategy" toml:"eviction_strategy"`
}

// BrokerConfig points at the shared job broker. Empty Addr means the job
// manager runs on the in-process broker.
type BrokerConfig struct {
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	Password string `json:"password" yaml:"password" toml:"password"`
	DB       int    `json:"db" yaml:"db" toml:"db"`
	// JobTTLSeconds is the broker expiry for job documents.
	JobTTLSeconds int `json:"job_ttl_seconds" yaml:"job_ttl_seconds" toml:"job_ttl_seconds"`
	// PollIntervalSeconds is the idle sleep of the worker loop.
	PollIntervalSeconds int `json:"poll_interval_seconds" yaml:"poll_interval_seconds" toml:"poll_interval_seconds"`
	// AsyncEnabled lets workers claim async submissions.
	AsyncEnabled bool `json:"async_enabled" yaml:"async_enabled" toml:"async_enabled"`
	// AsyncDir holds async marker/result artifacts. Supports a leading '~'.
	AsyncDir string `json:"async_dir" yaml:"async_dir" toml:"async_dir"`
	// SweepAgeSeconds is the artifact retention window.
	SweepAgeSeconds int `json:"sweep_age_seconds" yaml:"sweep_age_seconds" toml:"sweep_age_seconds"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if cfg.ResultDir, err = fsutil.ExpandHome(cfg.ResultDir); err != nil {
		return cfg, err
	}
	if cfg.Broker.AsyncDir, err = fsutil.ExpandHome(cfg.Broker.AsyncDir); err != nil {
		return cfg, err
	}
	return cfg, nil
}
