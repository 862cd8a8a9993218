// Package config loads Cortex's root configuration from YAML, following
// the same load/default/validate shape as the teacher's aider.Config.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageConfig controls the SQLite-backed storage layer.
type StorageConfig struct {
	DataDir         string `yaml:"data_dir" json:"data_dir"`
	MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns"`
	BusyTimeoutMs   int    `yaml:"busy_timeout_ms" json:"busy_timeout_ms"`
	RetryMax        int    `yaml:"retry_max" json:"retry_max"`
}

// LockConfig controls the lock manager's background workers.
type LockConfig struct {
	ReaperIntervalMs    int `yaml:"reaper_interval_ms" json:"reaper_interval_ms"`
	DeadlockIntervalMs  int `yaml:"deadlock_interval_ms" json:"deadlock_interval_ms"`
	DefaultTimeoutSec   int `yaml:"default_timeout_sec" json:"default_timeout_sec"`
	ReadFairnessN       int `yaml:"read_fairness_n" json:"read_fairness_n"`
}

// SessionConfig controls the session service's TTL reaper.
type SessionConfig struct {
	ReaperIntervalMs int `yaml:"reaper_interval_ms" json:"reaper_interval_ms"`
	DefaultTTLSec    int `yaml:"default_ttl_sec" json:"default_ttl_sec"`
}

// AttentionConfig controls the predictive cache and predictor.
type AttentionConfig struct {
	CacheCapacity      int `yaml:"cache_capacity" json:"cache_capacity"`
	PredictionHorizon  int `yaml:"prediction_horizon" json:"prediction_horizon"`
	RetrainEveryN      int `yaml:"retrain_every_n" json:"retrain_every_n"`
	HistorySize        int `yaml:"history_size" json:"history_size"`
	TokensPerSymbol    int `yaml:"tokens_per_symbol" json:"tokens_per_symbol"`
}

// ServerConfig holds the dashboard HTTP + embedded NATS ports, following
// ServerConfig in the teacher's aider package.
type ServerConfig struct {
	Port     int `yaml:"port" json:"port"`
	NATSPort int `yaml:"nats_port" json:"nats_port"`
}

// Config is the root configuration for the Cortex daemon.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Lock      LockConfig      `yaml:"lock" json:"lock"`
	Session   SessionConfig   `yaml:"session" json:"session"`
	Attention AttentionConfig `yaml:"attention" json:"attention"`
}

// Default returns sensible Cortex defaults, mirroring
// aider.DefaultConfig's approach of a fully populated zero-config start.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     7420,
			NATSPort: 7421,
		},
		Storage: StorageConfig{
			DataDir:       "data",
			MaxOpenConns:  1,
			BusyTimeoutMs: 5000,
			RetryMax:      3,
		},
		Lock: LockConfig{
			ReaperIntervalMs:   1000,
			DeadlockIntervalMs: 100,
			DefaultTimeoutSec:  300,
			ReadFairnessN:      5,
		},
		Session: SessionConfig{
			ReaperIntervalMs: 1000,
			DefaultTTLSec:    3600,
		},
		Attention: AttentionConfig{
			CacheCapacity:     1000,
			PredictionHorizon: 10,
			RetrainEveryN:     10,
			HistorySize:       1000,
			TokensPerSymbol:   100,
		},
	}
}

// Load reads and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.NATSPort <= 0 || c.Server.NATSPort > 65535 {
		return fmt.Errorf("invalid nats port: %d", c.Server.NATSPort)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir is required")
	}
	if c.Lock.ReadFairnessN <= 0 {
		return fmt.Errorf("lock read_fairness_n must be positive")
	}
	if c.Attention.CacheCapacity <= 0 {
		return fmt.Errorf("attention cache_capacity must be positive")
	}
	return nil
}

func (c *StorageConfig) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMs) * time.Millisecond
}

func (c *LockConfig) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalMs) * time.Millisecond
}

func (c *LockConfig) DeadlockInterval() time.Duration {
	return time.Duration(c.DeadlockIntervalMs) * time.Millisecond
}

func (c *SessionConfig) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalMs) * time.Millisecond
}
