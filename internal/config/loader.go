package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a scanmux configuration from the given YAML file path.
// After parsing, it applies defaults for any values left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the first
// one found. Search order: ./scanmux.yaml, ~/.scanmux/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"scanmux.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".scanmux", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no scanmux config found (searched: %v)", candidates)
}

// Default returns a config with every default applied and no services or
// tools declared. Used by tests and by commands that run without a file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in zero-valued fields.
func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DataDir = filepath.Join(home, ".scanmux", "data")
		}
	}
	if cfg.DBPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DBPath = filepath.Join(home, ".scanmux", "scanmux.db")
		}
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Workers.MaxConcurrent == 0 {
		cfg.Workers.MaxConcurrent = 8
	}
	if cfg.Workers.PerRunLimit == 0 {
		cfg.Workers.PerRunLimit = 4
	}
	if cfg.Workers.PollInterval == "" {
		cfg.Workers.PollInterval = "2s"
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.BaseDelay == "" {
		cfg.Retry.BaseDelay = "500ms"
	}
	if cfg.Retry.MaxDelay == "" {
		cfg.Retry.MaxDelay = "10s"
	}
	if cfg.Retry.ExponentialBase == 0 {
		cfg.Retry.ExponentialBase = 2
	}
	if cfg.Pool.RequestTimeout == "" {
		cfg.Pool.RequestTimeout = "30s"
	}
	if cfg.Pool.HealthCheckInterval == "" {
		cfg.Pool.HealthCheckInterval = "30s"
	}
}

// ParseDuration parses a duration string, falling back to def when the value
// is empty or malformed.
func ParseDuration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
