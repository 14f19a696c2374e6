package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*RunConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.dagsched/config.json
// Project: .dagsched/config.json (relative to cwd)
func LoadDefault() (*RunConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".dagsched", "config.json")
	projectPath := filepath.Join(".dagsched", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and overlays non-zero fields
// onto base. Missing files are silently skipped. Malformed JSON returns an
// error. Unlike the per-key map merges a multi-agent config would need,
// RunConfig's fields are mostly scalar, so a full-struct overlay with a
// field-by-field zero check is sufficient. The retry block is the
// exception: it replaces base.Retry as a whole, and only when its
// initial_interval is set; a retry block without initial_interval is
// ignored.
func mergeConfigFile(base *RunConfig, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded RunConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.Workers != 0 {
		base.Workers = loaded.Workers
	}
	if len(loaded.DAG.LayerSizes) != 0 {
		base.DAG.LayerSizes = loaded.DAG.LayerSizes
	}
	if loaded.DAG.FanIn != 0 {
		base.DAG.FanIn = loaded.DAG.FanIn
	}
	if loaded.Retry.InitialInterval != "" {
		base.Retry = loaded.Retry
	}
	if len(loaded.CircuitBreakers) != 0 {
		base.CircuitBreakers = loaded.CircuitBreakers
	}
	if loaded.SimulatedLatency != "" {
		base.SimulatedLatency = loaded.SimulatedLatency
	}
	if loaded.FailureRate != 0 {
		base.FailureRate = loaded.FailureRate
	}

	return nil
}
