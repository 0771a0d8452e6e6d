// Package config loads the layered JSON configuration: defaults, then the
// global file under the user's home directory, then the project file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
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
// Global: ~/.agenthive/config.json
// Project: .agenthive/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".agenthive", "config.json")
	projectPath := filepath.Join(".agenthive", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base
// config. Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	mergeScheduler(&base.Scheduler, loaded.Scheduler)
	if loaded.Storage.TrackerPath != "" {
		base.Storage.TrackerPath = loaded.Storage.TrackerPath
	}
	if loaded.Storage.MemoryPath != "" {
		base.Storage.MemoryPath = loaded.Storage.MemoryPath
	}
	for key, provider := range loaded.Providers {
		base.Providers[key] = provider
	}
	for key, agent := range loaded.Agents {
		base.Agents[key] = agent
	}

	return nil
}

// mergeScheduler overlays the non-zero knobs of src onto dst. Zero values
// in a loaded file mean "keep the lower-precedence setting".
func mergeScheduler(dst *SchedulerConfig, src SchedulerConfig) {
	if src.MaxConcurrentAgents > 0 {
		dst.MaxConcurrentAgents = src.MaxConcurrentAgents
	}
	if src.DefaultTimeoutSeconds > 0 {
		dst.DefaultTimeoutSeconds = src.DefaultTimeoutSeconds
	}
	if src.MaxAttempts > 0 {
		dst.MaxAttempts = src.MaxAttempts
	}
	if src.RetryInitialMillis > 0 {
		dst.RetryInitialMillis = src.RetryInitialMillis
	}
	if src.RetryMaxMillis > 0 {
		dst.RetryMaxMillis = src.RetryMaxMillis
	}
}
