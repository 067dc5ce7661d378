package config

import (
	"os"
	"path/filepath"
	"time"
)

// HomePath returns the codeloop data directory: $CODELOOP_PATH, or
// ~/.codeloop.
func HomePath() string {
	if v := os.Getenv("CODELOOP_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".codeloop")
	}
	return filepath.Join(home, ".codeloop")
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(HomePath(), "config.jsonc")
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = HomePath()
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "file"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = cfg.DataDir
	}

	if cfg.Provider.IdleTimeout.Duration == 0 {
		cfg.Provider.IdleTimeout.Duration = 120 * time.Second
	}
	if cfg.Provider.MaxTokens == 0 {
		cfg.Provider.MaxTokens = 8192
	}
	if cfg.Provider.MaxRetries == 0 {
		cfg.Provider.MaxRetries = 2
	}

	if cfg.Agent.DefaultMode == "" {
		cfg.Agent.DefaultMode = "code"
	}
	if cfg.Agent.MaxConsecutiveMistakes == 0 {
		cfg.Agent.MaxConsecutiveMistakes = 3
	}
	if cfg.Agent.MaxTemperatureRetries == 0 {
		cfg.Agent.MaxTemperatureRetries = 3
	}
	if cfg.Agent.MaxTurns == 0 {
		cfg.Agent.MaxTurns = 200
	}
	if cfg.Agent.FuzzyThreshold == 0 {
		cfg.Agent.FuzzyThreshold = 1.0
	}
	if cfg.Agent.DiffBufferLines == 0 {
		cfg.Agent.DiffBufferLines = 40
	}
	if cfg.Agent.MaxSubtaskDepth == 0 {
		cfg.Agent.MaxSubtaskDepth = 1
	}

	if len(cfg.Memory.Filenames) == 0 {
		cfg.Memory.Filenames = []string{"AGENTS.md", "CLAUDE.md"}
	}

	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18421
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
