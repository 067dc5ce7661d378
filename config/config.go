// Package config loads the codeloop JSONC configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration.
type Config struct {
	DataDir  string         `json:"data_dir"`
	Storage  StorageConfig  `json:"storage"`
	Provider ProviderConfig `json:"provider"`
	Agent    AgentConfig    `json:"agent"`
	Memory   MemoryConfig   `json:"memory"`
	Modes    ModesConfig    `json:"modes"`
	Gateway  GatewayConfig  `json:"gateway"`
	Log      LogConfig      `json:"log"`
}

// StorageConfig selects the task store.
type StorageConfig struct {
	Driver string `json:"driver"` // "file" or "sqlite"

	// Path overrides the directory holding task state. Defaults to DataDir.
	Path string `json:"path,omitempty"`
}

// ProviderConfig configures the LLM provider.
type ProviderConfig struct {
	Name        string   `json:"name"`
	Model       string   `json:"model"`
	APIKey      string   `json:"api_key"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens"`
	IdleTimeout Duration `json:"idle_timeout"`
	MaxRetries  int      `json:"max_retries"`
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	DefaultMode            string  `json:"default_mode"`
	MaxConsecutiveMistakes int     `json:"max_consecutive_mistakes"`
	MaxTemperatureRetries  int     `json:"max_temperature_retries"`
	MaxTurns               int     `json:"max_turns"`
	AutoApprove            bool    `json:"auto_approve"`
	FuzzyThreshold         float64 `json:"fuzzy_threshold"`
	DiffBufferLines        int     `json:"diff_buffer_lines"`
	ParseThinkingTags      *bool   `json:"parse_thinking_tags,omitempty"`
	MaxSubtaskDepth        int     `json:"max_subtask_depth"`
	CustomInstructions     string  `json:"custom_instructions,omitempty"`
}

// MemoryConfig configures hierarchical memory loading.
type MemoryConfig struct {
	Enabled   *bool    `json:"enabled,omitempty"`
	Filenames []string `json:"filenames"`
}

// ModesConfig points at an optional custom modes file.
type ModesConfig struct {
	File string `json:"file"`
}

// GatewayConfig configures the HTTP host.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns host:port.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `json:"level"`
}

// Duration is a time.Duration written as "90s" or a number of seconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		d.Duration = time.Duration(x * float64(time.Second))
		return nil
	case string:
		if strings.TrimSpace(x) == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		d.Duration = parsed
		return nil
	case nil:
		d.Duration = 0
		return nil
	}
	return fmt.Errorf("invalid duration %s", data)
}

// BoolOr returns *b, or def when b is nil.
func BoolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
