package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"text/template"

	"github.com/tailscale/hujson"
)

var ErrInvalidConfig = errors.New("invalid config")

// Load reads a JSONC config file, expands {{ .Env.NAME }} templates,
// applies defaults and validates. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := &Config{}
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load for in-memory content.
func Parse(data []byte) (*Config, error) {
	standard, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse jsonc: %v", ErrInvalidConfig, err)
	}

	expanded, err := expandEnvTemplates(standard)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(expanded))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnvTemplates renders {{ .Env.NAME }} references. Values are JSON
// string escaped since templates sit inside JSON strings.
func expandEnvTemplates(data []byte) ([]byte, error) {
	if !bytes.Contains(data, []byte("{{")) {
		return data, nil
	}
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: template: %v", ErrInvalidConfig, err)
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		quoted, _ := json.Marshal(v)
		env[k] = string(quoted[1 : len(quoted)-1])
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{"Env": env}); err != nil {
		return nil, fmt.Errorf("%w: template: %v", ErrInvalidConfig, err)
	}
	return buf.Bytes(), nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var problems []string
	switch c.Storage.Driver {
	case "file", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("storage.driver must be file or sqlite, got %q", c.Storage.Driver))
	}
	if t := c.Provider.Temperature; t != nil && (*t < 0 || *t > 2) {
		problems = append(problems, fmt.Sprintf("provider.temperature must be within [0, 2], got %g", *t))
	}
	if c.Provider.IdleTimeout.Duration < 0 {
		problems = append(problems, "provider.idle_timeout must not be negative")
	}
	if f := c.Agent.FuzzyThreshold; f < 0 || f > 1 {
		problems = append(problems, fmt.Sprintf("agent.fuzzy_threshold must be within [0, 1], got %g", f))
	}
	if c.Agent.MaxConsecutiveMistakes < 1 {
		problems = append(problems, "agent.max_consecutive_mistakes must be at least 1")
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		problems = append(problems, fmt.Sprintf("gateway.port out of range: %d", c.Gateway.Port))
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		problems = append(problems, fmt.Sprintf("log.level: %v", err))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// SlogLevel returns the configured log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
