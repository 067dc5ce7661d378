package commands

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/martinemde/codeloop/agentloop"
	"github.com/martinemde/codeloop/config"
	"github.com/martinemde/codeloop/unifiedllm"
)

func testApp(t *testing.T, jsonc string) *app {
	t.Helper()
	var cfg *config.Config
	var err error
	if jsonc == "" {
		cfg, err = config.Load(filepath.Join(t.TempDir(), "missing.jsonc"))
	} else {
		cfg, err = config.Parse([]byte(jsonc))
	}
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return &app{cfg: cfg, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestAgentConfigFromFile(t *testing.T) {
	a := testApp(t, `{
		// trailing commas and comments are fine
		"provider": {"name": "openai", "model": "gpt-5.2", "max_tokens": 4096, "idle_timeout": "30s"},
		"agent": {
			"default_mode": "architect",
			"max_consecutive_mistakes": 5,
			"auto_approve": true,
			"fuzzy_threshold": 0.9,
			"parse_thinking_tags": true,
		},
		"memory": {"enabled": false},
	}`)
	c := a.agentConfig()
	if c.DefaultMode != "architect" || c.MaxConsecutiveMistakes != 5 || !c.AutoApprove {
		t.Errorf("agent settings = %+v", c)
	}
	if c.Diff.FuzzyThreshold != 0.9 || c.Diff.BufferLines != 40 {
		t.Errorf("diff options = %+v", c.Diff)
	}
	if c.MaxTokens != 4096 || c.IdleTimeout.Seconds() != 30 {
		t.Errorf("max tokens %d, idle timeout %v", c.MaxTokens, c.IdleTimeout)
	}
	if !c.ParseThinkingTags || c.MemoryEnabled {
		t.Errorf("thinking tags %v, memory %v", c.ParseThinkingTags, c.MemoryEnabled)
	}
}

func TestAgentConfigDefaults(t *testing.T) {
	c := testApp(t, "").agentConfig()
	if c.DefaultMode != "code" || c.MaxTemperatureRetries != 3 || c.MaxSubtaskDepth != 1 {
		t.Errorf("defaults = %+v", c)
	}
	if !c.MemoryEnabled || strings.Join(c.MemoryFilenames, ",") != "AGENTS.md,CLAUDE.md" {
		t.Errorf("memory = %v %v", c.MemoryEnabled, c.MemoryFilenames)
	}
}

func TestProviderName(t *testing.T) {
	configured := testApp(t, `{"provider": {"name": "ollama"}}`)
	unset := testApp(t, "")

	tests := []struct {
		name    string
		app     *app
		pc      agentloop.ProviderConfig
		want    string
		wantErr bool
	}{
		{"task provider wins", configured, agentloop.ProviderConfig{Provider: "anthropic"}, "anthropic", false},
		{"configured provider", configured, agentloop.ProviderConfig{Model: "gpt-5.2"}, "ollama", false},
		{"catalog lookup", unset, agentloop.ProviderConfig{Model: "gemini-2.5-pro"}, "gemini", false},
		{"unknown model", unset, agentloop.ProviderConfig{Model: "mystery"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.app.providerName(tt.pc)
			if tt.wantErr {
				if !errors.Is(err, config.ErrInvalidConfig) {
					t.Errorf("err = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("providerName = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestProviderConfigModelOverride(t *testing.T) {
	a := testApp(t, `{"provider": {"name": "openai", "model": "gpt-5.2", "temperature": 0.3}}`)
	if pc := a.providerConfig(""); pc.Model != "gpt-5.2" || pc.Temperature == nil || *pc.Temperature != 0.3 {
		t.Errorf("providerConfig = %+v", pc)
	}
	if pc := a.providerConfig("gpt-5-mini"); pc.Model != "gpt-5-mini" || pc.Provider != "openai" {
		t.Errorf("override = %+v", pc)
	}
}

func TestWriteModels(t *testing.T) {
	var out bytes.Buffer
	if err := writeModels(&out, unifiedllm.ListModels("gemini")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "gemini-2.5-pro") || !strings.Contains(out.String(), "grounding") {
		t.Errorf("models =\n%s", out.String())
	}
	if strings.Contains(out.String(), "claude") {
		t.Error("provider filter leaked other models")
	}

	out.Reset()
	if err := writeModels(&out, nil); err != nil {
		t.Fatal(err)
	}
	if out.String() != "No models found.\n" {
		t.Errorf("empty = %q", out.String())
	}
}
