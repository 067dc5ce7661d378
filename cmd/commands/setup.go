package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/martinemde/codeloop/agentloop"
	"github.com/martinemde/codeloop/config"
	"github.com/martinemde/codeloop/modes"
	"github.com/martinemde/codeloop/taskstore"
	"github.com/martinemde/codeloop/unifiedllm"
)

// app holds what every command shares: configuration, logger and task
// store. The provider client is built on demand.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  taskstore.Store
	modes  *modes.Registry
}

// newApp loads the configuration named by --config, installs the logger
// and opens the task store.
func newApp(ctx context.Context, cmd *cli.Command) (*app, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cmd.Bool("debug") {
		cfg.Log.Level = "debug"
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	registry := modes.NewRegistry()
	if cfg.Modes.File != "" {
		if err := registry.LoadFile(cfg.Modes.File); err != nil {
			return nil, fmt.Errorf("load modes: %w", err)
		}
	}

	store, err := taskstore.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	return &app{cfg: cfg, logger: logger, store: store, modes: registry}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// providerName returns the provider a task should use: its own, the
// configured one, or the one owning its model in the catalog.
func (a *app) providerName(pc agentloop.ProviderConfig) (string, error) {
	switch {
	case pc.Provider != "":
		return pc.Provider, nil
	case a.cfg.Provider.Name != "":
		return a.cfg.Provider.Name, nil
	}
	if info := unifiedllm.GetModelInfo(pc.Model); info != nil {
		return info.Provider, nil
	}
	return "", fmt.Errorf("%w: provider.name is not set and model %q is not in the catalog", config.ErrInvalidConfig, pc.Model)
}

// newClient builds the LLM client for pc.
func (a *app) newClient(pc agentloop.ProviderConfig) (*unifiedllm.Client, error) {
	name, err := a.providerName(pc)
	if err != nil {
		return nil, err
	}
	opts := []unifiedllm.GollmAdapterOption{unifiedllm.WithMaxTokens(a.cfg.Provider.MaxTokens)}
	if pc.Model != "" {
		opts = append(opts, unifiedllm.WithModel(pc.Model))
	}
	adapter, err := unifiedllm.NewGollmAdapter(name, a.cfg.Provider.APIKey, opts...)
	if err != nil {
		return nil, err
	}

	policy := unifiedllm.DefaultRetryPolicy()
	policy.MaxRetries = a.cfg.Provider.MaxRetries
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		a.logger.Warn("retrying provider request", "provider", name, "attempt", attempt, "delay", delay, "error", err)
	}

	return unifiedllm.NewClient(
		unifiedllm.WithProvider(name, adapter),
		unifiedllm.WithDefaultProvider(name),
		unifiedllm.WithRetryPolicy(policy),
		unifiedllm.WithLogger(a.logger),
	), nil
}

// agentConfig maps the configuration file onto loop settings.
func (a *app) agentConfig() agentloop.Config {
	c := agentloop.DefaultConfig()
	ac := a.cfg.Agent
	c.DefaultMode = ac.DefaultMode
	c.MaxConsecutiveMistakes = ac.MaxConsecutiveMistakes
	c.MaxTemperatureRetries = ac.MaxTemperatureRetries
	c.MaxTurns = ac.MaxTurns
	c.MaxTokens = a.cfg.Provider.MaxTokens
	c.AutoApprove = ac.AutoApprove
	c.Diff.FuzzyThreshold = ac.FuzzyThreshold
	c.Diff.BufferLines = ac.DiffBufferLines
	c.ParseThinkingTags = config.BoolOr(ac.ParseThinkingTags, c.ParseThinkingTags)
	c.IdleTimeout = a.cfg.Provider.IdleTimeout.Duration
	c.MaxSubtaskDepth = ac.MaxSubtaskDepth
	c.CustomInstructions = ac.CustomInstructions
	c.MemoryEnabled = config.BoolOr(a.cfg.Memory.Enabled, true)
	c.MemoryFilenames = a.cfg.Memory.Filenames
	return c
}

// providerConfig is the task-level provider selection, with model
// overriding the configured one when set.
func (a *app) providerConfig(model string) agentloop.ProviderConfig {
	if model == "" {
		model = a.cfg.Provider.Model
	}
	return agentloop.ProviderConfig{
		Provider:    a.cfg.Provider.Name,
		Model:       model,
		Temperature: a.cfg.Provider.Temperature,
		MaxTokens:   a.cfg.Provider.MaxTokens,
	}
}

// newManager wires a Manager around provider.
func (a *app) newManager(provider agentloop.Provider, cfg agentloop.Config, approver agentloop.Approver) *agentloop.Manager {
	return agentloop.NewManager(provider, a.store,
		agentloop.WithConfig(cfg),
		agentloop.WithModes(a.modes),
		agentloop.WithApprover(approver),
		agentloop.WithLogger(a.logger),
	)
}
