package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/martinemde/codeloop/diffstrategy"
	"github.com/martinemde/codeloop/fileedit"
	"github.com/martinemde/codeloop/history"
	"github.com/martinemde/codeloop/memory"
	"github.com/martinemde/codeloop/modes"
	"github.com/martinemde/codeloop/taskstore"
	"github.com/martinemde/codeloop/unifiedllm"
)

// Provider streams one completion. *unifiedllm.Client satisfies it.
type Provider interface {
	Stream(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error)
}

// RetryingProvider is a Provider with a retry policy, such as a
// *unifiedllm.Client built with WithRetryPolicy. Turns whose stream is
// interrupted after opening are replayed under the same policy.
type RetryingProvider interface {
	Provider
	RetryPolicy() (unifiedllm.RetryPolicy, bool)
}

// ProviderConfig selects the model a task talks to.
type ProviderConfig struct {
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// Config holds the loop settings shared by every task of a Manager.
type Config struct {
	DefaultMode            string
	MaxConsecutiveMistakes int
	MaxTemperatureRetries  int
	MaxTurns               int // 0 = unlimited
	MaxTokens              int // used when ProviderConfig.MaxTokens is 0
	AutoApprove            bool
	Diff                   diffstrategy.Options
	ParseThinkingTags      bool
	IdleTimeout            time.Duration
	MaxSubtaskDepth        int
	CustomInstructions     string
	MemoryEnabled          bool
	MemoryFilenames        []string
	LoopDetectionWindow    int
	ToolOutputLimits       map[string]int
	ToolLineLimits         map[string]int
}

// DefaultConfig returns the default loop settings.
func DefaultConfig() Config {
	return Config{
		DefaultMode:            modes.DefaultMode,
		MaxConsecutiveMistakes: 3,
		MaxTemperatureRetries:  DefaultMaxTemperatureRetries,
		MaxTurns:               200,
		Diff:                   diffstrategy.DefaultOptions(),
		IdleTimeout:            120 * time.Second,
		MaxSubtaskDepth:        1,
		MemoryEnabled:          true,
		MemoryFilenames:        memory.DefaultFilenames,
		LoopDetectionWindow:    DefaultLoopDetectionWindow,
	}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithConfig replaces the default loop settings.
func WithConfig(cfg Config) ManagerOption {
	return func(m *Manager) { m.config = cfg }
}

// WithModes sets the mode registry. Defaults to the built-in modes.
func WithModes(r *modes.Registry) ManagerOption {
	return func(m *Manager) { m.modes = r }
}

// WithTools sets the tool registry. Defaults to the built-in tools.
func WithTools(r *ToolRegistry) ManagerOption {
	return func(m *Manager) { m.tools = r }
}

// WithApprover sets the host approval callback. Without one every
// approval is declined unless auto-approval is configured.
func WithApprover(a Approver) ManagerOption {
	return func(m *Manager) { m.approver = a }
}

// WithDiagnostics sets the checker consulted around file saves.
func WithDiagnostics(p fileedit.DiagnosticsProvider) ManagerOption {
	return func(m *Manager) { m.diagnostics = p }
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) ManagerOption {
	return func(m *Manager) { m.eventBuffer = n }
}

// Manager creates, resumes and tracks tasks. Tasks share the provider,
// store and event channel but no mutable state.
type Manager struct {
	provider    Provider
	store       taskstore.Store
	modes       *modes.Registry
	tools       *ToolRegistry
	config      Config
	approver    Approver
	diagnostics fileedit.DiagnosticsProvider
	emitter     *EventEmitter
	eventBuffer int
	logger      *slog.Logger
	now         func() time.Time

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewManager creates a Manager.
func NewManager(provider Provider, store taskstore.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		provider: provider,
		store:    store,
		config:   DefaultConfig(),
		now:      time.Now,
		tasks:    make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.modes == nil {
		m.modes = modes.NewRegistry()
	}
	if m.tools == nil {
		m.tools = NewToolRegistry()
		RegisterBuiltinTools(m.tools)
	}
	if m.config.DefaultMode == "" {
		m.config.DefaultMode = modes.DefaultMode
	}
	m.emitter = NewEventEmitter(m.eventBuffer, m.logger)
	return m
}

// Events returns the channel carrying events of every task.
func (m *Manager) Events() <-chan TaskEvent { return m.emitter.Events() }

// Modes returns the mode registry.
func (m *Manager) Modes() *modes.Registry { return m.modes }

// Close cancels running tasks and closes the event channel.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, t := range m.tasks {
		t.Cancel()
	}
	m.mu.Unlock()
	m.emitter.Close()
}

// CreateTask starts a new task in workspaceRoot. The task does not run
// until Run is called.
func (m *Manager) CreateTask(ctx context.Context, workspaceRoot, initialPrompt string, pc ProviderConfig) (*Task, error) {
	return m.createTask(ctx, workspaceRoot, initialPrompt, m.config.DefaultMode, pc, "", 0)
}

func (m *Manager) createTask(ctx context.Context, root, prompt, mode string, pc ProviderConfig, parentID string, depth int) (*Task, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New("task prompt is empty")
	}
	root, err := workspaceDir(root)
	if err != nil {
		return nil, err
	}
	if _, ok := m.modes.Get(mode); !ok {
		return nil, fmt.Errorf("%w: %q", modes.ErrUnknownMode, mode)
	}

	now := m.now()
	st := &taskstore.State{
		ID:            uuid.NewString(),
		ParentID:      parentID,
		WorkspaceRoot: root,
		Mode:          mode,
		Status:        taskstore.StatusActive,
		Provider:      pc.Provider,
		Model:         pc.Model,
		Prompt:        prompt,
		History: []history.Message{
			history.NewTextMessage(history.RoleUser, now, fmt.Sprintf("<task>\n%s\n</task>", prompt)),
		},
	}
	if pc.Temperature != nil {
		st.Temperature = *pc.Temperature
	}

	t := m.newTask(st, pc, depth)
	if err := t.persist(ctx); err != nil {
		return nil, err
	}
	m.track(t)
	m.logger.Info("task created", "task", t.id, "workspace", root, "mode", mode, "parent", parentID)
	return t, nil
}

// ResumeTask rehydrates a persisted task so Run can continue it. A
// resumption note, and followUp when given, are appended to its history.
func (m *Manager) ResumeTask(ctx context.Context, taskID, followUp string) (*Task, error) {
	m.mu.Lock()
	if live, ok := m.tasks[taskID]; ok && live.Running() {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTaskRunning, taskID)
	}
	m.mu.Unlock()

	st, err := m.store.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, ok := m.modes.Get(st.Mode); !ok {
		m.logger.Warn("resumed task has unknown mode", "task", taskID, "mode", st.Mode, "fallback", m.config.DefaultMode)
		st.Mode = m.config.DefaultMode
	}

	pc := ProviderConfig{Provider: st.Provider, Model: st.Model}
	if st.Temperature != 0 {
		temp := st.Temperature
		pc.Temperature = &temp
	}
	depth := 0
	if st.ParentID != "" {
		depth = 1
	}

	now := m.now()
	note := resumptionNote(st, now, followUp)
	st.Status = taskstore.StatusActive
	st.Result = ""
	st.Error = ""
	st.History = append(st.History, history.NewTextMessage(history.RoleUser, now, note))

	t := m.newTask(st, pc, depth)
	if err := t.persist(ctx); err != nil {
		return nil, err
	}
	m.track(t)
	m.logger.Info("task resumed", "task", t.id, "messages", len(st.History), "revision", st.Revision)
	return t, nil
}

func resumptionNote(st *taskstore.State, now time.Time, followUp string) string {
	ago := now.Sub(st.UpdatedAt).Round(time.Second)
	var sb strings.Builder
	fmt.Fprintf(&sb, "[TASK RESUMPTION] This task was interrupted %s ago while it was %s. ", ago, st.Status)
	sb.WriteString("The project state may have changed since then; re-read files before editing them.")
	if strings.TrimSpace(followUp) != "" {
		fmt.Fprintf(&sb, "\n\nNew instructions from the user:\n<user_message>\n%s\n</user_message>", followUp)
	}
	return sb.String()
}

// DeleteTask cancels the task if it is running, waits for it to stop and
// removes its state.
func (m *Manager) DeleteTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	delete(m.tasks, taskID)
	m.mu.Unlock()
	if ok {
		t.markDeleted()
		t.Cancel()
		if err := t.wait(ctx); err != nil {
			return fmt.Errorf("wait for task %s to stop: %w", taskID, err)
		}
	}
	if err := m.store.Delete(ctx, taskID); err != nil {
		return err
	}
	m.logger.Info("task deleted", "task", taskID)
	return nil
}

// ListTasks returns persisted task summaries, most recent first.
func (m *Manager) ListTasks(ctx context.Context) ([]taskstore.Summary, error) {
	return m.store.List(ctx)
}

// LoadState returns the persisted state of a task.
func (m *Manager) LoadState(ctx context.Context, taskID string) (*taskstore.State, error) {
	return m.store.Load(ctx, taskID)
}

// Task returns a task created or resumed by this manager.
func (m *Manager) Task(taskID string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	return t, ok
}

// CancelTask aborts a running task. It reports whether one was running.
func (m *Manager) CancelTask(taskID string) bool {
	t, ok := m.Task(taskID)
	return ok && t.Cancel()
}

func (m *Manager) track(t *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.id] = t
}

func (m *Manager) newTask(st *taskstore.State, pc ProviderConfig, depth int) *Task {
	if pc.MaxTokens == 0 {
		pc.MaxTokens = m.config.MaxTokens
	}
	logger := m.logger.With("task", st.ID)
	fsys := fileedit.NewOSFileSystem(st.WorkspaceRoot)

	t := &Task{
		id:       st.ID,
		parentID: st.ParentID,
		depth:    depth,
		root:     st.WorkspaceRoot,
		fs:       fsys,
		tree:     fsys.DirFS(),
		writer:   fileedit.NewWriter(fsys, fileedit.WithDiagnostics(m.diagnostics), fileedit.WithLogger(logger)),
		conv:     history.NewConversation(st.History),
		retry:    NewTemperatureRetry(pc.Temperature, st.TemperatureAttempts, m.config.MaxTemperatureRetries),
		manager:  m,
		provider: m.provider,
		pc:       pc,
		profile:  ProfileFor(pc.Provider, pc.Model),
		cfg:      m.config,
		tools:    m.tools,
		modes:    m.modes,
		approver: m.approver,
		store:    m.store,
		emitter:  m.emitter,
		logger:   m.logger,
		now:      m.now,
		saved:    st,
		state:    stateFromStatus(st.Status),
		mode:     st.Mode,
		mistakes: st.ConsecutiveMistakes,
		usage:    st.Usage,
		cost:     st.TotalCost,
		result:   st.Result,
		errMsg:   st.Error,
	}

	if m.config.MemoryEnabled {
		opts := []memory.Option{memory.WithLogger(logger), memory.WithClock(m.now)}
		if len(m.config.MemoryFilenames) > 0 {
			opts = append(opts, memory.WithFilenames(m.config.MemoryFilenames...))
		}
		t.memory = memory.NewLoader(fsys, opts...)
		t.memory.Restore(st.LoadedMemory)
	}
	return t
}

// runSubtask creates a child task of parent and runs it to the end.
func (m *Manager) runSubtask(ctx context.Context, parent *Task, mode, message string) (*Task, error) {
	child, err := m.createTask(ctx, parent.root, message, mode, parent.pc, parent.id, parent.depth+1)
	if err != nil {
		return nil, err
	}
	if temp := parent.retry.Temperature(); temp != nil {
		child.retry = NewTemperatureRetry(temp, 0, m.config.MaxTemperatureRetries)
	}
	return child, child.Run(ctx)
}

func workspaceDir(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", errors.New("workspace root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("workspace: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workspace %s is not a directory", abs)
	}
	return abs, nil
}
