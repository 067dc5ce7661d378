package agentloop

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
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

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	StateIdle             TaskState = "idle"
	StateAwaitingProvider TaskState = "awaiting_provider"
	StateExecutingTool    TaskState = "executing_tool"
	StateAwaitingApproval TaskState = "awaiting_approval"
	StateCompleted        TaskState = "completed"
	StateAborted          TaskState = "aborted"
	StateFailed           TaskState = "failed"
)

// Terminal reports whether the state ends the task.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateFailed
}

func (s TaskState) status() taskstore.Status {
	switch s {
	case StateCompleted:
		return taskstore.StatusCompleted
	case StateAborted:
		return taskstore.StatusAborted
	case StateFailed:
		return taskstore.StatusFailed
	}
	return taskstore.StatusActive
}

func stateFromStatus(s taskstore.Status) TaskState {
	switch s {
	case taskstore.StatusCompleted:
		return StateCompleted
	case taskstore.StatusAborted:
		return StateAborted
	case taskstore.StatusFailed:
		return StateFailed
	}
	return StateIdle
}

var (
	ErrTaskRunning      = errors.New("task is already running")
	ErrTaskFinished     = errors.New("task has finished")
	ErrTurnLimit        = errors.New("turn limit reached")
	ErrMistakeLimit     = errors.New("too many consecutive mistakes")
	ErrOutsideWorkspace = errors.New("path is outside the workspace")
)

// TerminalError ends a task. State is aborted or failed.
type TerminalError struct {
	State TaskState
	Cause error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("task %s: %v", e.State, e.Cause)
}

func (e *TerminalError) Unwrap() error { return e.Cause }

const (
	noToolsUsed = "[ERROR] You did not use a tool in your previous response. Every response must use exactly one tool. " +
		"If the task is done, call attempt_completion. Otherwise continue with the next step."
	oneToolPerMessage = "Tool %s was not executed: only one tool may be used per message. Call it again after reviewing the previous result."
	deniedResult      = "The user denied this operation."
	interruptedResult = "Tool execution was interrupted."
	loopWarning       = "[WARNING] The last %d tool calls repeat the same pattern. Stop and try a different approach."
)

// Task is one agent session. Its loop is driven by Run; the accessors are
// safe to call from other goroutines.
type Task struct {
	id       string
	parentID string
	depth    int
	root     string

	fs     fileedit.FileSystem
	tree   fs.FS
	writer *fileedit.Writer
	memory *memory.Loader
	conv   *history.Conversation
	retry  *TemperatureRetry

	manager  *Manager
	provider Provider
	pc       ProviderConfig
	profile  ProviderProfile
	cfg      Config
	tools    *ToolRegistry
	modes    *modes.Registry
	approver Approver
	store    taskstore.Store
	emitter  *EventEmitter
	logger   *slog.Logger
	now      func() time.Time

	saved *taskstore.State

	mu       sync.Mutex
	state    TaskState
	mode     string
	mistakes int
	usage    unifiedllm.Usage
	cost     float64
	result   string
	errMsg   string
	touched  []string
	running  bool
	cancel   context.CancelFunc
	done     chan struct{} // closed when the current Run returns
	deleted  bool
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// ParentID returns the id of the task that spawned this one, if any.
func (t *Task) ParentID() string { return t.parentID }

// Workspace returns the absolute workspace root.
func (t *Task) Workspace() string { return t.root }

// FileSystem returns the workspace file system.
func (t *Task) FileSystem() fileedit.FileSystem { return t.fs }

// History returns a snapshot of the conversation.
func (t *Task) History() []history.Message { return t.conv.Snapshot() }

// Temperature returns the current sampling temperature, nil when the
// provider default is used.
func (t *Task) Temperature() *float64 { return t.retry.Temperature() }

// State returns the current lifecycle state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Mode returns the active mode slug.
func (t *Task) Mode() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// ConsecutiveMistakes returns the current mistake counter.
func (t *Task) ConsecutiveMistakes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mistakes
}

// Usage returns accumulated token usage and cost in USD.
func (t *Task) Usage() (unifiedllm.Usage, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage, t.cost
}

// Result returns the completion result once the task has completed.
func (t *Task) Result() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Err returns the user-facing error message of a failed or aborted task.
func (t *Task) Err() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errMsg
}

// Running reports whether Run is in progress.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Cancel aborts a running task. It reports whether the task was running.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel == nil {
		return false
	}
	t.cancel()
	return true
}

// wait blocks until a Run in progress has returned.
func (t *Task) wait(ctx context.Context) error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markDeleted stops all further saves of the task.
func (t *Task) markDeleted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleted = true
}

func (t *Task) setState(s TaskState) TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.state
	t.state = s
	return prev
}

func (t *Task) setMode(slug string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.mode
	t.mode = slug
	return prev
}

func (t *Task) emit(kind EventKind, data map[string]interface{}) {
	t.emitter.Emit(t.id, kind, data)
}

// Run drives the task until it completes, is cancelled or fails. It
// returns nil on completion and a *TerminalError otherwise. The task is
// persisted after every turn.
func (t *Task) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrTaskRunning
	}
	if t.state.Terminal() {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskFinished, state)
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.running = true
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	defer func() {
		cancel()
		t.mu.Lock()
		t.running = false
		t.cancel = nil
		t.mu.Unlock()
		close(done)
	}()

	t.emit(EventTaskStart, map[string]interface{}{
		"mode":      t.Mode(),
		"model":     t.pc.Model,
		"workspace": t.root,
		"parent_id": t.parentID,
	})
	t.logger.Info("task started", "task", t.id, "mode", t.Mode(), "model", t.pc.Model)

	for turn := 0; ; turn++ {
		if err := ctx.Err(); err != nil {
			return t.finish(ctx, StateAborted, err)
		}
		if t.cfg.MaxTurns > 0 && turn >= t.cfg.MaxTurns {
			return t.finish(ctx, StateFailed, fmt.Errorf("%w (%d)", ErrTurnLimit, t.cfg.MaxTurns))
		}

		done, err := t.step(ctx)
		if err != nil {
			var term *TerminalError
			switch {
			case errors.As(err, &term):
				return t.finish(ctx, term.State, term.Cause)
			case ctx.Err() != nil:
				return t.finish(ctx, StateAborted, ctx.Err())
			default:
				return t.finish(ctx, StateFailed, err)
			}
		}
		if done {
			return t.finish(ctx, StateCompleted, nil)
		}
		if err := t.persist(ctx); err != nil {
			return t.finish(ctx, StateFailed, err)
		}
	}
}

// finish records the terminal state, persists it and emits task_end.
func (t *Task) finish(ctx context.Context, state TaskState, cause error) error {
	t.mu.Lock()
	t.state = state
	if cause != nil {
		t.errMsg = unifiedllm.UserFacingMessage(cause)
	}
	result := t.result
	errMsg := t.errMsg
	t.mu.Unlock()

	perr := t.persist(context.WithoutCancel(ctx))
	if perr != nil {
		t.logger.Error("persist final task state", "task", t.id, "error", perr)
	}

	data := map[string]interface{}{"state": string(state)}
	if state == StateCompleted {
		data["result"] = result
	} else {
		data["error"] = errMsg
		t.emit(EventError, map[string]interface{}{"message": errMsg})
	}
	t.emit(EventTaskEnd, data)

	switch state {
	case StateCompleted:
		t.logger.Info("task completed", "task", t.id)
		if perr != nil {
			return fmt.Errorf("persist task: %w", perr)
		}
		return nil
	case StateAborted:
		t.logger.Info("task aborted", "task", t.id, "cause", cause)
	default:
		t.logger.Error("task failed", "task", t.id, "error", cause)
	}
	return &TerminalError{State: state, Cause: cause}
}

// turnResponse is one streamed provider response.
type turnResponse struct {
	text      string
	reasoning string
	calls     []unifiedllm.ToolCall
}

// step runs one provider round trip and at most one tool. It reports
// whether the task completed.
func (t *Task) step(ctx context.Context) (bool, error) {
	t.prepareHistory()

	req := t.buildRequest()
	t.setState(StateAwaitingProvider)
	resp, err := t.stream(ctx, req)
	if err != nil {
		return false, err
	}

	assistant := assistantMessage(resp, t.now())

	if len(resp.calls) == 0 {
		if t.profile.isGroundedAnswer(resp.text) {
			t.conv.Append(assistant)
			t.mu.Lock()
			t.result = resp.text
			t.mu.Unlock()
			return true, nil
		}
		t.conv.Append(assistant, history.NewTextMessage(history.RoleUser, t.now(), noToolsUsed))
		return false, t.countMistake(ctx)
	}

	t.mu.Lock()
	t.mistakes = 0
	t.mu.Unlock()

	out, execErr := t.executeTool(ctx, resp.calls[0])
	blocks := out.blocks
	for _, extra := range resp.calls[1:] {
		blocks = append(blocks, history.ToolResultBlock(extra.ID, fmt.Sprintf(oneToolPerMessage, extra.Name), true))
	}
	t.conv.Append(assistant, history.NewMessage(history.RoleUser, t.now(), blocks...))

	t.mu.Lock()
	t.touched = append(t.touched, out.touched...)
	if out.completed {
		t.result = out.result
	}
	t.mu.Unlock()

	if execErr != nil {
		return false, execErr
	}
	if out.completed {
		return true, nil
	}
	if out.mistake {
		if err := t.countMistake(ctx); err != nil {
			return false, err
		}
	}
	t.detectLoop()
	return false, nil
}

// prepareHistory deduplicates file reads and loads memory for files
// touched since the previous turn.
func (t *Task) prepareHistory() {
	if n := t.conv.DeduplicateReadFileHistory(t.now()); n > 0 {
		t.logger.Debug("stripped superseded file reads", "task", t.id, "count", n)
	}
	if t.memory == nil {
		return
	}

	t.mu.Lock()
	touched := t.touched
	t.touched = nil
	t.mu.Unlock()

	for _, rel := range touched {
		msgs := t.memory.LoadFor(filepath.Join(t.root, rel), t.root)
		if len(msgs) == 0 {
			continue
		}
		t.conv.Append(msgs...)
		t.emit(EventMemoryLoaded, map[string]interface{}{"file": rel, "count": len(msgs)})
	}
}

// availableTools lists the tools the model is offered in the current mode.
func (t *Task) availableTools() []string {
	mode, ok := t.modes.Get(t.Mode())
	if !ok {
		return nil
	}
	var names []string
	for _, name := range mode.Tools() {
		if name == "new_task" && t.depth >= t.cfg.MaxSubtaskDepth {
			continue
		}
		names = append(names, name)
	}
	for _, name := range t.tools.Names() {
		if !builtinTool(name) {
			names = append(names, name)
		}
	}
	return names
}

// builtinTool reports whether modes govern name.
func builtinTool(name string) bool {
	for _, n := range modes.AlwaysAvailable {
		if n == name {
			return true
		}
	}
	for _, tools := range modes.ToolGroups {
		for _, n := range tools {
			if n == name {
				return true
			}
		}
	}
	return false
}

func (t *Task) buildRequest() unifiedllm.Request {
	mode, _ := t.modes.Get(t.Mode())
	tools := t.tools.Subset(t.availableTools())

	system := buildSystemPrompt(promptInput{
		mode:               mode,
		modes:              t.modes.Modes(),
		tools:              tools,
		workspace:          t.root,
		model:              t.pc.Model,
		now:                t.now(),
		customInstructions: t.cfg.CustomInstructions,
	})
	msgs := append([]unifiedllm.Message{unifiedllm.SystemMessage(system)}, ConvertHistoryToMessages(t.conv.Snapshot())...)
	t.checkContextUsage(msgs)

	req := unifiedllm.Request{
		Model:       t.pc.Model,
		Provider:    t.pc.Provider,
		Messages:    msgs,
		Tools:       tools,
		Temperature: t.retry.Temperature(),
		Metadata:    map[string]string{"task_id": t.id, "mode": mode.Slug},
	}
	if n := t.pc.MaxTokens; n > 0 {
		req.MaxTokens = &n
	}
	return req
}

// checkContextUsage emits a warning if context usage exceeds 80%.
func (t *Task) checkContextUsage(msgs []unifiedllm.Message) {
	window := t.profile.ContextWindow
	if window <= 0 {
		return
	}
	tokens := unifiedllm.EstimateMessageTokens(msgs)
	if tokens > window*8/10 {
		pct := tokens * 100 / window
		t.emit(EventWarning, map[string]interface{}{
			"message": fmt.Sprintf("Context usage at ~%d%% of context window", pct),
		})
	}
}

// stream sends req and collects the response. A turn cut off by an idle
// timeout or network failure before any tool call arrived is discarded
// and replayed while the provider's retry policy allows.
func (t *Task) stream(ctx context.Context, req unifiedllm.Request) (*turnResponse, error) {
	policy, retry := t.streamRetryPolicy()
	for attempt := 1; ; attempt++ {
		resp, err := t.streamOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retry || resp == nil || len(resp.calls) > 0 || !unifiedllm.IsStreamInterruption(err) {
			return nil, t.providerError(ctx, err)
		}
		if werr := policy.Wait(ctx, attempt, err); werr != nil {
			return nil, t.providerError(ctx, werr)
		}
	}
}

// streamRetryPolicy returns the provider's retry policy with OnRetry
// reporting each replayed turn as a warning.
func (t *Task) streamRetryPolicy() (unifiedllm.RetryPolicy, bool) {
	rp, ok := t.provider.(RetryingProvider)
	if !ok {
		return unifiedllm.RetryPolicy{}, false
	}
	policy, ok := rp.RetryPolicy()
	if !ok || policy.MaxRetries <= 0 {
		return unifiedllm.RetryPolicy{}, false
	}
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		msg := fmt.Sprintf("Provider stream interrupted (%s); retrying in %s (attempt %d of %d)",
			unifiedllm.UserFacingMessage(err), delay.Round(time.Millisecond), attempt, policy.MaxRetries)
		t.logger.Warn("replaying interrupted turn", "task", t.id, "attempt", attempt, "delay", delay, "error", err)
		t.emit(EventWarning, map[string]interface{}{"message": msg, "attempt": attempt})
	}
	return policy, true
}

// streamOnce runs one provider stream, forwarding deltas as events. On a
// stream error it returns what arrived so far alongside the error; the
// response is nil when the stream never opened.
func (t *Task) streamOnce(ctx context.Context, req unifiedllm.Request) (*turnResponse, error) {
	chunks, err := unifiedllm.StreamChunks(ctx, func(ctx context.Context) (<-chan unifiedllm.StreamEvent, error) {
		return t.provider.Stream(ctx, req)
	}, unifiedllm.ChunkOptions{
		IdleTimeout:       t.cfg.IdleTimeout,
		ParseThinkingTags: t.cfg.ParseThinkingTags,
		Model:             t.pc.Model,
	})
	if err != nil {
		return nil, err
	}

	var text, reasoning strings.Builder
	var resp turnResponse
	var streamErr error
	for c := range chunks {
		switch c.Type {
		case unifiedllm.ChunkText:
			text.WriteString(c.Text)
			t.emit(EventTextDelta, map[string]interface{}{"text": c.Text})
		case unifiedllm.ChunkReasoning:
			reasoning.WriteString(c.Text)
			t.emit(EventReasoningDelta, map[string]interface{}{"text": c.Text})
		case unifiedllm.ChunkToolCall:
			call := *c.ToolCall
			if call.ID == "" {
				call.ID = "call_" + uuid.NewString()
			}
			resp.calls = append(resp.calls, call)
		case unifiedllm.ChunkUsage:
			t.recordUsage(c)
		case unifiedllm.ChunkError:
			if streamErr == nil {
				streamErr = c.Err
			}
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if streamErr != nil {
		return &resp, streamErr
	}

	resp.text = text.String()
	resp.reasoning = reasoning.String()
	return &resp, nil
}

func (t *Task) providerError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if unifiedllm.IsAuthError(err) {
		t.logger.Error("provider rejected credentials", "task", t.id, "provider", t.pc.Provider, "error", err)
	}
	return &TerminalError{State: StateFailed, Cause: err}
}

func (t *Task) recordUsage(c unifiedllm.Chunk) {
	if c.Usage == nil {
		return
	}
	t.mu.Lock()
	t.usage = t.usage.Add(*c.Usage)
	if c.TotalCost != nil {
		t.cost += *c.TotalCost
	}
	usage, cost := t.usage, t.cost
	t.mu.Unlock()

	data := map[string]interface{}{
		"input_tokens":        c.Usage.InputTokens,
		"output_tokens":       c.Usage.OutputTokens,
		"total_input_tokens":  usage.InputTokens,
		"total_output_tokens": usage.OutputTokens,
		"total_cost":          cost,
	}
	t.emit(EventUsage, data)
}

func assistantMessage(resp *turnResponse, now time.Time) history.Message {
	var blocks []history.ContentBlock
	if resp.text != "" {
		blocks = append(blocks, history.TextBlock(resp.text))
	}
	for _, c := range resp.calls {
		blocks = append(blocks, history.ToolUseBlock(c.ID, c.Name, c.Arguments))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, history.TextBlock("(empty response)"))
	}
	return history.NewMessage(history.RoleAssistant, now, blocks...)
}

// countMistake increments the mistake counter. At the limit the approver
// decides whether the task continues.
func (t *Task) countMistake(ctx context.Context) error {
	t.mu.Lock()
	t.mistakes++
	n := t.mistakes
	t.mu.Unlock()

	limit := t.cfg.MaxConsecutiveMistakes
	if limit <= 0 || n < limit {
		return nil
	}

	msg := fmt.Sprintf("The model made %d consecutive mistakes. Continue the task?", n)
	t.emit(EventWarning, map[string]interface{}{"message": msg})
	if !t.approve(ctx, ApprovalRequest{Kind: ApprovalMistakeLimit, Message: msg}) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TerminalError{State: StateAborted, Cause: ErrMistakeLimit}
	}

	t.mu.Lock()
	t.mistakes = 0
	t.mu.Unlock()
	return nil
}

// approve asks the approver. Auto-approval covers tool requests only.
func (t *Task) approve(ctx context.Context, req ApprovalRequest) bool {
	req.TaskID = t.id
	if req.Kind == "" {
		req.Kind = ApprovalTool
	}
	if req.Kind == ApprovalTool && t.cfg.AutoApprove {
		return true
	}
	if t.approver == nil {
		return false
	}

	prev := t.setState(StateAwaitingApproval)
	defer t.setState(prev)

	ok, err := t.approver.Approve(ctx, req)
	if err != nil {
		t.logger.Warn("approval failed", "task", t.id, "kind", req.Kind, "tool", req.Tool, "error", err)
		return false
	}
	return ok && ctx.Err() == nil
}

// toolOutcome is the result of dispatching one tool call.
type toolOutcome struct {
	blocks    []history.ContentBlock
	completed bool
	result    string
	mistake   bool
	touched   []string
}

func failedOutcome(id, msg string) toolOutcome {
	return toolOutcome{blocks: []history.ContentBlock{history.ToolResultBlock(id, msg, true)}, mistake: true}
}

// executeTool handles the full tool pipeline:
// lookup -> validate -> approve -> execute -> truncate -> emit.
func (t *Task) executeTool(ctx context.Context, tc unifiedllm.ToolCall) (toolOutcome, error) {
	t.emit(EventToolCallProposed, map[string]interface{}{
		"call_id":   tc.ID,
		"tool":      tc.Name,
		"arguments": string(tc.Arguments),
	})

	out, err := t.dispatch(ctx, tc)
	for _, b := range out.blocks {
		if b.Type == history.BlockToolResult {
			t.emit(EventToolResult, map[string]interface{}{
				"call_id":  tc.ID,
				"tool":     tc.Name,
				"output":   b.Text,
				"is_error": b.IsError,
			})
			break
		}
	}
	return out, err
}

func (t *Task) dispatch(ctx context.Context, tc unifiedllm.ToolCall) (toolOutcome, error) {
	registered := t.tools.Get(tc.Name)
	if registered == nil {
		return failedOutcome(tc.ID, fmt.Sprintf("Unknown tool %q. Available tools: %s",
			tc.Name, strings.Join(t.availableTools(), ", "))), nil
	}

	args, err := ParseToolArguments(tc.Arguments)
	if err != nil {
		return failedOutcome(tc.ID, fmt.Sprintf("Error: %v", err)), nil
	}

	var path string
	if registered.PathArg != "" {
		path, _ = GetStringArg(args, registered.PathArg)
	}
	if builtinTool(tc.Name) {
		if err := t.modes.ToolAllowed(t.Mode(), tc.Name, filepath.ToSlash(path)); err != nil {
			return failedOutcome(tc.ID, fmt.Sprintf("Error: %v", err)), nil
		}
	}

	if missing := missingArgs(registered.Definition, args); len(missing) > 0 {
		return failedOutcome(tc.ID, fmt.Sprintf(
			"Missing value for required parameter '%s' of %s. Retry with a complete tool call.",
			strings.Join(missing, "', '"), tc.Name)), nil
	}

	if registered.RequiresApproval {
		ok := t.approve(ctx, ApprovalRequest{Kind: ApprovalTool, Tool: tc.Name, Args: tc.Arguments, Path: path})
		if !ok {
			return toolOutcome{blocks: []history.ContentBlock{history.ToolResultBlock(tc.ID, deniedResult, false)}}, nil
		}
	}

	t.setState(StateExecutingTool)
	res, err := registered.Executor(ctx, t, ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments, Args: args})
	if err != nil {
		if ctx.Err() != nil {
			return toolOutcome{blocks: []history.ContentBlock{history.ToolResultBlock(tc.ID, interruptedResult, true)}}, ctx.Err()
		}
		return t.toolFailure(tc, err)
	}

	blocks := res.Blocks
	if blocks == nil {
		output := TruncateToolOutput(res.Output, tc.Name, t.cfg.ToolOutputLimits, t.cfg.ToolLineLimits)
		blocks = []history.ContentBlock{history.ToolResultBlock(tc.ID, output, res.IsError)}
	}
	return toolOutcome{blocks: blocks, completed: res.Completed, result: res.Output, touched: res.Touched}, nil
}

// toolFailure turns an executor error into a tool result. Lazy edit output
// lowers the temperature instead of counting a mistake.
func (t *Task) toolFailure(tc unifiedllm.ToolCall, err error) (toolOutcome, error) {
	msg := err.Error()
	if !diffstrategy.IsTemperatureFailure(tc.Name, err, t.retry.Value()) {
		return failedOutcome(tc.ID, "Error: "+msg), nil
	}

	from, to, rerr := t.retry.Reduce()
	if rerr != nil {
		out := toolOutcome{blocks: []history.ContentBlock{history.ToolResultBlock(tc.ID, "Error: "+msg, true)}}
		return out, &TerminalError{State: StateFailed, Cause: fmt.Errorf("%s: %s: %w", tc.Name, msg, rerr)}
	}

	transition := fmt.Sprintf("Temperature reduced from %g to %g", from, to)
	t.logger.Info("temperature reduced", "task", t.id, "tool", tc.Name, "from", from, "to", to, "attempt", t.retry.Attempts())
	t.emit(EventTemperatureReduced, map[string]interface{}{
		"from":    from,
		"to":      to,
		"attempt": t.retry.Attempts(),
		"message": transition,
	})
	note := fmt.Sprintf("Error: %s\n\nThe output looked incomplete. %s; retry with the complete content.", msg, transition)
	return toolOutcome{blocks: []history.ContentBlock{history.ToolResultBlock(tc.ID, note, true)}}, nil
}

// detectLoop appends a warning when recent tool calls repeat.
func (t *Task) detectLoop() {
	window := t.cfg.LoopDetectionWindow
	if window <= 0 || !DetectLoop(t.conv.Snapshot(), window) {
		return
	}
	warning := fmt.Sprintf(loopWarning, window)
	t.conv.Append(history.NewTextMessage(history.RoleUser, t.now(), warning))
	t.emit(EventLoopDetected, map[string]interface{}{"message": warning})
	t.logger.Warn("tool call loop detected", "task", t.id, "window", window)
}

// resolvePath maps a model-supplied path to a clean path relative to the
// workspace root.
func (t *Task) resolvePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", errors.New("path is empty")
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(t.root, p)
	}
	rel, err := filepath.Rel(t.root, filepath.Clean(abs))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
	}
	return rel, nil
}

// persist saves the task state. A deleted task is never saved again.
func (t *Task) persist(ctx context.Context) error {
	t.mu.Lock()
	if t.deleted {
		t.mu.Unlock()
		return nil
	}
	st := t.saved
	st.Mode = t.mode
	st.Status = t.state.status()
	st.ConsecutiveMistakes = t.mistakes
	st.Usage = t.usage
	st.TotalCost = t.cost
	st.Result = t.result
	st.Error = t.errMsg
	t.mu.Unlock()

	st.History = t.conv.Snapshot()
	st.Temperature = t.retry.Value()
	st.TemperatureAttempts = t.retry.Attempts()
	if t.memory != nil {
		st.LoadedMemory = t.memory.Loaded()
	}
	if err := t.store.Save(ctx, st); err != nil {
		return fmt.Errorf("save task %s: %w", t.id, err)
	}
	return nil
}
