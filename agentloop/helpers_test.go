package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/martinemde/codeloop/history"
	"github.com/martinemde/codeloop/taskstore"
	"github.com/martinemde/codeloop/unifiedllm"
)

// scriptedProvider replays one scripted response per Stream call.
type scriptedProvider struct {
	mu       sync.Mutex
	turns    [][]unifiedllm.StreamEvent
	requests []unifiedllm.Request
}

func newScriptedProvider(turns ...[]unifiedllm.StreamEvent) *scriptedProvider {
	return &scriptedProvider{turns: turns}
}

func (p *scriptedProvider) Stream(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.turns) == 0 {
		return nil, errors.New("script exhausted")
	}
	turn := p.turns[0]
	p.turns = p.turns[1:]
	ch := make(chan unifiedllm.StreamEvent, len(turn))
	for _, ev := range turn {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Requests() []unifiedllm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]unifiedllm.Request(nil), p.requests...)
}

type scriptedCall struct {
	id   string
	name string
	args map[string]interface{}
}

func toolTurn(calls ...scriptedCall) []unifiedllm.StreamEvent {
	var evs []unifiedllm.StreamEvent
	for _, c := range calls {
		raw, _ := json.Marshal(c.args)
		evs = append(evs, unifiedllm.StreamEvent{
			Type:     unifiedllm.ToolCallEnd,
			ToolCall: &unifiedllm.ToolCall{ID: c.id, Name: c.name, Arguments: raw},
		})
	}
	return append(evs, unifiedllm.StreamEvent{
		Type:  unifiedllm.StreamFinish,
		Usage: &unifiedllm.Usage{InputTokens: 100, OutputTokens: 10, TotalTokens: 110},
	})
}

func textTurn(text string) []unifiedllm.StreamEvent {
	return []unifiedllm.StreamEvent{
		{Type: unifiedllm.TextDelta, Delta: text},
		{Type: unifiedllm.StreamFinish},
	}
}

func completeTurn(id, result string) []unifiedllm.StreamEvent {
	return toolTurn(scriptedCall{id, "attempt_completion", map[string]interface{}{"result": result}})
}

// recordingApprover records every request and answers with allow.
type recordingApprover struct {
	mu    sync.Mutex
	allow bool
	reqs  []ApprovalRequest
}

func (a *recordingApprover) Approve(_ context.Context, req ApprovalRequest) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reqs = append(a.reqs, req)
	return a.allow, nil
}

func (a *recordingApprover) Requests() []ApprovalRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ApprovalRequest(nil), a.reqs...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AutoApprove = true
	cfg.MemoryEnabled = false
	return cfg
}

// newTestManager returns a manager backed by a file store and a fresh
// workspace directory.
func newTestManager(t *testing.T, p Provider, cfg Config, opts ...ManagerOption) (*Manager, string) {
	t.Helper()
	store := taskstore.NewFileStore(t.TempDir(), discardLogger())
	opts = append([]ManagerOption{WithConfig(cfg), WithLogger(discardLogger())}, opts...)
	m := NewManager(p, store, opts...)
	t.Cleanup(m.Close)
	return m, t.TempDir()
}

// drainEvents returns the events buffered so far.
func drainEvents(m *Manager) []TaskEvent {
	var out []TaskEvent
	for {
		select {
		case ev, ok := <-m.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventsOfKind(evs []TaskEvent, kind EventKind) []TaskEvent {
	var out []TaskEvent
	for _, ev := range evs {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// toolResults returns the tool_result blocks of the history, in order.
func toolResults(msgs []history.Message) []history.ContentBlock {
	var out []history.ContentBlock
	for _, m := range msgs {
		if m.Role != history.RoleUser || m.Content.IsString() {
			continue
		}
		for _, b := range m.Content.Blocks() {
			if b.Type == history.BlockToolResult {
				out = append(out, b)
			}
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }
