package agentloop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/martinemde/codeloop/taskstore"
)

func TestCreateTaskValidation(t *testing.T) {
	m, root := newTestManager(t, newScriptedProvider(), testConfig())
	file := filepath.Join(root, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		root   string
		prompt string
	}{
		{"empty prompt", root, "   "},
		{"empty root", "", "do it"},
		{"missing root", filepath.Join(root, "nope"), "do it"},
		{"root is a file", file, "do it"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.CreateTask(context.Background(), tt.root, tt.prompt, ProviderConfig{Model: "test-model"}); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestCreateTaskUnknownDefaultMode(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultMode = "nope"
	m, root := newTestManager(t, newScriptedProvider(), cfg)
	if _, err := m.CreateTask(context.Background(), root, "do it", ProviderConfig{}); err == nil {
		t.Fatal("expected unknown mode error")
	}
}

func TestCreateTaskPersistsInitialState(t *testing.T) {
	m, root := newTestManager(t, newScriptedProvider(), testConfig())
	ctx := context.Background()

	task, err := m.CreateTask(ctx, root, "fix the build", ProviderConfig{Model: "test-model", Temperature: ptr(0.7)})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.State() != StateIdle || task.Mode() != "code" {
		t.Errorf("state=%s mode=%s", task.State(), task.Mode())
	}

	st, err := m.LoadState(ctx, task.ID())
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.Status != taskstore.StatusActive || st.Revision != 1 || st.Temperature != 0.7 {
		t.Errorf("status=%s revision=%d temperature=%v", st.Status, st.Revision, st.Temperature)
	}
	if len(st.History) != 1 || st.History[0].Text() != "<task>\nfix the build\n</task>" {
		t.Errorf("history = %+v", st.History)
	}
	if st.WorkspaceRoot != root || st.Prompt != "fix the build" {
		t.Errorf("workspace=%s prompt=%q", st.WorkspaceRoot, st.Prompt)
	}
}

func TestResumeTaskAppendsFollowUp(t *testing.T) {
	p := newScriptedProvider(completeTurn("c1", "first"), completeTurn("c2", "second"))
	m, root := newTestManager(t, p, testConfig())
	ctx := context.Background()

	task, err := m.CreateTask(ctx, root, "first part", ProviderConfig{Model: "test-model", Temperature: ptr(0.5)})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := task.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := task.Run(ctx); !errors.Is(err, ErrTaskFinished) {
		t.Fatalf("second Run = %v, want ErrTaskFinished", err)
	}

	resumed, err := m.ResumeTask(ctx, task.ID(), "now the second part")
	if err != nil {
		t.Fatalf("ResumeTask: %v", err)
	}
	if resumed.State() != StateIdle || resumed.Result() != "" {
		t.Errorf("resumed state=%s result=%q", resumed.State(), resumed.Result())
	}
	if got := resumed.Temperature(); got == nil || *got != 0.5 {
		t.Errorf("resumed temperature = %v, want 0.5", got)
	}
	msgs := resumed.History()
	last := msgs[len(msgs)-1].Text()
	if !strings.Contains(last, "[TASK RESUMPTION]") || !strings.Contains(last, "now the second part") {
		t.Errorf("last message = %q", last)
	}

	if err := resumed.Run(ctx); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if resumed.Result() != "second" {
		t.Errorf("result = %q, want second", resumed.Result())
	}

	st, err := m.LoadState(ctx, task.ID())
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.Status != taskstore.StatusCompleted || len(st.History) != len(resumed.History()) {
		t.Errorf("status=%s messages=%d", st.Status, len(st.History))
	}
}

func TestResumeTaskNotFound(t *testing.T) {
	m, _ := newTestManager(t, newScriptedProvider(), testConfig())
	if _, err := m.ResumeTask(context.Background(), "missing", ""); !errors.Is(err, taskstore.ErrTaskNotFound) {
		t.Fatalf("ResumeTask = %v, want ErrTaskNotFound", err)
	}
}

func TestDeleteTask(t *testing.T) {
	m, root := newTestManager(t, newScriptedProvider(), testConfig())
	ctx := context.Background()

	task, err := m.CreateTask(ctx, root, "throwaway", ProviderConfig{Model: "test-model"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := m.DeleteTask(ctx, task.ID()); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, ok := m.Task(task.ID()); ok {
		t.Error("deleted task is still tracked")
	}
	if _, err := m.LoadState(ctx, task.ID()); !errors.Is(err, taskstore.ErrTaskNotFound) {
		t.Errorf("LoadState after delete = %v", err)
	}
	list, err := m.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("ListTasks = %+v", list)
	}
}

func TestDeleteRunningTaskStaysDeleted(t *testing.T) {
	p := &blockingProvider{started: make(chan struct{})}
	m, root := newTestManager(t, p, testConfig())
	ctx := context.Background()

	task, err := m.CreateTask(ctx, root, "wait", ProviderConfig{Model: "test-model"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()

	select {
	case <-p.started:
	case <-time.After(5 * time.Second):
		t.Fatal("provider was never called")
	}
	if err := m.DeleteTask(ctx, task.ID()); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if task.Running() {
		t.Error("DeleteTask returned while the task was still running")
	}

	select {
	case err := <-done:
		var term *TerminalError
		if !errors.As(err, &term) || term.State != StateAborted {
			t.Errorf("expected aborted TerminalError, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("task did not stop after delete")
	}
	if st, err := m.LoadState(ctx, task.ID()); !errors.Is(err, taskstore.ErrTaskNotFound) {
		t.Errorf("deleted task came back: state=%+v err=%v", st, err)
	}
}

func TestNewTaskRunsSubtask(t *testing.T) {
	p := newScriptedProvider(
		toolTurn(scriptedCall{"c1", "new_task", map[string]interface{}{"mode": "ask", "message": "summarize the repo"}}),
		completeTurn("s1", "it is a small repo"),
		completeTurn("c2", "done"),
	)
	m, root := newTestManager(t, p, testConfig())
	ctx := context.Background()

	parent, err := m.CreateTask(ctx, root, "delegate", ProviderConfig{Model: "test-model"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := parent.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	results := toolResults(parent.History())
	if results[0].IsError || !strings.Contains(results[0].Text, "it is a small repo") {
		t.Errorf("subtask result = %+v", results[0])
	}

	reqs := p.Requests()
	for _, tool := range reqs[1].Tools {
		if tool.Name == "new_task" {
			t.Error("subtask should not be offered new_task")
		}
		if tool.Name == "write_to_file" {
			t.Error("ask mode should not be offered write_to_file")
		}
	}

	list, err := m.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(list))
	}
	var children int
	for _, s := range list {
		if s.ParentID == parent.ID() {
			children++
			if s.Status != taskstore.StatusCompleted || s.Mode != "ask" {
				t.Errorf("child summary = %+v", s)
			}
		}
	}
	if children != 1 {
		t.Errorf("children = %d, want 1", children)
	}
}

func TestSubtaskDepthLimit(t *testing.T) {
	p := newScriptedProvider(
		toolTurn(scriptedCall{"c1", "new_task", map[string]interface{}{"mode": "code", "message": "nested"}}),
		completeTurn("c2", "done"),
	)
	cfg := testConfig()
	cfg.MaxSubtaskDepth = 0
	m, root := newTestManager(t, p, cfg)

	task, err := m.CreateTask(context.Background(), root, "delegate", ProviderConfig{Model: "test-model"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	results := toolResults(task.History())
	if !results[0].IsError || !strings.Contains(results[0].Text, "Subtasks cannot be created") {
		t.Errorf("depth limit result = %+v", results[0])
	}
}
