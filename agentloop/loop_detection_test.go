package agentloop

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/martinemde/codeloop/history"
)

func callHistory(calls ...string) []history.Message {
	ts := time.Now()
	var msgs []history.Message
	for i, c := range calls {
		args := json.RawMessage(fmt.Sprintf(`{"path":%q}`, c))
		msgs = append(msgs,
			history.NewMessage(history.RoleAssistant, ts, history.ToolUseBlock(fmt.Sprintf("c%d", i), "read_file", args)),
			history.NewMessage(history.RoleUser, ts, history.ToolResultBlock(fmt.Sprintf("c%d", i), "ok", false)),
		)
	}
	return msgs
}

func TestDetectLoop(t *testing.T) {
	tests := []struct {
		name  string
		calls []string
		want  bool
	}{
		{"same call repeated", []string{"a", "a", "a", "a", "a", "a"}, true},
		{"alternating pair", []string{"a", "b", "a", "b", "a", "b"}, true},
		{"repeating triple", []string{"a", "b", "c", "a", "b", "c"}, true},
		{"too few calls", []string{"a", "a", "a"}, false},
		{"varied calls", []string{"a", "b", "c", "d", "e", "f"}, false},
		{"broken pattern", []string{"a", "a", "a", "a", "a", "b"}, false},
		{"only recent window counts", []string{"x", "y", "a", "a", "a", "a", "a", "a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLoop(callHistory(tt.calls...), 6); got != tt.want {
				t.Errorf("DetectLoop = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectLoopIgnoresExtraCallsInMessage(t *testing.T) {
	ts := time.Now()
	var msgs []history.Message
	for i := 0; i < 6; i++ {
		msgs = append(msgs, history.NewMessage(history.RoleAssistant, ts,
			history.ToolUseBlock("a", "read_file", json.RawMessage(`{"path":"same"}`)),
			history.ToolUseBlock("b", "read_file", json.RawMessage(fmt.Sprintf(`{"path":"%d"}`, i))),
		))
	}
	if !DetectLoop(msgs, 6) {
		t.Error("only the executed first call should be compared")
	}
}
