package agentloop

import (
	"context"
	"fmt"
	"strings"
)

func registerSwitchMode(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "switch_mode",
			Description: "Switch the task to another mode, changing the role and the tools available.",
			Parameters: objectSchema(map[string]interface{}{
				"mode_slug": param("string", "Slug of the mode to switch to, such as code or architect."),
				"reason":    param("string", "Why the switch is needed."),
			}, "mode_slug"),
		},
		Executor: switchMode,
	})
}

func switchMode(ctx context.Context, t *Task, call ToolCall) (ToolResult, error) {
	slug, _ := GetStringArg(call.Args, "mode_slug")
	reason, _ := GetStringArg(call.Args, "reason")
	target, ok := t.modes.Get(slug)
	if !ok {
		return ToolResult{
			Output:  fmt.Sprintf("Unknown mode %q. Available modes: %s", slug, strings.Join(t.modes.Slugs(), ", ")),
			IsError: true,
		}, nil
	}

	current := t.Mode()
	if current == slug {
		t.emit(EventModeUnchanged, map[string]interface{}{"mode": slug})
		return ToolResult{Output: fmt.Sprintf("Already in %s mode; nothing changed.", target.Name)}, nil
	}

	msg := fmt.Sprintf("Switch from %s to %s mode", current, slug)
	if reason != "" {
		msg += ": " + reason
	}
	if !t.approve(ctx, ApprovalRequest{Tool: call.Name, Args: call.Arguments, Message: msg}) {
		return ToolResult{Output: deniedResult}, nil
	}

	t.setMode(slug)
	t.emit(EventModeSwitched, map[string]interface{}{"from": current, "to": slug, "reason": reason})
	t.logger.Info("mode switched", "task", t.id, "from", current, "to", slug)

	out := fmt.Sprintf("Switched from %s to %s mode.", current, slug)
	if reason != "" {
		out += " Reason: " + reason
	}
	return ToolResult{Output: out}, nil
}
