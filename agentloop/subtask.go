package agentloop

import (
	"context"
	"fmt"
	"strings"
)

func registerNewTask(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name: "new_task",
			Description: "Delegate a self-contained piece of work to a subtask running in the given mode.\n" +
				"The subtask runs to completion and its result is returned.",
			Parameters: objectSchema(map[string]interface{}{
				"mode":    param("string", "Slug of the mode the subtask starts in."),
				"message": param("string", "Complete instructions for the subtask."),
			}, "mode", "message"),
		},
		Executor: startSubtask,
	})
}

func startSubtask(ctx context.Context, t *Task, call ToolCall) (ToolResult, error) {
	if t.depth >= t.cfg.MaxSubtaskDepth {
		return ToolResult{Output: "Subtasks cannot be created at this depth. Do the work in this task.", IsError: true}, nil
	}
	slug, _ := GetStringArg(call.Args, "mode")
	message, _ := GetStringArg(call.Args, "message")
	if _, ok := t.modes.Get(slug); !ok {
		return ToolResult{
			Output:  fmt.Sprintf("Unknown mode %q. Available modes: %s", slug, strings.Join(t.modes.Slugs(), ", ")),
			IsError: true,
		}, nil
	}

	if !t.approve(ctx, ApprovalRequest{
		Tool:    call.Name,
		Args:    call.Arguments,
		Message: fmt.Sprintf("Start a subtask in %s mode", slug),
		Preview: message,
	}) {
		return ToolResult{Output: deniedResult}, nil
	}

	t.logger.Info("starting subtask", "task", t.id, "mode", slug)
	child, err := t.manager.runSubtask(ctx, t, slug, message)
	if child == nil {
		return ToolResult{}, err
	}
	if err != nil {
		if ctx.Err() != nil {
			return ToolResult{}, ctx.Err()
		}
		return ToolResult{
			Output:  fmt.Sprintf("Subtask %s ended in state %s: %s", child.ID(), child.State(), child.Err()),
			IsError: true,
		}, nil
	}
	return ToolResult{Output: fmt.Sprintf("Subtask %s completed with result:\n%s", child.ID(), child.Result())}, nil
}
