package agentloop

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/martinemde/codeloop/modes"
	"github.com/martinemde/codeloop/unifiedllm"
)

// BuildEnvironmentContext generates the structured environment context block.
func BuildEnvironmentContext(workspace, model, mode string, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Workspace: %s\n", workspace)
	fmt.Fprintf(&sb, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&sb, "Today's date: %s\n", now.Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	fmt.Fprintf(&sb, "Mode: %s\n", mode)
	sb.WriteString("</environment>")
	return sb.String()
}

// promptInput is everything the system prompt is built from.
type promptInput struct {
	mode               modes.Mode
	modes              []modes.Mode
	tools              []unifiedllm.ToolDefinition
	workspace          string
	model              string
	now                time.Time
	customInstructions string
}

const toolRules = `# Tool use

- Use exactly one tool per message. Wait for its result before choosing the next step.
- Every path is relative to the workspace root. Paths outside the workspace are rejected.
- Read a file before editing it. Prefer apply_diff for changes to existing files and write_to_file for new files.
- write_to_file takes the complete file. Never elide code with comments such as "// rest of code unchanged".
- When the task is done, call attempt_completion with a final result. Do not end your message with a question.`

// buildSystemPrompt assembles the system prompt for one request.
func buildSystemPrompt(in promptInput) string {
	var sb strings.Builder
	sb.WriteString(in.mode.RoleDefinition)
	sb.WriteString("\n\n")
	sb.WriteString(toolRules)

	if len(in.tools) > 0 {
		sb.WriteString("\n\n# Available tools\n\n")
		for _, t := range in.tools {
			desc, _, _ := strings.Cut(t.Description, "\n")
			fmt.Fprintf(&sb, "- %s: %s\n", t.Name, desc)
		}
	}

	if len(in.modes) > 1 {
		sb.WriteString("\n# Modes\n\n")
		for _, m := range in.modes {
			fmt.Fprintf(&sb, "- %s (%s): %s\n", m.Slug, m.Name, m.WhenToUse)
		}
		sb.WriteString("\nUse switch_mode to change mode when another one fits the work better.\n")
	}

	sb.WriteString("\n")
	sb.WriteString(BuildEnvironmentContext(in.workspace, in.model, in.mode.Slug, in.now))

	var instructions []string
	if s := strings.TrimSpace(in.customInstructions); s != "" {
		instructions = append(instructions, s)
	}
	if s := strings.TrimSpace(in.mode.CustomInstructions); s != "" {
		instructions = append(instructions, s)
	}
	if len(instructions) > 0 {
		sb.WriteString("\n\n# User instructions\n\n")
		sb.WriteString(strings.Join(instructions, "\n\n"))
	}
	return sb.String()
}
