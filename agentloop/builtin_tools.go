package agentloop

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/martinemde/codeloop/diffstrategy"
	"github.com/martinemde/codeloop/fileedit"
	"github.com/martinemde/codeloop/history"
	"github.com/pmezard/go-difflib/difflib"
)

const defaultReadLimit = 2000

// RegisterBuiltinTools registers the file, search, mode and subtask tools
// on reg.
func RegisterBuiltinTools(reg *ToolRegistry) {
	registerReadFile(reg)
	registerWriteToFile(reg)
	registerApplyDiff(reg)
	registerListFiles(reg)
	registerSearchFiles(reg)
	registerAttemptCompletion(reg)
	registerSwitchMode(reg)
	registerNewTask(reg)
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func param(typ, desc string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": desc}
}

func registerReadFile(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "read_file",
			Description: "Read a file in the workspace. Returns line-numbered content.",
			Parameters: objectSchema(map[string]interface{}{
				"path":   param("string", "Path of the file, relative to the workspace root."),
				"offset": param("integer", "1-based line number to start reading from."),
				"limit":  param("integer", "Maximum number of lines to read. Default: 2000."),
			}, "path"),
		},
		Executor: readFile,
		PathArg:  "path",
	})
}

func readFile(_ context.Context, t *Task, call ToolCall) (ToolResult, error) {
	p, _ := GetStringArg(call.Args, "path")
	rel, err := t.resolvePath(p)
	if err != nil {
		return ToolResult{}, err
	}
	content, err := t.fs.ReadFile(rel)
	if err != nil {
		return ToolResult{}, err
	}

	lines := strings.Split(content, "\n")
	if strings.HasSuffix(content, "\n") {
		lines = lines[:len(lines)-1]
	}
	total := len(lines)

	start := 0
	if offset, ok := GetIntArg(call.Args, "offset"); ok && offset > 0 {
		start = offset - 1
	}
	if total > 0 && start >= total {
		return ToolResult{}, fmt.Errorf("offset %d is past the end of %s (%d lines)", start+1, p, total)
	}
	limit := defaultReadLimit
	if n, ok := GetIntArg(call.Args, "limit"); ok && n > 0 {
		limit = n
	}
	end := total
	if start+limit < end {
		end = start + limit
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	body := TruncateToolOutput(sb.String(), "read_file", t.cfg.ToolOutputLimits, t.cfg.ToolLineLimits)

	meta := "[empty file]"
	if total > 0 {
		meta = fmt.Sprintf("[lines %d-%d of %d]", start+1, end, total)
	}
	slash := filepath.ToSlash(rel)
	return ToolResult{
		Output:  body,
		Blocks:  history.ReadFileResult(call.ID, slash, body, meta),
		Touched: []string{rel},
	}, nil
}

func registerWriteToFile(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name: "write_to_file",
			Description: "Write the complete content of a file, creating it and any missing directories if needed.\n" +
				"The content must be the whole file. Never elide parts of it.",
			Parameters: objectSchema(map[string]interface{}{
				"path":       param("string", "Path of the file, relative to the workspace root."),
				"content":    param("string", "The complete file content."),
				"line_count": param("integer", "Number of lines in content, used to detect truncated output."),
			}, "path", "content"),
		},
		Executor: writeToFile,
		PathArg:  "path",
	})
}

func writeToFile(ctx context.Context, t *Task, call ToolCall) (ToolResult, error) {
	p, _ := GetStringArg(call.Args, "path")
	rel, err := t.resolvePath(p)
	if err != nil {
		return ToolResult{}, err
	}
	content, _ := GetStringArg(call.Args, "content")
	content = stripCodeFences(content)
	if want, ok := GetIntArg(call.Args, "line_count"); ok && want > 0 {
		if got := countLines(content); got < want {
			return ToolResult{}, &diffstrategy.OmissionError{Detail: fmt.Sprintf("line_count is %d but content has %d lines", want, got)}
		}
	}

	if err := t.writer.Open(ctx, rel); err != nil {
		return ToolResult{}, err
	}
	defer t.writer.Reset()

	original := t.writer.OriginalContent()
	if !t.cfg.Diff.AllowPlaceholders {
		if marker, found := diffstrategy.DetectCodeOmission(original, content); found {
			t.discardEdit()
			return ToolResult{}, fmt.Errorf("%w; write the complete file", &diffstrategy.OmissionError{Marker: marker})
		}
	}
	return t.commitEdit(ctx, call, rel, original, content, "")
}

func registerApplyDiff(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name: "apply_diff",
			Description: "Replace sections of an existing file using SEARCH/REPLACE blocks.\n" +
				"Format:\n<<<<<<< SEARCH\n:start_line:N\n-------\n[exact existing content]\n=======\n[new content]\n>>>>>>> REPLACE\n" +
				"Several blocks may be given; they apply in order and all must match.",
			Parameters: objectSchema(map[string]interface{}{
				"path": param("string", "Path of the file, relative to the workspace root."),
				"diff": param("string", "One or more SEARCH/REPLACE blocks."),
			}, "path", "diff"),
		},
		Executor: applyDiff,
		PathArg:  "path",
	})
}

func applyDiff(ctx context.Context, t *Task, call ToolCall) (ToolResult, error) {
	p, _ := GetStringArg(call.Args, "path")
	rel, err := t.resolvePath(p)
	if err != nil {
		return ToolResult{}, err
	}
	if !t.fs.Exists(rel) {
		return ToolResult{}, fmt.Errorf("file does not exist: %s. Use write_to_file to create new files", p)
	}
	diff, _ := GetStringArg(call.Args, "diff")

	if err := t.writer.Open(ctx, rel); err != nil {
		return ToolResult{}, err
	}
	defer t.writer.Reset()

	original := t.writer.OriginalContent()
	res, err := diffstrategy.Apply(original, diff, t.cfg.Diff)
	if err != nil {
		var blockErr *diffstrategy.BlockError
		if errors.As(err, &blockErr) {
			return ToolResult{}, fmt.Errorf("no changes applied to %s: %w\nRead the file again and retry with search text copied exactly", p, err)
		}
		return ToolResult{}, fmt.Errorf("no changes applied to %s: %w", p, err)
	}
	if res.Content == original {
		return ToolResult{Output: fmt.Sprintf("No changes: the replacement text already matches %s.", p)}, nil
	}
	if !t.cfg.Diff.AllowPlaceholders {
		if marker, found := diffstrategy.DetectCodeOmission(original, res.Content); found {
			return ToolResult{}, fmt.Errorf("replacement %w; include the complete code", &diffstrategy.OmissionError{Marker: marker})
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Applied %d block(s):", len(res.Matches))
	for _, m := range res.Matches {
		fmt.Fprintf(&sb, "\n- block %d: %s match at lines %d-%d", m.Block, m.Kind, m.StartLine, m.EndLine)
		if m.Kind == diffstrategy.MatchFuzzy {
			fmt.Fprintf(&sb, " (%.0f%% similar)", m.Score*100)
		}
	}
	return t.commitEdit(ctx, call, rel, original, res.Content, sb.String())
}

// commitEdit asks for approval of the pending edit of rel, then saves it.
// The writer must be open on rel.
func (t *Task) commitEdit(ctx context.Context, call ToolCall, rel, original, content, summary string) (ToolResult, error) {
	slash := filepath.ToSlash(rel)
	ok := t.approve(ctx, ApprovalRequest{
		Tool:    call.Name,
		Args:    call.Arguments,
		Path:    slash,
		Preview: editPreview(slash, original, content),
	})
	if !ok {
		t.discardEdit()
		return ToolResult{Output: deniedResult}, nil
	}

	if err := t.writer.Update(content, true); err != nil {
		t.discardEdit()
		return ToolResult{}, err
	}
	saved, err := t.writer.SaveChanges(ctx)
	if err != nil {
		t.discardEdit()
		return ToolResult{}, err
	}

	var sb strings.Builder
	if t.writer.EditType() == fileedit.EditCreate {
		fmt.Fprintf(&sb, "Created %s.", slash)
	} else {
		fmt.Fprintf(&sb, "Saved changes to %s.", slash)
	}
	if summary != "" {
		sb.WriteString("\n")
		sb.WriteString(summary)
	}
	if saved.UserEdits != "" {
		sb.WriteString("\n\nThe file was changed after it was written. Use this version as the starting point for further edits:\n")
		sb.WriteString(saved.UserEdits)
	}
	if len(saved.NewDiagnostics) > 0 {
		sb.WriteString("\n\nNew problems detected after saving:")
		for _, d := range saved.NewDiagnostics {
			sb.WriteString("\n- ")
			sb.WriteString(d.String())
		}
	}
	return ToolResult{Output: sb.String(), Touched: []string{rel}}, nil
}

func (t *Task) discardEdit() {
	if err := t.writer.RevertChanges(); err != nil {
		t.logger.Warn("revert edit", "task", t.id, "path", t.writer.Path(), "error", err)
	}
}

func editPreview(path, original, content string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(content),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}

// stripCodeFences removes a markdown fence wrapped around the whole
// content.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return s
	}
	first := strings.IndexByte(trimmed, '\n')
	if first < 0 {
		return s
	}
	body := strings.TrimSuffix(trimmed[first+1:], "```")
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return body
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

func registerAttemptCompletion(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "attempt_completion",
			Description: "Finish the task and present the result to the user.",
			Parameters: objectSchema(map[string]interface{}{
				"result": param("string", "The final result. Do not end it with a question."),
			}, "result"),
		},
		Executor: func(_ context.Context, _ *Task, call ToolCall) (ToolResult, error) {
			result, _ := GetStringArg(call.Args, "result")
			return ToolResult{Output: result, Completed: true}, nil
		},
	})
}
