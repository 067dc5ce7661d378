package agentloop

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/martinemde/codeloop/history"
	"github.com/martinemde/codeloop/unifiedllm"
)

// strippedNote stands in for a read_file body removed by deduplication.
const strippedNote = "(file content omitted: a later read_file result for this path supersedes it)"

// ConvertHistoryToMessages converts the task history into provider
// messages. A user entry that answers a tool call becomes one tool message
// per tool_result block; the entry's remaining text blocks are appended to
// the first result.
func ConvertHistoryToMessages(msgs []history.Message) []unifiedllm.Message {
	var out []unifiedllm.Message
	for _, m := range msgs {
		switch m.Role {
		case history.RoleAssistant:
			out = append(out, convertAssistant(m))
		default:
			out = append(out, convertUser(m)...)
		}
	}
	return out
}

func convertAssistant(m history.Message) unifiedllm.Message {
	msg := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
	if m.Content.IsString() {
		msg.Content = append(msg.Content, unifiedllm.TextPart(m.Content.String()))
		return msg
	}
	for _, b := range m.Content.Blocks() {
		switch b.Type {
		case history.BlockText:
			if b.Text != "" {
				msg.Content = append(msg.Content, unifiedllm.TextPart(b.Text))
			}
		case history.BlockToolUse:
			input := b.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			msg.Content = append(msg.Content, unifiedllm.ToolCallPart(b.ID, b.Name, input))
		}
	}
	return msg
}

func convertUser(m history.Message) []unifiedllm.Message {
	if m.Content.IsString() {
		return []unifiedllm.Message{unifiedllm.UserMessage(m.Content.String())}
	}

	blocks := m.Content.Blocks()
	var results []unifiedllm.Message
	var extra []string
	user := unifiedllm.Message{Role: unifiedllm.RoleUser}
	for _, b := range blocks {
		switch b.Type {
		case history.BlockToolResult:
			text := b.Text
			if b.Stripped {
				text += "\n" + strippedNote
			}
			results = append(results, unifiedllm.Message{
				Role:    unifiedllm.RoleTool,
				Content: []unifiedllm.ContentPart{unifiedllm.ToolResultPart(b.ToolUseID, text, b.IsError)},
			})
		case history.BlockText:
			text := b.Text
			if b.Stripped {
				text += "\n" + strippedNote
			}
			extra = append(extra, text)
			user.Content = append(user.Content, unifiedllm.TextPart(text))
		case history.BlockImage:
			data, err := base64.StdEncoding.DecodeString(b.Data)
			if err != nil {
				continue
			}
			user.Content = append(user.Content, unifiedllm.ImageDataPart(data, b.MediaType))
		}
	}

	if len(results) == 0 {
		return []unifiedllm.Message{user}
	}
	if len(extra) > 0 {
		first := results[0].Content[0].ToolResult
		first.Content = strings.Join(append([]string{first.Content}, extra...), "\n")
	}
	return results
}
