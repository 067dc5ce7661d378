package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates content blocks.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is a tagged variant. Only the fields for Type are set.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text, and the textual payload of tool_result
	Text string `json:"text,omitempty"`

	// image
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"` // base64

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// Stripped marks a block whose companion payload was removed by
	// deduplication.
	Stripped bool `json:"stripped,omitempty"`
}

// TextBlock creates a text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageBlock creates an image block from base64 data.
func ImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockImage, MediaType: mediaType, Data: data}
}

// ToolUseBlock records a tool invocation proposed by the model.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock records the outcome of a tool invocation.
func ToolResultBlock(toolUseID, text string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Text: text, IsError: isError}
}

// Content is either a plain string or an ordered list of blocks. It
// marshals to a JSON string or array accordingly.
type Content struct {
	text   string
	blocks []ContentBlock
}

// StringContent creates string content.
func StringContent(s string) Content { return Content{text: s} }

// BlockContent creates block content. Blocks keep the given order.
func BlockContent(blocks ...ContentBlock) Content {
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	return Content{blocks: blocks}
}

// IsString reports whether the content is a plain string.
func (c Content) IsString() bool { return c.blocks == nil }

// Blocks returns the content blocks, or nil for string content.
func (c Content) Blocks() []ContentBlock { return c.blocks }

// String returns the plain string, or the text of all text-bearing blocks
// joined by newlines.
func (c Content) String() string {
	if c.IsString() {
		return c.text
	}
	var parts []string
	for _, b := range c.blocks {
		if (b.Type == BlockText || b.Type == BlockToolResult) && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (c Content) clone() Content {
	if c.IsString() {
		return c
	}
	out := make([]ContentBlock, len(c.blocks))
	for i, b := range c.blocks {
		if b.Input != nil {
			b.Input = append(json.RawMessage(nil), b.Input...)
		}
		out[i] = b
	}
	return Content{blocks: out}
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsString() {
		return json.Marshal(c.text)
	}
	return json.Marshal(c.blocks)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{text: s}
		return nil
	case data[0] == '[':
		var blocks []ContentBlock
		if err := json.Unmarshal(data, &blocks); err != nil {
			return err
		}
		*c = BlockContent(blocks...)
		return nil
	}
	return fmt.Errorf("history: content must be a string or an array of blocks, got %q", data[:1])
}

// Message is one turn of the conversation.
type Message struct {
	Role                 Role       `json:"role"`
	Content              Content    `json:"content"`
	Timestamp            *time.Time `json:"ts,omitempty"`
	IsHierarchicalMemory bool       `json:"isHierarchicalMemory,omitempty"`
}

// NewMessage creates a message with block content stamped at ts.
func NewMessage(role Role, ts time.Time, blocks ...ContentBlock) Message {
	return Message{Role: role, Content: BlockContent(blocks...), Timestamp: &ts}
}

// NewTextMessage creates a message with string content stamped at ts.
func NewTextMessage(role Role, ts time.Time, text string) Message {
	return Message{Role: role, Content: StringContent(text), Timestamp: &ts}
}

// Text returns the message's textual content.
func (m Message) Text() string { return m.Content.String() }

// ToolUses returns the tool_use blocks of the message, in order.
func (m Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Content.Blocks() {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	out.Content = m.Content.clone()
	if m.Timestamp != nil {
		ts := *m.Timestamp
		out.Timestamp = &ts
	}
	return out
}
