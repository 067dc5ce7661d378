package history

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestContentJSONShapes(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		want    string
	}{
		{"string", StringContent("hi"), `"hi"`},
		{"blocks", BlockContent(TextBlock("a"), ToolResultBlock("t1", "ok", false)), `[{"type":"text","text":"a"},{"type":"tool_result","text":"ok","tool_use_id":"t1"}]`},
		{"empty blocks", BlockContent(), `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.content)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, data)
			}

			var back Content
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back.IsString() != tt.content.IsString() {
				t.Errorf("shape changed: string=%v", back.IsString())
			}
			if len(back.Blocks()) != len(tt.content.Blocks()) {
				t.Errorf("expected %d blocks, got %d", len(tt.content.Blocks()), len(back.Blocks()))
			}
		})
	}
}

func TestContentUnmarshalRejectsObjects(t *testing.T) {
	var c Content
	err := json.Unmarshal([]byte(`{"type":"text"}`), &c)
	if err == nil || !strings.Contains(err.Error(), "string or an array") {
		t.Errorf("expected shape error, got %v", err)
	}
}

func TestMessageRoundTripKeepsBlockOrder(t *testing.T) {
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	msg := NewMessage(RoleAssistant, ts,
		TextBlock("thinking about it"),
		ToolUseBlock("call_1", "read_file", json.RawMessage(`{"path":"a.go"}`)),
		TextBlock("after"),
	)
	msg.IsHierarchicalMemory = true

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"isHierarchicalMemory":true`) {
		t.Errorf("expected isHierarchicalMemory key in %s", data)
	}
	var back Message
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	blocks := back.Content.Blocks()
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
	order := []BlockType{BlockText, BlockToolUse, BlockText}
	for i, want := range order {
		if blocks[i].Type != want {
			t.Errorf("block %d: expected %s, got %s", i, want, blocks[i].Type)
		}
	}
	if !back.Timestamp.Equal(ts) {
		t.Errorf("timestamp changed: %v", back.Timestamp)
	}
	if !back.IsHierarchicalMemory {
		t.Error("expected memory flag preserved")
	}
	if uses := back.ToolUses(); len(uses) != 1 || uses[0].Name != "read_file" {
		t.Errorf("unexpected tool uses: %+v", uses)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	c := NewConversation(nil)
	c.Append(NewMessage(RoleUser, time.Now(), TextBlock("original")))

	snap := c.Snapshot()
	snap[0].Content.Blocks()[0].Text = "mutated"
	*snap[0].Timestamp = time.Time{}

	again := c.Snapshot()
	if again[0].Text() != "original" {
		t.Errorf("snapshot mutation leaked into conversation: %q", again[0].Text())
	}
	if again[0].Timestamp.IsZero() {
		t.Error("timestamp mutation leaked into conversation")
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 message, got %d", c.Len())
	}
}

func TestContentString(t *testing.T) {
	c := BlockContent(TextBlock("a"), ImageBlock("image/png", "AAAA"), ToolResultBlock("t", "b", false))
	if got := c.String(); got != "a\nb" {
		t.Errorf("expected %q, got %q", "a\nb", got)
	}
}
