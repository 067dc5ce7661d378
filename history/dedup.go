package history

import (
	"fmt"
	"regexp"
	"time"
)

// DedupWindow is how old a superseded file read must be before its body is
// stripped.
const DedupWindow = 30 * time.Minute

var readFileMarker = regexp.MustCompile(`^\[read_file for '(.+)'\] Result:$`)

// ReadFileMarker returns the first block text of a read_file result.
func ReadFileMarker(path string) string {
	return fmt.Sprintf("[read_file for '%s'] Result:", path)
}

// ReadFileResult builds the three block shape of a read_file result:
// marker, body, metadata.
func ReadFileResult(toolUseID, path, body, metadata string) []ContentBlock {
	marker := TextBlock(ReadFileMarker(path))
	if toolUseID != "" {
		marker = ToolResultBlock(toolUseID, ReadFileMarker(path), false)
	}
	return []ContentBlock{marker, TextBlock(body), TextBlock(metadata)}
}

// readFilePath returns the path of a read_file result message, or "" when
// m does not have that shape.
func readFilePath(m Message) string {
	if m.Role != RoleUser {
		return ""
	}
	blocks := m.Content.Blocks()
	if len(blocks) != 3 {
		return ""
	}
	first := blocks[0]
	if first.Type != BlockText && first.Type != BlockToolResult {
		return ""
	}
	match := readFileMarker.FindStringSubmatch(first.Text)
	if match == nil {
		return ""
	}
	return match[1]
}

// DeduplicateReadFileHistory strips the body of read_file results that a
// later read of the same path supersedes and that are older than
// DedupWindow. Entries without a timestamp count as old. The marker and
// metadata blocks stay in place. It returns the number of entries stripped
// and is idempotent.
func (c *Conversation) DeduplicateReadFileHistory(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	latest := make(map[string]int)
	paths := make([]string, len(c.messages))
	for i, m := range c.messages {
		if p := readFilePath(m); p != "" {
			paths[i] = p
			latest[p] = i
		}
	}

	stripped := 0
	for i, p := range paths {
		if p == "" || latest[p] == i {
			continue
		}
		m := c.messages[i]
		if m.Timestamp != nil && now.Sub(*m.Timestamp) <= DedupWindow {
			continue
		}
		blocks := m.Content.Blocks()
		marker := blocks[0]
		marker.Stripped = true
		c.messages[i].Content = BlockContent(marker, blocks[2])
		stripped++
	}
	return stripped
}
