package unifiedllm

import (
	"strings"
	"unicode/utf8"
)

type tagState int

const (
	stateText tagState = iota
	stateTagOpen
)

// thinkingTags lists the tag names whose contents are reclassified as
// reasoning.
var thinkingTags = map[string]bool{
	"think":    true,
	"thinking": true,
}

// maxTagLen bounds the replay buffer; anything longer cannot be a
// recognized tag.
const maxTagLen = len("</thinking>")

// ThinkingTagMatcher splits plain model text into text and reasoning chunks
// by tracking inline <think>/<thinking> tags. Tags may arrive split across
// any number of Feed calls; a partial tag is held in a replay buffer until it
// can be classified.
//
// The zero value is ready to use. A matcher is not safe for concurrent use.
type ThinkingTagMatcher struct {
	state   tagState
	depth   int
	tag     strings.Builder
	pending strings.Builder
	kind    ChunkType
	out     []Chunk
}

// Feed consumes the next piece of text and returns the chunks that can be
// classified so far.
func (m *ThinkingTagMatcher) Feed(text string) []Chunk {
	for _, r := range text {
		switch m.state {
		case stateText:
			if r == '<' {
				m.state = stateTagOpen
				m.tag.WriteRune(r)
				continue
			}
			m.writeRune(r)
		case stateTagOpen:
			if r == '>' {
				m.tag.WriteRune(r)
				m.closeTag()
				continue
			}
			if !m.validTagRune(r) || m.tag.Len()+utf8.RuneLen(r) > maxTagLen {
				m.abandonTag(r)
				continue
			}
			m.tag.WriteRune(r)
		}
	}
	return m.drain()
}

// Flush ends the stream. A partial tag still in the replay buffer is emitted
// as plain text. The matcher is reset afterwards.
func (m *ThinkingTagMatcher) Flush() []Chunk {
	if m.state == stateTagOpen {
		m.flushPending()
		m.kind = ChunkText
		m.pending.WriteString(m.tag.String())
		m.tag.Reset()
		m.state = stateText
	}
	chunks := m.drain()
	m.depth = 0
	return chunks
}

// Depth reports how many recognized tags are currently open.
func (m *ThinkingTagMatcher) Depth() int {
	return m.depth
}

func (m *ThinkingTagMatcher) validTagRune(r rune) bool {
	if r == '/' {
		return m.tag.Len() == 1
	}
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// abandonTag replays the buffered text literally and reprocesses r, which
// may itself open a new tag.
func (m *ThinkingTagMatcher) abandonTag(r rune) {
	buf := m.tag.String()
	m.tag.Reset()
	m.state = stateText
	m.writeString(buf)
	if r == '<' {
		m.state = stateTagOpen
		m.tag.WriteRune(r)
		return
	}
	m.writeRune(r)
}

func (m *ThinkingTagMatcher) closeTag() {
	raw := m.tag.String()
	m.tag.Reset()
	m.state = stateText

	inner := raw[1 : len(raw)-1]
	closing := strings.HasPrefix(inner, "/")
	name := strings.ToLower(strings.TrimPrefix(inner, "/"))
	if thinkingTags[name] {
		switch {
		case !closing:
			m.depth++
			return
		case m.depth > 0:
			m.depth--
			return
		}
	}
	m.writeString(raw)
}

func (m *ThinkingTagMatcher) currentKind() ChunkType {
	if m.depth > 0 {
		return ChunkReasoning
	}
	return ChunkText
}

func (m *ThinkingTagMatcher) writeRune(r rune) {
	m.switchKind()
	m.pending.WriteRune(r)
}

func (m *ThinkingTagMatcher) writeString(s string) {
	if s == "" {
		return
	}
	m.switchKind()
	m.pending.WriteString(s)
}

func (m *ThinkingTagMatcher) switchKind() {
	kind := m.currentKind()
	if kind != m.kind {
		m.flushPending()
		m.kind = kind
	}
}

func (m *ThinkingTagMatcher) flushPending() {
	if m.pending.Len() == 0 {
		return
	}
	kind := m.kind
	if kind == "" {
		kind = ChunkText
	}
	m.out = append(m.out, Chunk{Type: kind, Text: m.pending.String()})
	m.pending.Reset()
}

func (m *ThinkingTagMatcher) drain() []Chunk {
	m.flushPending()
	out := m.out
	m.out = nil
	return out
}
