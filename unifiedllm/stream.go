package unifiedllm

import (
	"context"
	"time"
)

// ChunkType identifies the kind of a normalized stream chunk.
type ChunkType string

const (
	ChunkText      ChunkType = "text"
	ChunkReasoning ChunkType = "reasoning"
	ChunkToolCall  ChunkType = "tool_call"
	ChunkUsage     ChunkType = "usage"
	ChunkError     ChunkType = "error"
)

// Chunk is one element of the normalized, provider-independent stream.
type Chunk struct {
	Type ChunkType `json:"type"`

	// Text is set for text and reasoning chunks.
	Text string `json:"text,omitempty"`

	ToolCall *ToolCall `json:"tool_call,omitempty"`

	Usage     *Usage   `json:"usage,omitempty"`
	TotalCost *float64 `json:"total_cost,omitempty"`

	// Err and Message are set for error chunks. Message is safe to show
	// to a user.
	Err     error  `json:"-"`
	Message string `json:"message,omitempty"`
}

// ChunkOptions configures StreamChunks.
type ChunkOptions struct {
	// IdleTimeout aborts the stream when no event arrives for this long.
	// The window restarts on every event. Zero disables it.
	IdleTimeout time.Duration

	// ParseThinkingTags routes text through a ThinkingTagMatcher.
	ParseThinkingTags bool

	// Model is used to price usage when the final response does not name
	// one.
	Model string

	// Buffer is the output channel capacity. Defaults to 64.
	Buffer int
}

// StreamOpener starts one provider request. The context it receives is
// cancelled when the consumer cancels or the idle timeout fires.
type StreamOpener func(ctx context.Context) (<-chan StreamEvent, error)

// StreamChunks opens a provider stream and converts its raw events into
// Chunks on the returned channel. The channel is closed after the stream
// finishes, fails, times out or ctx is cancelled. The sequence is single
// pass; retrying means calling StreamChunks again.
func StreamChunks(ctx context.Context, open StreamOpener, opts ChunkOptions) (<-chan Chunk, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	events, err := open(streamCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	size := opts.Buffer
	if size <= 0 {
		size = 64
	}
	out := make(chan Chunk, size)

	go func() {
		defer close(out)
		defer cancel()

		tr := newChunkTransformer(opts)

		var timeout <-chan time.Time
		var timer *time.Timer
		if opts.IdleTimeout > 0 {
			timer = time.NewTimer(opts.IdleTimeout)
			defer timer.Stop()
			timeout = timer.C
		}

		send := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		aborted := func() {
			abort := &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: ctx.Err()}}
			select {
			case out <- Chunk{Type: ChunkError, Err: abort, Message: "request cancelled"}:
			default:
			}
		}

		for {
			select {
			case <-ctx.Done():
				aborted()
				return

			case <-timeout:
				cancel()
				err := newIdleTimeoutError(opts.IdleTimeout)
				for _, c := range tr.flush() {
					if !send(c) {
						return
					}
				}
				send(Chunk{Type: ChunkError, Err: err, Message: UserFacingMessage(err)})
				return

			case ev, ok := <-events:
				if !ok {
					if ctx.Err() != nil {
						aborted()
						return
					}
					for _, c := range tr.flush() {
						if !send(c) {
							return
						}
					}
					return
				}
				if timer != nil {
					timer.Reset(opts.IdleTimeout)
				}
				for _, c := range tr.transform(ev) {
					if !send(c) {
						return
					}
				}
				if ev.Type == StreamError {
					return
				}
			}
		}
	}()

	return out, nil
}

// chunkTransformer holds the per-request classification state.
type chunkTransformer struct {
	opts      ChunkOptions
	matcher   *ThinkingTagMatcher
	toolCalls map[string]bool
	flushed   bool
}

func newChunkTransformer(opts ChunkOptions) *chunkTransformer {
	t := &chunkTransformer{opts: opts, toolCalls: make(map[string]bool)}
	if opts.ParseThinkingTags {
		t.matcher = &ThinkingTagMatcher{}
	}
	return t
}

func (t *chunkTransformer) transform(ev StreamEvent) []Chunk {
	switch ev.Type {
	case TextDelta:
		if ev.Delta == "" {
			return nil
		}
		if t.matcher != nil {
			return t.matcher.Feed(ev.Delta)
		}
		return []Chunk{{Type: ChunkText, Text: ev.Delta}}

	case ReasoningDelta:
		if ev.ReasoningDelta == "" {
			return nil
		}
		return []Chunk{{Type: ChunkReasoning, Text: ev.ReasoningDelta}}

	case ToolCallEnd:
		if ev.ToolCall == nil {
			return nil
		}
		return t.toolCall(*ev.ToolCall)

	case StreamFinish:
		chunks := t.flush()
		if ev.Response != nil {
			for _, tc := range ev.Response.ToolCallsFromResponse() {
				chunks = append(chunks, t.toolCall(tc)...)
			}
		}
		usage := ev.Usage
		if usage == nil && ev.Response != nil {
			usage = &ev.Response.Usage
		}
		if usage != nil {
			model := t.opts.Model
			if ev.Response != nil && ev.Response.Model != "" {
				model = ev.Response.Model
			}
			u := *usage
			chunks = append(chunks, Chunk{Type: ChunkUsage, Usage: &u, TotalCost: GetModelInfo(model).Cost(u)})
		}
		return chunks

	case StreamError:
		chunks := t.flush()
		err := ev.Error
		if err == nil {
			err = &StreamErrorType{SDKError: SDKError{Message: "stream error"}}
		}
		return append(chunks, Chunk{Type: ChunkError, Err: err, Message: UserFacingMessage(err)})
	}
	return nil
}

func (t *chunkTransformer) toolCall(tc ToolCall) []Chunk {
	if tc.ID != "" {
		if t.toolCalls[tc.ID] {
			return nil
		}
		t.toolCalls[tc.ID] = true
	}
	call := tc
	return []Chunk{{Type: ChunkToolCall, ToolCall: &call}}
}

func (t *chunkTransformer) flush() []Chunk {
	if t.matcher == nil || t.flushed {
		return nil
	}
	t.flushed = true
	return t.matcher.Flush()
}
