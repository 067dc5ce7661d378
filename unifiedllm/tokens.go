package unifiedllm

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// EstimateTokens approximates the token count of text with the cl100k_base
// encoding. It falls back to four bytes per token if the codec is unavailable.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	c, err := getCodec()
	if err != nil {
		return (len(text) + 3) / 4
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}

// EstimateMessageTokens sums EstimateTokens over every text-bearing part.
func EstimateMessageTokens(msgs []Message) int {
	total := 0
	for _, msg := range msgs {
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				total += EstimateTokens(part.Text)
			case ContentToolCall:
				if part.ToolCall != nil {
					total += EstimateTokens(part.ToolCall.Name) + EstimateTokens(string(part.ToolCall.Arguments))
				}
			case ContentToolResult:
				if part.ToolResult != nil {
					total += EstimateTokens(part.ToolResult.Content)
				}
			}
		}
	}
	return total
}
