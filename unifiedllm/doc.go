// Package unifiedllm is the provider layer of codeloop. It presents every
// LLM backend through one ProviderAdapter contract and normalizes their raw
// streams into Chunks.
//
// # Providers
//
// A Client routes a Request to a registered ProviderAdapter by explicit
// provider name, by catalog lookup of the model, or to the default provider.
// GollmAdapter wraps github.com/teilomillet/gollm and covers OpenAI,
// Anthropic, Gemini, Ollama and the other gollm backends:
//
//	adapter, _ := unifiedllm.NewGollmAdapter("anthropic", os.Getenv("ANTHROPIC_API_KEY"))
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("anthropic", adapter),
//	    unifiedllm.WithRetryPolicy(unifiedllm.DefaultRetryPolicy()),
//	)
//
// Retries only cover opening a stream. Once events flow, failures are
// reported as error chunks and the caller decides what to do.
//
// # Chunks
//
// StreamChunks turns the raw StreamEvent channel into text, reasoning,
// tool_call, usage and error chunks, enforcing an idle timeout between
// events:
//
//	chunks, err := unifiedllm.StreamChunks(ctx, func(ctx context.Context) (<-chan unifiedllm.StreamEvent, error) {
//	    return client.Stream(ctx, req)
//	}, unifiedllm.ChunkOptions{IdleTimeout: 60 * time.Second, ParseThinkingTags: true})
//	for c := range chunks {
//	    ...
//	}
//
// ThinkingTagMatcher reclassifies <think> and <thinking> sections of plain
// text as reasoning, even when tags arrive split across events.
//
// # Model Catalog
//
// GetModelInfo and ListModels expose known models; ModelInfo.Cost prices a
// Usage in USD.
package unifiedllm
