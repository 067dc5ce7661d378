package unifiedllm

// ModelInfo describes a known model in the catalog. Prices are USD per
// million tokens.
type ModelInfo struct {
	ID                string   `json:"id"`
	Provider          string   `json:"provider"`
	DisplayName       string   `json:"display_name"`
	ContextWindow     int      `json:"context_window"`
	MaxOutput         int      `json:"max_output"`
	SupportsReasoning bool     `json:"supports_reasoning"`
	SupportsGrounding bool     `json:"supports_grounding"`
	InputPrice        *float64 `json:"input_price,omitempty"`
	OutputPrice       *float64 `json:"output_price,omitempty"`
	CacheReadPrice    *float64 `json:"cache_read_price,omitempty"`
	CacheWritePrice   *float64 `json:"cache_write_price,omitempty"`
	Aliases           []string `json:"aliases,omitempty"`
}

func price(v float64) *float64 { return &v }

// Models is the built-in model catalog.
var Models = []ModelInfo{
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: 64000, SupportsReasoning: true,
		InputPrice: price(3.0), OutputPrice: price(15.0), CacheReadPrice: price(0.30), CacheWritePrice: price(3.75),
		Aliases: []string{"sonnet"},
	},
	{
		ID: "claude-opus-4-6", Provider: "anthropic", DisplayName: "Claude Opus 4.6",
		ContextWindow: 200000, MaxOutput: 32000, SupportsReasoning: true,
		InputPrice: price(15.0), OutputPrice: price(75.0), CacheReadPrice: price(1.50), CacheWritePrice: price(18.75),
		Aliases: []string{"opus"},
	},
	{
		ID: "claude-haiku-4-5", Provider: "anthropic", DisplayName: "Claude Haiku 4.5",
		ContextWindow: 200000, MaxOutput: 64000,
		InputPrice: price(1.0), OutputPrice: price(5.0), CacheReadPrice: price(0.10), CacheWritePrice: price(1.25),
		Aliases: []string{"haiku"},
	},
	{
		ID: "gpt-5.2", Provider: "openai", DisplayName: "GPT-5.2",
		ContextWindow: 400000, MaxOutput: 128000, SupportsReasoning: true,
		InputPrice: price(1.75), OutputPrice: price(14.0), CacheReadPrice: price(0.175),
	},
	{
		ID: "gpt-5-mini", Provider: "openai", DisplayName: "GPT-5 Mini",
		ContextWindow: 400000, MaxOutput: 128000, SupportsReasoning: true,
		InputPrice: price(0.25), OutputPrice: price(2.0), CacheReadPrice: price(0.025),
	},
	{
		ID: "gemini-2.5-pro", Provider: "gemini", DisplayName: "Gemini 2.5 Pro",
		ContextWindow: 1048576, MaxOutput: 65536, SupportsReasoning: true, SupportsGrounding: true,
		InputPrice: price(1.25), OutputPrice: price(10.0), CacheReadPrice: price(0.31),
	},
	{
		ID: "gemini-2.5-flash", Provider: "gemini", DisplayName: "Gemini 2.5 Flash",
		ContextWindow: 1048576, MaxOutput: 65536, SupportsReasoning: true, SupportsGrounding: true,
		InputPrice: price(0.30), OutputPrice: price(2.50), CacheReadPrice: price(0.075),
	},
	{
		ID: "qwen3-coder", Provider: "ollama", DisplayName: "Qwen3 Coder (local)",
		ContextWindow: 262144, MaxOutput: 32768,
		InputPrice: price(0), OutputPrice: price(0),
	},
}

// GetModelInfo returns the catalog entry for a model id or alias, or nil.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	var result []ModelInfo
	for _, m := range Models {
		if provider == "" || m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// DefaultModel returns the first catalog model for a provider, or nil.
func DefaultModel(provider string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider {
			return &Models[i]
		}
	}
	return nil
}

// Cost computes the USD cost of u. It returns nil when the model has no
// input or output price. Cached input tokens are billed at the cache rates
// and excluded from the plain input count.
func (m *ModelInfo) Cost(u Usage) *float64 {
	if m == nil || m.InputPrice == nil || m.OutputPrice == nil {
		return nil
	}
	input := u.InputTokens
	total := 0.0
	if u.CacheReadTokens != nil {
		input -= *u.CacheReadTokens
		rate := *m.InputPrice
		if m.CacheReadPrice != nil {
			rate = *m.CacheReadPrice
		}
		total += float64(*u.CacheReadTokens) * rate
	}
	if u.CacheWriteTokens != nil {
		input -= *u.CacheWriteTokens
		rate := *m.InputPrice
		if m.CacheWritePrice != nil {
			rate = *m.CacheWritePrice
		}
		total += float64(*u.CacheWriteTokens) * rate
	}
	if input < 0 {
		input = 0
	}
	total += float64(input) * *m.InputPrice
	total += float64(u.OutputTokens) * *m.OutputPrice
	total /= 1_000_000
	return &total
}
