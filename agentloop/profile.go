package agentloop

import (
	"regexp"
	"strings"

	"github.com/martinemde/codeloop/unifiedllm"
)

// defaultContextWindow is assumed for models missing from the catalog.
const defaultContextWindow = 128000

// ProviderProfile holds what the loop may assume about the provider and
// model a task talks to.
type ProviderProfile struct {
	Provider          string
	Model             string
	ContextWindow     int
	SupportsReasoning bool

	// GroundedAnswers means the model may legitimately answer with cited
	// search results instead of calling a tool.
	GroundedAnswers bool
}

// ProfileFor builds a profile from the model catalog.
func ProfileFor(provider, model string) ProviderProfile {
	p := ProviderProfile{Provider: provider, Model: model, ContextWindow: defaultContextWindow}
	if info := unifiedllm.GetModelInfo(model); info != nil {
		if p.Provider == "" {
			p.Provider = info.Provider
		}
		if info.ContextWindow > 0 {
			p.ContextWindow = info.ContextWindow
		}
		p.SupportsReasoning = info.SupportsReasoning
		p.GroundedAnswers = info.SupportsGrounding
	}
	return p
}

var citationMarker = regexp.MustCompile(`\[\d+\]`)

// isGroundedAnswer reports whether text carries citation markers and the
// profile accepts such answers without a tool call.
func (p ProviderProfile) isGroundedAnswer(text string) bool {
	if !p.GroundedAnswers {
		return false
	}
	return citationMarker.MatchString(text) || strings.Contains(text, "Sources:")
}
