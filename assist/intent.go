package assist

import (
	"context"
	"strings"
)

// Intent classifies what a turn asks the system to do.
type Intent string

// Intents routed by the orchestrator.
const (
	IntentContract Intent = "contract"
	IntentTool     Intent = "tool"
	IntentRAG      Intent = "rag"
	IntentChat     Intent = "chat"
)

var intentSchema = mustSchema(`{
	"type": "object",
	"properties": {
		"intent": {"type": "string", "enum": ["contract", "tool", "rag", "chat"]}
	},
	"required": ["intent"]
}`)

// Keyword catalogs for the classification fallback. Purchase phrasing must
// win over the rest so a shopping request always reaches the contract flow.
var (
	contractPhrases = []string{
		"buy", "purchase", "order a", "order an", "shopping for",
		"looking for a", "looking for an", "find me a", "find me an",
		"i want a", "i want an", "i need a", "i need an",
	}
	toolPhrases = []string{"calculate", "convert", "remind me", "set a timer", "weather"}
	ragPhrases  = []string{"what is", "what are", "how does", "how do", "explain", "tell me about"}
)

// ClassifyIntent decides how the orchestrator should route a turn. The
// keyword fallback fires on any LLM failure.
func (h *Helper) ClassifyIntent(ctx context.Context, text string) Intent {
	system := "Classify the user's intent as one of: contract (wants to buy or shop for a product), " +
		"tool (wants a utility action), rag (asks a knowledge question), chat (anything else). " +
		"Respond with JSON only: {\"intent\": \"...\"}."

	var out struct {
		Intent string `json:"intent"`
	}
	if err := h.chatJSON(ctx, system, text, intentSchema, &out); err == nil {
		switch Intent(out.Intent) {
		case IntentContract, IntentTool, IntentRAG, IntentChat:
			return Intent(out.Intent)
		}
	}
	return fallbackIntent(text)
}

func fallbackIntent(text string) Intent {
	lower := strings.ToLower(text)
	for _, p := range contractPhrases {
		if strings.Contains(lower, p) {
			return IntentContract
		}
	}
	for _, p := range toolPhrases {
		if strings.Contains(lower, p) {
			return IntentTool
		}
	}
	for _, p := range ragPhrases {
		if strings.Contains(lower, p) {
			return IntentRAG
		}
	}
	return IntentChat
}
