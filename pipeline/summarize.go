package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/MercatoLabs/dealkit/logger"
	"github.com/MercatoLabs/dealkit/providers"
	"github.com/MercatoLabs/dealkit/tokenizer"
	"github.com/MercatoLabs/dealkit/types"
)

const (
	keyText    = "text"
	keyChunks  = "chunks"
	keySummary = "summary"
)

const (
	summaryMaxTokens = 150
	summaryMinTokens = 30
	splitChunkChars  = 1600
	degradePrefixLen = 200
)

// TextSplitter joins message contents and splits the result into bounded
// chunks for the summariser.
type TextSplitter struct{}

// Name implements Component.
func (t *TextSplitter) Name() string { return "text_splitter" }

// Run implements Component.
func (t *TextSplitter) Run(ctx context.Context, in Payload) (Payload, string, error) {
	text := in.String(keyText)

	var chunks []string
	for len(text) > splitChunkChars {
		cut := strings.LastIndexByte(text[:splitChunkChars], ' ')
		if cut <= 0 {
			cut = splitChunkChars
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = text[cut:]
	}
	if trimmed := strings.TrimSpace(text); trimmed != "" {
		chunks = append(chunks, trimmed)
	}

	out := in.Clone()
	out[keyChunks] = chunks
	return out, EdgeDefault, nil
}

// Summarizer condenses the chunks into one bounded summary using the
// configured provider.
type Summarizer struct {
	provider providers.Provider
	model    string
	counter  tokenizer.TokenCounter
}

// NewSummarizer creates the summariser component.
func NewSummarizer(provider providers.Provider, model string) *Summarizer {
	return &Summarizer{provider: provider, model: model, counter: tokenizer.Default}
}

// Name implements Component.
func (s *Summarizer) Name() string { return "summarizer" }

// Run implements Component.
func (s *Summarizer) Run(ctx context.Context, in Payload) (Payload, string, error) {
	chunks, _ := in[keyChunks].([]string)
	out := in.Clone()
	if len(chunks) == 0 {
		out[keySummary] = ""
		return out, EdgeDefault, nil
	}

	joined := strings.Join(chunks, "\n")
	resp, err := s.provider.Chat(ctx, providers.ChatRequest{
		Model: s.model,
		System: "Summarize the conversation excerpt below in at most 150 tokens. " +
			"Keep product names, constraints, and decisions. Plain prose, no preamble.",
		Messages: []types.Message{{Role: "user", Content: joined, Timestamp: time.Now().UTC()}},
	})
	if err != nil {
		return out, EdgeError, err
	}

	summary := strings.TrimSpace(resp.Content)
	if s.counter.CountTokens(summary) > summaryMaxTokens {
		summary = truncateToTokens(summary, summaryMaxTokens, s.counter)
	}
	out[keySummary] = summary
	return out, EdgeDefault, nil
}

// truncateToTokens cuts text at a word boundary under the token budget.
func truncateToTokens(text string, budget int, counter tokenizer.TokenCounter) string {
	words := strings.Fields(text)
	for len(words) > 1 && counter.CountTokens(strings.Join(words, " ")) > budget {
		words = words[:len(words)-len(words)/8-1]
	}
	return strings.Join(words, " ")
}

// RollingSummarizer is the assembled summariser with a typed entry point.
type RollingSummarizer struct {
	pipeline *Pipeline
}

// NewRollingSummarizer assembles TextSplitter -> Summarizer.
func NewRollingSummarizer(provider providers.Provider, model string) *RollingSummarizer {
	p := New("rolling_summarizer").
		Add(&TextSplitter{}).
		Add(NewSummarizer(provider, model))
	return &RollingSummarizer{pipeline: p}
}

// Summarize condenses the message contents. On any failure it degrades to
// the first 200 characters of the concatenation plus an ellipsis.
func (rs *RollingSummarizer) Summarize(ctx context.Context, contents []string) string {
	joined := strings.TrimSpace(strings.Join(contents, "\n"))
	if joined == "" {
		return ""
	}

	outputs, _, err := rs.pipeline.Run(ctx, Payload{keyText: joined})
	if err == nil {
		if summary := outputs["summarizer"].String(keySummary); summary != "" {
			return summary
		}
	}
	if err != nil {
		logger.Warn("summariser degraded to truncation", "error", err)
	}

	if len(joined) <= degradePrefixLen {
		return joined
	}
	return joined[:degradePrefixLen] + "..."
}
