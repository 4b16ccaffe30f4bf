// Package tokenizer provides token counting for memory-buffer management.
//
// The buffer overflow policy and the summarization trigger both operate on
// token budgets, not byte lengths. Exact counts are unnecessary for these
// decisions, so the default implementation is a word-ratio heuristic; an
// exact tokenizer can be plugged in through the TokenCounter interface.
package tokenizer

import (
	"strings"
	"sync"
)

// TokenCounter estimates or computes token counts for text.
type TokenCounter interface {
	// CountTokens returns the token count for the given text.
	CountTokens(text string) int

	// CountMultiple returns the total token count for multiple segments.
	CountMultiple(texts []string) int
}

// defaultRatio is a conservative tokens-per-word estimate for English text
// across common chat-model tokenizers.
const defaultRatio = 1.35

// HeuristicCounter estimates token counts from whitespace-delimited words.
// It is safe for concurrent use.
type HeuristicCounter struct {
	mu    sync.RWMutex
	ratio float64
}

// NewHeuristicCounter creates a counter with the default ratio.
func NewHeuristicCounter() *HeuristicCounter {
	return &HeuristicCounter{ratio: defaultRatio}
}

// NewHeuristicCounterWithRatio creates a counter with a measured ratio.
func NewHeuristicCounterWithRatio(ratio float64) *HeuristicCounter {
	if ratio <= 0 {
		ratio = defaultRatio
	}
	return &HeuristicCounter{ratio: ratio}
}

// CountTokens estimates the token count for text. Returns 0 for empty text.
func (h *HeuristicCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	h.mu.RLock()
	ratio := h.ratio
	h.mu.RUnlock()

	return int(float64(len(strings.Fields(text))) * ratio)
}

// CountMultiple returns the total token count for multiple segments.
func (h *HeuristicCounter) CountMultiple(texts []string) int {
	total := 0
	for _, text := range texts {
		total += h.CountTokens(text)
	}
	return total
}

// SetRatio updates the tokens-per-word ratio. Non-positive values are ignored.
func (h *HeuristicCounter) SetRatio(ratio float64) {
	if ratio <= 0 {
		return
	}
	h.mu.Lock()
	h.ratio = ratio
	h.mu.Unlock()
}

// Default is the package-level counter used when no counter is injected.
var Default = NewHeuristicCounter()

// CountTokens is a convenience function using the default counter.
func CountTokens(text string) int {
	return Default.CountTokens(text)
}
