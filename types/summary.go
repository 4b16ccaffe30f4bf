package types

import "time"

// Summary is a compressed record of older conversation turns. Summaries are
// kept newest-at-tail in the summary store alongside a single consolidated
// "current" scalar.
type Summary struct {
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewSummary creates a summary stamped with the current time.
func NewSummary(text string) Summary {
	return Summary{
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// Merged reports whether this summary was produced by merging older records.
func (s *Summary) Merged() bool {
	if s.Metadata == nil {
		return false
	}
	merged, _ := s.Metadata["merged"].(bool)
	return merged
}
