// Package vectorstore implements the semantic long-term memory tier: a
// cosine-indexed vector collection keyed by user id. Text is embedded via
// an injected Embedder; storage is PII-gated through the privacy redactor.
package vectorstore

import (
	"context"
	"errors"
	"time"
)

// Collection geometry. The embedding model and the collection schema must
// agree on the dimension.
const (
	EmbeddingDim     = 384
	DefaultTopK      = 3
	DefaultThreshold = 0.7
)

// Store errors.
var (
	ErrUnsafeText  = errors.New("text rejected by PII safety check")
	ErrDimMismatch = errors.New("embedding dimension mismatch")
	ErrInvalidUser = errors.New("invalid user id")
)

// Memory is one stored semantic memory.
type Memory struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Content     string         `json:"content"`
	Type        string         `json:"type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	PIIRedacted bool           `json:"pii_redacted,omitempty"`
}

// Match is a search hit with its cosine similarity score.
type Match struct {
	Memory Memory  `json:"memory"`
	Score  float64 `json:"score"`
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// SemanticStore is the vector memory tier.
type SemanticStore interface {
	// AddMemory embeds and stores text for a user. Text flagged unsafe by
	// the PII gate is either rejected or stored redacted, per store policy.
	AddMemory(ctx context.Context, userID, text, memType string, metadata map[string]any) error

	// SearchMemories returns matches above the similarity threshold,
	// best-first, at most topK.
	SearchMemories(ctx context.Context, userID, query string, topK int, threshold float64) ([]Match, error)

	// DeleteUserMemories removes every memory for a user.
	DeleteUserMemories(ctx context.Context, userID string) error

	Close() error
}
