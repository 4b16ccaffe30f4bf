package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MercatoLabs/dealkit/privacy"
)

// MemoryStore is an in-process SemanticStore with brute-force cosine
// search, for tests and single-node deployments without Milvus.
type MemoryStore struct {
	mu       sync.RWMutex
	byUser   map[string][]storedMemory
	embedder Embedder
	redactor privacy.Redactor
	now      func() time.Time
}

type storedMemory struct {
	memory Memory
	vector []float32
}

// NewMemoryStore creates the in-memory semantic store.
func NewMemoryStore(embedder Embedder, redactor privacy.Redactor) *MemoryStore {
	return &MemoryStore{
		byUser:   make(map[string][]storedMemory),
		embedder: embedder,
		redactor: redactor,
		now:      time.Now,
	}
}

// SetClock overrides the clock for tests.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

// AddMemory implements SemanticStore with the same PII policy as the
// Milvus store.
func (s *MemoryStore) AddMemory(ctx context.Context, userID, text, memType string, metadata map[string]any) error {
	if userID == "" {
		return ErrInvalidUser
	}

	content, redacted, err := gateText(s.redactor, text)
	if err != nil {
		return err
	}
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed memory: %w", err)
	}
	if len(vec) != EmbeddingDim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimMismatch, len(vec), EmbeddingDim)
	}

	m := Memory{
		ID:          uuid.NewString(),
		UserID:      userID,
		Content:     content,
		Type:        memType,
		Metadata:    metadata,
		Timestamp:   s.now().UTC(),
		PIIRedacted: redacted,
	}

	s.mu.Lock()
	s.byUser[userID] = append(s.byUser[userID], storedMemory{memory: m, vector: vec})
	s.mu.Unlock()
	return nil
}

// SearchMemories implements SemanticStore.
func (s *MemoryStore) SearchMemories(ctx context.Context, userID, query string, topK int, threshold float64) ([]Match, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.mu.RLock()
	stored := s.byUser[userID]
	matches := make([]Match, 0, len(stored))
	for _, sm := range stored {
		score := cosine(vec, sm.vector)
		if score >= threshold {
			matches = append(matches, Match{Memory: sm.memory, Score: score})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteUserMemories implements SemanticStore.
func (s *MemoryStore) DeleteUserMemories(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUser
	}
	s.mu.Lock()
	delete(s.byUser, userID)
	s.mu.Unlock()
	return nil
}

// Close implements SemanticStore.
func (s *MemoryStore) Close() error { return nil }

// cosine computes the cosine similarity of two vectors of equal length.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
