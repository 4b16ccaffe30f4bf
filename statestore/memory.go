package statestore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MercatoLabs/dealkit/tokenizer"
	"github.com/MercatoLabs/dealkit/types"
)

// MemoryBufferStore is an in-process BufferStore for tests and degraded
// operation when Redis is unreachable. TTL expiry is checked lazily on
// access.
type MemoryBufferStore struct {
	mu      sync.RWMutex
	buffers map[string]*memoryBuffer

	maxMessages int
	maxTokens   int
	ttl         time.Duration
	counter     tokenizer.TokenCounter
	now         func() time.Time
}

type memoryBuffer struct {
	messages    []types.Message
	lastUpdated time.Time
}

// NewMemoryBufferStore creates the in-memory buffer tier.
func NewMemoryBufferStore(maxMessages, maxTokens int, ttl time.Duration) *MemoryBufferStore {
	return &MemoryBufferStore{
		buffers:     make(map[string]*memoryBuffer),
		maxMessages: maxMessages,
		maxTokens:   maxTokens,
		ttl:         ttl,
		counter:     tokenizer.Default,
		now:         time.Now,
	}
}

// SetClock overrides the clock for tests.
func (s *MemoryBufferStore) SetClock(now func() time.Time) { s.now = now }

// AddMessage implements BufferStore.
func (s *MemoryBufferStore) AddMessage(ctx context.Context, sessionID string, msg types.Message) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.liveBufferLocked(sessionID)
	if buf == nil {
		buf = &memoryBuffer{}
		s.buffers[sessionID] = buf
	}
	buf.messages = append(buf.messages, msg)
	buf.lastUpdated = s.now()

	if n := len(buf.messages); n > s.maxMessages {
		buf.messages = buf.messages[n-s.maxMessages:]
	}
	total := 0
	for _, m := range buf.messages {
		total += s.counter.CountTokens(m.Content)
	}
	for total > s.maxTokens && len(buf.messages) > 1 {
		total -= s.counter.CountTokens(buf.messages[0].Content)
		buf.messages = buf.messages[1:]
	}
	return nil
}

// GetMessages implements BufferStore.
func (s *MemoryBufferStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	if sessionID == "" {
		return nil, ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.liveBufferLocked(sessionID)
	if buf == nil {
		return nil, nil
	}
	msgs := buf.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]types.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// TrimOldest implements BufferStore.
func (s *MemoryBufferStore) TrimOldest(ctx context.Context, sessionID string, n int) ([]types.Message, error) {
	if sessionID == "" {
		return nil, ErrInvalidID
	}
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.liveBufferLocked(sessionID)
	if buf == nil {
		return nil, nil
	}
	if n > len(buf.messages) {
		n = len(buf.messages)
	}
	removed := make([]types.Message, n)
	copy(removed, buf.messages[:n])
	buf.messages = buf.messages[n:]
	buf.lastUpdated = s.now()
	return removed, nil
}

// Clear implements BufferStore.
func (s *MemoryBufferStore) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, sessionID)
	return nil
}

// Info implements BufferStore.
func (s *MemoryBufferStore) Info(ctx context.Context, sessionID string) (BufferInfo, error) {
	if sessionID == "" {
		return BufferInfo{}, ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.liveBufferLocked(sessionID)
	if buf == nil {
		return BufferInfo{}, nil
	}
	total := 0
	for _, m := range buf.messages {
		total += s.counter.CountTokens(m.Content)
	}
	info := BufferInfo{
		MessageCount: len(buf.messages),
		TotalTokens:  total,
		LastUpdated:  buf.lastUpdated,
	}
	if s.ttl > 0 {
		if remaining := s.ttl - s.now().Sub(buf.lastUpdated); remaining > 0 {
			info.TTLRemaining = remaining
		}
	}
	return info, nil
}

// liveBufferLocked returns the buffer unless its idle TTL has lapsed.
// Callers hold at least a read lock; expired entries are left for the next
// writer to replace.
func (s *MemoryBufferStore) liveBufferLocked(sessionID string) *memoryBuffer {
	buf, ok := s.buffers[sessionID]
	if !ok {
		return nil
	}
	if s.ttl > 0 && s.now().Sub(buf.lastUpdated) > s.ttl {
		return nil
	}
	return buf
}

// MemorySummaryStore is an in-process SummaryStore.
type MemorySummaryStore struct {
	mu      sync.RWMutex
	current map[string]string
	history map[string][]types.Summary
	updated map[string]time.Time

	maxHistory    int
	mergeCount    int
	mergeMaxChars int
	ttl           time.Duration
	now           func() time.Time
}

// NewMemorySummaryStore creates the in-memory summary tier.
func NewMemorySummaryStore(maxHistory, mergeCount, mergeMaxChars int, ttl time.Duration) *MemorySummaryStore {
	return &MemorySummaryStore{
		current:       make(map[string]string),
		history:       make(map[string][]types.Summary),
		updated:       make(map[string]time.Time),
		maxHistory:    maxHistory,
		mergeCount:    mergeCount,
		mergeMaxChars: mergeMaxChars,
		ttl:           ttl,
		now:           time.Now,
	}
}

// SetClock overrides the clock for tests.
func (s *MemorySummaryStore) SetClock(now func() time.Time) { s.now = now }

// AddSummary implements SummaryStore.
func (s *MemorySummaryStore) AddSummary(ctx context.Context, sessionID string, summary types.Summary) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(sessionID)
	s.history[sessionID] = append(s.history[sessionID], summary)
	s.current[sessionID] = summary.Text
	s.updated[sessionID] = s.now()

	if len(s.history[sessionID]) > s.maxHistory {
		s.mergeOldestLocked(sessionID)
	}
	return nil
}

func (s *MemorySummaryStore) mergeOldestLocked(sessionID string) {
	records := s.history[sessionID]
	n := s.mergeCount
	if n > len(records) {
		n = len(records)
	}
	texts := make([]string, 0, n)
	for _, r := range records[:n] {
		texts = append(texts, r.Text)
	}
	mergedText := strings.Join(texts, " ")
	if len(mergedText) > s.mergeMaxChars {
		mergedText = mergedText[:s.mergeMaxChars]
	}
	merged := types.Summary{
		Text:      mergedText,
		Timestamp: s.now().UTC(),
		Metadata:  map[string]any{"merged": true, "merged_count": n},
	}
	s.history[sessionID] = append([]types.Summary{merged}, records[n:]...)
}

// Current implements SummaryStore.
func (s *MemorySummaryStore) Current(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expiredLocked(sessionID) {
		return "", nil
	}
	return s.current[sessionID], nil
}

// History implements SummaryStore.
func (s *MemorySummaryStore) History(ctx context.Context, sessionID string) ([]types.Summary, error) {
	if sessionID == "" {
		return nil, ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expiredLocked(sessionID) {
		return nil, nil
	}
	records := s.history[sessionID]
	out := make([]types.Summary, len(records))
	copy(out, records)
	return out, nil
}

// Clear implements SummaryStore.
func (s *MemorySummaryStore) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.current, sessionID)
	delete(s.history, sessionID)
	delete(s.updated, sessionID)
	return nil
}

func (s *MemorySummaryStore) expiredLocked(sessionID string) bool {
	if s.ttl <= 0 {
		return false
	}
	at, ok := s.updated[sessionID]
	return ok && s.now().Sub(at) > s.ttl
}

func (s *MemorySummaryStore) expireLocked(sessionID string) {
	if s.expiredLocked(sessionID) {
		delete(s.current, sessionID)
		delete(s.history, sessionID)
		delete(s.updated, sessionID)
	}
}
