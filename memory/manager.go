// Package memory ties the three session-memory tiers together: the
// ephemeral message buffer, the rolling summary store, and the semantic
// vector store. The manager owns the summarization trigger and assembles
// the enhanced context consumed by the contract FSM.
package memory

import (
	"context"
	"time"

	"github.com/MercatoLabs/dealkit/logger"
	"github.com/MercatoLabs/dealkit/metrics"
	"github.com/MercatoLabs/dealkit/statestore"
	"github.com/MercatoLabs/dealkit/types"
	"github.com/MercatoLabs/dealkit/vectorstore"
)

// Trigger bounds. When the buffer reaches the token threshold, the oldest
// batch is drained into the rolling summariser.
const (
	DefaultSummarizeThreshold = 3000
	DefaultSummarizeBatch     = 10
)

// Summarizer condenses message contents into one bounded summary.
// The rolling summariser pipeline satisfies this.
type Summarizer interface {
	Summarize(ctx context.Context, contents []string) string
}

// SummaryRecovery serves summaries from a durable mirror when the fast
// summary tier is unreachable. *statestore.SQLMirror satisfies this.
type SummaryRecovery interface {
	LatestSummaries(ctx context.Context, sessionID string, n int) ([]types.Summary, error)
}

// EnhancedContext is the assembled view of all memory tiers for one
// session, consumed by state handlers and prompt assembly.
type EnhancedContext struct {
	BufferMessages   []types.Message       `json:"buffer_messages"`
	CurrentSummary   string                `json:"current_summary,omitempty"`
	BufferInfo       statestore.BufferInfo `json:"buffer_info"`
	TotalTokens      int                   `json:"total_tokens"`
	MessageCount     int                   `json:"message_count"`
	SemanticMemories []vectorstore.Match   `json:"semantic_memories,omitempty"`
}

// Manager coordinates the memory tiers for all sessions.
type Manager struct {
	buffer    statestore.BufferStore
	summaries statestore.SummaryStore
	semantic  vectorstore.SemanticStore // optional
	recovery  SummaryRecovery // optional
	summarize Summarizer

	threshold int
	batch     int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSemanticStore enables the vector tier.
func WithSemanticStore(s vectorstore.SemanticStore) ManagerOption {
	return func(m *Manager) { m.semantic = s }
}

// WithSummaryRecovery falls back to a durable summary mirror when the fast
// summary tier errors during context assembly.
func WithSummaryRecovery(r SummaryRecovery) ManagerOption {
	return func(m *Manager) { m.recovery = r }
}

// WithTriggerBounds overrides the summarization trigger bounds.
func WithTriggerBounds(threshold, batch int) ManagerOption {
	return func(m *Manager) {
		if threshold > 0 {
			m.threshold = threshold
		}
		if batch > 0 {
			m.batch = batch
		}
	}
}

// NewManager creates a memory manager over the given tiers.
func NewManager(buffer statestore.BufferStore, summaries statestore.SummaryStore, summarize Summarizer, opts ...ManagerOption) *Manager {
	m := &Manager{
		buffer:    buffer,
		summaries: summaries,
		summarize: summarize,
		threshold: DefaultSummarizeThreshold,
		batch:     DefaultSummarizeBatch,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddMessage appends to the buffer and fires the summarization trigger
// when the token count reaches the threshold: the oldest batch drains into
// the summariser and the result lands in the summary store.
func (m *Manager) AddMessage(ctx context.Context, sessionID string, msg types.Message) error {
	if err := m.buffer.AddMessage(ctx, sessionID, msg); err != nil {
		metrics.RecordMemoryOperation("buffer", "add", "error")
		return err
	}
	metrics.RecordMemoryOperation("buffer", "add", "success")

	info, err := m.buffer.Info(ctx, sessionID)
	if err != nil {
		logger.Warn("buffer info unavailable, skipping summarize check",
			"session_id", sessionID, "error", err)
		return nil
	}
	if info.TotalTokens < m.threshold {
		return nil
	}

	removed, err := m.buffer.TrimOldest(ctx, sessionID, m.batch)
	if err != nil {
		logger.Warn("buffer trim failed", "session_id", sessionID, "error", err)
		return nil
	}
	if len(removed) == 0 {
		return nil
	}

	contents := make([]string, 0, len(removed))
	for _, r := range removed {
		contents = append(contents, r.Content)
	}
	text := m.summarize.Summarize(ctx, contents)
	if text == "" {
		return nil
	}

	summary := types.Summary{
		Text:      text,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{"source_messages": len(removed)},
	}
	if err := m.summaries.AddSummary(ctx, sessionID, summary); err != nil {
		metrics.RecordMemoryOperation("summary", "add", "error")
		logger.Warn("summary store write failed", "session_id", sessionID, "error", err)
		return nil
	}
	metrics.RecordMemoryOperation("summary", "add", "success")
	return nil
}

// GetEnhancedContext assembles the cross-tier view. A userID and query
// enable the semantic lookup; either empty skips it. Tier failures degrade
// to partial context rather than erroring the turn.
func (m *Manager) GetEnhancedContext(ctx context.Context, sessionID, userID, query string) EnhancedContext {
	ec := EnhancedContext{}

	messages, err := m.buffer.GetMessages(ctx, sessionID, 0)
	if err != nil {
		logger.Warn("buffer read failed", "session_id", sessionID, "error", err)
	} else {
		ec.BufferMessages = messages
	}

	if info, err := m.buffer.Info(ctx, sessionID); err == nil {
		ec.BufferInfo = info
		ec.TotalTokens = info.TotalTokens
		ec.MessageCount = info.MessageCount
	}

	if current, err := m.summaries.Current(ctx, sessionID); err == nil {
		ec.CurrentSummary = current
	} else {
		logger.Warn("summary read failed", "session_id", sessionID, "error", err)
		if m.recovery != nil {
			if records, rerr := m.recovery.LatestSummaries(ctx, sessionID, 1); rerr == nil && len(records) > 0 {
				ec.CurrentSummary = records[0].Text
				logger.Info("summary recovered from mirror", "session_id", sessionID)
			}
		}
	}

	if m.semantic != nil && userID != "" && query != "" {
		matches, err := m.semantic.SearchMemories(ctx, userID, query,
			vectorstore.DefaultTopK, vectorstore.DefaultThreshold)
		if err != nil {
			metrics.RecordMemoryOperation("semantic", "search", "error")
			logger.Warn("semantic search failed", "session_id", sessionID, "error", err)
		} else {
			metrics.RecordMemoryOperation("semantic", "search", "success")
			ec.SemanticMemories = matches
		}
	}
	return ec
}

// RememberFact stores a long-term semantic memory for the user. A no-op
// when the semantic tier is not configured.
func (m *Manager) RememberFact(ctx context.Context, userID, text, memType string, metadata map[string]any) error {
	if m.semantic == nil {
		return nil
	}
	if err := m.semantic.AddMemory(ctx, userID, text, memType, metadata); err != nil {
		metrics.RecordMemoryOperation("semantic", "add", "error")
		return err
	}
	metrics.RecordMemoryOperation("semantic", "add", "success")
	return nil
}

// ClearSession drops the buffer and summary tiers for a session. Semantic
// memories are user-scoped and survive session teardown.
func (m *Manager) ClearSession(ctx context.Context, sessionID string) error {
	if err := m.buffer.Clear(ctx, sessionID); err != nil {
		return err
	}
	return m.summaries.Clear(ctx, sessionID)
}

// ForgetUser removes all semantic memories for a user.
func (m *Manager) ForgetUser(ctx context.Context, userID string) error {
	if m.semantic == nil {
		return nil
	}
	return m.semantic.DeleteUserMemories(ctx, userID)
}
