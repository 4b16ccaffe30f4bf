package statestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MercatoLabs/dealkit/logger"
	"github.com/MercatoLabs/dealkit/privacy"
	"github.com/MercatoLabs/dealkit/resilience"
	"github.com/MercatoLabs/dealkit/types"
)

// summaryPIIThreshold is the density above which summary text is redacted
// before any durable write. Matches the semantic store's redaction gate.
const summaryPIIThreshold = 0.25

// RedisSummaryStore is the rolling summary tier. The current consolidated
// summary lives at summary:<sid>; the ordered history at
// summary_list:<sid>. Both carry the 24h TTL. A durable SQL mirror, when
// configured, receives best-effort copies for recovery.
type RedisSummaryStore struct {
	client *redis.Client
	ttl    time.Duration

	maxHistory    int
	mergeCount    int
	mergeMaxChars int

	breaker  *resilience.CircuitBreaker
	mirror   *SQLMirror
	redactor privacy.Redactor
	now      func() time.Time
}

// SummaryOption configures a RedisSummaryStore.
type SummaryOption func(*RedisSummaryStore)

// WithSummaryBreaker routes Redis calls through a circuit breaker.
func WithSummaryBreaker(cb *resilience.CircuitBreaker) SummaryOption {
	return func(s *RedisSummaryStore) { s.breaker = cb }
}

// WithSummaryMirror mirrors summaries to a durable SQL store.
func WithSummaryMirror(m *SQLMirror) SummaryOption {
	return func(s *RedisSummaryStore) { s.mirror = m }
}

// WithSummaryRedactor gates summary text through the PII policy before the
// Redis write and the SQL mirror.
func WithSummaryRedactor(r privacy.Redactor) SummaryOption {
	return func(s *RedisSummaryStore) { s.redactor = r }
}

// WithSummaryClock overrides the clock for tests.
func WithSummaryClock(now func() time.Time) SummaryOption {
	return func(s *RedisSummaryStore) { s.now = now }
}

// NewRedisSummaryStore creates the summary tier. History beyond maxHistory
// records triggers a merge of the oldest mergeCount records.
func NewRedisSummaryStore(client *redis.Client, maxHistory, mergeCount, mergeMaxChars int, ttl time.Duration, opts ...SummaryOption) *RedisSummaryStore {
	s := &RedisSummaryStore{
		client:        client,
		ttl:           ttl,
		maxHistory:    maxHistory,
		mergeCount:    mergeCount,
		mergeMaxChars: mergeMaxChars,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddSummary appends to the history, promotes the new text to the current
// consolidated summary, refreshes TTLs, and applies the merge policy. The
// append, set, and expires run in one pipeline.
func (s *RedisSummaryStore) AddSummary(ctx context.Context, sessionID string, summary types.Summary) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	if s.redactor != nil && !s.redactor.IsTextSafeForStorage(summary.Text, summaryPIIThreshold) {
		summary.Text = s.redactor.Redact(summary.Text, privacy.MethodPlaceholder)
		if summary.Metadata == nil {
			summary.Metadata = map[string]any{}
		}
		summary.Metadata["pii_redacted"] = true
	}
	data, err := types.MarshalEnvelope(&summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	err = guarded(s.breaker, serviceRedis, func() error {
		pipe := s.client.Pipeline()
		pipe.RPush(ctx, summaryListKey(sessionID), data)
		pipe.Set(ctx, summaryKey(sessionID), summary.Text, s.ttl)
		if s.ttl > 0 {
			pipe.Expire(ctx, summaryListKey(sessionID), s.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis pipeline failed: %w", err)
		}
		return s.applyMergePolicy(ctx, sessionID)
	})
	if err != nil {
		return err
	}

	if s.mirror != nil {
		if merr := s.mirror.SaveSummary(ctx, sessionID, summary); merr != nil {
			logger.Warn("summary SQL mirror write failed",
				"session_id", sessionID, "error", merr)
		}
	}
	return nil
}

// applyMergePolicy merges the oldest records into one truncated record
// tagged merged once the history exceeds its bound.
func (s *RedisSummaryStore) applyMergePolicy(ctx context.Context, sessionID string) error {
	key := summaryListKey(sessionID)
	count, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis llen failed: %w", err)
	}
	if int(count) <= s.maxHistory {
		return nil
	}

	vals, err := s.client.LRange(ctx, key, 0, int64(s.mergeCount-1)).Result()
	if err != nil {
		return fmt.Errorf("redis lrange failed: %w", err)
	}

	texts := make([]string, 0, len(vals))
	for _, v := range vals {
		var sm types.Summary
		if err := types.UnmarshalEnvelope([]byte(v), &sm); err != nil {
			return fmt.Errorf("unwrap summary: %w", err)
		}
		texts = append(texts, sm.Text)
	}

	mergedText := strings.Join(texts, " ")
	if len(mergedText) > s.mergeMaxChars {
		mergedText = mergedText[:s.mergeMaxChars]
	}
	merged := types.Summary{
		Text:      mergedText,
		Timestamp: s.now().UTC(),
		Metadata:  map[string]any{"merged": true, "merged_count": len(vals)},
	}
	mergedData, err := types.MarshalEnvelope(&merged)
	if err != nil {
		return fmt.Errorf("marshal merged summary: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.LTrim(ctx, key, int64(len(vals)), -1)
	pipe.LPush(ctx, key, mergedData)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// Current returns the consolidated summary, "" when none exists.
func (s *RedisSummaryStore) Current(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrInvalidID
	}

	var current string
	err := guarded(s.breaker, serviceRedis, func() error {
		val, err := s.client.Get(ctx, summaryKey(sessionID)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return fmt.Errorf("redis get failed: %w", err)
		}
		current = val
		return nil
	})
	return current, err
}

// History returns the summary records oldest-first.
func (s *RedisSummaryStore) History(ctx context.Context, sessionID string) ([]types.Summary, error) {
	if sessionID == "" {
		return nil, ErrInvalidID
	}

	var summaries []types.Summary
	err := guarded(s.breaker, serviceRedis, func() error {
		vals, err := s.client.LRange(ctx, summaryListKey(sessionID), 0, -1).Result()
		if err != nil {
			return fmt.Errorf("redis lrange failed: %w", err)
		}
		summaries = make([]types.Summary, 0, len(vals))
		for _, v := range vals {
			var sm types.Summary
			if err := types.UnmarshalEnvelope([]byte(v), &sm); err != nil {
				return fmt.Errorf("unwrap summary: %w", err)
			}
			summaries = append(summaries, sm)
		}
		return nil
	})
	return summaries, err
}

// Clear removes the current summary and the history.
func (s *RedisSummaryStore) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	return guarded(s.breaker, serviceRedis, func() error {
		if err := s.client.Del(ctx, summaryKey(sessionID), summaryListKey(sessionID)).Err(); err != nil {
			return fmt.Errorf("redis del failed: %w", err)
		}
		return nil
	})
}
