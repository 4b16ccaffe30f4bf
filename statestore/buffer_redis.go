package statestore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MercatoLabs/dealkit/resilience"
	"github.com/MercatoLabs/dealkit/tokenizer"
	"github.com/MercatoLabs/dealkit/types"
)

const serviceRedis = "redis"

// RedisBufferStore is the Redis-backed message buffer. Messages live as
// versioned envelopes in a list at buffer:<sid>; metadata in a hash at
// buffer_meta:<sid>. Both carry the idle TTL, refreshed on every write.
type RedisBufferStore struct {
	client *redis.Client
	ttl    time.Duration

	maxMessages int
	maxTokens   int

	counter tokenizer.TokenCounter
	breaker *resilience.CircuitBreaker
	now     func() time.Time
}

// BufferOption configures a RedisBufferStore.
type BufferOption func(*RedisBufferStore)

// WithBufferBreaker routes Redis calls through a circuit breaker.
func WithBufferBreaker(cb *resilience.CircuitBreaker) BufferOption {
	return func(s *RedisBufferStore) { s.breaker = cb }
}

// WithBufferTokenCounter overrides the token counter.
func WithBufferTokenCounter(c tokenizer.TokenCounter) BufferOption {
	return func(s *RedisBufferStore) { s.counter = c }
}

// WithBufferClock overrides the clock for tests.
func WithBufferClock(now func() time.Time) BufferOption {
	return func(s *RedisBufferStore) { s.now = now }
}

// NewRedisBufferStore creates the buffer tier with the given bounds.
func NewRedisBufferStore(client *redis.Client, maxMessages, maxTokens int, ttl time.Duration, opts ...BufferOption) *RedisBufferStore {
	s := &RedisBufferStore{
		client:      client,
		ttl:         ttl,
		maxMessages: maxMessages,
		maxTokens:   maxTokens,
		counter:     tokenizer.Default,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddMessage appends the message and enforces both overflow policies:
// trim oldest until the message bound holds, then until the token budget
// holds. Metadata and TTLs are refreshed in the same round-trip.
func (s *RedisBufferStore) AddMessage(ctx context.Context, sessionID string, msg types.Message) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	data, err := types.MarshalEnvelope(&msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return guarded(s.breaker, serviceRedis, func() error {
		key := bufferKey(sessionID)
		if err := s.client.RPush(ctx, key, data).Err(); err != nil {
			return fmt.Errorf("redis rpush failed: %w", err)
		}

		messages, err := s.loadAll(ctx, sessionID)
		if err != nil {
			return err
		}

		drop := s.overflowCount(messages)
		kept := messages[drop:]
		if drop > 0 {
			if err := s.client.LTrim(ctx, key, int64(drop), -1).Err(); err != nil {
				return fmt.Errorf("redis ltrim failed: %w", err)
			}
		}

		return s.writeMeta(ctx, sessionID, kept)
	})
}

// overflowCount returns how many oldest messages must be dropped to
// satisfy the message bound and then the token budget.
func (s *RedisBufferStore) overflowCount(messages []types.Message) int {
	drop := 0
	if n := len(messages); n > s.maxMessages {
		drop = n - s.maxMessages
	}

	total := 0
	for _, m := range messages[drop:] {
		total += s.counter.CountTokens(m.Content)
	}
	for total > s.maxTokens && drop < len(messages)-1 {
		total -= s.counter.CountTokens(messages[drop].Content)
		drop++
	}
	return drop
}

// writeMeta refreshes the metadata hash and both TTLs in one pipeline.
func (s *RedisBufferStore) writeMeta(ctx context.Context, sessionID string, messages []types.Message) error {
	total := 0
	for _, m := range messages {
		total += s.counter.CountTokens(m.Content)
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, bufferMetaKey(sessionID), map[string]any{
		"message_count": len(messages),
		"total_tokens":  total,
		"last_updated":  s.now().UTC().Format(time.RFC3339Nano),
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, bufferKey(sessionID), s.ttl)
		pipe.Expire(ctx, bufferMetaKey(sessionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// GetMessages returns the newest `limit` messages oldest-first; limit <= 0
// returns the whole buffer.
func (s *RedisBufferStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	if sessionID == "" {
		return nil, ErrInvalidID
	}

	var messages []types.Message
	err := guarded(s.breaker, serviceRedis, func() error {
		start := int64(0)
		if limit > 0 {
			start = int64(-limit)
		}
		vals, err := s.client.LRange(ctx, bufferKey(sessionID), start, -1).Result()
		if err != nil {
			return fmt.Errorf("redis lrange failed: %w", err)
		}
		messages = make([]types.Message, 0, len(vals))
		for _, v := range vals {
			var m types.Message
			if err := types.UnmarshalEnvelope([]byte(v), &m); err != nil {
				return fmt.Errorf("unwrap message: %w", err)
			}
			messages = append(messages, m)
		}
		return nil
	})
	return messages, err
}

// TrimOldest removes and returns the oldest n messages, refreshing the
// metadata for the remainder.
func (s *RedisBufferStore) TrimOldest(ctx context.Context, sessionID string, n int) ([]types.Message, error) {
	if sessionID == "" {
		return nil, ErrInvalidID
	}
	if n <= 0 {
		return nil, nil
	}

	var removed []types.Message
	err := guarded(s.breaker, serviceRedis, func() error {
		messages, err := s.loadAll(ctx, sessionID)
		if err != nil {
			return err
		}
		if n > len(messages) {
			n = len(messages)
		}
		removed = messages[:n]

		if err := s.client.LTrim(ctx, bufferKey(sessionID), int64(n), -1).Err(); err != nil {
			return fmt.Errorf("redis ltrim failed: %w", err)
		}
		return s.writeMeta(ctx, sessionID, messages[n:])
	})
	return removed, err
}

// Clear removes the buffer and its metadata.
func (s *RedisBufferStore) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	return guarded(s.breaker, serviceRedis, func() error {
		if err := s.client.Del(ctx, bufferKey(sessionID), bufferMetaKey(sessionID)).Err(); err != nil {
			return fmt.Errorf("redis del failed: %w", err)
		}
		return nil
	})
}

// Info returns the buffer metadata. A session with no buffer yields zero
// values rather than an error.
func (s *RedisBufferStore) Info(ctx context.Context, sessionID string) (BufferInfo, error) {
	if sessionID == "" {
		return BufferInfo{}, ErrInvalidID
	}

	var info BufferInfo
	err := guarded(s.breaker, serviceRedis, func() error {
		pipe := s.client.Pipeline()
		metaCmd := pipe.HGetAll(ctx, bufferMetaKey(sessionID))
		ttlCmd := pipe.TTL(ctx, bufferKey(sessionID))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis pipeline failed: %w", err)
		}

		meta := metaCmd.Val()
		info.MessageCount, _ = strconv.Atoi(meta["message_count"])
		info.TotalTokens, _ = strconv.Atoi(meta["total_tokens"])
		if ts := meta["last_updated"]; ts != "" {
			info.LastUpdated, _ = time.Parse(time.RFC3339Nano, ts)
		}
		if ttl := ttlCmd.Val(); ttl > 0 {
			info.TTLRemaining = ttl
		}
		return nil
	})
	return info, err
}

// loadAll reads the full buffer list.
func (s *RedisBufferStore) loadAll(ctx context.Context, sessionID string) ([]types.Message, error) {
	vals, err := s.client.LRange(ctx, bufferKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}
	messages := make([]types.Message, 0, len(vals))
	for _, v := range vals {
		var m types.Message
		if err := types.UnmarshalEnvelope([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("unwrap message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}
