package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDurableTTL bounds how long a stored projection survives without
// activity before the store expires it.
const DefaultDurableTTL = 24 * time.Hour

func contextKey(sessionID string) string { return "session_ctx:" + sessionID }

// RedisContextStore is the Redis-backed DurableStore.
type RedisContextStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisContextStore creates the durable projection store. A zero ttl
// uses the default.
func NewRedisContextStore(client *redis.Client, ttl time.Duration) *RedisContextStore {
	if ttl <= 0 {
		ttl = DefaultDurableTTL
	}
	return &RedisContextStore{client: client, ttl: ttl}
}

// SaveContext implements DurableStore.
func (s *RedisContextStore) SaveContext(ctx context.Context, sessionID string, projection map[string]any) error {
	data, err := json.Marshal(projection)
	if err != nil {
		return fmt.Errorf("marshal context projection: %w", err)
	}
	if err := s.client.Set(ctx, contextKey(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// LoadContext implements DurableStore.
func (s *RedisContextStore) LoadContext(ctx context.Context, sessionID string) (map[string]any, bool, error) {
	raw, err := s.client.Get(ctx, contextKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	var projection map[string]any
	if err := json.Unmarshal(raw, &projection); err != nil {
		return nil, false, fmt.Errorf("unmarshal context projection: %w", err)
	}
	return projection, true, nil
}

// DeleteContext implements DurableStore.
func (s *RedisContextStore) DeleteContext(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, contextKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
