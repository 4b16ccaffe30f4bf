// Package statestore implements the fast-KV tiers of session memory: the
// ephemeral message buffer and the rolling summary store. Both are backed
// by Redis with TTL-based expiry; in-memory implementations back tests and
// degraded operation. All Redis round-trips run through an optional circuit
// breaker so a dead store degrades the session instead of wedging it.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MercatoLabs/dealkit/config"
	"github.com/MercatoLabs/dealkit/metrics"
	"github.com/MercatoLabs/dealkit/resilience"
	"github.com/MercatoLabs/dealkit/types"
)

// Store errors.
var (
	ErrInvalidID = errors.New("invalid session id")
	ErrNotFound  = errors.New("session not found")
)

// BufferInfo is the buffer tier's metadata for one session.
type BufferInfo struct {
	MessageCount int           `json:"message_count"`
	TotalTokens  int           `json:"total_tokens"`
	TTLRemaining time.Duration `json:"ttl_remaining"`
	LastUpdated  time.Time     `json:"last_updated"`
}

// BufferStore is the ephemeral message buffer tier. Overflow policies are
// enforced after every insert: oldest messages are trimmed first to the
// message bound, then to the token budget.
type BufferStore interface {
	AddMessage(ctx context.Context, sessionID string, msg types.Message) error
	// GetMessages returns messages oldest-first; limit <= 0 returns all.
	GetMessages(ctx context.Context, sessionID string, limit int) ([]types.Message, error)
	// TrimOldest removes and returns the oldest n messages. Used by the
	// summarization trigger to drain the buffer head.
	TrimOldest(ctx context.Context, sessionID string, n int) ([]types.Message, error)
	Clear(ctx context.Context, sessionID string) error
	Info(ctx context.Context, sessionID string) (BufferInfo, error)
}

// SummaryStore is the rolling summary tier: a current consolidated summary
// plus an ordered history. When the history exceeds its bound the oldest
// records are merged into a single record tagged merged.
type SummaryStore interface {
	AddSummary(ctx context.Context, sessionID string, summary types.Summary) error
	Current(ctx context.Context, sessionID string) (string, error)
	History(ctx context.Context, sessionID string) ([]types.Summary, error)
	Clear(ctx context.Context, sessionID string) error
}

// Redis key layout. Keys are flat and session-scoped so TTLs expire a
// session's tiers independently.
func bufferKey(sessionID string) string     { return "buffer:" + sessionID }
func bufferMetaKey(sessionID string) string { return "buffer_meta:" + sessionID }
func summaryKey(sessionID string) string    { return "summary:" + sessionID }
func summaryListKey(sessionID string) string {
	return "summary_list:" + sessionID
}

// NewClient creates the go-redis client for the fast-KV tiers.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
}

// NewBreaker creates the circuit breaker guarding one backing service,
// wired into the global health monitor and the breaker transition metrics.
func NewBreaker(service string, cfg config.BreakerConfig) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(service, cfg.FailureThreshold, cfg.RecoveryTimeout,
		resilience.WithMonitor(resilience.Global()),
		resilience.WithTransitionHook(func(from, to resilience.BreakerState) {
			metrics.RecordBreakerTransition(service, from.String(), to.String())
		}))
}

// guarded runs fn through the breaker when one is configured. Breaker
// rejections surface as service_unavailable so callers degrade.
func guarded(cb *resilience.CircuitBreaker, service string, fn func() error) error {
	if cb == nil {
		return fn()
	}
	if err := cb.Execute(fn); err != nil {
		if errors.Is(err, resilience.ErrBreakerOpen) {
			return resilience.ServiceUnavailable(service, err)
		}
		return fmt.Errorf("%s: %w", service, err)
	}
	return nil
}
