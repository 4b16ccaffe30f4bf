package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MercatoLabs/dealkit/resilience"
	"github.com/MercatoLabs/dealkit/types"
)

// setupBufferStore creates a buffer store backed by miniredis.
func setupBufferStore(t *testing.T, maxMessages, maxTokens int, opts ...BufferOption) (*RedisBufferStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisBufferStore(client, maxMessages, maxTokens, 6*time.Hour, opts...)
	return store, mr
}

func TestBufferStore_AddAndGet(t *testing.T) {
	store, _ := setupBufferStore(t, 30, 4000)
	ctx := context.Background()

	require.NoError(t, store.AddMessage(ctx, "s1", types.NewMessage("user", "hello")))
	require.NoError(t, store.AddMessage(ctx, "s1", types.NewMessage("assistant", "hi there")))

	msgs, err := store.GetMessages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestBufferStore_GetWithLimit(t *testing.T) {
	store, _ := setupBufferStore(t, 30, 4000)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AddMessage(ctx, "s1",
			types.NewMessage("user", fmt.Sprintf("msg %d", i))))
	}

	msgs, err := store.GetMessages(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "msg 3", msgs[0].Content)
	assert.Equal(t, "msg 4", msgs[1].Content)
}

func TestBufferStore_MessageBoundTrimsOldest(t *testing.T) {
	store, _ := setupBufferStore(t, 3, 4000)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AddMessage(ctx, "s1",
			types.NewMessage("user", fmt.Sprintf("msg %d", i))))
	}

	msgs, err := store.GetMessages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg 2", msgs[0].Content)
	assert.Equal(t, "msg 4", msgs[2].Content)
}

func TestBufferStore_TokenBudgetTrimsOldest(t *testing.T) {
	// ~100 words per message at ratio 1.35 is ~135 tokens each; a 300
	// token budget holds two messages.
	store, _ := setupBufferStore(t, 30, 300)
	ctx := context.Background()

	long := strings.Repeat("word ", 100)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.AddMessage(ctx, "s1", types.NewMessage("user", long)))
	}

	info, err := store.Info(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, info.MessageCount)
	assert.LessOrEqual(t, info.TotalTokens, 300)
}

func TestBufferStore_Info(t *testing.T) {
	fixed := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	store, _ := setupBufferStore(t, 30, 4000,
		WithBufferClock(func() time.Time { return fixed }))
	ctx := context.Background()

	require.NoError(t, store.AddMessage(ctx, "s1", types.NewMessage("user", "one two three")))

	info, err := store.Info(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, info.MessageCount)
	assert.Equal(t, 4, info.TotalTokens) // 3 words * 1.35
	assert.Equal(t, fixed, info.LastUpdated)
	assert.Greater(t, info.TTLRemaining, 5*time.Hour)
}

func TestBufferStore_InfoEmptySession(t *testing.T) {
	store, _ := setupBufferStore(t, 30, 4000)

	info, err := store.Info(context.Background(), "missing")
	require.NoError(t, err)
	assert.Zero(t, info.MessageCount)
	assert.Zero(t, info.TTLRemaining)
}

func TestBufferStore_Clear(t *testing.T) {
	store, mr := setupBufferStore(t, 30, 4000)
	ctx := context.Background()

	require.NoError(t, store.AddMessage(ctx, "s1", types.NewMessage("user", "hello")))
	require.NoError(t, store.Clear(ctx, "s1"))

	msgs, err := store.GetMessages(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.False(t, mr.Exists("buffer_meta:s1"))
}

func TestBufferStore_TTLSetOnWrite(t *testing.T) {
	store, mr := setupBufferStore(t, 30, 4000)
	ctx := context.Background()

	require.NoError(t, store.AddMessage(ctx, "s1", types.NewMessage("user", "hello")))
	assert.Greater(t, mr.TTL("buffer:s1"), time.Duration(0))
	assert.Greater(t, mr.TTL("buffer_meta:s1"), time.Duration(0))
}

func TestBufferStore_WireFormatIsVersionedEnvelope(t *testing.T) {
	store, mr := setupBufferStore(t, 30, 4000)
	ctx := context.Background()

	require.NoError(t, store.AddMessage(ctx, "s1", types.NewMessage("user", "hello")))

	raw, err := mr.List("buffer:s1")
	require.NoError(t, err)
	require.Len(t, raw, 1)

	var env types.Envelope
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &env))
	assert.Equal(t, types.EnvelopeVersion, env.Version)
	assert.NotEmpty(t, env.Timestamp)

	var msg types.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "hello", msg.Content)
}

func TestBufferStore_RejectsEnvelopeWithoutData(t *testing.T) {
	store, mr := setupBufferStore(t, 30, 4000)

	mr.Lpush("buffer:s1", `{"version":"1.0","timestamp":"2026-03-01T10:00:00Z"}`)

	_, err := store.GetMessages(context.Background(), "s1", 0)
	assert.ErrorIs(t, err, types.ErrMissingData)
}

func TestBufferStore_InvalidID(t *testing.T) {
	store, _ := setupBufferStore(t, 30, 4000)
	ctx := context.Background()

	assert.ErrorIs(t, store.AddMessage(ctx, "", types.Message{}), ErrInvalidID)
	_, err := store.GetMessages(ctx, "", 0)
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestBufferStore_BreakerOpenDegradesToServiceUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cb := resilience.NewCircuitBreaker("redis", 2, time.Minute)
	store := NewRedisBufferStore(client, 30, 4000, time.Hour, WithBufferBreaker(cb))
	ctx := context.Background()

	mr.Close() // all calls now fail
	for i := 0; i < 2; i++ {
		require.Error(t, store.AddMessage(ctx, "s1", types.NewMessage("user", "x")))
	}

	err := store.AddMessage(ctx, "s1", types.NewMessage("user", "x"))
	require.Error(t, err)
	var rerr *resilience.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, resilience.KindServiceUnavailable, rerr.Kind)
}
