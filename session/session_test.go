package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MercatoLabs/dealkit/contract"
	"github.com/MercatoLabs/dealkit/types"
)

func sampleContext(id string) *contract.SessionContext {
	sc := contract.NewSessionContext(id, "purchase_item", time.Now().UTC())
	sc.ProductQuery = "gpu"
	sc.SearchResults = []types.Product{{Name: "Volt GX 4070", Price: 599.0, Rating: 4.7}}
	sc.RecordPipelineExecution("product_search", contract.ExecutionRecord{
		Status:        "success",
		ExecutionTime: 0.2,
		Timestamp:     time.Now().UTC(),
	}, map[string]any{"status": "success", "items_count": 1})
	return sc
}

func TestSaveAndLoadFromProcessCache(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	sc := sampleContext("s1")

	require.NoError(t, store.SaveSessionContext(ctx, sc, map[string]any{"operation_mode": "FULL"}))

	restored, ok, err := store.LoadSessionContext(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "gpu", restored.ProductQuery)
	assert.Len(t, restored.SearchResults, 1)
}

func TestPipelineStateCache(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.SaveSessionContext(ctx, sampleContext("s1"), map[string]any{"operation_mode": "DEGRADED"}))

	state, ok := store.GetPipelineState("s1", "product_search")
	require.True(t, ok)
	assert.Equal(t, "DEGRADED", state.OperationMode)
	assert.Equal(t, "success", state.Status)
	assert.NotNil(t, state.Result)

	_, ok = store.GetPipelineState("s1", "preference_match")
	assert.False(t, ok)
}

func TestPipelineStateExpires(t *testing.T) {
	now := time.Now()
	store := NewStore(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.SaveSessionContext(ctx, sampleContext("s1"), nil))
	now = now.Add(DefaultPipelineStateTTL + time.Second)

	_, ok := store.GetPipelineState("s1", "product_search")
	assert.False(t, ok)
}

func TestLoadFallsBackToDurableStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	durable := NewRedisContextStore(client, time.Hour)

	now := time.Now()
	store := NewStore(WithDurableStore(durable), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.SaveSessionContext(ctx, sampleContext("s1"), nil))

	// Age the process cache past its TTL; the durable copy must serve.
	now = now.Add(DefaultContextCacheTTL + time.Second)
	restored, ok, err := store.LoadSessionContext(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "gpu", restored.ProductQuery)
}

func TestLoadUnknownSession(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(WithDurableStore(NewRedisContextStore(client, time.Hour)))

	_, ok, err := store.LoadSessionContext(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteSession(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(WithDurableStore(NewRedisContextStore(client, time.Hour)))
	ctx := context.Background()

	require.NoError(t, store.SaveSessionContext(ctx, sampleContext("s1"), nil))
	require.NoError(t, store.DeleteSession(ctx, "s1"))

	_, ok, err := store.LoadSessionContext(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("session_ctx:s1"))
}

func TestCleanupSweepsStaleEntries(t *testing.T) {
	now := time.Now()
	store := NewStore(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.SaveSessionContext(ctx, sampleContext("old"), nil))
	now = now.Add(2 * time.Hour)
	require.NoError(t, store.SaveSessionContext(ctx, sampleContext("new"), nil))

	removed := store.Cleanup(time.Hour)
	assert.Equal(t, 2, removed, "stale context plus its pipeline state")

	_, ok, err := store.LoadSessionContext(ctx, "new")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBackgroundSweepStartStop(t *testing.T) {
	store := NewStore()
	store.Start(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	store.Stop()
}

func TestDurableTTLApplied(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	durable := NewRedisContextStore(client, 0)
	ctx := context.Background()

	require.NoError(t, durable.SaveContext(ctx, "s1", map[string]any{"session_id": "s1", "current_state": "start"}))
	ttl := mr.TTL("session_ctx:s1")
	assert.Equal(t, DefaultDurableTTL, ttl)
}
