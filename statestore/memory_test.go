package statestore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MercatoLabs/dealkit/types"
)

func TestMemoryBufferStore_OverflowPolicies(t *testing.T) {
	store := NewMemoryBufferStore(3, 4000, time.Hour)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AddMessage(ctx, "s1",
			types.NewMessage("user", fmt.Sprintf("msg %d", i))))
	}

	msgs, err := store.GetMessages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg 2", msgs[0].Content)
}

func TestMemoryBufferStore_TTLExpiry(t *testing.T) {
	store := NewMemoryBufferStore(30, 4000, time.Hour)
	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.AddMessage(ctx, "s1", types.NewMessage("user", "hello")))

	now = now.Add(2 * time.Hour)
	msgs, err := store.GetMessages(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "idle TTL lapsed")

	info, err := store.Info(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, info.MessageCount)
}

func TestMemorySummaryStore_MergePolicy(t *testing.T) {
	store := NewMemorySummaryStore(8, 3, 500, time.Hour)
	ctx := context.Background()

	for i := 1; i <= 9; i++ {
		require.NoError(t, store.AddSummary(ctx, "s1",
			types.NewSummary(fmt.Sprintf("summary %d", i))))
	}

	history, err := store.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 7)
	assert.True(t, history[0].Merged())

	current, err := store.Current(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "summary 9", current)
}

func TestMemorySummaryStore_TTLExpiry(t *testing.T) {
	store := NewMemorySummaryStore(8, 3, 500, time.Hour)
	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.AddSummary(ctx, "s1", types.NewSummary("text")))

	now = now.Add(90 * time.Minute)
	current, err := store.Current(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, current)
}
