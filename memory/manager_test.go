package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MercatoLabs/dealkit/statestore"
	"github.com/MercatoLabs/dealkit/types"
)

// recordingSummarizer captures the contents fed to it.
type recordingSummarizer struct {
	calls    int
	lastSeen []string
	result   string
}

func (r *recordingSummarizer) Summarize(ctx context.Context, contents []string) string {
	r.calls++
	r.lastSeen = contents
	return r.result
}

func newTestManager(opts ...ManagerOption) (*Manager, *statestore.MemoryBufferStore, *statestore.MemorySummaryStore, *recordingSummarizer) {
	buffer := statestore.NewMemoryBufferStore(30, 100000, time.Hour)
	summaries := statestore.NewMemorySummaryStore(8, 3, 500, time.Hour)
	sum := &recordingSummarizer{result: "condensed history"}
	m := NewManager(buffer, summaries, sum, opts...)
	return m, buffer, summaries, sum
}

func TestAddMessageBelowThresholdDoesNotSummarize(t *testing.T) {
	m, _, _, sum := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.AddMessage(ctx, "s1", types.NewMessage("user", "short message")))
	assert.Zero(t, sum.calls)
}

func TestSummarizationTrigger(t *testing.T) {
	// Threshold 100 tokens, batch 2: the third long message trips the
	// trigger and drains the two oldest.
	m, buffer, summaries, sum := newTestManager(WithTriggerBounds(100, 2))
	ctx := context.Background()

	long := strings.Repeat("word ", 30) // ~40 tokens each
	require.NoError(t, m.AddMessage(ctx, "s1", types.NewMessage("user", long+"one")))
	require.NoError(t, m.AddMessage(ctx, "s1", types.NewMessage("user", long+"two")))
	assert.Zero(t, sum.calls)

	require.NoError(t, m.AddMessage(ctx, "s1", types.NewMessage("user", long+"three")))
	require.Equal(t, 1, sum.calls)
	require.Len(t, sum.lastSeen, 2)
	assert.Contains(t, sum.lastSeen[0], "one")
	assert.Contains(t, sum.lastSeen[1], "two")

	msgs, err := buffer.GetMessages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "drained messages leave the buffer")
	assert.Contains(t, msgs[0].Content, "three")

	current, err := summaries.Current(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "condensed history", current)

	history, err := summaries.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 2, history[0].Metadata["source_messages"])
}

func TestEmptySummaryNotStored(t *testing.T) {
	m, _, summaries, sum := newTestManager(WithTriggerBounds(10, 2))
	sum.result = ""
	ctx := context.Background()

	require.NoError(t, m.AddMessage(ctx, "s1",
		types.NewMessage("user", strings.Repeat("word ", 20))))
	history, err := summaries.History(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestGetEnhancedContext(t *testing.T) {
	m, _, summaries, _ := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.AddMessage(ctx, "s1", types.NewMessage("user", "hello there")))
	require.NoError(t, m.AddMessage(ctx, "s1", types.NewMessage("assistant", "hi, how can I help")))
	require.NoError(t, summaries.AddSummary(ctx, "s1", types.NewSummary("earlier context")))

	ec := m.GetEnhancedContext(ctx, "s1", "", "")
	assert.Len(t, ec.BufferMessages, 2)
	assert.Equal(t, "earlier context", ec.CurrentSummary)
	assert.Equal(t, 2, ec.MessageCount)
	assert.Greater(t, ec.TotalTokens, 0)
	assert.Nil(t, ec.SemanticMemories)
}

// failingSummaryStore errors on every read while accepting writes.
type failingSummaryStore struct {
	statestore.SummaryStore
}

func (failingSummaryStore) Current(context.Context, string) (string, error) {
	return "", errors.New("summary tier down")
}

// stubRecovery serves mirrored summaries newest-first.
type stubRecovery struct {
	summaries []types.Summary
	calls     int
}

func (s *stubRecovery) LatestSummaries(_ context.Context, _ string, n int) ([]types.Summary, error) {
	s.calls++
	if n < len(s.summaries) {
		return s.summaries[:n], nil
	}
	return s.summaries, nil
}

func TestGetEnhancedContextRecoversSummaryFromMirror(t *testing.T) {
	buffer := statestore.NewMemoryBufferStore(30, 100000, time.Hour)
	summaries := failingSummaryStore{statestore.NewMemorySummaryStore(8, 3, 500, time.Hour)}
	recovery := &stubRecovery{summaries: []types.Summary{
		types.NewSummary("mirrored context"),
		types.NewSummary("older mirrored context"),
	}}
	m := NewManager(buffer, summaries, &recordingSummarizer{}, WithSummaryRecovery(recovery))

	ec := m.GetEnhancedContext(context.Background(), "s1", "", "")
	assert.Equal(t, "mirrored context", ec.CurrentSummary)
	assert.Equal(t, 1, recovery.calls)
}

func TestGetEnhancedContextWithoutRecoveryDegrades(t *testing.T) {
	buffer := statestore.NewMemoryBufferStore(30, 100000, time.Hour)
	summaries := failingSummaryStore{statestore.NewMemorySummaryStore(8, 3, 500, time.Hour)}
	m := NewManager(buffer, summaries, &recordingSummarizer{})

	ec := m.GetEnhancedContext(context.Background(), "s1", "", "")
	assert.Empty(t, ec.CurrentSummary, "no mirror configured leaves the summary empty")
}

func TestClearSession(t *testing.T) {
	m, buffer, summaries, _ := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.AddMessage(ctx, "s1", types.NewMessage("user", "hello")))
	require.NoError(t, summaries.AddSummary(ctx, "s1", types.NewSummary("summary")))
	require.NoError(t, m.ClearSession(ctx, "s1"))

	msgs, err := buffer.GetMessages(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	current, err := summaries.Current(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, current)
}
