package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProviderScriptOrder(t *testing.T) {
	m := NewMockProvider("first", "second")
	ctx := context.Background()

	r1, err := m.Chat(ctx, ChatRequest{})
	require.NoError(t, err)
	r2, err := m.Chat(ctx, ChatRequest{})
	require.NoError(t, err)
	r3, err := m.Chat(ctx, ChatRequest{})
	require.NoError(t, err)

	assert.Equal(t, "first", r1.Content)
	assert.Equal(t, "second", r2.Content)
	assert.Equal(t, "second", r3.Content, "exhausted script repeats the last entry")
	assert.Equal(t, 3, m.Calls())
}

func TestMockProviderInjectedErrorsConsumeFirst(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockProvider("ok").FailWith(boom)
	ctx := context.Background()

	_, err := m.Chat(ctx, ChatRequest{})
	assert.ErrorIs(t, err, boom)

	resp, err := m.Chat(ctx, ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestMockProviderRecordsLastRequest(t *testing.T) {
	m := NewMockProvider("ok")
	_, err := m.Chat(context.Background(), ChatRequest{System: "classifier"})
	require.NoError(t, err)
	assert.Equal(t, "classifier", m.LastRequest().System)
}

type blockingProvider struct{}

func (blockingProvider) ID() string { return "blocking" }

func (blockingProvider) Chat(ctx context.Context, _ ChatRequest) (ChatResponse, error) {
	<-ctx.Done()
	return ChatResponse{}, ctx.Err()
}

func (blockingProvider) Close() error { return nil }

func TestWithTimeoutBoundsChat(t *testing.T) {
	p := WithTimeout(blockingProvider{}, 10*time.Millisecond)

	_, err := p.Chat(context.Background(), ChatRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "blocking", p.ID())
}
