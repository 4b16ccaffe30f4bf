package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MercatoLabs/dealkit/providers"
)

func TestRollingSummarizerHappyPath(t *testing.T) {
	mock := providers.NewMockProvider("User is comparing two washing machines under $800.")
	rs := NewRollingSummarizer(mock, "test-model")

	got := rs.Summarize(context.Background(), []string{
		"I need a washing machine",
		"Under $800 please",
	})
	assert.Equal(t, "User is comparing two washing machines under $800.", got)
	assert.Equal(t, 1, mock.Calls())
}

func TestRollingSummarizerDegradesToTruncation(t *testing.T) {
	mock := providers.NewMockProvider().FailWith(errors.New("model offline"))
	rs := NewRollingSummarizer(mock, "test-model")

	long := strings.Repeat("washing machine talk ", 30)
	got := rs.Summarize(context.Background(), []string{long})
	assert.Len(t, got, degradePrefixLen+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestRollingSummarizerShortInputNotTruncated(t *testing.T) {
	mock := providers.NewMockProvider().FailWith(errors.New("model offline"))
	rs := NewRollingSummarizer(mock, "test-model")

	got := rs.Summarize(context.Background(), []string{"short exchange"})
	assert.Equal(t, "short exchange", got)
}

func TestRollingSummarizerEmptyInput(t *testing.T) {
	rs := NewRollingSummarizer(providers.NewMockProvider(), "test-model")
	assert.Empty(t, rs.Summarize(context.Background(), nil))
}

func TestSummaryTokenBound(t *testing.T) {
	long := strings.Repeat("word ", 400)
	mock := providers.NewMockProvider(long)
	rs := NewRollingSummarizer(mock, "test-model")

	got := rs.Summarize(context.Background(), []string{"lots of conversation"})
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(strings.Fields(got)), 120, "summary is cut to the token budget")
}

func TestTextSplitterChunksAtWordBoundaries(t *testing.T) {
	splitter := &TextSplitter{}
	long := strings.Repeat("alpha beta gamma ", 200) // ~3400 chars

	out, _, err := splitter.Run(context.Background(), Payload{keyText: long})
	require.NoError(t, err)

	chunks, _ := out[keyChunks].([]string)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), splitChunkChars)
		assert.NotEmpty(t, c)
	}
}
