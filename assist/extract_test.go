package assist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractInitialCriteriaFromLLM(t *testing.T) {
	h, _, _ := newTestHelper(t, `{
		"base_product": "washing machine",
		"specifications": {"capacity": "9kg"},
		"search_keywords": ["washing machine", "9kg"],
		"enhanced_query": "washing machine 9kg front load"
	}`)

	c := h.ExtractInitialCriteria(context.Background(), "I need a 9kg washing machine")
	assert.Equal(t, "washing machine", c.BaseProduct)
	assert.Equal(t, "washing machine 9kg front load", c.EnhancedQuery)
	assert.Equal(t, "9kg", c.Specifications["capacity"])
}

func TestExtractInitialCriteriaFallback(t *testing.T) {
	h, mock, _ := newTestHelper(t)
	failTwice(mock)

	c := h.ExtractInitialCriteria(context.Background(), "I want to buy a gaming laptop with 16gb ram")
	assert.Equal(t, "gaming laptop", c.BaseProduct)
	assert.Contains(t, c.EnhancedQuery, "gaming laptop")
	assert.Contains(t, c.EnhancedQuery, "16gb")
	require.NotEmpty(t, c.SearchKeywords)
}

func TestExtractInitialCriteriaFallbackUnknownProduct(t *testing.T) {
	h, mock, _ := newTestHelper(t)
	failTwice(mock)

	c := h.ExtractInitialCriteria(context.Background(), "buy me a lawnmower")
	assert.NotEmpty(t, c.BaseProduct)
	assert.Equal(t, c.BaseProduct, c.EnhancedQuery)
}

func TestIsCancelRequestKeywordsBeforeLLM(t *testing.T) {
	// Keyword matches must not consume an LLM call.
	h, mock, _ := newTestHelper(t, `{"answer": false}`)

	for _, text := range []string{"cancel", "please cancel", "nevermind", "STOP", "quit this"} {
		assert.True(t, h.IsCancelRequest(context.Background(), text), text)
	}
	assert.Equal(t, 0, mock.Calls())
}

func TestIsCancelRequestViaLLM(t *testing.T) {
	h, _, _ := newTestHelper(t, `{"answer": true}`)
	assert.True(t, h.IsCancelRequest(context.Background(), "actually I changed my mind about all this"))
}

func TestIsCancelRequestFalseOnLLMFailure(t *testing.T) {
	h, mock, _ := newTestHelper(t)
	failTwice(mock)
	assert.False(t, h.IsCancelRequest(context.Background(), "what about the blue one"))
}

func TestIsResponseRelevantFallback(t *testing.T) {
	h, mock, _ := newTestHelper(t)
	failTwice(mock)

	rel := h.IsResponseRelevant(context.Background(), "what's the weather today", "preference reply", "laptop")
	assert.False(t, rel.IsRelevant)
	assert.Equal(t, "off_topic", rel.DetectedIntent)

	failTwice(mock)
	rel = h.IsResponseRelevant(context.Background(), "the cheaper one please", "preference reply", "laptop")
	assert.True(t, rel.IsRelevant)
}
