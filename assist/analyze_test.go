package assist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MercatoLabs/dealkit/types"
)

func sampleProducts(names ...string) []types.Product {
	items := make([]types.Product, len(names))
	for i, n := range names {
		items[i] = types.Product{Name: n, Price: 100.0 + float64(i)*50, Rating: 4.0}
	}
	return items
}

func TestAnalyzeProductDifferences(t *testing.T) {
	h, _, _ := newTestHelper(t, `{"attributes": ["price", "spin speed", "noise", "capacity", "brand", "warranty", "color", "weight", "depth"]}`)

	attrs := h.AnalyzeProductDifferences(context.Background(), sampleProducts("A", "B"))
	assert.Len(t, attrs, maxAttributes, "attribute list is capped")
	assert.Equal(t, "price", attrs[0])
}

func TestAnalyzeProductDifferencesFallback(t *testing.T) {
	h, mock, _ := newTestHelper(t)
	failTwice(mock)

	attrs := h.AnalyzeProductDifferences(context.Background(), sampleProducts("A", "B"))
	assert.Equal(t, defaultAttributes, attrs)
}

func TestAnalyzeUserPreferencesFromLLM(t *testing.T) {
	h, _, _ := newTestHelper(t, `{
		"preferences": {"energy_efficiency": "high"},
		"constraints": [{"type": "price", "operator": "<=", "value": 800}]
	}`)

	got := h.AnalyzeUserPreferences(context.Background(), "something efficient under $800", nil)
	require.Len(t, got.Constraints, 1)
	assert.Equal(t, "price", got.Constraints[0].Type)
	assert.Equal(t, "<=", got.Constraints[0].Operator)
	assert.Equal(t, "high", got.Preferences["energy_efficiency"])
}

func TestAnalyzeUserPreferencesFallback(t *testing.T) {
	h, mock, _ := newTestHelper(t)
	failTwice(mock)

	got := h.AnalyzeUserPreferences(context.Background(), "quiet, energy efficient, under $500, brand Bosch", nil)

	require.NotEmpty(t, got.Constraints)
	var priceSeen, brandSeen bool
	for _, c := range got.Constraints {
		switch c.Type {
		case "price":
			priceSeen = true
			assert.Equal(t, "<=", c.Operator)
			assert.Equal(t, 500.0, c.Value)
		case "brand":
			brandSeen = true
			assert.Equal(t, "contains", c.Operator)
			assert.Equal(t, "bosch", c.Value)
		}
	}
	assert.True(t, priceSeen)
	assert.True(t, brandSeen)
	assert.Equal(t, "high", got.Preferences["energy_efficiency"])
	assert.Equal(t, "low", got.Preferences["noise_level"])
}

func TestFilterProductsFromLLM(t *testing.T) {
	h, _, _ := newTestHelper(t, `{"names": ["A", "C", "E", "F", "G"]}`)

	items := sampleProducts("A", "B", "C", "D", "E", "F", "G")
	got := h.FilterProducts(context.Background(), items, nil, nil)
	require.Len(t, got, 5)
	assert.Equal(t, "A", got[0].Name)
	assert.Equal(t, "C", got[1].Name)
}

func TestFilterProductsFloor(t *testing.T) {
	// An LLM answer that over-shrinks a large list falls back to the top ten.
	h, _, _ := newTestHelper(t, `{"names": ["A"]}`)

	items := sampleProducts("A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L")
	got := h.FilterProducts(context.Background(), items, nil, nil)
	assert.Len(t, got, filterDefault)
	assert.Equal(t, "A", got[0].Name)
}

func TestFilterProductsFallback(t *testing.T) {
	h, mock, _ := newTestHelper(t)
	failTwice(mock)

	items := sampleProducts("A", "B", "C")
	got := h.FilterProducts(context.Background(), items, nil, nil)
	assert.Len(t, got, 3)
}

func TestCheckCompatibilityFailOpen(t *testing.T) {
	h, mock, _ := newTestHelper(t)
	failTwice(mock)

	records := h.CheckCompatibility(context.Background(),
		sampleProducts("A"),
		[]types.Constraint{{Type: "price", Operator: "<=", Value: 100.0}},
		"laptop")
	assert.Empty(t, records, "failure yields empty list, callers treat as all compatible")
}

func TestCheckCompatibilityFromLLM(t *testing.T) {
	h, _, _ := newTestHelper(t, `{"results": [{"name": "A", "compatible": false, "reason": "over budget"}]}`)

	records := h.CheckCompatibility(context.Background(),
		sampleProducts("A"),
		[]types.Constraint{{Type: "price", Operator: "<=", Value: 50.0}},
		"laptop")
	require.Len(t, records, 1)
	assert.False(t, records[0].Compatible)
}

func TestGenerateRecommendation(t *testing.T) {
	h, _, _ := newTestHelper(t, `{
		"numbered_products": ["1. A - $100", "2. B - $150"],
		"recommendation": {"choice": 2, "reasoning": "best value"}
	}`)

	rec := h.GenerateRecommendation(context.Background(), sampleProducts("A", "B"), nil, nil)
	assert.Equal(t, 2, rec.Recommendation.Choice)
	assert.Len(t, rec.NumberedProducts, 2)
}

func TestGenerateRecommendationFallback(t *testing.T) {
	h, mock, _ := newTestHelper(t)
	failTwice(mock)

	rec := h.GenerateRecommendation(context.Background(), sampleProducts("A", "B", "C"), nil, nil)
	assert.Equal(t, 1, rec.Recommendation.Choice)
	assert.Len(t, rec.NumberedProducts, 3)
	assert.Contains(t, rec.NumberedProducts[0], "1. A")
	assert.NotEmpty(t, rec.Recommendation.Reasoning)
}

func TestGenerateRecommendationRejectsOutOfRangeChoice(t *testing.T) {
	h, _, _ := newTestHelper(t, `{
		"numbered_products": ["1. A", "2. B"],
		"recommendation": {"choice": 9, "reasoning": "bogus"}
	}`)

	rec := h.GenerateRecommendation(context.Background(), sampleProducts("A", "B"), nil, nil)
	assert.Equal(t, 1, rec.Recommendation.Choice)
}
