package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MercatoLabs/dealkit/types"
)

func TestPreferenceMatchEmptyInput(t *testing.T) {
	pm := NewPreferenceMatch(brokenHelper())

	res := pm.Run(context.Background(), "s1", nil, nil, nil)
	assert.Equal(t, StatusNoProducts, res.Status)
	assert.Empty(t, res.RankedProducts)
	assert.Empty(t, res.Scores)
}

func TestPreferenceMatchFallbackRanking(t *testing.T) {
	pm := NewPreferenceMatch(brokenHelper())

	items := []types.Product{
		{Name: "Cheap and good", Price: 100.0, Rating: 5.0},
		{Name: "Expensive and bad", Price: 900.0, Rating: 1.0},
		{Name: "Middling", Price: 500.0, Rating: 3.0},
		{Name: "Fourth", Price: 700.0, Rating: 2.0},
	}
	res := pm.Run(context.Background(), "s1", items,
		types.Preferences{"quality": "high"}, nil)

	assert.Equal(t, StatusFallback, res.Status)
	assert.Equal(t, RankingFallback, res.RankingMethod)
	require.Len(t, res.RankedProducts, DefaultTopK)
	require.Len(t, res.Scores, DefaultTopK)
	assert.Equal(t, "Cheap and good", res.RankedProducts[0].Name)
	assert.Equal(t, 4, res.TotalProcessed)

	for i, s := range res.Scores {
		assert.GreaterOrEqual(t, s, 0.0, "score %d", i)
		assert.LessOrEqual(t, s, 1.0, "score %d", i)
		if i > 0 {
			assert.LessOrEqual(t, s, res.Scores[i-1], "scores are descending")
		}
	}
}

func TestPreferenceMatchTruncatesOversizedInput(t *testing.T) {
	pm := NewPreferenceMatch(brokenHelper())

	res := pm.Run(context.Background(), "s1", makeProducts(80), nil, nil)
	assert.Equal(t, DefaultResultLimit, res.TotalProcessed)
}

func TestFallbackScoreFormula(t *testing.T) {
	items := []types.Product{
		{Name: "best", Price: 100.0, Rating: 5.0},  // 0.6*1.0 + 0.4*1.0 = 1.0
		{Name: "worst", Price: 200.0, Rating: 0.0}, // 0.6*0.0 + 0.4*0.0 = 0.0
	}
	ranked, scores := fallbackScore(items)
	require.Len(t, scores, 2)
	assert.Equal(t, "best", ranked[0].Name)
	assert.InDelta(t, 1.0, scores[0], 1e-9)
	assert.InDelta(t, 0.0, scores[1], 1e-9)
}

func TestFallbackScoreMissingValues(t *testing.T) {
	items := []types.Product{
		{Name: "no price", Rating: 3.0},
		{Name: "priced", Price: 300.0, Rating: 4.0},
		{Name: "cheap", Price: 100.0, Rating: 4.0},
	}
	ranked, scores := fallbackScore(items)
	require.Len(t, scores, 3)
	// A missing price normalizes like the most expensive item.
	assert.Equal(t, "cheap", ranked[0].Name)
	assert.Equal(t, "priced", ranked[1].Name)
	assert.Equal(t, "no price", ranked[2].Name)
}

func TestCompatibilityCheckerFailOpen(t *testing.T) {
	checker := NewCompatibilityChecker(brokenHelper())

	items := makeProducts(3)
	out, edge, err := checker.Run(context.Background(), Payload{
		keyItems:       items,
		keyConstraints: []types.Constraint{{Type: "price", Operator: "<=", Value: 50.0}},
	})
	require.NoError(t, err)
	assert.Equal(t, EdgeDefault, edge)

	kept, _ := out[keyItems].([]types.Product)
	assert.Len(t, kept, 3, "LLM failure must not drop items")
}

func TestCompatibilityCheckerDropsIncompatible(t *testing.T) {
	helper := scriptedHelper(`{"results": [
		{"name": "Product 00", "compatible": true},
		{"name": "Product 01", "compatible": false, "reason": "over budget"},
		{"name": "Product 02", "compatible": true}
	]}`)
	checker := NewCompatibilityChecker(helper)

	out, _, err := checker.Run(context.Background(), Payload{
		keyItems:       makeProducts(3),
		keyConstraints: []types.Constraint{{Type: "price", Operator: "<=", Value: 101.0}},
	})
	require.NoError(t, err)

	kept, _ := out[keyItems].([]types.Product)
	require.Len(t, kept, 2)
	assert.Equal(t, "Product 00", kept[0].Name)
	assert.Equal(t, "Product 02", kept[1].Name)
}

func TestSpecScraperEnrichesItems(t *testing.T) {
	scraper := NewSpecScraper()

	items := []types.Product{{
		Name:        "Washer X",
		Brand:       "Acme",
		Price:       499.0,
		Specs:       "capacity: 9kg, spin: 1400rpm",
		Description: "smart inverter drive",
	}}
	out, _, err := scraper.Run(context.Background(), Payload{keyItems: items})
	require.NoError(t, err)

	enriched, _ := out[keyItems].([]types.Product)
	require.Len(t, enriched, 1)
	assert.Equal(t, "9kg", enriched[0].DetailedSpecs["capacity"])
	assert.Equal(t, "Acme", enriched[0].DetailedSpecs["brand"])
	assert.Contains(t, enriched[0].CompatibilityFeatures, "smart")
	assert.Contains(t, enriched[0].CompatibilityFeatures, "inverter")
}
