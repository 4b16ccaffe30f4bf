package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/MercatoLabs/dealkit/assist"
	"github.com/MercatoLabs/dealkit/logger"
	"github.com/MercatoLabs/dealkit/types"
)

// Payload keys specific to the preference match pipeline.
const (
	keyPreferences        = "preferences"
	keyRankedProducts     = "ranked_products"
	keyScores             = "scores"
	keyRankingMethod      = "ranking_method"
	keyTotalProcessed     = "total_processed"
	keyPreferencesApplied = "preferences_applied"
	keyCompatibility      = "compatibility_records"
)

// Ranking method tags.
const (
	RankingPipeline = "pipeline"
	RankingFallback = "fallback"
)

// DefaultTopK is how many ranked products the pipeline returns.
const DefaultTopK = 3

const specCacheTTL = 30 * time.Minute

// PreferenceResult is the structured output of the preference match
// pipeline. Field names are part of the serialized contract.
type PreferenceResult struct {
	Status             string            `json:"status"`
	RankedProducts     []types.Product   `json:"ranked_products"`
	Scores             []float64         `json:"scores"`
	RankingMethod      string            `json:"ranking_method,omitempty"`
	TotalProcessed     int               `json:"total_processed"`
	PreferencesApplied types.Preferences `json:"preferences_applied,omitempty"`
	Message            string            `json:"message,omitempty"`
}

// SpecScraper enriches items with category-inferred detailed specs and
// compatibility features. Enrichment is cached per item identity.
type SpecScraper struct {
	cache *expirable.LRU[string, enrichment]
}

type enrichment struct {
	specs    map[string]string
	features []string
}

// NewSpecScraper creates the scraper with its per-item cache.
func NewSpecScraper() *SpecScraper {
	return &SpecScraper{
		cache: expirable.NewLRU[string, enrichment](512, nil, specCacheTTL),
	}
}

// Name implements Component.
func (s *SpecScraper) Name() string { return "spec_scraper" }

// Run implements Component.
func (s *SpecScraper) Run(ctx context.Context, in Payload) (Payload, string, error) {
	items, _ := in[keyItems].([]types.Product)

	enriched := make([]types.Product, len(items))
	for i, item := range items {
		key := strings.ToLower(item.Name) + "|" + item.Brand
		e, ok := s.cache.Get(key)
		if !ok {
			e = inferEnrichment(item)
			s.cache.Add(key, e)
		}
		item.DetailedSpecs = e.specs
		item.CompatibilityFeatures = e.features
		enriched[i] = item
	}

	out := in.Clone()
	out[keyItems] = enriched
	return out, EdgeDefault, nil
}

// inferEnrichment derives detailed specs from the item's category and the
// free-text spec string. This is a heuristic stand-in for a real scrape.
func inferEnrichment(item types.Product) enrichment {
	specs := map[string]string{}
	if item.Brand != "" {
		specs["brand"] = item.Brand
	}
	if item.Price != nil {
		specs["price"] = fmt.Sprintf("%v", item.Price)
	}
	if item.Rating != nil {
		specs["rating"] = fmt.Sprintf("%v", item.Rating)
	}
	for _, field := range strings.Split(item.Specs, ",") {
		if k, v, ok := strings.Cut(field, ":"); ok {
			specs[strings.TrimSpace(strings.ToLower(k))] = strings.TrimSpace(v)
		}
	}

	var features []string
	lower := strings.ToLower(item.Name + " " + item.Description + " " + item.Specs)
	for _, f := range []string{"wifi", "bluetooth", "usb-c", "hdmi", "energy star", "inverter", "smart"} {
		if strings.Contains(lower, f) {
			features = append(features, f)
		}
	}
	return enrichment{specs: specs, features: features}
}

// CompatibilityChecker drops items that violate hard constraints. On LLM
// failure the input passes through unchanged (fail-open, annotated).
type CompatibilityChecker struct {
	helper *assist.Helper
}

// NewCompatibilityChecker wraps the LLM helper.
func NewCompatibilityChecker(helper *assist.Helper) *CompatibilityChecker {
	return &CompatibilityChecker{helper: helper}
}

// Name implements Component.
func (c *CompatibilityChecker) Name() string { return "compatibility_checker" }

// Run implements Component.
func (c *CompatibilityChecker) Run(ctx context.Context, in Payload) (Payload, string, error) {
	items, _ := in[keyItems].([]types.Product)
	constraints, _ := in[keyConstraints].([]types.Constraint)

	out := in.Clone()
	if len(items) == 0 || len(constraints) == 0 {
		return out, EdgeDefault, nil
	}

	records := c.helper.CheckCompatibility(ctx, items, constraints, in.String(keyQuery))
	if len(records) == 0 {
		// Fail-open: keep everything, note that the check did not run.
		logger.Debug("compatibility check unavailable, passing items through",
			"items", len(items), "constraints", len(constraints))
		out[keyCompatibility] = []assist.CompatibilityRecord{}
		return out, EdgeDefault, nil
	}

	incompatible := make(map[string]bool)
	for _, r := range records {
		if !r.Compatible {
			incompatible[strings.ToLower(r.Name)] = true
		}
	}
	kept := make([]types.Product, 0, len(items))
	for _, item := range items {
		if !incompatible[strings.ToLower(item.Name)] {
			kept = append(kept, item)
		}
	}

	out[keyItems] = kept
	out[keyCompatibility] = records
	return out, EdgeDefault, nil
}

// PreferenceRanker scores items against soft preferences and keeps the top
// K. The LLM path asks for a recommendation ordering; the fallback scores
// by 0.6*normalized_rating + 0.4*(1 - normalized_price).
type PreferenceRanker struct {
	helper *assist.Helper
	topK   int
}

// NewPreferenceRanker creates the ranker; topK <= 0 uses DefaultTopK.
func NewPreferenceRanker(helper *assist.Helper, topK int) *PreferenceRanker {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &PreferenceRanker{helper: helper, topK: topK}
}

// Name implements Component.
func (r *PreferenceRanker) Name() string { return "preference_ranker" }

// Run implements Component.
func (r *PreferenceRanker) Run(ctx context.Context, in Payload) (Payload, string, error) {
	items, _ := in[keyItems].([]types.Product)
	prefs, _ := in[keyPreferences].(types.Preferences)

	out := in.Clone()
	out[keyTotalProcessed] = len(items)
	out[keyPreferencesApplied] = prefs

	if len(items) == 0 {
		out[keyStatus] = StatusNoProducts
		out[keyRankedProducts] = []types.Product{}
		out[keyScores] = []float64{}
		return out, EdgeDefault, nil
	}

	ranked, scores, method := r.rank(ctx, items, prefs, nil)
	if len(ranked) > r.topK {
		ranked = ranked[:r.topK]
		scores = scores[:r.topK]
	}

	out[keyStatus] = StatusSuccess
	if method == RankingFallback {
		out[keyStatus] = StatusFallback
	}
	out[keyRankedProducts] = ranked
	out[keyScores] = scores
	out[keyRankingMethod] = method
	return out, EdgeDefault, nil
}

// rank orders items best-first. The LLM path uses filtering to surface the
// preferred subset; any failure falls back to the deterministic score.
func (r *PreferenceRanker) rank(ctx context.Context, items []types.Product, prefs types.Preferences, constraints []types.Constraint) ([]types.Product, []float64, string) {
	if r.helper != nil && len(prefs) > 0 {
		filtered := r.helper.FilterProducts(ctx, items, prefs, constraints)
		if len(filtered) > 0 && len(filtered) < len(items) {
			ranked, scores := fallbackScore(filtered)
			return ranked, scores, RankingPipeline
		}
	}
	ranked, scores := fallbackScore(items)
	method := RankingFallback
	if r.helper != nil && len(prefs) == 0 {
		// Nothing to apply; deterministic order is the intended path.
		method = RankingPipeline
	}
	return ranked, scores, method
}

// fallbackScore computes 0.6*normalized_rating + 0.4*(1-normalized_price)
// and sorts descending. Scores are clamped to [0,1].
func fallbackScore(items []types.Product) ([]types.Product, []float64) {
	minPrice, maxPrice := priceBounds(items)

	type scored struct {
		item  types.Product
		score float64
	}
	all := make([]scored, len(items))
	for i, item := range items {
		rating := item.RatingValue() / 5.0

		price := 0.5 // neutral when all prices are equal or missing
		if maxPrice > minPrice {
			v := item.PriceValue()
			if v > maxPrice {
				v = maxPrice
			}
			price = (v - minPrice) / (maxPrice - minPrice)
		}

		s := 0.6*rating + 0.4*(1-price)
		if s < 0 {
			s = 0
		}
		if s > 1 {
			s = 1
		}
		all[i] = scored{item: item, score: s}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	ranked := make([]types.Product, len(all))
	scores := make([]float64, len(all))
	for i, s := range all {
		ranked[i] = s.item
		scores[i] = s.score
	}
	return ranked, scores
}

// priceBounds returns the finite min and max price across items.
func priceBounds(items []types.Product) (float64, float64) {
	first := true
	var minP, maxP float64
	for i := range items {
		v := items[i].PriceValue()
		if math.IsInf(v, 1) { // missing price
			continue
		}
		if first {
			minP, maxP = v, v
			first = false
			continue
		}
		if v < minP {
			minP = v
		}
		if v > maxP {
			maxP = v
		}
	}
	return minP, maxP
}

// PreferenceMatch is the assembled preference pipeline with a typed entry
// point.
type PreferenceMatch struct {
	pipeline *Pipeline
	limit    int
}

// NewPreferenceMatch assembles SpecScraper -> CompatibilityChecker ->
// PreferenceRanker(top_k=3).
func NewPreferenceMatch(helper *assist.Helper) *PreferenceMatch {
	p := New("preference_match").
		Add(NewSpecScraper()).
		Add(NewCompatibilityChecker(helper)).
		Add(NewPreferenceRanker(helper, DefaultTopK))
	return &PreferenceMatch{pipeline: p, limit: DefaultResultLimit}
}

// Run executes the pipeline. Inputs above the 50-item bound are truncated
// with a warning; empty input short-circuits to no_products.
func (pm *PreferenceMatch) Run(ctx context.Context, sessionID string, items []types.Product, prefs types.Preferences, constraints []types.Constraint) PreferenceResult {
	if len(items) == 0 {
		return PreferenceResult{
			Status:         StatusNoProducts,
			RankedProducts: []types.Product{},
			Scores:         []float64{},
		}
	}
	if len(items) > pm.limit {
		logger.Warn("preference match input truncated",
			"session_id", sessionID, "items", len(items), "limit", pm.limit)
		items = items[:pm.limit]
	}

	in := Payload{
		keySessionID:   sessionID,
		keyItems:       items,
		keyPreferences: prefs,
		keyConstraints: constraints,
	}
	outputs, _, err := pm.pipeline.Run(ctx, in)
	if err != nil {
		return PreferenceResult{
			Status:         StatusError,
			RankedProducts: []types.Product{},
			Scores:         []float64{},
			Message:        err.Error(),
		}
	}

	final := outputs["preference_ranker"]
	ranked, _ := final[keyRankedProducts].([]types.Product)
	scores, _ := final[keyScores].([]float64)
	applied, _ := final[keyPreferencesApplied].(types.Preferences)
	if ranked == nil {
		ranked = []types.Product{}
	}
	if scores == nil {
		scores = []float64{}
	}
	return PreferenceResult{
		Status:             final.String(keyStatus),
		RankedProducts:     ranked,
		Scores:             scores,
		RankingMethod:      final.String(keyRankingMethod),
		TotalProcessed:     final.Int(keyTotalProcessed),
		PreferencesApplied: applied,
	}
}
