package pipeline

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/MercatoLabs/dealkit/assist"
	"github.com/MercatoLabs/dealkit/logger"
	"github.com/MercatoLabs/dealkit/shopping"
	"github.com/MercatoLabs/dealkit/types"
)

// Payload keys shared by the search and preference pipelines.
const (
	keyQuery       = "query"
	keySessionID   = "session_id"
	keyConstraints = "hard_constraints"
	keyItems       = "items"
	keyAttributes  = "attributes"
	keyStatus      = "status"
	keyTotalFound  = "total_found"
	keyMaxAllowed  = "max_allowed"
	keyError       = "error"
)

// DefaultResultLimit is the limiter bound for the search pipeline.
const DefaultResultLimit = 50

const attributeCacheTTL = 60 * time.Minute

// SearchResult is the structured output of the product search pipeline.
// Field names are part of the serialized contract with stored pipeline
// state and must not change.
type SearchResult struct {
	Status     string          `json:"status"`
	Items      []types.Product `json:"items"`
	Attributes []string        `json:"attributes,omitempty"`
	TotalFound int             `json:"total_found"`
	MaxAllowed int             `json:"max_allowed,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// SearchComponent queries the external shopping adapter. Adapter errors
// route to the error edge with an empty item list.
type SearchComponent struct {
	adapter shopping.Adapter
}

// NewSearchComponent wraps a shopping adapter as the pipeline entry node.
func NewSearchComponent(adapter shopping.Adapter) *SearchComponent {
	return &SearchComponent{adapter: adapter}
}

// Name implements Component.
func (s *SearchComponent) Name() string { return "search" }

// Run implements Component.
func (s *SearchComponent) Run(ctx context.Context, in Payload) (Payload, string, error) {
	query := in.String(keyQuery)
	items, err := shopping.Normalize(s.adapter.Search(ctx, query))
	if err != nil {
		out := in.Clone()
		out[keyItems] = []types.Product{}
		out[keyStatus] = StatusError
		out[keyError] = err.Error()
		return out, EdgeError, nil
	}

	out := in.Clone()
	out[keyItems] = items
	out[keyTotalFound] = len(items)
	return out, EdgeDefault, nil
}

// AttributeAnalyzer derives up to seven differentiating attribute names for
// the found items, LLM-backed with a 60 minute cache keyed by the
// canonicalised query plus item identities.
type AttributeAnalyzer struct {
	helper *assist.Helper
	cache  *expirable.LRU[string, []string]
}

// NewAttributeAnalyzer creates the analyzer with its own attribute cache.
func NewAttributeAnalyzer(helper *assist.Helper) *AttributeAnalyzer {
	return &AttributeAnalyzer{
		helper: helper,
		cache:  expirable.NewLRU[string, []string](256, nil, attributeCacheTTL),
	}
}

// Name implements Component.
func (a *AttributeAnalyzer) Name() string { return "attribute_analyzer" }

// Run implements Component.
func (a *AttributeAnalyzer) Run(ctx context.Context, in Payload) (Payload, string, error) {
	items, _ := in[keyItems].([]types.Product)
	query := in.String(keyQuery)

	out := in.Clone()
	if len(items) == 0 {
		out[keyAttributes] = []string{}
		return out, EdgeDefault, nil
	}

	key := attributeCacheKey(query, items)
	if attrs, ok := a.cache.Get(key); ok {
		out[keyAttributes] = attrs
		return out, EdgeDefault, nil
	}

	attrs := a.helper.AnalyzeProductDifferences(ctx, items)
	if len(attrs) == 0 || isDefaultAttributeSet(attrs) {
		// LLM path failed; try the category heuristics before caching.
		if heuristic := categoryAttributes(query); heuristic != nil {
			attrs = heuristic
		}
	}
	a.cache.Add(key, attrs)
	out[keyAttributes] = attrs
	return out, EdgeDefault, nil
}

// attributeCacheKey canonicalises the query and appends sorted item names
// so the same result set hits the cache regardless of adapter ordering.
func attributeCacheKey(query string, items []types.Product) string {
	names := make([]string, len(items))
	for i := range items {
		names[i] = strings.ToLower(items[i].Name)
	}
	sort.Strings(names)
	canonical := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	return canonical + "|" + strings.Join(names, ",")
}

// genericAttributeSet is the helper's own failure fallback; seeing it
// means the LLM path did not produce a product-specific answer.
var genericAttributeSet = []string{"price", "brand", "rating", "capacity", "energy efficiency", "warranty"}

func isDefaultAttributeSet(attrs []string) bool {
	if len(attrs) != len(genericAttributeSet) {
		return false
	}
	for i := range attrs {
		if attrs[i] != genericAttributeSet[i] {
			return false
		}
	}
	return true
}

// categoryHeuristics maps query substrings to differentiating attributes
// when the LLM is unavailable.
var categoryHeuristics = []struct {
	substr string
	attrs  []string
}{
	{"laptop", []string{"price", "cpu", "ram", "storage", "screen size", "battery life", "weight"}},
	{"phone", []string{"price", "screen size", "camera", "battery", "storage", "brand"}},
	{"washing", []string{"price", "capacity", "energy efficiency", "spin speed", "noise level", "brand"}},
	{"gpu", []string{"price", "vram", "clock speed", "power draw", "cooling", "brand"}},
	{"graphics card", []string{"price", "vram", "clock speed", "power draw", "cooling", "brand"}},
	{"fridge", []string{"price", "capacity", "energy efficiency", "noise level", "brand"}},
	{"tv", []string{"price", "screen size", "resolution", "panel type", "brand"}},
}

func categoryAttributes(query string) []string {
	lower := strings.ToLower(query)
	for _, h := range categoryHeuristics {
		if strings.Contains(lower, h.substr) {
			return h.attrs
		}
	}
	return nil
}

// ResultLimiter bounds how many items may proceed to presentation. Above
// the bound it routes to the too_many_results edge with an empty item list
// so the FSM can ask the user to refine.
type ResultLimiter struct {
	max int
}

// NewResultLimiter creates a limiter; max <= 0 uses DefaultResultLimit.
func NewResultLimiter(max int) *ResultLimiter {
	if max <= 0 {
		max = DefaultResultLimit
	}
	return &ResultLimiter{max: max}
}

// Name implements Component.
func (r *ResultLimiter) Name() string { return "result_limiter" }

// Run implements Component.
func (r *ResultLimiter) Run(ctx context.Context, in Payload) (Payload, string, error) {
	items, _ := in[keyItems].([]types.Product)
	out := in.Clone()
	out[keyTotalFound] = len(items)

	if len(items) > r.max {
		out[keyStatus] = StatusTooManyResults
		out[keyItems] = []types.Product{}
		out[keyMaxAllowed] = r.max
		return out, EdgeTooManyResults, nil
	}
	// An empty result set is still ok; callers branch on the item count.
	out[keyStatus] = StatusOK
	return out, EdgeDefault, nil
}

// ProductSearch is the assembled search pipeline with a typed entry point.
type ProductSearch struct {
	pipeline *Pipeline
	limit    int
}

// NewProductSearch assembles Search -> AttributeAnalyzer -> ResultLimiter.
func NewProductSearch(adapter shopping.Adapter, helper *assist.Helper) *ProductSearch {
	limiter := NewResultLimiter(DefaultResultLimit)
	p := New("product_search").
		Add(NewSearchComponent(adapter)).
		Add(NewAttributeAnalyzer(helper)).
		Add(limiter)
	// Adapter errors skip analysis and go straight to the limiter so the
	// envelope still carries status and totals.
	p.Connect("search", EdgeError, "result_limiter")
	return &ProductSearch{pipeline: p, limit: limiter.max}
}

// Run executes the pipeline for a query and returns the envelope.
func (ps *ProductSearch) Run(ctx context.Context, sessionID, query string, constraints []types.Constraint) SearchResult {
	in := Payload{
		keySessionID:   sessionID,
		keyQuery:       query,
		keyConstraints: constraints,
	}
	outputs, _, err := ps.pipeline.Run(ctx, in)
	if err != nil {
		logger.Warn("product search pipeline failed", "session_id", sessionID, "error", err)
		return SearchResult{Status: StatusError, Items: []types.Product{}, Message: err.Error()}
	}

	final := outputs["result_limiter"]
	items, _ := final[keyItems].([]types.Product)
	attrs, _ := final[keyAttributes].([]string)
	result := SearchResult{
		Status:     final.String(keyStatus),
		Items:      items,
		Attributes: attrs,
		TotalFound: final.Int(keyTotalFound),
		MaxAllowed: final.Int(keyMaxAllowed),
	}
	if msg := final.String(keyError); msg != "" {
		result.Status = StatusError
		result.Message = msg
	}
	if result.Items == nil {
		result.Items = []types.Product{}
	}
	return result
}
