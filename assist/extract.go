package assist

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Criteria is the structured result of initial prompt analysis.
type Criteria struct {
	BaseProduct    string            `json:"base_product"`
	Specifications map[string]string `json:"specifications"`
	SearchKeywords []string          `json:"search_keywords"`
	EnhancedQuery  string            `json:"enhanced_query"`
}

// productTaxonomy drives the regex fallback for criteria extraction.
// Order matters: more specific phrases first.
var productTaxonomy = []string{
	"gaming laptop", "washing machine", "graphics card", "air conditioner",
	"coffee machine", "vacuum cleaner", "laptop", "phone", "smartphone",
	"tablet", "monitor", "keyboard", "mouse", "headphones", "gpu", "cpu",
	"printer", "router", "camera", "tv", "television", "fridge",
	"refrigerator", "dishwasher", "microwave", "speaker", "drone",
}

var specPattern = regexp.MustCompile(`\b(\d+\s?(?:gb|tb|inch|"|hz|ghz|mp|kg|w|watts?))\b`)

// ExtractInitialCriteria analyzes the raw user prompt for the base product,
// specifications, and an enhanced search query. On LLM failure a regex pass
// over the known product taxonomy produces the degraded result.
func (h *Helper) ExtractInitialCriteria(ctx context.Context, prompt string) Criteria {
	system := "You extract purchase criteria from a user request. " +
		"Respond with JSON only: {\"base_product\", \"specifications\" (object of string to string), " +
		"\"search_keywords\" (array), \"enhanced_query\"}."

	var out Criteria
	err := h.chatJSON(ctx, system, prompt, criteriaSchema, &out)
	if err == nil && out.BaseProduct != "" {
		if out.EnhancedQuery == "" {
			out.EnhancedQuery = out.BaseProduct
		}
		return out
	}
	return fallbackCriteria(prompt)
}

// fallbackCriteria extracts criteria via the product taxonomy and a
// specification regex.
func fallbackCriteria(prompt string) Criteria {
	lower := strings.ToLower(prompt)

	c := Criteria{Specifications: map[string]string{}}
	for _, product := range productTaxonomy {
		if strings.Contains(lower, product) {
			c.BaseProduct = product
			break
		}
	}
	if c.BaseProduct == "" {
		// Last resort: treat the trailing words as the product.
		words := strings.Fields(lower)
		if n := len(words); n > 0 {
			start := n - 2
			if start < 0 {
				start = 0
			}
			c.BaseProduct = strings.Join(words[start:], " ")
		}
	}

	for i, m := range specPattern.FindAllString(lower, -1) {
		c.Specifications[fmt.Sprintf("spec_%d", i+1)] = m
	}

	c.SearchKeywords = append(c.SearchKeywords, c.BaseProduct)
	c.EnhancedQuery = c.BaseProduct
	if len(c.Specifications) > 0 {
		specs := make([]string, 0, len(c.Specifications))
		for i := 1; i <= len(c.Specifications); i++ {
			specs = append(specs, c.Specifications[fmt.Sprintf("spec_%d", i)])
		}
		c.EnhancedQuery = strings.TrimSpace(c.BaseProduct + " " + strings.Join(specs, " "))
	}
	return c
}

// cancelKeywords is the keyword fallback for cancel detection.
var cancelKeywords = []string{"cancel", "exit", "stop", "quit", "abort", "nevermind", "never mind"}

// IsCancelRequest reports whether the text asks to abandon the flow.
// The keyword fallback fires on any LLM failure; a cancel utterance must
// win even when every external service is down.
func (h *Helper) IsCancelRequest(ctx context.Context, text string) bool {
	// Cheap path first: exact keywords need no LLM round-trip.
	if matchesCancelKeyword(text) {
		return true
	}

	system := "Decide whether the user wants to cancel or abandon the current purchase flow. " +
		"Respond with JSON only: {\"answer\": true|false}."
	var out struct {
		Answer bool `json:"answer"`
	}
	if err := h.chatJSON(ctx, system, text, boolSchema, &out); err != nil {
		return false
	}
	return out.Answer
}

func matchesCancelKeyword(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, kw := range cancelKeywords {
		if lower == kw || strings.HasPrefix(lower, kw+" ") || strings.HasSuffix(lower, " "+kw) {
			return true
		}
	}
	return false
}

// Relevance is the result of response-relevance classification.
type Relevance struct {
	IsRelevant     bool    `json:"is_relevant"`
	Confidence     float64 `json:"confidence"`
	Reason         string  `json:"reason"`
	DetectedIntent string  `json:"detected_intent"`
}

// unrelatedDomains is the pattern catalog for the relevance fallback.
var unrelatedDomains = []string{
	"weather", "news", "sports", "recipe", "cooking", "movie", "music",
	"joke", "poem", "translate", "homework", "medical", "stock",
}

// IsResponseRelevant classifies whether a user response belongs to the
// ongoing purchase conversation. The fallback flags known unrelated
// domains and otherwise assumes relevance.
func (h *Helper) IsResponseRelevant(ctx context.Context, response, expectedContext, productContext string) Relevance {
	system := "You judge whether a user response is relevant to an ongoing product purchase conversation. " +
		"Respond with JSON only: {\"is_relevant\", \"confidence\", \"reason\", \"detected_intent\"}."
	user := fmt.Sprintf("Expected context: %s\nProduct context: %s\nUser response: %s",
		expectedContext, productContext, response)

	var out Relevance
	if err := h.chatJSON(ctx, system, user, relevanceSchema, &out); err == nil {
		return out
	}

	lower := strings.ToLower(response)
	for _, domain := range unrelatedDomains {
		if strings.Contains(lower, domain) {
			return Relevance{
				IsRelevant:     false,
				Confidence:     0.6,
				Reason:         "response mentions an unrelated domain: " + domain,
				DetectedIntent: "off_topic",
			}
		}
	}
	return Relevance{IsRelevant: true, Confidence: 0.5, Reason: "fallback: assumed relevant", DetectedIntent: "purchase"}
}
