package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MercatoLabs/dealkit/types"
)

// Recommendation presents the ranked items and the assistant's pick.
type Recommendation struct {
	NumberedProducts []string             `json:"numbered_products"`
	Recommendation   RecommendationChoice `json:"recommendation"`
}

// RecommendationChoice identifies the recommended option (1-based).
type RecommendationChoice struct {
	Choice    int    `json:"choice"`
	Reasoning string `json:"reasoning"`
}

// GenerateRecommendation produces the numbered product list and a reasoned
// pick for the confirmation prompt. The fallback chooses the first item
// with generic reasoning.
func (h *Helper) GenerateRecommendation(ctx context.Context, top []types.Product, prefs types.Preferences, constraints []types.Constraint) Recommendation {
	if len(top) == 0 {
		return Recommendation{}
	}

	system := "Given ranked products and the user's preferences, present each as a numbered line and pick one. " +
		"Respond with JSON only: {\"numbered_products\": [\"1. ...\"], " +
		"\"recommendation\": {\"choice\": N, \"reasoning\": \"...\"}}."
	var sb strings.Builder
	for i := range top {
		fmt.Fprintf(&sb, "%d. %s (price=%v, rating=%v)\n", i+1, top[i].Name, top[i].Price, top[i].Rating)
	}
	if len(prefs) > 0 {
		prefJSON, _ := json.Marshal(prefs)
		fmt.Fprintf(&sb, "Preferences: %s\n", prefJSON)
	}
	if len(constraints) > 0 {
		consJSON, _ := json.Marshal(constraints)
		fmt.Fprintf(&sb, "Constraints: %s\n", consJSON)
	}

	var out Recommendation
	err := h.chatJSON(ctx, system, sb.String(), recommendationSchema, &out)
	if err == nil && out.Recommendation.Choice >= 1 && out.Recommendation.Choice <= len(top) &&
		len(out.NumberedProducts) == len(top) {
		return out
	}
	return fallbackRecommendation(top)
}

func fallbackRecommendation(top []types.Product) Recommendation {
	numbered := make([]string, len(top))
	for i := range top {
		line := fmt.Sprintf("%d. %s", i+1, top[i].Name)
		if top[i].Price != nil {
			line += fmt.Sprintf(" - %v", top[i].Price)
		}
		numbered[i] = line
	}
	return Recommendation{
		NumberedProducts: numbered,
		Recommendation: RecommendationChoice{
			Choice:    1,
			Reasoning: "It is the highest ranked option matching your criteria.",
		},
	}
}
