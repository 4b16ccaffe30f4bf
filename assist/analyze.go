package assist

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MercatoLabs/dealkit/types"
)

// defaultAttributes is the fixed fallback when attribute analysis fails.
var defaultAttributes = []string{"price", "brand", "rating", "capacity", "energy efficiency", "warranty"}

// maxAttributes bounds the differentiating attribute list.
const maxAttributes = 7

// AnalyzeProductDifferences returns up to seven attribute names that best
// differentiate the given items. Falls back to a fixed six-attribute
// default on LLM failure.
func (h *Helper) AnalyzeProductDifferences(ctx context.Context, items []types.Product) []string {
	if len(items) == 0 {
		return append([]string(nil), defaultAttributes...)
	}

	system := "Given a product list, name the attributes that best differentiate the items. " +
		"Respond with JSON only: {\"attributes\": [\"...\"]} with at most 7 entries."
	var sb strings.Builder
	for i := range items {
		fmt.Fprintf(&sb, "- %s", items[i].Name)
		if items[i].Specs != "" {
			fmt.Fprintf(&sb, " (%s)", items[i].Specs)
		}
		sb.WriteString("\n")
	}

	var out struct {
		Attributes []string `json:"attributes"`
	}
	if err := h.chatJSON(ctx, system, sb.String(), attributesSchema, &out); err == nil && len(out.Attributes) > 0 {
		if len(out.Attributes) > maxAttributes {
			out.Attributes = out.Attributes[:maxAttributes]
		}
		return out.Attributes
	}
	return append([]string(nil), defaultAttributes...)
}

// PreferenceAnalysis is the parsed result of a free-form preference reply.
type PreferenceAnalysis struct {
	Preferences types.Preferences  `json:"preferences"`
	Constraints []types.Constraint `json:"constraints"`
}

var (
	priceUnderPattern  = regexp.MustCompile(`(?:under|below|less than|max(?:imum)?|cheaper than)\s*\$?(\d+(?:\.\d+)?)`)
	priceOverPattern   = regexp.MustCompile(`(?:over|above|more than|min(?:imum)?|at least)\s*\$?(\d+(?:\.\d+)?)`)
	capacityPattern    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s?(kg|l|liters?|gb|tb)\b`)
	efficiencyPattern  = regexp.MustCompile(`\b(energy efficien\w*|eco|low power|a\+{1,3})\b`)
	quietPattern       = regexp.MustCompile(`\b(quiet|silent|low noise)\b`)
	qualityPattern     = regexp.MustCompile(`\b(high quality|durable|reliable|premium)\b`)
	brandPrefixPattern = regexp.MustCompile(`(?:brand|make|manufacturer)\s+(\w+)`)
)

// AnalyzeUserPreferences extracts soft preferences and hard constraints from
// a free-form reply. The regex fallback covers price, capacity, efficiency,
// and common quality flags.
func (h *Helper) AnalyzeUserPreferences(ctx context.Context, text string, items []types.Product) PreferenceAnalysis {
	system := "Extract soft preferences and hard constraints from the user's reply about products. " +
		"Respond with JSON only: {\"preferences\": {attr: value}, " +
		"\"constraints\": [{\"type\", \"operator\", \"value\"}]}. " +
		"Operators: <=, >=, ==, contains. Constraint types: price, brand, capacity, general."

	var out PreferenceAnalysis
	if err := h.chatJSON(ctx, system, text, preferenceSchema, &out); err == nil {
		if out.Preferences == nil {
			out.Preferences = types.Preferences{}
		}
		return out
	}
	return fallbackPreferences(text)
}

// fallbackPreferences is the regex path for preference analysis.
func fallbackPreferences(text string) PreferenceAnalysis {
	lower := strings.ToLower(text)
	analysis := PreferenceAnalysis{Preferences: types.Preferences{}}

	if m := priceUnderPattern.FindStringSubmatch(lower); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			analysis.Constraints = append(analysis.Constraints, types.Constraint{
				Type: "price", Operator: "<=", Value: v,
			})
		}
	}
	if m := priceOverPattern.FindStringSubmatch(lower); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			analysis.Constraints = append(analysis.Constraints, types.Constraint{
				Type: "price", Operator: ">=", Value: v,
			})
		}
	}
	if m := capacityPattern.FindStringSubmatch(lower); m != nil {
		analysis.Constraints = append(analysis.Constraints, types.Constraint{
			Type: "capacity", Operator: ">=", Value: m[1] + m[2],
		})
	}
	if m := brandPrefixPattern.FindStringSubmatch(lower); m != nil {
		analysis.Constraints = append(analysis.Constraints, types.Constraint{
			Type: "brand", Operator: "contains", Value: m[1],
		})
	}

	if efficiencyPattern.MatchString(lower) {
		analysis.Preferences["energy_efficiency"] = "high"
	}
	if quietPattern.MatchString(lower) {
		analysis.Preferences["noise_level"] = "low"
	}
	if qualityPattern.MatchString(lower) {
		analysis.Preferences["quality"] = "high"
	}

	return analysis
}
