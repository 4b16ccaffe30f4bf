package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MercatoLabs/dealkit/types"
)

const (
	filterFloor   = 5  // never shrink below this when the input has >= 5 items
	filterDefault = 10 // fallback keeps the top N by input order
)

// FilterProducts asks the LLM to narrow the item list against the user's
// preferences and constraints. The returned list may shrink but is kept at
// five or more items when the input has at least five; on failure the top
// ten by input order are returned.
func (h *Helper) FilterProducts(ctx context.Context, items []types.Product, prefs types.Preferences, constraints []types.Constraint) []types.Product {
	if len(items) == 0 {
		return nil
	}

	system := "Filter the product list to the items that best satisfy the preferences and constraints. " +
		"Respond with JSON only: {\"names\": [\"exact product name\", ...]}."
	user := buildFilterPrompt(items, prefs, constraints)

	var out struct {
		Names []string `json:"names"`
	}
	if err := h.chatJSON(ctx, system, user, filterSchema, &out); err == nil {
		filtered := matchByName(items, out.Names)
		if len(items) >= filterFloor && len(filtered) < filterFloor {
			return topN(items, filterDefault)
		}
		if len(filtered) > 0 {
			return filtered
		}
	}
	return topN(items, filterDefault)
}

func buildFilterPrompt(items []types.Product, prefs types.Preferences, constraints []types.Constraint) string {
	var sb strings.Builder
	sb.WriteString("Products:\n")
	for i := range items {
		fmt.Fprintf(&sb, "- %s (price=%v, rating=%v)\n", items[i].Name, items[i].Price, items[i].Rating)
	}
	if len(prefs) > 0 {
		prefJSON, _ := json.Marshal(prefs)
		fmt.Fprintf(&sb, "Preferences: %s\n", prefJSON)
	}
	if len(constraints) > 0 {
		consJSON, _ := json.Marshal(constraints)
		fmt.Fprintf(&sb, "Constraints: %s\n", consJSON)
	}
	return sb.String()
}

// matchByName maps returned names back to product records, preserving the
// input order and ignoring hallucinated names.
func matchByName(items []types.Product, names []string) []types.Product {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[strings.ToLower(strings.TrimSpace(n))] = true
	}
	var filtered []types.Product
	for _, item := range items {
		if wanted[strings.ToLower(item.Name)] {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

func topN(items []types.Product, n int) []types.Product {
	if len(items) <= n {
		return append([]types.Product(nil), items...)
	}
	return append([]types.Product(nil), items[:n]...)
}

// CompatibilityRecord is the per-item result of a compatibility check.
type CompatibilityRecord struct {
	Name       string `json:"name"`
	Compatible bool   `json:"compatible"`
	Reason     string `json:"reason,omitempty"`
}

// CheckCompatibility evaluates hard constraints against items via the LLM.
// The fallback returns an empty list, which callers treat as "all
// compatible" (fail-open).
func (h *Helper) CheckCompatibility(ctx context.Context, items []types.Product, constraints []types.Constraint, productType string) []CompatibilityRecord {
	if len(items) == 0 || len(constraints) == 0 {
		return nil
	}

	system := "Evaluate whether each product satisfies all hard constraints. " +
		"Respond with JSON only: {\"results\": [{\"name\", \"compatible\", \"reason\"}]}."
	consJSON, _ := json.Marshal(constraints)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Product type: %s\nConstraints: %s\nProducts:\n", productType, consJSON)
	for i := range items {
		fmt.Fprintf(&sb, "- %s (price=%v, specs=%s)\n", items[i].Name, items[i].Price, items[i].Specs)
	}

	var out struct {
		Results []CompatibilityRecord `json:"results"`
	}
	if err := h.chatJSON(ctx, system, sb.String(), compatibilitySchema, &out); err != nil {
		return nil
	}
	return out.Results
}
