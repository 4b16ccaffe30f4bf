package contract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/MercatoLabs/dealkit/types"
)

var (
	priceMaxPattern = regexp.MustCompile(`(?i)(?:under|below|less than|max(?:imum)?|cheaper than)\s*\$?(\d+(?:\.\d+)?)`)
	priceMinPattern = regexp.MustCompile(`(?i)(?:over|above|more than|min(?:imum)?|at least)\s*\$?(\d+(?:\.\d+)?)`)
	brandPattern    = regexp.MustCompile(`(?i)(?:brand|make|manufacturer)\s+([a-z0-9][a-z0-9\- ]{0,30}?)(?:[.,;]|$)`)
)

// parseConstraints extracts hard constraints from a refinement utterance.
// When nothing specific matches, the raw text becomes a single general
// contains-constraint so the round still narrows something.
func parseConstraints(text string) []types.Constraint {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []types.Constraint
	if m := priceMaxPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out = append(out, types.Constraint{Type: "price", Operator: "<=", Value: v})
		}
	}
	if m := priceMinPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out = append(out, types.Constraint{Type: "price", Operator: ">=", Value: v})
		}
	}
	if m := brandPattern.FindStringSubmatch(text); m != nil {
		brand := strings.TrimSpace(m[1])
		if brand != "" {
			out = append(out, types.Constraint{Type: "brand", Operator: "==", Value: brand})
		}
	}

	if len(out) == 0 {
		out = append(out, types.Constraint{Type: "general", Operator: "contains", Value: text})
	}
	return out
}

// constraintQueryTerms renders constraints as extra search terms so the
// refined search query carries them.
func constraintQueryTerms(constraints []types.Constraint) string {
	var parts []string
	for _, c := range constraints {
		switch c.Type {
		case "price":
			if c.Operator == "<=" {
				parts = append(parts, "under "+formatConstraintValue(c.Value))
			}
		case "brand":
			parts = append(parts, formatConstraintValue(c.Value))
		case "general":
			parts = append(parts, formatConstraintValue(c.Value))
		}
	}
	return strings.Join(parts, " ")
}

func formatConstraintValue(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		return strconv.Itoa(n)
	default:
		return ""
	}
}
