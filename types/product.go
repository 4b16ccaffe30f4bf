package types

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Product is a single product record as returned by the shopping adapter
// and enriched by the preference-match pipeline.
type Product struct {
	Name         string   `json:"name"`
	Price        any      `json:"price,omitempty"`  // numeric or string with currency
	Rating       any      `json:"rating,omitempty"` // numeric 0-5 or string
	Description  string   `json:"description,omitempty"`
	Brand        string   `json:"brand,omitempty"`
	Specs        string   `json:"specs,omitempty"`
	Availability string   `json:"availability,omitempty"`
	Error        string   `json:"error,omitempty"` // in-band adapter error

	// Populated by the spec scraper.
	DetailedSpecs         map[string]string `json:"detailed_specs,omitempty"`
	CompatibilityFeatures []string          `json:"compatibility_features,omitempty"`
}

// PriceValue returns the numeric price. Missing or unparseable prices are
// +Inf so they sort last when ranking by ascending price.
func (p *Product) PriceValue() float64 {
	return parseNumeric(p.Price, math.Inf(1))
}

// RatingValue returns the numeric rating, 0 when missing or unparseable.
func (p *Product) RatingValue() float64 {
	r := parseNumeric(p.Rating, 0)
	if r < 0 {
		return 0
	}
	if r > 5 {
		return 5
	}
	return r
}

// parseNumeric extracts a float from numeric or string-with-currency values.
func parseNumeric(v any, missing float64) float64 {
	switch n := v.(type) {
	case nil:
		return missing
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return missing
		}
		return f
	case string:
		cleaned := strings.TrimSpace(n)
		cleaned = strings.TrimLeft(cleaned, "$€£¥ ")
		cleaned = strings.ReplaceAll(cleaned, ",", "")
		// Keep the leading numeric run ("499.99 USD" -> "499.99").
		end := 0
		for end < len(cleaned) && (cleaned[end] == '.' || (cleaned[end] >= '0' && cleaned[end] <= '9')) {
			end++
		}
		if end == 0 {
			return missing
		}
		f, err := strconv.ParseFloat(cleaned[:end], 64)
		if err != nil {
			return missing
		}
		return f
	default:
		return missing
	}
}
