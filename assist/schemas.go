package assist

import "github.com/xeipuuv/gojsonschema"

// The helper output schemas are frozen: LLM JSON is accepted only when it
// validates, otherwise the heuristic fallback fires.

func mustSchema(raw string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic("assist: invalid builtin schema: " + err.Error())
	}
	return s
}

var criteriaSchema = mustSchema(`{
	"type": "object",
	"required": ["base_product", "enhanced_query"],
	"properties": {
		"base_product": {"type": "string"},
		"specifications": {"type": "object", "additionalProperties": {"type": "string"}},
		"search_keywords": {"type": "array", "items": {"type": "string"}},
		"enhanced_query": {"type": "string"}
	}
}`)

var relevanceSchema = mustSchema(`{
	"type": "object",
	"required": ["is_relevant"],
	"properties": {
		"is_relevant": {"type": "boolean"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reason": {"type": "string"},
		"detected_intent": {"type": "string"}
	}
}`)

var attributesSchema = mustSchema(`{
	"type": "object",
	"required": ["attributes"],
	"properties": {
		"attributes": {"type": "array", "items": {"type": "string"}, "maxItems": 10}
	}
}`)

var preferenceSchema = mustSchema(`{
	"type": "object",
	"required": ["preferences", "constraints"],
	"properties": {
		"preferences": {"type": "object", "additionalProperties": {"type": "string"}},
		"constraints": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["type", "operator", "value"],
				"properties": {
					"type": {"type": "string"},
					"operator": {"type": "string"}
				}
			}
		}
	}
}`)

var filterSchema = mustSchema(`{
	"type": "object",
	"required": ["names"],
	"properties": {
		"names": {"type": "array", "items": {"type": "string"}}
	}
}`)

var compatibilitySchema = mustSchema(`{
	"type": "object",
	"required": ["results"],
	"properties": {
		"results": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "compatible"],
				"properties": {
					"name": {"type": "string"},
					"compatible": {"type": "boolean"},
					"reason": {"type": "string"}
				}
			}
		}
	}
}`)

var recommendationSchema = mustSchema(`{
	"type": "object",
	"required": ["numbered_products", "recommendation"],
	"properties": {
		"numbered_products": {"type": "array", "items": {"type": "string"}},
		"recommendation": {
			"type": "object",
			"required": ["choice", "reasoning"],
			"properties": {
				"choice": {"type": "integer", "minimum": 1},
				"reasoning": {"type": "string"}
			}
		}
	}
}`)

var boolSchema = mustSchema(`{
	"type": "object",
	"required": ["answer"],
	"properties": {
		"answer": {"type": "boolean"}
	}
}`)
