// Package privacy implements PII detection and redaction. The semantic
// memory store and the summary persistence path call into it before
// writing user text anywhere durable.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

// Method selects how detected PII is replaced.
type Method string

// Redaction methods.
const (
	MethodPlaceholder Method = "placeholder"
	MethodHash        Method = "hash"
)

// Detection describes one PII match in a text.
type Detection struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Redactor detects and removes personally identifiable information.
type Redactor interface {
	Redact(text string, method Method) string
	DetectPII(text string) []Detection
	// IsTextSafeForStorage reports whether text can be stored as-is.
	// The threshold is the maximum tolerated PII density in [0,1].
	IsTextSafeForStorage(text string, threshold float64) bool
}

// piiPattern pairs a kind label with its detection regex.
type piiPattern struct {
	kind  string
	regex *regexp.Regexp
}

// Ordering matters: longer, more specific patterns run first so an SSN is
// not half-consumed by the phone pattern.
var patterns = []piiPattern{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"phone", regexp.MustCompile(`\b(?:\+?1[ .\-]?)?\(?\d{3}\)?[ .\-]?\d{3}[ .\-]?\d{4}\b`)},
	{"ip_address", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

// RegexRedactor is the default pattern-based Redactor implementation.
// It is stateless and safe for concurrent use.
type RegexRedactor struct{}

// NewRegexRedactor creates the default redactor.
func NewRegexRedactor() *RegexRedactor {
	return &RegexRedactor{}
}

// DetectPII returns all PII matches in text, in pattern order.
func (r *RegexRedactor) DetectPII(text string) []Detection {
	var detections []Detection
	for _, p := range patterns {
		for _, loc := range p.regex.FindAllStringIndex(text, -1) {
			detections = append(detections, Detection{
				Kind:  p.kind,
				Value: text[loc[0]:loc[1]],
				Start: loc[0],
				End:   loc[1],
			})
		}
	}
	return detections
}

// Redact replaces all detected PII in text using the given method.
// Placeholder replacement yields "[KIND]"; hash replacement yields a short
// stable digest so redacted values remain correlatable.
func (r *RegexRedactor) Redact(text string, method Method) string {
	result := text
	for _, p := range patterns {
		kind := p.kind
		result = p.regex.ReplaceAllStringFunc(result, func(match string) string {
			if method == MethodHash {
				sum := sha256.Sum256([]byte(match))
				return fmt.Sprintf("[%s:%s]", kind, hex.EncodeToString(sum[:4]))
			}
			return fmt.Sprintf("[%s]", kind)
		})
	}
	return result
}

// IsTextSafeForStorage reports whether the PII character density of text is
// below the threshold. Empty text is safe.
func (r *RegexRedactor) IsTextSafeForStorage(text string, threshold float64) bool {
	if text == "" {
		return true
	}
	if threshold <= 0 {
		threshold = 0.7
	}

	piiChars := 0
	for _, d := range r.DetectPII(text) {
		piiChars += d.End - d.Start
	}
	density := float64(piiChars) / float64(len(text))
	return density < threshold
}
