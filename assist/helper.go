// Package assist implements the LLM helper contracts used by the contract
// FSM and the pipelines. Every helper returns a structured result and never
// propagates a provider error to its caller: on any failure the documented
// heuristic fallback fires and the degraded result is returned instead.
//
// LLM JSON output is validated against a frozen schema before acceptance;
// validation failures are treated exactly like generation failures.
package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/xeipuuv/gojsonschema"

	"github.com/MercatoLabs/dealkit/logger"
	"github.com/MercatoLabs/dealkit/metrics"
	"github.com/MercatoLabs/dealkit/providers"
	"github.com/MercatoLabs/dealkit/resilience"
	"github.com/MercatoLabs/dealkit/types"
)

// serviceLLM is the health-monitor service name for the LLM provider.
const serviceLLM = "llm"

// Helper bundles the LLM provider with the fallback machinery.
type Helper struct {
	provider providers.Provider
	model    string
	monitor  *resilience.HealthMonitor

	// maxElapsed bounds the retry loop. One retry with jitter is the
	// budget; parse failures are never retried.
	maxElapsed time.Duration
}

// Option configures a Helper.
type Option func(*Helper)

// WithMonitor wires helper failures into a health monitor.
func WithMonitor(m *resilience.HealthMonitor) Option {
	return func(h *Helper) { h.monitor = m }
}

// WithModel overrides the model passed to the provider.
func WithModel(model string) Option {
	return func(h *Helper) { h.model = model }
}

// NewHelper creates a helper around the given provider.
func NewHelper(provider providers.Provider, opts ...Option) *Helper {
	h := &Helper{
		provider:   provider,
		model:      "gpt-4o-mini",
		monitor:    resilience.Global(),
		maxElapsed: 45 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// chat performs a completion with a single jittered retry on transient
// errors. The returned error is already recorded in the health monitor.
func (h *Helper) chat(ctx context.Context, system, user string) (string, error) {
	req := providers.ChatRequest{
		Model:    h.model,
		System:   system,
		Messages: []types.Message{{Role: "user", Content: user, Timestamp: time.Now().UTC()}},
	}

	var content string
	call := func() error {
		resp, err := h.provider.Chat(ctx, req)
		if err != nil {
			return err
		}
		content = resp.Content
		return nil
	}

	policy := backoff.WithContext(newRetryPolicy(h.maxElapsed), ctx)
	if err := backoff.Retry(call, policy); err != nil {
		metrics.RecordLLMRequest(h.model, "error")
		if h.monitor != nil {
			h.monitor.RecordError(serviceLLM)
		}
		return "", resilience.LLMFailure(err)
	}
	metrics.RecordLLMRequest(h.model, "success")
	if h.monitor != nil {
		h.monitor.RecordRecovery(serviceLLM)
	}
	return content, nil
}

// newRetryPolicy yields exactly one retry with jitter for transient errors.
func newRetryPolicy(maxElapsed time.Duration) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	exp.RandomizationFactor = 0.5
	exp.MaxElapsedTime = maxElapsed
	return backoff.WithMaxRetries(exp, 1)
}

// chatJSON performs a completion, extracts the JSON body, validates it
// against schema, and unmarshals into out. JSON-parse and validation
// failures are not retried; they surface as llm_failure like any other
// generation error.
func (h *Helper) chatJSON(ctx context.Context, system, user string, schema *gojsonschema.Schema, out any) error {
	content, err := h.chat(ctx, system, user)
	if err != nil {
		return err
	}

	raw := extractJSON(content)
	if raw == "" {
		return h.parseFailure(fmt.Errorf("no JSON object in response"))
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return h.parseFailure(fmt.Errorf("schema validation: %w", err))
	}
	if !result.Valid() {
		return h.parseFailure(fmt.Errorf("schema violation: %v", result.Errors()))
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return h.parseFailure(fmt.Errorf("unmarshal: %w", err))
	}
	return nil
}

func (h *Helper) parseFailure(err error) error {
	logger.Debug("LLM output rejected", "error", err)
	if h.monitor != nil {
		h.monitor.RecordError(serviceLLM)
	}
	return resilience.LLMFailure(err)
}

// extractJSON returns the outermost JSON object or array in content,
// tolerating markdown code fences around it.
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if fenced, ok := strings.CutPrefix(trimmed, "```json"); ok {
		trimmed = fenced
	} else if fenced, ok := strings.CutPrefix(trimmed, "```"); ok {
		trimmed = fenced
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	trimmed = strings.TrimSpace(trimmed)

	start := strings.IndexAny(trimmed, "{[")
	if start < 0 {
		return ""
	}
	var end int
	if trimmed[start] == '{' {
		end = strings.LastIndex(trimmed, "}")
	} else {
		end = strings.LastIndex(trimmed, "]")
	}
	if end <= start {
		return ""
	}
	return trimmed[start : end+1]
}
