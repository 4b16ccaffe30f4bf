// Package providers defines the chat-completion interface to external LLM
// services. The engine treats providers as fault-prone collaborators: every
// call carries a timeout and callers are expected to have a fallback.
package providers

import (
	"context"
	"time"

	"github.com/MercatoLabs/dealkit/types"
)

// DefaultTimeout is the recommended ceiling for LLM calls.
const DefaultTimeout = 30 * time.Second

// ChatRequest is a request to a chat provider.
type ChatRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []types.Message `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

// ChatResponse is a single-completion response from a chat provider.
type ChatResponse struct {
	Content string        `json:"content"`
	Latency time.Duration `json:"latency"`
}

// Provider is the contract for chat-completion backends.
type Provider interface {
	ID() string
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Close() error
}

// WithTimeout wraps a provider so every Chat call is bounded by d.
// A non-positive d uses DefaultTimeout.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutProvider{inner: p, timeout: d}
}

type timeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

func (t *timeoutProvider) ID() string { return t.inner.ID() }

func (t *timeoutProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Chat(ctx, req)
}

func (t *timeoutProvider) Close() error { return t.inner.Close() }
