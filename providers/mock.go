package providers

import (
	"context"
	"sync"
)

// MockProvider is a scripted provider for tests. Responses are returned in
// order; when the script is exhausted the last entry repeats. Errors can be
// injected per call position.
type MockProvider struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	requests  []ChatRequest
}

// NewMockProvider creates a mock that cycles through the given responses.
func NewMockProvider(responses ...string) *MockProvider {
	return &MockProvider{responses: responses}
}

// FailWith schedules errors for upcoming calls, consumed before responses.
func (m *MockProvider) FailWith(errs ...error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
	return m
}

// ID implements Provider.
func (m *MockProvider) ID() string { return "mock" }

// Chat implements Provider with scripted behavior.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return ChatResponse{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.calls++

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return ChatResponse{}, err
	}

	if len(m.responses) == 0 {
		return ChatResponse{Content: ""}, nil
	}
	idx := m.calls - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return ChatResponse{Content: m.responses[idx]}, nil
}

// Close implements Provider.
func (m *MockProvider) Close() error { return nil }

// Calls returns how many Chat calls were made.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastRequest returns the most recent request, or a zero value when none.
func (m *MockProvider) LastRequest() ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return ChatRequest{}
	}
	return m.requests[len(m.requests)-1]
}
