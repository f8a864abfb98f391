package mock

import (
	"context"
	"sync"

	"github.com/poiesic/docchat/ai"
)

// MockChatModel is a test double for ai.ChatModel.
// Requests are recorded so tests can assert on prompts and budgets.
type MockChatModel struct {
	// GenerateFunc is called by Generate if set.
	// If nil, Generate returns Reply.
	GenerateFunc func(ctx context.Context, req ai.GenerateRequest) (string, error)

	// Reply is the canned answer used when GenerateFunc is nil.
	Reply string

	mu       sync.Mutex
	requests []ai.GenerateRequest
}

// NewMockChatModel creates a chat model that answers every request with a fixed reply.
func NewMockChatModel() *MockChatModel {
	return &MockChatModel{Reply: "This is a mock answer."}
}

// Generate records the request and returns the scripted reply.
func (m *MockChatModel) Generate(ctx context.Context, req ai.GenerateRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return m.Reply, nil
}

// Requests returns a copy of every request received so far.
func (m *MockChatModel) Requests() []ai.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ai.GenerateRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns the number of Generate calls.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Reset clears recorded requests and injected behavior.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.GenerateFunc = nil
}
