package adapter

import (
	"context"
	"sync"
)

// MockAdapter returns scripted responses for local runs and tests.
type MockAdapter struct {
	mu              sync.Mutex
	responses       map[string]string
	defaultResponse string
	calls           []Request

	// Usage is attached to every successful response.
	Usage *Usage
	// Err, when set, is returned instead of a response.
	Err error
	// Hang, when set, blocks Generate until the channel is closed,
	// ignoring ctx, to simulate a backend that overruns its deadline.
	Hang chan struct{}
}

const mockDefaultResponse = `{"answer": "I'm not sure about that yet, but a teammate can help.", "confidence": 0.3, "escalate": false, "suggested_actions": []}`

// NewMockAdapter creates a mock adapter with a low-confidence default reply.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		responses:       make(map[string]string),
		defaultResponse: mockDefaultResponse,
	}
}

// NewMockAdapterWithResponses creates a mock adapter keyed by the last user message.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	if defaultResponse == "" {
		defaultResponse = mockDefaultResponse
	}
	if responses == nil {
		responses = make(map[string]string)
	}
	return &MockAdapter{responses: responses, defaultResponse: defaultResponse}
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Generate returns the scripted reply for the last user message.
func (a *MockAdapter) Generate(_ context.Context, req Request) (*Response, error) {
	a.mu.Lock()
	a.calls = append(a.calls, req)
	hang := a.Hang
	err := a.Err
	content, ok := a.responses[req.lastUserMessage()]
	if !ok {
		content = a.defaultResponse
	}
	a.mu.Unlock()

	if hang != nil {
		<-hang
	}
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = "mock-1"
	}
	return &Response{Content: content, Adapter: a.Name(), Model: model, Usage: a.Usage}, nil
}

// Calls returns the requests received so far.
func (a *MockAdapter) Calls() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Request, len(a.calls))
	copy(out, a.calls)
	return out
}
