package adapter

import (
	"context"
	"fmt"
)

// Adapter is a chat-style text generation backend.
type Adapter interface {
	// Generate sends the conversation to the model and returns its reply.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of suggested models.
	Models() []string
}

// Options configures a provider adapter.
type Options struct {
	APIKey  string
	BaseURL string
	// Headers are sent with every request (OpenRouter attribution headers, for example).
	Headers map[string]string
}

// New builds the adapter registered under name.
func New(name string, opts Options) (Adapter, error) {
	switch name {
	case "openrouter":
		if opts.BaseURL == "" {
			opts.BaseURL = OpenRouterBaseURL
		}
		return NewOpenAIAdapter("openrouter", opts)
	case "openai":
		return NewOpenAIAdapter("openai", opts)
	case "anthropic":
		return NewAnthropicAdapter(opts)
	case "google":
		return NewGoogleAdapter(opts)
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
