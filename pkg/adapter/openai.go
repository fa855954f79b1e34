package adapter

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenAIAdapter talks to any OpenAI-compatible chat completions API.
type OpenAIAdapter struct {
	name   string
	client openai.Client
}

// NewOpenAIAdapter creates an adapter for the OpenAI API or a compatible
// endpoint such as OpenRouter when opts.BaseURL is set.
func NewOpenAIAdapter(name string, opts Options) (*OpenAIAdapter, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", name)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		// Failed generations degrade to escalation; the SDK must not retry.
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	for k, v := range opts.Headers {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}

	return &OpenAIAdapter{name: name, client: openai.NewClient(reqOpts...)}, nil
}

// Name returns the adapter identifier.
func (a *OpenAIAdapter) Name() string {
	return a.name
}

// Models returns suggested models for the endpoint.
func (a *OpenAIAdapter) Models() []string {
	if a.name == "openrouter" {
		return []string{
			"anthropic/claude-3-haiku",
			"openai/gpt-4o-mini",
			"meta-llama/llama-3.1-8b-instruct",
		}
	}
	return []string{
		"gpt-4o-mini",
		"gpt-4o",
	}
}

// Generate sends the conversation and returns the first choice.
func (a *OpenAIAdapter) Generate(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapError(a.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &AdapterError{Adapter: a.name, Err: fmt.Errorf("no choices returned")}
	}

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Adapter: a.name,
		Model:   resp.Model,
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}
