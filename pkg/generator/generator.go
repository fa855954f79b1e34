package generator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/zen-systems/helpgate/pkg/adapter"
	"github.com/zen-systems/helpgate/pkg/logger"
	"github.com/zen-systems/helpgate/pkg/session"
)

const (
	DefaultTimeout     = 5 * time.Second
	DefaultTemperature = 0.15
	DefaultMaxTokens   = 512
)

// Answer is a backend reply that satisfied the JSON contract.
type Answer struct {
	Text             string
	Confidence       float64
	EscalateHint     bool
	SuggestedActions []string

	Backend string
	Model   string
	Usage   *adapter.Usage
	Latency time.Duration
}

// Client turns a text generation backend into structured answers.
type Client struct {
	backend      adapter.Adapter
	model        string
	timeout      time.Duration
	temperature  float64
	maxTokens    int
	systemPrompt string
	log          logger.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithTimeout bounds every Generate call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(c *Client) {
		if strings.TrimSpace(prompt) != "" {
			c.systemPrompt = prompt
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a Client over backend.
func New(backend adapter.Adapter, opts ...Option) *Client {
	c := &Client{
		backend:      backend,
		timeout:      DefaultTimeout,
		temperature:  DefaultTemperature,
		maxTokens:    DefaultMaxTokens,
		systemPrompt: DefaultSystemPrompt,
		log:          logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "generator", "backend", backend.Name())
	return c
}

// Timeout returns the per-call deadline.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Backend returns the name of the underlying adapter.
func (c *Client) Backend() string { return c.backend.Name() }

// Model returns the configured model, empty for the adapter's default.
func (c *Client) Model() string { return c.model }

type result struct {
	resp *adapter.Response
	err  error
}

// Generate asks the backend to answer query given the recent conversation.
//
// The call returns by the deadline even when the backend ignores ctx; a
// reply that arrives later is dropped. Nothing is retried.
func (c *Client) Generate(ctx context.Context, query string, history []session.Message) (*Answer, error) {
	req := c.buildRequest(query, history)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan result, 1)
	go func() {
		resp, err := c.backend.Generate(ctx, req)
		done <- result{resp: resp, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r = result{err: ctx.Err()}
	}
	latency := time.Since(start)

	if r.err != nil {
		gerr := classify(r.err)
		c.log.Warn("generation failed", "kind", string(gerr.Kind), "latency", latency, "transient", adapter.IsTransient(r.err), "error", r.err)
		return nil, gerr
	}
	if r.resp == nil {
		return nil, &Error{Kind: KindBackend, Err: errors.New("empty response")}
	}

	ans, err := parseAnswer(r.resp.Content)
	if err != nil {
		c.log.Warn("generation response rejected", "latency", latency, "error", err)
		return nil, err
	}
	ans.Backend = r.resp.Adapter
	ans.Model = r.resp.Model
	ans.Usage = r.resp.Usage
	ans.Latency = latency

	keyvals := []any{"model", ans.Model, "latency", latency, "confidence", ans.Confidence}
	if ans.Usage != nil {
		keyvals = append(keyvals, "tokens", ans.Usage.TotalTokens)
	}
	c.log.Info("generation completed", keyvals...)
	return ans, nil
}

func (c *Client) buildRequest(query string, history []session.Message) adapter.Request {
	msgs := make([]adapter.Message, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case session.RoleUser:
			msgs = append(msgs, adapter.Message{Role: adapter.RoleUser, Content: m.Content})
		case session.RoleAssistant:
			msgs = append(msgs, adapter.Message{Role: adapter.RoleAssistant, Content: m.Content})
		}
	}
	msgs = append(msgs, adapter.Message{Role: adapter.RoleUser, Content: query})

	return adapter.Request{
		Model:       c.model,
		System:      c.systemPrompt,
		Messages:    msgs,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
}

func classify(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Err: err}
	case adapter.IsQuota(err):
		return &Error{Kind: KindQuota, Err: err}
	default:
		return &Error{Kind: KindBackend, Err: err}
	}
}

type wireAnswer struct {
	Answer           *string  `json:"answer"`
	Confidence       *float64 `json:"confidence"`
	Escalate         bool     `json:"escalate"`
	SuggestedActions []string `json:"suggested_actions"`
}

// parseAnswer extracts the JSON object between the first '{' and the last '}'
// so code fences and stray prose around it are tolerated.
func parseAnswer(content string) (*Answer, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return nil, parseError("no JSON object in response")
	}

	var w wireAnswer
	if err := json.Unmarshal([]byte(content[start:end+1]), &w); err != nil {
		return nil, parseError("invalid JSON: %v", err)
	}
	if w.Answer == nil || strings.TrimSpace(*w.Answer) == "" {
		return nil, parseError("missing answer")
	}
	if w.Confidence == nil {
		return nil, parseError("missing confidence")
	}
	if *w.Confidence < 0 || *w.Confidence > 1 {
		return nil, parseError("confidence %v out of range", *w.Confidence)
	}

	actions := make([]string, 0, len(w.SuggestedActions))
	for _, a := range w.SuggestedActions {
		if a = strings.TrimSpace(a); a != "" {
			actions = append(actions, a)
		}
	}

	return &Answer{
		Text:             strings.TrimSpace(*w.Answer),
		Confidence:       *w.Confidence,
		EscalateHint:     w.Escalate,
		SuggestedActions: actions,
	}, nil
}
