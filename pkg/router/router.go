// Package router turns a customer message into a routing decision: a FAQ
// answer, a generated answer, or a fallback, with an escalation verdict.
package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/zen-systems/helpgate/pkg/faq"
	"github.com/zen-systems/helpgate/pkg/generator"
	"github.com/zen-systems/helpgate/pkg/logger"
	"github.com/zen-systems/helpgate/pkg/policy"
	"github.com/zen-systems/helpgate/pkg/session"
)

const (
	DefaultContextWindow    = 6
	DefaultMaxMessageLength = 2000

	// EscalatedBySystem marks escalations filed by the policy rather than a
	// person.
	EscalatedBySystem = "system"

	// FallbackAnswer is returned whenever the backend could not produce an answer.
	FallbackAnswer = "I'm sorry, I'm having trouble answering right now. Please try again in a moment, or I can connect you with our support team."
)

// Confidence 1.0 is reserved for exact FAQ matches.
var maxNonExactConfidence = math.Nextafter(1.0, 0)

// InvalidInputError rejects a message before any lookup happens.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// Generator produces an answer from the message and its recent context.
type Generator interface {
	Generate(ctx context.Context, query string, history []session.Message) (*generator.Answer, error)
}

// Observer receives routing events, typically for metrics.
type Observer interface {
	ObserveDecision(d *Decision)
	ObserveFAQMatch(stage string)
	ObserveGenerationFailure(kind string)
	ObserveTokens(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveDecision(*Decision)       {}
func (nopObserver) ObserveFAQMatch(string)          {}
func (nopObserver) ObserveGenerationFailure(string) {}
func (nopObserver) ObserveTokens(int)               {}

// Router composes the FAQ index, session store, generator and policy. It
// holds no per-call state, so one Router serves concurrent requests.
type Router struct {
	index     *faq.Index
	sessions  session.Store
	generator Generator
	policy    *policy.Policy

	contextWindow    int
	maxMessageLength int
	log              logger.Logger
	observer         Observer
}

// Option configures a Router.
type Option func(*Router)

// WithContextWindow sets how many recent messages are sent to the generator.
func WithContextWindow(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.contextWindow = n
		}
	}
}

// WithMaxMessageLength sets the longest accepted message, in characters.
func WithMaxMessageLength(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxMessageLength = n
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(r *Router) { r.log = l }
}

func WithObserver(o Observer) Option {
	return func(r *Router) {
		if o != nil {
			r.observer = o
		}
	}
}

// New creates a Router. A nil policy uses the default rule chain.
func New(index *faq.Index, sessions session.Store, gen Generator, p *policy.Policy, opts ...Option) *Router {
	if p == nil {
		p = policy.New(policy.DefaultConfig())
	}
	r := &Router{
		index:            index,
		sessions:         sessions,
		generator:        gen,
		policy:           p,
		contextWindow:    DefaultContextWindow,
		maxMessageLength: DefaultMaxMessageLength,
		log:              logger.Discard(),
		observer:         nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("component", "router")
	return r
}

// Route decides how to answer req and records the exchange in its session.
//
// Bad requests fail with *InvalidInputError, and a lost race to create the
// named session fails with session.ErrDuplicateSession. Backend failures
// never surface here; they become a fallback decision.
func (r *Router) Route(ctx context.Context, req Request) (*Decision, error) {
	message, err := r.validate(req.Message)
	if err != nil {
		return nil, err
	}

	sessionID, history, err := r.openSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	log := r.log.With("session", sessionID)
	log.Info("routing message", "length", utf8.RuneCountInString(message))
	if found := suspiciousPatterns(message); len(found) > 0 {
		log.Warn("possible prompt injection", "patterns", found)
	}

	decision := r.Decide(ctx, message, req.Metadata[MetadataCategory], history)
	decision.SessionID = sessionID

	if decision.Escalate {
		log.Info("escalating", "reason", string(decision.Reason), "source", string(decision.Source))
	}
	r.observer.ObserveDecision(decision)

	if err := r.record(ctx, sessionID, message, decision); err != nil {
		return nil, err
	}
	return decision, nil
}

// tentative is a decision before the policy has ruled on it.
type tentative struct {
	decision *Decision
	hint     bool
	genErr   error
}

// Decide computes a decision without touching the session store. Given the
// same message, history, index and a deterministic generator it always
// returns an equal decision.
func (r *Router) Decide(ctx context.Context, message, category string, history []session.Message) *Decision {
	t := r.faqAnswer(message, category)
	if t == nil {
		t = r.generatedAnswer(ctx, message, history)
	}

	d := t.decision
	outcome := r.policy.Evaluate(policy.Input{
		Message:       message,
		Answer:        d.Answer,
		Confidence:    d.Confidence,
		Generated:     d.Source == SourceGenerated,
		EscalateHint:  t.hint,
		GenerationErr: t.genErr,
	})
	if outcome.Escalate {
		d.Escalate = true
		d.Reason = outcome.Reason
		d.addAction(string(outcome.Reason))
	}
	return d
}

func (r *Router) faqAnswer(message, category string) *tentative {
	if r.index == nil {
		return nil
	}
	res, err := r.index.Search(message, category)
	if errors.Is(err, faq.ErrIndexUnavailable) {
		r.log.Debug("faq index not loaded, skipping lookup")
		return nil
	}
	if err != nil {
		r.log.Warn("faq lookup failed", "error", err)
		return nil
	}
	best, ok := res.Best()
	if !ok {
		return nil
	}

	r.log.Info("faq hit", "faq", best.Entry.ID, "score", best.Score, "stage", string(best.Stage))
	r.observer.ObserveFAQMatch(string(best.Stage))

	confidence := best.Score
	if !best.Exact() {
		confidence = math.Min(confidence, maxNonExactConfidence)
	}
	return &tentative{decision: &Decision{
		Answer:           best.Entry.Answer,
		Confidence:       confidence,
		SuggestedActions: []string{"check_faq"},
		Source:           SourceFAQ,
		FAQID:            best.Entry.ID,
		MatchStage:       string(best.Stage),
	}}
}

func (r *Router) generatedAnswer(ctx context.Context, message string, history []session.Message) *tentative {
	if r.generator == nil {
		return fallback(errors.New("no generator configured"))
	}

	ans, err := r.generator.Generate(ctx, message, history)
	if err != nil {
		kind := generator.KindOf(err)
		if kind == "" {
			kind = generator.KindBackend
		}
		r.observer.ObserveGenerationFailure(string(kind))
		r.log.Warn("generation failed, using fallback", "kind", string(kind), "error", err)
		return fallback(err)
	}

	d := &Decision{
		Answer:           ans.Text,
		Confidence:       math.Min(ans.Confidence, maxNonExactConfidence),
		SuggestedActions: []string{},
		Source:           SourceGenerated,
	}
	for _, a := range ans.SuggestedActions {
		d.addAction(a)
	}
	if ans.Usage != nil {
		d.Tokens = ans.Usage.TotalTokens
		r.observer.ObserveTokens(ans.Usage.TotalTokens)
	}
	return &tentative{decision: d, hint: ans.EscalateHint}
}

func fallback(err error) *tentative {
	return &tentative{
		decision: &Decision{
			Answer:           FallbackAnswer,
			Confidence:       0,
			SuggestedActions: []string{"retry", "contact_support"},
			Source:           SourceFallback,
			GenerationError:  string(kindOrBackend(err)),
		},
		genErr: err,
	}
}

func kindOrBackend(err error) generator.Kind {
	if k := generator.KindOf(err); k != "" {
		return k
	}
	return generator.KindBackend
}

func (r *Router) validate(message string) (string, error) {
	if !utf8.ValidString(message) {
		return "", &InvalidInputError{Reason: "message is not valid UTF-8"}
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return "", &InvalidInputError{Reason: "message is empty"}
	}
	if n := utf8.RuneCountInString(message); n > r.maxMessageLength {
		return "", &InvalidInputError{Reason: fmt.Sprintf("message is %d characters, limit is %d", n, r.maxMessageLength)}
	}
	return message, nil
}

// openSession returns the session id and its context window, creating the
// session when id is empty or unknown.
func (r *Router) openSession(ctx context.Context, id string) (string, []session.Message, error) {
	if id != "" {
		history, err := r.sessions.RecentContext(ctx, id, r.contextWindow)
		if err == nil {
			return id, history, nil
		}
		if !errors.Is(err, session.ErrSessionNotFound) {
			return "", nil, fmt.Errorf("read session: %w", err)
		}
	}

	s, err := r.sessions.Create(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return s.ID, []session.Message{}, nil
}

// record stores the exchange as one turn and, when escalating, files an
// escalation against the session.
func (r *Router) record(ctx context.Context, sessionID, message string, d *Decision) error {
	turn := session.Turn{
		User:   session.Message{Role: session.RoleUser, Content: message},
		Answer: session.Message{Role: session.RoleAssistant, Content: d.Answer},
		Tokens: d.Tokens,
	}
	if err := r.sessions.AppendTurn(ctx, sessionID, turn); err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	if d.Escalate {
		e, err := r.sessions.Escalate(ctx, sessionID, string(d.Reason), EscalatedBySystem)
		if err != nil {
			r.log.Warn("failed to record escalation", "session", sessionID, "error", err)
			return nil
		}
		d.EscalationID = e.ID
	}
	return nil
}
