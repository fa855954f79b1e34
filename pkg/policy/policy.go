// Package policy decides whether a routed message must go to a human.
//
// Rules are evaluated in precedence order and the first match wins. Keyword
// rules look only at the user's message, never at the answer text.
package policy

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/zen-systems/helpgate/pkg/textutil"
)

// Reason tags why a message was escalated.
type Reason string

const (
	ReasonHumanRequested    Reason = "human_requested"
	ReasonLegal             Reason = "legal"
	ReasonSecurity          Reason = "security"
	ReasonBillingDispute    Reason = "billing_dispute"
	ReasonLowConfidence     Reason = "low_confidence"
	ReasonDegenerateAnswer  Reason = "degenerate_answer"
	ReasonModelRequested    Reason = "model_requested"
	ReasonGenerationFailure Reason = "generation_failure"
)

// Input is the tentative decision handed to the policy.
type Input struct {
	// Message is the user's original message.
	Message    string
	Answer     string
	Confidence float64
	// Generated is set when Answer came from the backend. Answer-quality
	// rules only judge generated text; curated FAQ answers are trusted.
	Generated bool
	// EscalateHint is the backend's own escalation suggestion.
	EscalateHint bool
	// GenerationErr is set when the answer is a fallback for a failed backend call.
	GenerationErr error
}

// Facts is what a rule predicate sees: the input plus the normalized message.
type Facts struct {
	Input
	NormalizedMessage string
}

// Predicate reports whether a rule applies.
type Predicate func(f Facts) bool

// Rule is one tagged escalation predicate.
type Rule struct {
	Name        string
	Reason      Reason
	Precedence  int
	Description string
	Match       Predicate
}

// Outcome is the result of evaluating the policy.
type Outcome struct {
	Escalate bool
	Reason   Reason
	Rule     string
}

// Policy is an ordered, immutable list of rules.
type Policy struct {
	rules []Rule
}

// NewWithRules builds a policy from arbitrary rules, ordered by precedence.
// Rules with equal precedence keep the order given.
func NewWithRules(rules ...Rule) *Policy {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Precedence < sorted[j].Precedence
	})
	return &Policy{rules: sorted}
}

// New builds the standard rule chain from cfg.
func New(cfg Config) *Policy {
	cfg = cfg.withDefaults()
	topics := normalizeTerms(cfg.StandardTopics)
	return NewWithRules(
		KeywordRule("explicit_human_request", ReasonHumanRequested, 10, cfg.HumanTerms),
		KeywordRule("legal_trigger", ReasonLegal, 20, cfg.LegalTerms),
		KeywordRule("security_trigger", ReasonSecurity, 21, cfg.SecurityTerms),
		KeywordRule("billing_dispute", ReasonBillingDispute, 22, cfg.BillingTerms),
		Rule{
			Name:        "low_confidence",
			Reason:      ReasonLowConfidence,
			Precedence:  30,
			Description: "confidence below " + formatFloat(cfg.ConfidenceThreshold),
			Match: func(f Facts) bool {
				return f.GenerationErr == nil && f.Confidence < cfg.ConfidenceThreshold
			},
		},
		Rule{
			Name:        "degenerate_answer",
			Reason:      ReasonDegenerateAnswer,
			Precedence:  40,
			Description: "answer shorter than " + formatInt(cfg.MinAnswerLength) + " characters",
			Match: func(f Facts) bool {
				return f.Generated && utf8.RuneCountInString(strings.TrimSpace(f.Answer)) < cfg.MinAnswerLength
			},
		},
		Rule{
			Name:        "model_requested",
			Reason:      ReasonModelRequested,
			Precedence:  45,
			Description: "backend asked for escalation, unless a confident answer covers a routine topic",
			Match: func(f Facts) bool {
				if !f.Generated || !f.EscalateHint {
					return false
				}
				return !(f.Confidence > cfg.ConfidenceThreshold && mentionsAny(f.NormalizedMessage, topics))
			},
		},
		Rule{
			Name:        "generation_failure",
			Reason:      ReasonGenerationFailure,
			Precedence:  50,
			Description: "backend timed out, hit quota or returned garbage",
			Match: func(f Facts) bool {
				return f.GenerationErr != nil
			},
		},
	)
}

// KeywordRule matches when the message contains any term as a whole word,
// case-insensitively.
func KeywordRule(name string, reason Reason, precedence int, terms []string) Rule {
	normalized := normalizeTerms(terms)
	return Rule{
		Name:        name,
		Reason:      reason,
		Precedence:  precedence,
		Description: "message mentions: " + strings.Join(normalized, ", "),
		Match: func(f Facts) bool {
			return mentionsAny(f.NormalizedMessage, normalized)
		},
	}
}

func normalizeTerms(terms []string) []string {
	normalized := make([]string, 0, len(terms))
	for _, t := range terms {
		if n := textutil.Normalize(t); n != "" {
			normalized = append(normalized, n)
		}
	}
	return normalized
}

func mentionsAny(message string, terms []string) bool {
	for _, term := range terms {
		if textutil.ContainsWord(message, term) {
			return true
		}
	}
	return false
}

// Evaluate runs the rules in order and returns the first match, or a pass.
func (p *Policy) Evaluate(in Input) Outcome {
	facts := Facts{Input: in, NormalizedMessage: textutil.Normalize(in.Message)}
	for _, r := range p.rules {
		if r.Match != nil && r.Match(facts) {
			return Outcome{Escalate: true, Reason: r.Reason, Rule: r.Name}
		}
	}
	return Outcome{}
}

// Rules returns the rules in evaluation order.
func (p *Policy) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	copy(out, p.rules)
	return out
}
