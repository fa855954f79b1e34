package policy

import "strconv"

const (
	DefaultConfidenceThreshold = 0.6
	DefaultMinAnswerLength     = 10
)

var (
	DefaultHumanTerms    = []string{"manager", "supervisor", "escalate", "human", "person", "representative", "real agent"}
	DefaultLegalTerms    = []string{"legal", "lawyer", "sue", "court", "attorney", "lawsuit"}
	DefaultSecurityTerms = []string{"fraud", "hack", "hacked", "steal", "stolen", "unauthorized", "security breach", "identity theft"}
	DefaultBillingTerms  = []string{"dispute", "chargeback", "credit card dispute"}

	// DefaultStandardTopics are routine subjects where a confident generated
	// answer is kept even if the backend suggests escalating.
	DefaultStandardTopics = []string{
		"track", "order", "shipping", "delivery", "return", "refund", "password",
		"account", "address", "payment method", "cancel order", "when will",
		"how long", "how to", "where is", "status",
	}
)

// Config holds the tunable parts of the standard rule chain.
type Config struct {
	HumanTerms          []string `yaml:"human_terms"`
	LegalTerms          []string `yaml:"legal_terms"`
	SecurityTerms       []string `yaml:"security_terms"`
	BillingTerms        []string `yaml:"billing_terms"`
	StandardTopics      []string `yaml:"standard_topics"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	MinAnswerLength     int      `yaml:"min_answer_length"`
}

// DefaultConfig returns the stock term lists and thresholds.
func DefaultConfig() Config {
	return Config{
		HumanTerms:          append([]string(nil), DefaultHumanTerms...),
		LegalTerms:          append([]string(nil), DefaultLegalTerms...),
		SecurityTerms:       append([]string(nil), DefaultSecurityTerms...),
		BillingTerms:        append([]string(nil), DefaultBillingTerms...),
		StandardTopics:      append([]string(nil), DefaultStandardTopics...),
		ConfidenceThreshold: DefaultConfidenceThreshold,
		MinAnswerLength:     DefaultMinAnswerLength,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.HumanTerms) == 0 {
		c.HumanTerms = d.HumanTerms
	}
	if len(c.LegalTerms) == 0 {
		c.LegalTerms = d.LegalTerms
	}
	if len(c.SecurityTerms) == 0 {
		c.SecurityTerms = d.SecurityTerms
	}
	if len(c.BillingTerms) == 0 {
		c.BillingTerms = d.BillingTerms
	}
	if len(c.StandardTopics) == 0 {
		c.StandardTopics = d.StandardTopics
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if c.MinAnswerLength == 0 {
		c.MinAnswerLength = d.MinAnswerLength
	}
	return c
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
func formatInt(n int) string       { return strconv.Itoa(n) }
