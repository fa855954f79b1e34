package router

import "github.com/zen-systems/helpgate/pkg/policy"

// Source names where a decision's answer came from.
type Source string

const (
	SourceFAQ       Source = "faq"
	SourceGenerated Source = "generated"
	SourceFallback  Source = "fallback"
)

// Decision is the routing outcome for one message. A new call always
// produces a new Decision.
type Decision struct {
	Answer           string        `json:"answer"`
	Confidence       float64       `json:"confidence"`
	Escalate         bool          `json:"escalate"`
	SuggestedActions []string      `json:"suggested_actions"`
	Source           Source        `json:"source"`
	SessionID        string        `json:"session_id"`
	Reason           policy.Reason `json:"reason,omitempty"`
	EscalationID     string        `json:"escalation_id,omitempty"`
	FAQID            string        `json:"faq_id,omitempty"`
	MatchStage       string        `json:"match_stage,omitempty"`
	GenerationError  string        `json:"generation_error,omitempty"`
	Tokens           int           `json:"tokens,omitempty"`
}

// Request is a single inbound customer message.
type Request struct {
	SessionID string            `json:"session_id,omitempty"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MetadataCategory restricts the FAQ lookup to one category when set.
const MetadataCategory = "category"

// addAction appends tag unless it is already present.
func (d *Decision) addAction(tag string) {
	for _, a := range d.SuggestedActions {
		if a == tag {
			return
		}
	}
	d.SuggestedActions = append(d.SuggestedActions, tag)
}
