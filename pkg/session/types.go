package session

import (
	"sort"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single conversation turn. Messages are append-only.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusEscalated Status = "escalated"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusEscalated
}

// EscalationOpen is the status of an escalation no agent has picked up yet.
const EscalationOpen = "open"

// Escalation records one hand-off to a human agent.
type Escalation struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
	CreatedBy string    `json:"created_by,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one exchange: the customer's message and the reply to it.
type Turn struct {
	User   Message
	Answer Message
	// Tokens reported by the backend for the reply, if any.
	Tokens int
}

func (t *Turn) stamp(now time.Time) {
	if t.User.Timestamp.IsZero() {
		t.User.Timestamp = now
	}
	if t.Answer.Timestamp.IsZero() {
		t.Answer.Timestamp = now
	}
}

// Session is a snapshot of one conversation. Values returned by a Store are
// copies; mutating them does not affect stored state.
type Session struct {
	ID           string       `json:"id"`
	Messages     []Message    `json:"messages"`
	Escalations  []Escalation `json:"escalations"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActiveAt time.Time    `json:"last_active_at"`
	Status       Status       `json:"status"`
	TotalTokens  int          `json:"total_tokens"`
}

// Summary describes a session without its message log.
type Summary struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	MessageCount int       `json:"total_messages"`
	TotalTokens  int       `json:"total_tokens"`
	Escalations  int       `json:"escalations"`
}

// ListOptions filters and pages List results.
type ListOptions struct {
	// Status keeps only sessions in that state; empty keeps all.
	Status Status
	Offset int
	// Limit caps the page size; zero or less means no cap.
	Limit int
}

// meta is the per-session record stored alongside the message log.
type meta struct {
	CreatedAt    time.Time    `json:"created_at"`
	LastActiveAt time.Time    `json:"last_active_at"`
	Status       Status       `json:"status"`
	MessageCount int          `json:"message_count"`
	TotalTokens  int          `json:"total_tokens"`
	Escalations  []Escalation `json:"escalations,omitempty"`
}

func (m meta) summary(id string) Summary {
	return Summary{
		ID:           id,
		Status:       m.Status,
		CreatedAt:    m.CreatedAt,
		LastActiveAt: m.LastActiveAt,
		MessageCount: m.MessageCount,
		TotalTokens:  m.TotalTokens,
		Escalations:  len(m.Escalations),
	}
}

func (m meta) session(id string, msgs []Message) *Session {
	escalations := make([]Escalation, len(m.Escalations))
	copy(escalations, m.Escalations)
	return &Session{
		ID:           id,
		Messages:     msgs,
		Escalations:  escalations,
		CreatedAt:    m.CreatedAt,
		LastActiveAt: m.LastActiveAt,
		Status:       m.Status,
		TotalTokens:  m.TotalTokens,
	}
}

// page filters, orders (most recently active first, then by id) and slices
// summaries.
func page(all []Summary, opts ListOptions) []Summary {
	out := make([]Summary, 0, len(all))
	for _, s := range all {
		if opts.Status == "" || s.Status == opts.Status {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].LastActiveAt.Equal(out[b].LastActiveAt) {
			return out[a].LastActiveAt.After(out[b].LastActiveAt)
		}
		return out[a].ID < out[b].ID
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []Summary{}
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// window returns the last limit messages of msgs in chronological order.
func window(msgs []Message, limit int) []Message {
	if limit <= 0 || len(msgs) == 0 {
		return []Message{}
	}
	if limit > len(msgs) {
		limit = len(msgs)
	}
	out := make([]Message, limit)
	copy(out, msgs[len(msgs)-limit:])
	return out
}
