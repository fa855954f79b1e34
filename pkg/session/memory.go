package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// memoryStore keeps sessions in process. The map lock only guards membership;
// each session has its own lock for message appends.
type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	cfg      *storeConfig
}

type memorySession struct {
	mu       sync.Mutex
	meta     meta
	messages []Message
}

func newMemoryStore(cfg *storeConfig) *memoryStore {
	return &memoryStore{
		sessions: make(map[string]*memorySession),
		cfg:      cfg,
	}
}

func (s *memoryStore) Create(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = s.cfg.newID()
	}
	now := s.cfg.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return nil, &DuplicateError{ID: id}
	}
	ms := &memorySession{meta: meta{CreatedAt: now, LastActiveAt: now, Status: StatusActive}}
	s.sessions[id] = ms
	s.cfg.log.Debug("session created", "session", id)

	return ms.meta.session(id, []Message{}), nil
}

func (s *memoryStore) lookup(id string) (*memorySession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ms, ok := s.sessions[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return ms, nil
}

func (s *memoryStore) Append(ctx context.Context, id string, msg Message) error {
	ms, err := s.lookup(id)
	if err != nil {
		return err
	}
	now := s.cfg.now()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.messages = append(ms.messages, msg)
	ms.meta.MessageCount++
	ms.meta.LastActiveAt = now
	return nil
}

func (s *memoryStore) AppendTurn(ctx context.Context, id string, turn Turn) error {
	ms, err := s.lookup(id)
	if err != nil {
		return err
	}
	now := s.cfg.now()
	turn.stamp(now)

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.messages = append(ms.messages, turn.User, turn.Answer)
	ms.meta.MessageCount += 2
	ms.meta.TotalTokens += turn.Tokens
	ms.meta.LastActiveAt = now
	return nil
}

func (s *memoryStore) RecentContext(ctx context.Context, id string, limit int) ([]Message, error) {
	ms, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	return window(ms.messages, limit), nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*Session, error) {
	ms, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	msgs := make([]Message, len(ms.messages))
	copy(msgs, ms.messages)
	return ms.meta.session(id, msgs), nil
}

func (s *memoryStore) Escalate(ctx context.Context, id, reason, createdBy string) (*Escalation, error) {
	ms, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	now := s.cfg.now()
	e := Escalation{
		ID:        uuid.NewString(),
		Reason:    reason,
		CreatedBy: createdBy,
		Status:    EscalationOpen,
		CreatedAt: now,
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.meta.Status = StatusEscalated
	ms.meta.Escalations = append(ms.meta.Escalations, e)
	ms.meta.LastActiveAt = now
	return &e, nil
}

func (s *memoryStore) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	s.mu.RLock()
	all := make([]Summary, 0, len(s.sessions))
	for id, ms := range s.sessions {
		ms.mu.Lock()
		all = append(all, ms.meta.summary(id))
		ms.mu.Unlock()
	}
	s.mu.RUnlock()

	return page(all, opts), nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]*memorySession)
	return nil
}
