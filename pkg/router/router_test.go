package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/helpgate/pkg/adapter"
	"github.com/zen-systems/helpgate/pkg/faq"
	"github.com/zen-systems/helpgate/pkg/generator"
	"github.com/zen-systems/helpgate/pkg/policy"
	"github.com/zen-systems/helpgate/pkg/session"
)

func supportIndex(t *testing.T) *faq.Index {
	t.Helper()
	idx := faq.NewIndex()
	require.NoError(t, idx.Load([]faq.Entry{
		{
			ID:       "track-order",
			Question: "How can I track my order?",
			Answer:   "Open Your Orders and choose Track Package.",
			Category: "orders",
			Keywords: []string{"track", "order"},
		},
		{
			ID:       "return-item",
			Question: "I want to ask you about my return",
			Answer:   "Returns are accepted within 30 days of delivery.",
			Category: "returns",
			Keywords: []string{"my return", "refund"},
		},
	}))
	return idx
}

func memoryStore(t *testing.T) session.Store {
	t.Helper()
	store, err := session.NewStore(session.StoreTypeMemory)
	require.NoError(t, err)
	return store
}

// stubGenerator returns a fixed answer or error and records what it was given.
type stubGenerator struct {
	mu      sync.Mutex
	answer  *generator.Answer
	err     error
	history [][]session.Message
}

func (g *stubGenerator) Generate(_ context.Context, _ string, history []session.Message) (*generator.Answer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = append(g.history, history)
	if g.err != nil {
		return nil, g.err
	}
	a := *g.answer
	return &a, nil
}

func confident(text string) *stubGenerator {
	return &stubGenerator{answer: &generator.Answer{Text: text, Confidence: 0.9}}
}

func TestRoute_TrackOrderScenario(t *testing.T) {
	store := memoryStore(t)
	gen := confident("unused")
	r := New(supportIndex(t), store, gen, nil)

	d, err := r.Route(context.Background(), Request{Message: "How do I track my order?"})
	require.NoError(t, err)

	assert.Equal(t, SourceFAQ, d.Source)
	assert.Equal(t, "track-order", d.FAQID)
	assert.False(t, d.Escalate)
	assert.GreaterOrEqual(t, d.Confidence, 0.85)
	assert.Less(t, d.Confidence, 1.0)
	assert.NotEmpty(t, d.SessionID)
	assert.Empty(t, gen.history, "a FAQ hit must not call the generator")
}

func TestRoute_ExactFAQMatchHasFullConfidence(t *testing.T) {
	r := New(supportIndex(t), memoryStore(t), confident("unused"), nil)

	d, err := r.Route(context.Background(), Request{Message: "how can i track my order"})
	require.NoError(t, err)
	assert.Equal(t, SourceFAQ, d.Source)
	assert.Equal(t, string(faq.StageExact), d.MatchStage)
	assert.Equal(t, 1.0, d.Confidence)
}

func TestRoute_FAQHitCanStillEscalate(t *testing.T) {
	r := New(supportIndex(t), memoryStore(t), confident("unused"), nil)

	d, err := r.Route(context.Background(), Request{Message: "I want to sue you about my return"})
	require.NoError(t, err)

	assert.Equal(t, SourceFAQ, d.Source)
	assert.Equal(t, "return-item", d.FAQID)
	assert.True(t, d.Escalate)
	assert.Equal(t, policy.ReasonLegal, d.Reason)
	assert.Contains(t, d.SuggestedActions, "legal")
}

func TestRoute_ShortFAQAnswerIsNotDegenerate(t *testing.T) {
	idx := faq.NewIndex()
	require.NoError(t, idx.Load([]faq.Entry{{
		ID:       "weekend-hours",
		Question: "Are you open on weekends?",
		Answer:   "Yes.",
		Category: "store",
	}}))
	r := New(idx, memoryStore(t), confident("unused"), nil)

	d, err := r.Route(context.Background(), Request{Message: "Are you open on weekends?"})
	require.NoError(t, err)
	assert.Equal(t, SourceFAQ, d.Source)
	assert.Equal(t, "Yes.", d.Answer)
	assert.False(t, d.Escalate)
	assert.Empty(t, d.Reason)
}

func TestRoute_ShortGeneratedAnswerEscalates(t *testing.T) {
	r := New(supportIndex(t), memoryStore(t), confident("Yes."), nil)

	d, err := r.Route(context.Background(), Request{Message: "Do gift cards expire?"})
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, d.Source)
	assert.True(t, d.Escalate)
	assert.Equal(t, policy.ReasonDegenerateAnswer, d.Reason)
}

func TestRoute_ManagerScenario(t *testing.T) {
	tests := []struct {
		name string
		gen  *stubGenerator
	}{
		{"confident backend", confident("Happy to help with anything you need.")},
		{"failing backend", &stubGenerator{err: &generator.Error{Kind: generator.KindQuota}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(supportIndex(t), memoryStore(t), tt.gen, nil)

			d, err := r.Route(context.Background(), Request{Message: "I want to speak to a manager"})
			require.NoError(t, err)
			assert.NotEqual(t, SourceFAQ, d.Source)
			assert.True(t, d.Escalate)
			assert.Equal(t, policy.ReasonHumanRequested, d.Reason)
		})
	}
}

func TestRoute_BackendTimeoutDegrades(t *testing.T) {
	mock := adapter.NewMockAdapter()
	mock.Hang = make(chan struct{})
	t.Cleanup(func() { close(mock.Hang) })
	gen := generator.New(mock, generator.WithTimeout(20*time.Millisecond))
	r := New(supportIndex(t), memoryStore(t), gen, nil)

	start := time.Now()
	d, err := r.Route(context.Background(), Request{Message: "Is my parcel insured?"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, SourceFallback, d.Source)
	assert.True(t, d.Escalate)
	assert.Equal(t, policy.ReasonGenerationFailure, d.Reason)
	assert.Equal(t, 0.0, d.Confidence)
	assert.Equal(t, FallbackAnswer, d.Answer)
	assert.Equal(t, []string{"retry", "contact_support", "generation_failure"}, d.SuggestedActions)
	assert.Equal(t, string(generator.KindTimeout), d.GenerationError)
}

func TestRoute_GeneratedAnswer(t *testing.T) {
	gen := &stubGenerator{answer: &generator.Answer{
		Text:             "Gift cards never expire.",
		Confidence:       1.0,
		SuggestedActions: []string{"view_gift_cards", "view_gift_cards"},
		Usage:            &adapter.Usage{TotalTokens: 42},
	}}
	r := New(supportIndex(t), memoryStore(t), gen, nil)

	d, err := r.Route(context.Background(), Request{Message: "Do gift cards expire?"})
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, d.Source)
	assert.False(t, d.Escalate)
	assert.Less(t, d.Confidence, 1.0, "only exact FAQ matches may report full confidence")
	assert.Equal(t, []string{"view_gift_cards"}, d.SuggestedActions)
	assert.Equal(t, 42, d.Tokens)
}

func TestRoute_ModelHint(t *testing.T) {
	gen := &stubGenerator{answer: &generator.Answer{Text: "Let me get a specialist for this.", Confidence: 0.8, EscalateHint: true}}
	r := New(supportIndex(t), memoryStore(t), gen, nil)

	d, err := r.Route(context.Background(), Request{Message: "My package arrived soaking wet"})
	require.NoError(t, err)
	assert.True(t, d.Escalate)
	assert.Equal(t, policy.ReasonModelRequested, d.Reason)
}

func TestRoute_StandardTopicOverridesModelHint(t *testing.T) {
	gen := &stubGenerator{answer: &generator.Answer{Text: "Your parcel ships within two days.", Confidence: 0.8, EscalateHint: true}}
	r := New(faq.NewIndex(), memoryStore(t), gen, nil)

	d, err := r.Route(context.Background(), Request{Message: "How long does shipping take?"})
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, d.Source)
	assert.False(t, d.Escalate)

	gen.answer.Confidence = policy.DefaultConfidenceThreshold
	d, err = r.Route(context.Background(), Request{Message: "How long does shipping take?"})
	require.NoError(t, err)
	assert.True(t, d.Escalate)
	assert.Equal(t, policy.ReasonModelRequested, d.Reason)
}

func TestRoute_IndexUnavailableUsesGenerator(t *testing.T) {
	gen := confident("Open Your Orders to see tracking.")
	r := New(faq.NewIndex(), memoryStore(t), gen, nil)

	d, err := r.Route(context.Background(), Request{Message: "How can I track my order?"})
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, d.Source)
	assert.Len(t, gen.history, 1)
}

func TestRoute_InvalidInput(t *testing.T) {
	r := New(supportIndex(t), memoryStore(t), confident("unused"), nil, WithMaxMessageLength(20))

	for _, msg := range []string{"", "   \n\t", strings.Repeat("a", 21), "bad \xff byte"} {
		_, err := r.Route(context.Background(), Request{Message: msg})
		var invalid *InvalidInputError
		assert.True(t, errors.As(err, &invalid), "message %q", msg)
	}

	_, err := r.Route(context.Background(), Request{Message: strings.Repeat("é", 20)})
	assert.NoError(t, err, "length is counted in characters")
}

func TestRoute_SessionMutation(t *testing.T) {
	ctx := context.Background()
	store := memoryStore(t)
	r := New(supportIndex(t), store, confident("unused"), nil)

	d, err := r.Route(ctx, Request{SessionID: "customer-1", Message: "  How do I track my order?  "})
	require.NoError(t, err)
	assert.Equal(t, "customer-1", d.SessionID)

	s, err := store.Get(ctx, "customer-1")
	require.NoError(t, err)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, session.RoleUser, s.Messages[0].Role)
	assert.Equal(t, "How do I track my order?", s.Messages[0].Content)
	assert.Equal(t, session.RoleAssistant, s.Messages[1].Role)
	assert.Equal(t, d.Answer, s.Messages[1].Content)
	assert.Equal(t, session.StatusActive, s.Status)

	_, err = r.Route(ctx, Request{SessionID: "customer-1", Message: "I want to sue you about my return"})
	require.NoError(t, err)
	s, err = store.Get(ctx, "customer-1")
	require.NoError(t, err)
	assert.Len(t, s.Messages, 4)
	assert.Equal(t, session.StatusEscalated, s.Status)
}

func TestRoute_EscalationIsRecorded(t *testing.T) {
	ctx := context.Background()
	store := memoryStore(t)
	r := New(supportIndex(t), store, confident("unused"), nil)

	d, err := r.Route(ctx, Request{SessionID: "customer-2", Message: "I want to sue you about my return"})
	require.NoError(t, err)
	require.True(t, d.Escalate)
	assert.NotEmpty(t, d.EscalationID)

	s, err := store.Get(ctx, "customer-2")
	require.NoError(t, err)
	require.Len(t, s.Escalations, 1)
	assert.Equal(t, d.EscalationID, s.Escalations[0].ID)
	assert.Equal(t, string(policy.ReasonLegal), s.Escalations[0].Reason)
	assert.Equal(t, EscalatedBySystem, s.Escalations[0].CreatedBy)

	d, err = r.Route(ctx, Request{SessionID: "customer-2", Message: "How do I track my order?"})
	require.NoError(t, err)
	assert.Empty(t, d.EscalationID)
}

func TestRoute_ConcurrentTurnsOnOneSession(t *testing.T) {
	ctx := context.Background()
	store := memoryStore(t)
	r := New(supportIndex(t), store, confident("Here is what I found for you."), nil)
	_, err := store.Create(ctx, "shared")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Route(ctx, Request{SessionID: "shared", Message: "Is my parcel insured?"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	s, err := store.Get(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, s.Messages, 32)
	for i := 0; i < len(s.Messages); i += 2 {
		assert.Equal(t, session.RoleUser, s.Messages[i].Role, "message %d", i)
		assert.Equal(t, session.RoleAssistant, s.Messages[i+1].Role, "message %d", i+1)
	}
}

func TestRoute_ContextWindow(t *testing.T) {
	ctx := context.Background()
	gen := confident("Here is what I found for you.")
	r := New(supportIndex(t), memoryStore(t), gen, nil, WithContextWindow(2))

	for _, msg := range []string{"first question here", "second question here", "third question here"} {
		_, err := r.Route(ctx, Request{SessionID: "s", Message: msg})
		require.NoError(t, err)
	}

	require.Len(t, gen.history, 3)
	assert.Empty(t, gen.history[0])
	last := gen.history[2]
	require.Len(t, last, 2)
	assert.Equal(t, "second question here", last[0].Content)
	assert.Equal(t, "Here is what I found for you.", last[1].Content)
}

func TestDecide_Deterministic(t *testing.T) {
	r := New(supportIndex(t), memoryStore(t), confident("Our store opens at nine."), nil)
	history := []session.Message{{Role: session.RoleUser, Content: "hi"}}

	for _, msg := range []string{"How do I track my order?", "When do you open?", "get me a supervisor"} {
		first := r.Decide(context.Background(), msg, "", history)
		second := r.Decide(context.Background(), msg, "", history)
		assert.Equal(t, first, second, msg)
	}
}

func TestRoute_CategoryMetadata(t *testing.T) {
	gen := confident("Let me look into that for you.")
	r := New(supportIndex(t), memoryStore(t), gen, nil)

	d, err := r.Route(context.Background(), Request{
		Message:  "How do I track my order?",
		Metadata: map[string]string{MetadataCategory: "returns"},
	})
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, d.Source)
}

// racingStore reports every session as unknown and every create as taken,
// as when another request creates the same id first.
type racingStore struct {
	session.Store
}

func (racingStore) RecentContext(_ context.Context, id string, _ int) ([]session.Message, error) {
	return nil, &session.NotFoundError{ID: id}
}

func (racingStore) Create(_ context.Context, id string) (*session.Session, error) {
	return nil, &session.DuplicateError{ID: id}
}

func TestRoute_SessionCreationRace(t *testing.T) {
	r := New(supportIndex(t), racingStore{}, confident("unused"), nil)

	_, err := r.Route(context.Background(), Request{SessionID: "taken", Message: "hello there"})
	assert.ErrorIs(t, err, session.ErrDuplicateSession)
}

type countingObserver struct {
	nopObserver
	decisions []Source
	failures  []string
}

func (o *countingObserver) ObserveDecision(d *Decision)          { o.decisions = append(o.decisions, d.Source) }
func (o *countingObserver) ObserveGenerationFailure(kind string) { o.failures = append(o.failures, kind) }

func TestRoute_Observer(t *testing.T) {
	obs := &countingObserver{}
	gen := &stubGenerator{err: errors.New("connection refused")}
	r := New(supportIndex(t), memoryStore(t), gen, nil, WithObserver(obs))

	_, err := r.Route(context.Background(), Request{Message: "Is my parcel insured?"})
	require.NoError(t, err)
	assert.Equal(t, []Source{SourceFallback}, obs.decisions)
	assert.Equal(t, []string{"backend"}, obs.failures)
}
