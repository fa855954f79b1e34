package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type driverFactory func(t *testing.T, opts ...StoreOption) Store

func memoryFactory(t *testing.T, opts ...StoreOption) Store {
	t.Helper()
	store, err := NewStore(StoreTypeMemory, opts...)
	require.NoError(t, err)
	return store
}

func redisFactory(t *testing.T, opts ...StoreOption) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := NewStore(StoreTypeRedis, append(opts, WithRedisClient(client))...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var drivers = map[string]driverFactory{
	"memory": memoryFactory,
	"redis":  redisFactory,
}

func msg(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	for name, factory := range drivers {
		t.Run(name, func(t *testing.T) {
			t.Run("Should return the last messages in order", func(t *testing.T) {
				store := factory(t)
				s, err := store.Create(ctx, "ordering")
				require.NoError(t, err)

				for _, c := range []string{"A", "B", "C"} {
					require.NoError(t, store.Append(ctx, s.ID, msg(c)))
				}

				recent, err := store.RecentContext(ctx, s.ID, 2)
				require.NoError(t, err)
				assert.Equal(t, []string{"B", "C"}, contents(recent))
			})

			t.Run("Should return everything when limit exceeds length", func(t *testing.T) {
				store := factory(t)
				s, err := store.Create(ctx, "")
				require.NoError(t, err)
				require.NoError(t, store.Append(ctx, s.ID, msg("only")))

				recent, err := store.RecentContext(ctx, s.ID, 6)
				require.NoError(t, err)
				assert.Equal(t, []string{"only"}, contents(recent))
			})

			t.Run("Should return empty context for a fresh session", func(t *testing.T) {
				store := factory(t)
				s, err := store.Create(ctx, "")
				require.NoError(t, err)
				assert.NotEmpty(t, s.ID)

				recent, err := store.RecentContext(ctx, s.ID, 6)
				require.NoError(t, err)
				assert.NotNil(t, recent)
				assert.Empty(t, recent)
			})

			t.Run("Should reject duplicate ids", func(t *testing.T) {
				store := factory(t)
				_, err := store.Create(ctx, "dup")
				require.NoError(t, err)

				_, err = store.Create(ctx, "dup")
				assert.ErrorIs(t, err, ErrDuplicateSession)
				var dupErr *DuplicateError
				require.True(t, errors.As(err, &dupErr))
				assert.Equal(t, "dup", dupErr.ID)
			})

			t.Run("Should report unknown sessions", func(t *testing.T) {
				store := factory(t)
				assert.ErrorIs(t, store.Append(ctx, "nope", msg("x")), ErrSessionNotFound)

				_, err := store.RecentContext(ctx, "nope", 2)
				assert.ErrorIs(t, err, ErrSessionNotFound)

				_, err = store.Get(ctx, "nope")
				assert.ErrorIs(t, err, ErrSessionNotFound)

				_, err = store.Escalate(ctx, "nope", "legal", "system")
				assert.ErrorIs(t, err, ErrSessionNotFound)

				assert.ErrorIs(t, store.AppendTurn(ctx, "nope", Turn{User: msg("x")}), ErrSessionNotFound)
			})

			t.Run("Should keep the full transcript and status", func(t *testing.T) {
				store := factory(t)
				s, err := store.Create(ctx, "audit")
				require.NoError(t, err)
				for i := 0; i < 10; i++ {
					require.NoError(t, store.Append(ctx, s.ID, msg(fmt.Sprintf("m%d", i))))
				}
				e, err := store.Escalate(ctx, s.ID, "legal", "system")
				require.NoError(t, err)

				got, err := store.Get(ctx, s.ID)
				require.NoError(t, err)
				assert.Len(t, got.Messages, 10)
				assert.Equal(t, "m0", got.Messages[0].Content)
				assert.Equal(t, StatusEscalated, got.Status)
				require.Len(t, got.Escalations, 1)
				assert.Equal(t, e.ID, got.Escalations[0].ID)
				assert.Equal(t, "legal", got.Escalations[0].Reason)
				assert.True(t, e.CreatedAt.Equal(got.Escalations[0].CreatedAt))
				assert.False(t, got.Messages[0].Timestamp.IsZero())
				assert.False(t, got.LastActiveAt.Before(got.CreatedAt))

				got.Messages[0].Content = "changed"
				again, err := store.Get(ctx, s.ID)
				require.NoError(t, err)
				assert.Equal(t, "m0", again.Messages[0].Content)
			})

			t.Run("Should record every escalation", func(t *testing.T) {
				store := factory(t)
				s, err := store.Create(ctx, "")
				require.NoError(t, err)

				first, err := store.Escalate(ctx, s.ID, "customer_request", "customer")
				require.NoError(t, err)
				second, err := store.Escalate(ctx, s.ID, "low_confidence", "system")
				require.NoError(t, err)
				assert.NotEqual(t, first.ID, second.ID)
				assert.Equal(t, EscalationOpen, first.Status)
				assert.False(t, first.CreatedAt.IsZero())

				got, err := store.Get(ctx, s.ID)
				require.NoError(t, err)
				require.Len(t, got.Escalations, 2)
				assert.Equal(t, "customer_request", got.Escalations[0].Reason)
				assert.Equal(t, "customer", got.Escalations[0].CreatedBy)
				assert.Equal(t, "low_confidence", got.Escalations[1].Reason)
			})

			t.Run("Should append a turn and count its tokens", func(t *testing.T) {
				store := factory(t)
				s, err := store.Create(ctx, "")
				require.NoError(t, err)

				require.NoError(t, store.AppendTurn(ctx, s.ID, Turn{
					User:   msg("where is my order"),
					Answer: Message{Role: RoleAssistant, Content: "on its way"},
					Tokens: 42,
				}))

				got, err := store.Get(ctx, s.ID)
				require.NoError(t, err)
				assert.Equal(t, []string{"where is my order", "on its way"}, contents(got.Messages))
				assert.Equal(t, RoleAssistant, got.Messages[1].Role)
				assert.False(t, got.Messages[1].Timestamp.IsZero())
				assert.Equal(t, 42, got.TotalTokens)
			})

			t.Run("Should list sessions newest first with filters", func(t *testing.T) {
				clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
				store := factory(t, WithClock(func() time.Time {
					clock = clock.Add(time.Second)
					return clock
				}))
				for _, id := range []string{"a", "b", "c"} {
					_, err := store.Create(ctx, id)
					require.NoError(t, err)
				}
				require.NoError(t, store.AppendTurn(ctx, "a", Turn{User: msg("hi"), Answer: msg("hello"), Tokens: 7}))
				_, err := store.Escalate(ctx, "b", "legal", "system")
				require.NoError(t, err)

				all, err := store.List(ctx, ListOptions{})
				require.NoError(t, err)
				require.Len(t, all, 3)
				assert.Equal(t, "b", all[0].ID)
				assert.Equal(t, "a", all[1].ID)
				assert.Equal(t, "c", all[2].ID)
				assert.Equal(t, 2, all[1].MessageCount)
				assert.Equal(t, 7, all[1].TotalTokens)
				assert.Equal(t, 1, all[0].Escalations)

				escalated, err := store.List(ctx, ListOptions{Status: StatusEscalated})
				require.NoError(t, err)
				require.Len(t, escalated, 1)
				assert.Equal(t, "b", escalated[0].ID)

				paged, err := store.List(ctx, ListOptions{Offset: 1, Limit: 1})
				require.NoError(t, err)
				require.Len(t, paged, 1)
				assert.Equal(t, "a", paged[0].ID)

				past, err := store.List(ctx, ListOptions{Offset: 10})
				require.NoError(t, err)
				assert.Empty(t, past)
			})

			t.Run("Should use the configured id generator", func(t *testing.T) {
				store := factory(t, WithIDGenerator(func() string { return "fixed" }))
				s, err := store.Create(ctx, "")
				require.NoError(t, err)
				assert.Equal(t, "fixed", s.ID)
			})
		})
	}
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := memoryFactory(t)
	s, err := store.Create(ctx, "busy")
	require.NoError(t, err)

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				assert.NoError(t, store.Append(ctx, s.ID, msg(fmt.Sprintf("%d:%d", w, i))))
			}
		}(w)
	}
	wg.Wait()

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, writers*perWriter)

	// Each writer's messages must appear in the order it wrote them.
	next := make(map[int]int)
	for _, m := range got.Messages {
		var w, i int
		_, err := fmt.Sscanf(m.Content, "%d:%d", &w, &i)
		require.NoError(t, err)
		assert.Equal(t, next[w], i)
		next[w] = i + 1
	}
}

func TestStore_ConcurrentTurnsStayPaired(t *testing.T) {
	ctx := context.Background()

	for name, factory := range drivers {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			s, err := store.Create(ctx, "pairs")
			require.NoError(t, err)

			const writers = 4
			var wg sync.WaitGroup
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < 10; i++ {
						assert.NoError(t, store.AppendTurn(ctx, s.ID, Turn{
							User:   msg(fmt.Sprintf("q%d:%d", w, i)),
							Answer: Message{Role: RoleAssistant, Content: fmt.Sprintf("a%d:%d", w, i)},
						}))
					}
				}(w)
			}
			wg.Wait()

			got, err := store.Get(ctx, s.ID)
			require.NoError(t, err)
			require.Len(t, got.Messages, writers*10*2)
			for i := 0; i < len(got.Messages); i += 2 {
				q, a := got.Messages[i].Content, got.Messages[i+1].Content
				assert.Equal(t, "a"+q[1:], a, "reply at %d is not paired with its question", i+1)
			}
		})
	}
}

func TestMemoryStore_SessionsDoNotBlockEachOther(t *testing.T) {
	ctx := context.Background()
	store := memoryFactory(t).(*memoryStore)
	_, err := store.Create(ctx, "held")
	require.NoError(t, err)
	_, err = store.Create(ctx, "free")
	require.NoError(t, err)

	held, err := store.lookup("held")
	require.NoError(t, err)
	held.mu.Lock()
	defer held.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- store.Append(ctx, "free", msg("hi")) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("append to an unrelated session blocked")
	}
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := NewStore(StoreTypeRedis, WithRedisClient(client), WithTTL(time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.Create(ctx, "short")
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, "short", msg("hello")))

	mr.FastForward(2 * time.Hour)

	_, err = store.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// The id is free again and starts with an empty log.
	_, err = store.Create(ctx, "short")
	require.NoError(t, err)
	recent, err := store.RecentContext(ctx, "short", 6)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestNewStore_Errors(t *testing.T) {
	_, err := NewStore(StoreTypeRedis)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewStore(StoreType("etcd"))
	assert.ErrorIs(t, err, ErrInvalidStoreType)
}
