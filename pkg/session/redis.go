package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:"
	metaKeySuffix    = ":meta"

	// Keys per SCAN page and per MGET.
	listBatch = 200

	// Concurrent writers to one session conflict on WATCH; the loser retries.
	maxWatchRetries = 32
)

// redisStore keeps each session as a JSON meta record plus a list of JSON
// messages. RPUSH inside a WATCH transaction on the meta key gives per-session
// ordering without any cross-session lock.
type redisStore struct {
	client *redis.Client
	cfg    *storeConfig
}

func newRedisStore(cfg *storeConfig) *redisStore {
	return &redisStore{client: cfg.redisClient, cfg: cfg}
}

func (s *redisStore) metaKey(id string) string     { return sessionKeyPrefix + id + metaKeySuffix }
func (s *redisStore) messagesKey(id string) string { return sessionKeyPrefix + id + ":messages" }

func (s *redisStore) Create(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = s.cfg.newID()
	}
	now := s.cfg.now()
	m := meta{CreatedAt: now, LastActiveAt: now, Status: StatusActive}
	val, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	ok, err := s.client.SetNX(ctx, s.metaKey(id), val, s.cfg.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", id, err)
	}
	if !ok {
		return nil, &DuplicateError{ID: id}
	}
	// A message list can outlive an expired meta record by a few ms.
	if err := s.client.Del(ctx, s.messagesKey(id)).Err(); err != nil {
		return nil, fmt.Errorf("create session %s: %w", id, err)
	}
	s.cfg.log.Debug("session created", "session", id)

	return m.session(id, []Message{}), nil
}

// update runs fn against the session's meta record inside a WATCH transaction
// and writes the record back with a refreshed TTL.
func (s *redisStore) update(ctx context.Context, id string, fn func(m *meta, pipe redis.Pipeliner) error) error {
	key := s.metaKey(id)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return &NotFoundError{ID: id}
		}
		if err != nil {
			return err
		}
		var m meta
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode session %s: %w", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := fn(&m, pipe); err != nil {
				return err
			}
			val, err := json.Marshal(m)
			if err != nil {
				return err
			}
			pipe.Set(ctx, key, val, s.cfg.ttl)
			pipe.Expire(ctx, s.messagesKey(id), s.cfg.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("session %s: write contention exceeded %d attempts", id, maxWatchRetries)
}

func (s *redisStore) Append(ctx context.Context, id string, msg Message) error {
	now := s.cfg.now()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	val, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return s.update(ctx, id, func(m *meta, pipe redis.Pipeliner) error {
		m.LastActiveAt = now
		m.MessageCount++
		pipe.RPush(ctx, s.messagesKey(id), val)
		return nil
	})
}

func (s *redisStore) AppendTurn(ctx context.Context, id string, turn Turn) error {
	now := s.cfg.now()
	turn.stamp(now)
	user, err := json.Marshal(turn.User)
	if err != nil {
		return err
	}
	answer, err := json.Marshal(turn.Answer)
	if err != nil {
		return err
	}

	return s.update(ctx, id, func(m *meta, pipe redis.Pipeliner) error {
		m.LastActiveAt = now
		m.MessageCount += 2
		m.TotalTokens += turn.Tokens
		pipe.RPush(ctx, s.messagesKey(id), user, answer)
		return nil
	})
}

func (s *redisStore) RecentContext(ctx context.Context, id string, limit int) ([]Message, error) {
	var exists *redis.IntCmd
	var rng *redis.StringSliceCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		exists = pipe.Exists(ctx, s.metaKey(id))
		if limit > 0 {
			rng = pipe.LRange(ctx, s.messagesKey(id), int64(-limit), -1)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	if exists.Val() == 0 {
		return nil, &NotFoundError{ID: id}
	}
	if rng == nil {
		return []Message{}, nil
	}
	return decodeMessages(id, rng.Val())
}

func (s *redisStore) Get(ctx context.Context, id string) (*Session, error) {
	var metaCmd *redis.StringCmd
	var rng *redis.StringSliceCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		metaCmd = pipe.Get(ctx, s.metaKey(id))
		rng = pipe.LRange(ctx, s.messagesKey(id), 0, -1)
		return nil
	})
	if errors.Is(metaCmd.Err(), redis.Nil) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}

	var m meta
	if err := json.Unmarshal([]byte(metaCmd.Val()), &m); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	msgs, err := decodeMessages(id, rng.Val())
	if err != nil {
		return nil, err
	}
	return m.session(id, msgs), nil
}

func (s *redisStore) Escalate(ctx context.Context, id, reason, createdBy string) (*Escalation, error) {
	now := s.cfg.now()
	e := Escalation{
		ID:        uuid.NewString(),
		Reason:    reason,
		CreatedBy: createdBy,
		Status:    EscalationOpen,
		CreatedAt: now,
	}
	err := s.update(ctx, id, func(m *meta, _ redis.Pipeliner) error {
		m.Status = StatusEscalated
		m.Escalations = append(m.Escalations, e)
		m.LastActiveAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List scans meta keys and reads them in batches. Sessions that expire
// between the scan and the read are skipped.
func (s *redisStore) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, sessionKeyPrefix+"*"+metaKeySuffix, listBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	all := make([]Summary, 0, len(keys))
	for start := 0; start < len(keys); start += listBatch {
		batch := keys[start:min(start+listBatch, len(keys))]
		vals, err := s.client.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		for i, v := range vals {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			id := strings.TrimSuffix(strings.TrimPrefix(batch[i], sessionKeyPrefix), metaKeySuffix)
			var m meta
			if err := json.Unmarshal([]byte(raw), &m); err != nil {
				return nil, fmt.Errorf("decode session %s: %w", id, err)
			}
			all = append(all, m.summary(id))
		}
	}
	return page(all, opts), nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func decodeMessages(id string, raw []string) ([]Message, error) {
	msgs := make([]Message, 0, len(raw))
	for _, r := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(r), &msg); err != nil {
			return nil, fmt.Errorf("decode session %s message: %w", id, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
