package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zen-systems/helpgate/pkg/logger"
)

// DefaultTTL is how long an idle session survives in Redis.
const DefaultTTL = 24 * time.Hour

// Store holds per-session message logs.
//
// Appends to one session are serialized so insertion order is preserved.
// Appends to different sessions never wait on each other.
type Store interface {
	// Create starts a session. An empty id generates a fresh one.
	// Returns a *DuplicateError if the id already exists.
	Create(ctx context.Context, id string) (*Session, error)

	// Append adds msg to the end of the session's log and bumps LastActiveAt.
	// A zero Timestamp is set to the current time.
	Append(ctx context.Context, id string, msg Message) error

	// RecentContext returns the last limit messages in chronological order.
	// A session with no messages yields an empty slice, not an error.
	RecentContext(ctx context.Context, id string, limit int) ([]Message, error)

	// Get returns a copy of the whole session, including messages outside
	// any context window.
	Get(ctx context.Context, id string) (*Session, error)

	// AppendTurn appends the customer message and then the reply as one
	// unit; no other write to the session lands between them.
	AppendTurn(ctx context.Context, id string, turn Turn) error

	// Escalate marks the session escalated and records why.
	Escalate(ctx context.Context, id, reason, createdBy string) (*Escalation, error)

	// List returns session summaries, most recently active first.
	List(ctx context.Context, opts ListOptions) ([]Summary, error)

	// Close releases the store's resources.
	Close() error
}

// StoreType names a session driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// StoreOption configures a session store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	ttl         time.Duration
	log         logger.Logger
	newID       func() string
	now         func() time.Time
}

// WithRedisClient sets the client used by the Redis driver.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithTTL sets the idle expiry for Redis keys.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

// WithLogger sets the store's logger.
func WithLogger(l logger.Logger) StoreOption {
	return func(c *storeConfig) {
		c.log = l
	}
}

// WithIDGenerator overrides how ids are generated for Create("").
func WithIDGenerator(fn func() string) StoreOption {
	return func(c *storeConfig) {
		c.newID = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) {
		c.now = now
	}
}

// NewStore creates a Store for the given driver.
// The Redis driver requires WithRedisClient.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{
		ttl:   DefaultTTL,
		log:   logger.Discard(),
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.ttl <= 0 {
		cfg.ttl = DefaultTTL
	}
	cfg.log = cfg.log.With("component", "session", "driver", string(storeType))

	switch storeType {
	case StoreTypeMemory, "":
		return newMemoryStore(cfg), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return newRedisStore(cfg), nil
	default:
		return nil, ErrInvalidStoreType
	}
}
