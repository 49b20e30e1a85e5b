package pendingsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tutorlane/tutor-idm/pkg/utils"
)

const redisKeyPrefix = "pending_session:"

// RedisStore implements Store on a shared Redis instance so pending
// sessions survive process restarts and are visible to every instance
// behind a load balancer. Expiry is delegated to Redis key TTLs.
type RedisStore struct {
	client    *redis.Client
	ttl       time.Duration
	singleUse bool
}

// RedisOption configures a RedisStore
type RedisOption func(*RedisStore)

// WithRedisTTL overrides the default session lifetime
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithRedisMultiUse allows a token to be read multiple times within its
// window
func WithRedisMultiUse() RedisOption {
	return func(s *RedisStore) {
		s.singleUse = false
	}
}

// NewRedisStore creates a Redis-backed pending-session store
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		ttl:       DefaultTTL,
		singleUse: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create generates a high-entropy token and stores the session with a TTL
func (s *RedisStore) Create(ctx context.Context, accountID uuid.UUID) (Session, error) {
	session := Session{
		Token:     utils.GenerateRandomString(TokenLength),
		AccountID: accountID,
		ExpiresAt: time.Now().UTC().Add(s.ttl),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return Session{}, fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, redisKeyPrefix+session.Token, data, s.ttl).Err(); err != nil {
		return Session{}, fmt.Errorf("failed to store session: %w", err)
	}

	return session, nil
}

// Consume looks up a token; in single-use mode the read and delete are one
// GETDEL command, so concurrent consumers cannot both succeed
func (s *RedisStore) Consume(ctx context.Context, token string) (Session, error) {
	var data string
	var err error
	if s.singleUse {
		data, err = s.client.GetDel(ctx, redisKeyPrefix+token).Result()
	} else {
		data, err = s.client.Get(ctx, redisKeyPrefix+token).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("failed to read session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return Session{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return session, nil
}
